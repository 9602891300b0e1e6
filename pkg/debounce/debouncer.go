// Package debounce decides when vision and distance observations are worth
// saying out loud.
package debounce

import (
	"sync"
	"time"

	"github.com/teslashibe/go-iris/pkg/announce"
	"github.com/teslashibe/go-iris/pkg/detection"
)

// DefaultCooldown is the minimum gap between automatic vision announcements.
const DefaultCooldown = 3 * time.Second

// Config configures a Debouncer.
type Config struct {
	Cooldown time.Duration    `yaml:"cooldown"`
	Now      func() time.Time `yaml:"-"`
}

// DefaultConfig returns the default debouncer configuration.
func DefaultConfig() Config {
	return Config{Cooldown: DefaultCooldown, Now: time.Now}
}

// Option configures a Debouncer.
type Option func(*Config)

// WithCooldown sets the announcement cooldown.
func WithCooldown(d time.Duration) Option {
	return func(c *Config) { c.Cooldown = d }
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Config) { c.Now = now }
}

// Debouncer announces a snapshot only when it contains a label that was not
// in the last accepted set and the cooldown has elapsed.
type Debouncer struct {
	mu         sync.Mutex
	cfg        Config
	lastLabels map[string]struct{}
	lastSpoken time.Time
	spoken     bool
}

// New creates a Debouncer.
func New(opts ...Option) *Debouncer {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Debouncer{cfg: cfg, lastLabels: map[string]struct{}{}}
}

// Evaluate returns a routine vision request when s should be announced.
// When s brings no new labels the remembered set follows the current one, so
// a label that leaves and returns counts as new again. An empty snapshot
// leaves the remembered set alone: a frame with no detections is treated as
// a detector miss, not as the scene emptying.
func (d *Debouncer) Evaluate(s detection.Snapshot) (announce.Request, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if s.Empty() {
		return announce.Request{}, false
	}

	current := s.LabelSet()
	hasNew := false
	for l := range current {
		if _, ok := d.lastLabels[l]; !ok {
			hasNew = true
			break
		}
	}

	now := d.cfg.Now()
	if !hasNew {
		d.lastLabels = current
		return announce.Request{}, false
	}
	if d.spoken && now.Sub(d.lastSpoken) < d.cfg.Cooldown {
		return announce.Request{}, false
	}

	d.lastLabels = current
	d.lastSpoken = now
	d.spoken = true
	return announce.NewRequest(detection.Summarize(s), announce.Routine, announce.SourceVision, now), true
}

// AnnounceNow always produces a request for s, ignoring cooldown and novelty.
// An empty snapshot yields "I don't see anything."
func (d *Debouncer) AnnounceNow(s detection.Snapshot) announce.Request {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.cfg.Now()
	if !s.Empty() {
		d.lastLabels = s.LabelSet()
	}
	d.lastSpoken = now
	d.spoken = true
	return announce.NewRequest(detection.Summarize(s), announce.Routine, announce.SourceVoice, now)
}

// Reset forgets the remembered labels and cooldown.
func (d *Debouncer) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastLabels = map[string]struct{}{}
	d.spoken = false
}
