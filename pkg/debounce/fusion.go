package debounce

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/teslashibe/go-iris/pkg/announce"
	"github.com/teslashibe/go-iris/pkg/eventlog"
	"github.com/teslashibe/go-iris/pkg/sensor"
)

// FusionConfig configures DistanceFusion.
type FusionConfig struct {
	// MaxFeet is the distance at or beyond which nothing is announced.
	MaxFeet float64 `yaml:"max_feet"`
	// BucketFeet quantizes distance; moving to another bucket re-announces.
	BucketFeet float64          `yaml:"bucket_feet"`
	Cooldown   time.Duration    `yaml:"cooldown"`
	Now        func() time.Time `yaml:"-"`
}

// DefaultFusionConfig returns 6 ft range, 1 ft buckets and a 3s cooldown.
func DefaultFusionConfig() FusionConfig {
	return FusionConfig{
		MaxFeet:    6.0,
		BucketFeet: 1.0,
		Cooldown:   DefaultCooldown,
		Now:        time.Now,
	}
}

// DistanceFusion pairs the dominant vision label with an ultrasonic distance,
// e.g. "person at 2.3 feet".
type DistanceFusion struct {
	mu         sync.Mutex
	cfg        FusionConfig
	lastLabel  string
	lastBucket int
	lastSpoken time.Time
	spoken     bool
}

// NewDistanceFusion creates a fusion stage.
func NewDistanceFusion(cfg FusionConfig) *DistanceFusion {
	def := DefaultFusionConfig()
	if cfg.MaxFeet <= 0 {
		cfg.MaxFeet = def.MaxFeet
	}
	if cfg.BucketFeet <= 0 {
		cfg.BucketFeet = def.BucketFeet
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &DistanceFusion{cfg: cfg}
}

// Evaluate returns a distance request when label is set, the reading is
// within range, and either the label or the distance bucket changed since the
// last announcement. The request carries a distance_detection event.
func (f *DistanceFusion) Evaluate(r sensor.DistanceReading, label string) (announce.Request, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	feet := r.Feet()
	if label == "" || feet >= f.cfg.MaxFeet {
		// Forget the label so the next approach counts as a change.
		f.lastLabel = ""
		return announce.Request{}, false
	}

	bucket := int(math.Floor(feet / f.cfg.BucketFeet))
	now := f.cfg.Now()
	if f.spoken {
		if label == f.lastLabel && bucket == f.lastBucket {
			return announce.Request{}, false
		}
		if now.Sub(f.lastSpoken) < f.cfg.Cooldown {
			return announce.Request{}, false
		}
	}

	f.lastLabel = label
	f.lastBucket = bucket
	f.lastSpoken = now
	f.spoken = true

	rounded := math.Round(feet*10) / 10
	text := fmt.Sprintf("%s at %.1f feet", label, feet)
	ev := eventlog.New(eventlog.KindDistance, now, map[string]any{
		"object":        label,
		"distance_feet": rounded,
		"description":   sensor.Describe(feet),
	})
	return announce.NewRequest(text, announce.Routine, announce.SourceDistance, now).WithEvent(ev), true
}
