package announce

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-iris/pkg/eventlog"
)

// Speaker plays text to completion. It must return when ctx is done.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// EventSink persists safety events. Implementations must not block for long.
type EventSink interface {
	Append(ev eventlog.Event)
}

// DropReason says why a request was not accepted.
type DropReason string

const (
	DropBusy      DropReason = "busy"
	DropPreempted DropReason = "preempted"
	DropQueueFull DropReason = "queue_full"
	DropClosed    DropReason = "closed"
	DropEmptyText DropReason = "empty_text"
)

// Observer receives arbiter outcomes, e.g. for metrics.
type Observer interface {
	Accepted(req Request)
	Dropped(req Request, reason DropReason)
	Spoken(req Request, took time.Duration)
	SpeakFailed(req Request, err error)
}

// Config configures an Arbiter.
type Config struct {
	// AlertQueue bounds alerts waiting behind the pending one.
	AlertQueue int `yaml:"alert_queue"`
	// SpeakTimeout bounds a single utterance.
	SpeakTimeout time.Duration `yaml:"speak_timeout"`
	Observer     Observer      `yaml:"-"`
	Logger       *slog.Logger  `yaml:"-"`
}

// DefaultConfig returns the default arbiter configuration.
func DefaultConfig() Config {
	return Config{
		AlertQueue:   4,
		SpeakTimeout: 30 * time.Second,
	}
}

// Option configures an Arbiter.
type Option func(*Config)

// WithAlertQueue sets the bound on queued alerts.
func WithAlertQueue(n int) Option {
	return func(c *Config) { c.AlertQueue = n }
}

// WithSpeakTimeout bounds each utterance.
func WithSpeakTimeout(d time.Duration) Option {
	return func(c *Config) { c.SpeakTimeout = d }
}

// WithObserver attaches an outcome observer.
func WithObserver(o Observer) Option {
	return func(c *Config) { c.Observer = o }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// Stats counts arbiter outcomes.
type Stats struct {
	Accepted    uint64
	Dropped     uint64
	Spoken      uint64
	SpeakFailed uint64
}

// Arbiter owns the speaker. At most one utterance is in flight.
type Arbiter struct {
	cfg     Config
	speaker Speaker
	sink    EventSink
	logger  *slog.Logger

	mu      sync.Mutex
	playing *Request
	pending *Request
	alerts  []Request
	idle    chan struct{} // closed while nothing is playing or pending
	closed  bool
	stats   Stats

	wake chan struct{}
}

// NewArbiter creates an arbiter. sink may be nil when no events need persisting.
func NewArbiter(speaker Speaker, sink EventSink, opts ...Option) *Arbiter {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AlertQueue < 0 {
		cfg.AlertQueue = 0
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	idle := make(chan struct{})
	close(idle)
	return &Arbiter{
		cfg:     cfg,
		speaker: speaker,
		sink:    sink,
		logger:  logger.With("component", "arbiter"),
		idle:    idle,
		wake:    make(chan struct{}, 1),
	}
}

// Submit offers req to the speaker. It reports whether the request was
// accepted for playback. Alerts carrying an event are persisted even when
// the alert queue overflows; other events only when accepted.
func (a *Arbiter) Submit(req Request) bool {
	if req.Time.IsZero() {
		req.Time = time.Now()
	}

	var (
		accepted  bool
		reason    DropReason
		preempted *Request
	)
	a.mu.Lock()
	switch {
	case a.closed:
		reason = DropClosed
	case req.Text == "":
		reason = DropEmptyText
	default:
		accepted, reason, preempted = a.admitLocked(req)
	}
	if accepted {
		a.stats.Accepted++
		a.markBusyLocked()
	} else {
		a.stats.Dropped++
	}
	if preempted != nil {
		a.stats.Dropped++
	}
	a.mu.Unlock()

	if req.Event != nil && a.sink != nil && (accepted || req.Priority == Alert) {
		a.sink.Append(*req.Event)
	}

	if preempted != nil {
		a.logger.Debug("routine preempted by alert", "dropped", preempted.Text, "source", preempted.Source)
		a.observeDrop(*preempted, DropPreempted)
	}
	if !accepted {
		a.logger.Debug("announcement dropped", "text", req.Text, "source", req.Source, "reason", reason)
		a.observeDrop(req, reason)
		return false
	}

	if a.cfg.Observer != nil {
		a.cfg.Observer.Accepted(req)
	}
	select {
	case a.wake <- struct{}{}:
	default:
	}
	return true
}

// admitLocked applies the slot rules. Caller holds a.mu.
func (a *Arbiter) admitLocked(req Request) (bool, DropReason, *Request) {
	busy := a.playing != nil || a.pending != nil

	if req.Priority == Routine {
		if busy {
			return false, DropBusy, nil
		}
		a.pending = &req
		return true, "", nil
	}

	switch {
	case a.pending == nil:
		a.pending = &req
		return true, "", nil
	case a.pending.Priority == Routine:
		dropped := a.pending
		a.pending = &req
		return true, "", dropped
	case len(a.alerts) < a.cfg.AlertQueue:
		a.alerts = append(a.alerts, req)
		return true, "", nil
	default:
		return false, DropQueueFull, nil
	}
}

func (a *Arbiter) markBusyLocked() {
	select {
	case <-a.idle:
		a.idle = make(chan struct{})
	default:
	}
}

func (a *Arbiter) observeDrop(req Request, reason DropReason) {
	if a.cfg.Observer != nil {
		a.cfg.Observer.Dropped(req, reason)
	}
}

// Run plays accepted requests until ctx is done. It is the only caller of the Speaker.
func (a *Arbiter) Run(ctx context.Context) error {
	a.logger.Info("arbiter started")
	defer func() {
		a.mu.Lock()
		a.closed = true
		a.pending = nil
		a.alerts = nil
		a.playing = nil
		a.markIdleLocked()
		a.mu.Unlock()
		a.logger.Info("arbiter stopped")
	}()

	for {
		next := a.takeNext()
		if next == nil {
			select {
			case <-ctx.Done():
				return nil
			case <-a.wake:
				continue
			}
		}

		a.play(ctx, *next)

		a.mu.Lock()
		a.playing = nil
		if a.pending == nil {
			a.markIdleLocked()
		}
		a.mu.Unlock()

		if ctx.Err() != nil {
			return nil
		}
	}
}

func (a *Arbiter) takeNext() *Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pending == nil {
		return nil
	}
	next := a.pending
	a.playing = next
	a.pending = nil
	if len(a.alerts) > 0 {
		head := a.alerts[0]
		a.pending = &head
		a.alerts = a.alerts[1:]
	}
	return next
}

func (a *Arbiter) play(ctx context.Context, req Request) {
	speakCtx := ctx
	if a.cfg.SpeakTimeout > 0 {
		var cancel context.CancelFunc
		speakCtx, cancel = context.WithTimeout(ctx, a.cfg.SpeakTimeout)
		defer cancel()
	}

	start := time.Now()
	err := a.speaker.Speak(speakCtx, req.Text)
	took := time.Since(start)

	a.mu.Lock()
	if err != nil {
		a.stats.SpeakFailed++
	} else {
		a.stats.Spoken++
	}
	a.mu.Unlock()

	if err != nil {
		a.logger.Error("speak failed", "text", req.Text, "source", req.Source, "error", err)
		if a.cfg.Observer != nil {
			a.cfg.Observer.SpeakFailed(req, err)
		}
		return
	}
	a.logger.Info("spoke", "text", req.Text, "source", req.Source, "priority", req.Priority, "took", took)
	if a.cfg.Observer != nil {
		a.cfg.Observer.Spoken(req, took)
	}
}

func (a *Arbiter) markIdleLocked() {
	select {
	case <-a.idle:
	default:
		close(a.idle)
	}
}

// Busy reports whether something is playing or queued.
func (a *Arbiter) Busy() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.playing != nil || a.pending != nil
}

// WaitIdle blocks until nothing is playing or queued, or ctx is done.
func (a *Arbiter) WaitIdle(ctx context.Context) error {
	a.mu.Lock()
	ch := a.idle
	a.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a copy of the counters.
func (a *Arbiter) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}
