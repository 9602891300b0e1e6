// Package notify emails caregivers when safety events are logged.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/teslashibe/go-iris/pkg/eventlog"
)

// Config configures a Notifier.
type Config struct {
	EventFile string   `yaml:"-"`
	To        []string `yaml:"to"`
	// Kinds selects which events are mailed; fall_detected by default.
	Kinds []eventlog.Kind `yaml:"kinds"`
	// MinInterval spaces out emails; events arriving sooner are logged
	// and skipped.
	MinInterval time.Duration `yaml:"min_interval"`
	SendTimeout time.Duration `yaml:"send_timeout"`
}

// DefaultConfig returns notifier defaults.
func DefaultConfig() Config {
	return Config{
		EventFile:   eventlog.DefaultPath,
		Kinds:       []eventlog.Kind{eventlog.KindFall},
		MinInterval: time.Minute,
		SendTimeout: 30 * time.Second,
	}
}

// Notifier follows the event log and mails matching events.
type Notifier struct {
	cfg     Config
	mailer  Mailer
	limiter *rate.Limiter
	kinds   map[eventlog.Kind]bool
	logger  *slog.Logger

	sent    atomic.Uint64
	skipped atomic.Uint64
	failed  atomic.Uint64
}

// New creates a notifier.
func New(cfg Config, mailer Mailer, logger *slog.Logger) (*Notifier, error) {
	if len(cfg.To) == 0 {
		return nil, ErrNoRecipients
	}
	if mailer == nil {
		return nil, fmt.Errorf("notify: mailer is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if len(cfg.Kinds) == 0 {
		cfg.Kinds = DefaultConfig().Kinds
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultConfig().SendTimeout
	}

	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}
	kinds := make(map[eventlog.Kind]bool, len(cfg.Kinds))
	for _, k := range cfg.Kinds {
		kinds[k] = true
	}
	return &Notifier{
		cfg:     cfg,
		mailer:  mailer,
		limiter: rate.NewLimiter(limit, 1),
		kinds:   kinds,
		logger:  logger.With("component", "notify"),
	}, nil
}

// Run tails the event log until ctx is done. Only events appended after
// Run starts are mailed.
func (n *Notifier) Run(ctx context.Context) error {
	n.logger.Info("notifier started", "path", n.cfg.EventFile, "recipients", len(n.cfg.To))
	return eventlog.Follow(ctx, n.cfg.EventFile, false, func(ev eventlog.Event) {
		n.Handle(ctx, ev)
	})
}

// Handle mails ev if its kind is selected and the rate limit allows.
// Failures are logged and counted.
func (n *Notifier) Handle(ctx context.Context, ev eventlog.Event) {
	if !n.kinds[ev.Kind] {
		return
	}
	if !n.limiter.Allow() {
		n.skipped.Add(1)
		n.logger.Warn("notification skipped, too soon after the last one", "event", ev.Kind, "id", ev.ID)
		return
	}

	sctx, cancel := context.WithTimeout(ctx, n.cfg.SendTimeout)
	defer cancel()
	if err := n.mailer.Send(sctx, Render(ev, n.cfg.To)); err != nil {
		n.failed.Add(1)
		n.logger.Error("notification failed", "event", ev.Kind, "id", ev.ID, "error", err)
		return
	}
	n.sent.Add(1)
	n.logger.Info("notification sent", "event", ev.Kind, "id", ev.ID)
}

// Counts returns sent, skipped and failed totals.
func (n *Notifier) Counts() (sent, skipped, failed uint64) {
	return n.sent.Load(), n.skipped.Load(), n.failed.Load()
}

// Render builds the email for ev.
func Render(ev eventlog.Event, to []string) Message {
	var subject string
	switch ev.Kind {
	case eventlog.KindFall:
		subject = "iris: fall detected"
		if loc, ok := ev.Payload["location"].(string); ok && loc != "" {
			subject += " (" + loc + ")"
		}
	default:
		subject = "iris: " + strings.ReplaceAll(string(ev.Kind), "_", " ")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Event: %s\n", ev.Kind)
	fmt.Fprintf(&b, "Time: %s\n", ev.Time.Local().Format("Mon Jan 2 15:04:05 MST 2006"))

	keys := make([]string, 0, len(ev.Payload))
	for k := range ev.Payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %v\n", k, ev.Payload[k])
	}
	fmt.Fprintf(&b, "ID: %s\n", ev.ID)

	return Message{To: to, Subject: subject, Body: b.String()}
}
