package sensor

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// PollConfig configures a poll loop.
type PollConfig struct {
	Name     string
	Interval time.Duration
	// Timeout bounds each read; a read that overruns counts as no reading.
	Timeout time.Duration
	// WarnEvery limits repeated failure warnings to one per period.
	WarnEvery time.Duration
	Logger    *slog.Logger
	// OnError is called for every failed read, e.g. to count it.
	OnError func(err error)
}

// Poll calls read every Interval and delivers successful results to out in
// order until ctx is done. Failed or timed-out reads are skipped. out is
// never closed by Poll.
func Poll[T any](ctx context.Context, cfg PollConfig, read func(context.Context) (T, error), out chan<- T) error {
	if cfg.Interval <= 0 {
		cfg.Interval = 200 * time.Millisecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = cfg.Interval
	}
	if cfg.WarnEvery <= 0 {
		cfg.WarnEvery = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "poll", "sensor", cfg.Name)
	warn := rate.NewLimiter(rate.Every(cfg.WarnEvery), 1)

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	var failures int
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		v, err := readWithTimeout(ctx, cfg.Timeout, read)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			failures++
			if cfg.OnError != nil {
				cfg.OnError(err)
			}
			if warn.Allow() {
				logger.Warn("read failed", "error", err, "failures", failures)
			}
			continue
		}
		if failures > 0 {
			logger.Info("readings resumed", "after_failures", failures)
			failures = 0
		}

		select {
		case out <- v:
		case <-ctx.Done():
			return nil
		}
	}
}

// readWithTimeout runs read in its own goroutine so a driver that ignores
// ctx cannot stall the loop past timeout.
func readWithTimeout[T any](ctx context.Context, timeout time.Duration, read func(context.Context) (T, error)) (T, error) {
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := read(rctx)
		ch <- result{v, err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-rctx.Done():
		var zero T
		return zero, rctx.Err()
	}
}
