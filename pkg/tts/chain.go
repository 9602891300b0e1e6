package tts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultRetryAfter is how long a chain keeps starting from a fallback
// before trying its first provider again.
const DefaultRetryAfter = time.Minute

// Chain tries providers in order; the first success wins. Once a fallback
// has succeeded, later calls start from it so a missing engine costs one
// failed attempt per RetryAfter instead of one per utterance.
type Chain struct {
	providers []Provider
	logger    *slog.Logger

	// RetryAfter bounds how long the chain sticks to a fallback. Zero or
	// less always starts from the first provider.
	RetryAfter time.Duration

	mu      sync.Mutex
	start   int
	demoted time.Time
}

// NewChain creates a chain. At least one provider is required.
func NewChain(providers ...Provider) (*Chain, error) {
	return NewChainWithLogger(slog.Default(), providers...)
}

// NewChainWithLogger creates a chain logging through logger.
func NewChainWithLogger(logger *slog.Logger, providers ...Provider) (*Chain, error) {
	if len(providers) == 0 {
		return nil, ErrProviderUnavailable
	}
	return &Chain{
		providers:  providers,
		logger:     logger.With("component", "tts.chain"),
		RetryAfter: DefaultRetryAfter,
	}, nil
}

// order returns provider indexes in the order to try them.
func (c *Chain) order() []int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.start > 0 && (c.RetryAfter <= 0 || time.Since(c.demoted) >= c.RetryAfter) {
		c.start = 0
	}
	idx := make([]int, 0, len(c.providers))
	for i := c.start; i < len(c.providers); i++ {
		idx = append(idx, i)
	}
	for i := 0; i < c.start; i++ {
		idx = append(idx, i)
	}
	return idx
}

func (c *Chain) succeeded(i int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i == c.start {
		return
	}
	c.start = i
	if i > 0 {
		c.demoted = time.Now()
	}
}

// Synthesize tries each provider until one succeeds.
func (c *Chain) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	var errs []error

	for n, i := range c.order() {
		result, err := c.providers[i].Synthesize(ctx, text)
		if err == nil {
			if n > 0 {
				c.logger.Info("fallback provider succeeded", "provider_index", i, "chars", len(text))
			}
			c.succeeded(i)
			return result, nil
		}

		errs = append(errs, err)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Warn("provider failed", "provider_index", i, "error", err)
	}

	return nil, &ChainError{Errors: errs}
}

// Health succeeds if any provider is healthy.
func (c *Chain) Health(ctx context.Context) error {
	var errs []error
	for _, p := range c.providers {
		err := p.Health(ctx)
		if err == nil {
			return nil
		}
		errs = append(errs, err)
	}
	return fmt.Errorf("tts chain: no healthy provider: %w", errors.Join(errs...))
}

// Close closes every provider.
func (c *Chain) Close() error {
	var errs []error
	for _, p := range c.providers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ChainError holds the failure of every provider tried, in order.
type ChainError struct {
	Errors []error
}

func (e *ChainError) Error() string {
	if len(e.Errors) == 0 {
		return "tts chain: nothing tried"
	}
	return fmt.Sprintf("tts chain: %d provider(s) failed, last: %v", len(e.Errors), e.Errors[len(e.Errors)-1])
}

// Unwrap exposes every provider error to errors.Is and errors.As.
func (e *ChainError) Unwrap() []error {
	return e.Errors
}

var _ Provider = (*Chain)(nil)
