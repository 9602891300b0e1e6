package tts

import (
	"context"
	"sync"
	"time"
)

// Mock implements Provider for tests. By default it returns silent 24 kHz
// PCM, roughly 20ms per character.
type Mock struct {
	SynthesizeFunc func(ctx context.Context, text string) (*AudioResult, error)
	HealthFunc     func(ctx context.Context) error

	mu    sync.Mutex
	texts []string
}

// NewMock creates a mock with the default silent synthesizer.
func NewMock() *Mock {
	return &Mock{
		SynthesizeFunc: func(ctx context.Context, text string) (*AudioResult, error) {
			const bytesPerChar = 960
			return &AudioResult{
				Audio:     make([]byte, len(text)*bytesPerChar),
				Format:    AudioFormat{Encoding: EncodingPCM, SampleRate: 24000, Channels: 1},
				CharCount: len(text),
			}, nil
		},
	}
}

// WithError returns a mock that always fails with err.
func WithError(err error) *Mock {
	return &Mock{
		SynthesizeFunc: func(context.Context, string) (*AudioResult, error) { return nil, err },
		HealthFunc:     func(context.Context) error { return err },
	}
}

// WithLatency delays m's synthesis by delay, honoring cancellation.
func WithLatency(m *Mock, delay time.Duration) *Mock {
	inner := m.SynthesizeFunc
	m.SynthesizeFunc = func(ctx context.Context, text string) (*AudioResult, error) {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return inner(ctx, text)
	}
	return m
}

func (m *Mock) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	m.mu.Lock()
	m.texts = append(m.texts, text)
	m.mu.Unlock()
	if m.SynthesizeFunc == nil {
		return nil, WrapError("mock", ErrProviderUnavailable)
	}
	return m.SynthesizeFunc(ctx, text)
}

func (m *Mock) Health(ctx context.Context) error {
	if m.HealthFunc != nil {
		return m.HealthFunc(ctx)
	}
	return nil
}

func (m *Mock) Close() error { return nil }

// Texts returns every text passed to Synthesize, in order.
func (m *Mock) Texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.texts...)
}

var _ Provider = (*Mock)(nil)
