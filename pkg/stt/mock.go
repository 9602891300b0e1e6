package stt

import (
	"context"
	"sync"
)

// Mock returns scripted transcripts in order, then "" forever.
type Mock struct {
	mu      sync.Mutex
	replies []string
	Err     error
	calls   int
}

// NewMock creates a mock with the given replies.
func NewMock(replies ...string) *Mock {
	return &Mock{replies: replies}
}

func (m *Mock) Transcribe(ctx context.Context, pcm []int16, sampleRate int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.Err != nil {
		return "", m.Err
	}
	if len(m.replies) == 0 {
		return "", nil
	}
	r := m.replies[0]
	m.replies = m.replies[1:]
	return r, nil
}

// Calls returns the number of Transcribe calls.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

var _ Transcriber = (*Mock)(nil)
