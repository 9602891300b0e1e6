package detection

import (
	"context"
	"sync"
)

// Mock is a scripted Detector for tests.
// Each Detect call returns the next entry of Results; the last entry repeats.
type Mock struct {
	mu      sync.Mutex
	Results [][]Detection
	Err     error
	calls   int
	closed  bool
}

var _ Detector = (*Mock)(nil)

// NewMock creates a mock returning the given results in order.
func NewMock(results ...[]Detection) *Mock {
	return &Mock{Results: results}
}

// Detect returns the next scripted result.
func (m *Mock) Detect(ctx context.Context, frame Frame) ([]Detection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.calls++
	if m.Err != nil {
		return nil, m.Err
	}
	if len(m.Results) == 0 {
		return nil, nil
	}
	idx := m.calls - 1
	if idx >= len(m.Results) {
		idx = len(m.Results) - 1
	}
	return m.Results[idx], nil
}

// Calls returns how many times Detect was invoked.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Close marks the mock closed.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close was called.
func (m *Mock) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
