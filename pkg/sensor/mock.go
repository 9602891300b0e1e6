package sensor

import (
	"context"
	"sync"
	"time"
)

// MockDistance replays scripted centimeter values. NaN-free; use Err to fail reads.
type MockDistance struct {
	mu     sync.Mutex
	values []float64
	idx    int
	Err    error
	closed bool
}

var _ DistanceReader = (*MockDistance)(nil)

// NewMockDistance creates a reader returning cm values in order; the last value repeats.
func NewMockDistance(cm ...float64) *MockDistance {
	return &MockDistance{values: cm}
}

// ReadDistance returns the next scripted value.
func (m *MockDistance) ReadDistance(ctx context.Context) (DistanceReading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return DistanceReading{}, err
	}
	if m.Err != nil {
		return DistanceReading{}, m.Err
	}
	if len(m.values) == 0 {
		return DistanceReading{}, ErrNoReading
	}
	v := m.values[m.idx]
	if m.idx < len(m.values)-1 {
		m.idx++
	}
	return DistanceReading{Time: time.Now(), CM: v}, nil
}

// Close marks the reader closed.
func (m *MockDistance) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close was called.
func (m *MockDistance) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// MockIMU replays scripted samples; the last sample repeats.
type MockIMU struct {
	mu      sync.Mutex
	samples []IMUSample
	idx     int
	Err     error
	closed  bool
}

var _ IMUReader = (*MockIMU)(nil)

// NewMockIMU creates a reader returning samples in order.
func NewMockIMU(samples ...IMUSample) *MockIMU {
	return &MockIMU{samples: samples}
}

// ReadIMU returns the next scripted sample stamped with the current time
// when the sample has no time of its own.
func (m *MockIMU) ReadIMU(ctx context.Context) (IMUSample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return IMUSample{}, err
	}
	if m.Err != nil {
		return IMUSample{}, m.Err
	}
	if len(m.samples) == 0 {
		return IMUSample{}, ErrNoReading
	}
	s := m.samples[m.idx]
	if m.idx < len(m.samples)-1 {
		m.idx++
	}
	if s.Time.IsZero() {
		s.Time = time.Now()
	}
	return s, nil
}

// Close marks the reader closed.
func (m *MockIMU) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close was called.
func (m *MockIMU) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
