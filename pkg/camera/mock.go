package camera

import (
	"context"
	"sync"
	"time"

	"github.com/teslashibe/go-iris/pkg/detection"
)

// Mock returns the same JPEG on every Capture.
type Mock struct {
	JPEG []byte
	Err  error
	Now  func() time.Time

	mu       sync.Mutex
	captures int
	closed   bool
}

// NewMock creates a mock returning jpeg.
func NewMock(jpeg []byte) *Mock {
	return &Mock{JPEG: jpeg, Now: time.Now}
}

func (m *Mock) Capture(ctx context.Context) (detection.Frame, error) {
	if err := ctx.Err(); err != nil {
		return detection.Frame{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return detection.Frame{}, ErrNoFrame
	}
	m.captures++
	if m.Err != nil {
		return detection.Frame{}, m.Err
	}
	return detection.Frame{Time: m.Now(), Width: 640, Height: 480, JPEG: m.JPEG}, nil
}

func (m *Mock) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Captures returns how many frames were requested.
func (m *Mock) Captures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.captures
}

var _ Camera = (*Mock)(nil)
