package audioio

import (
	"context"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// MockSource produces synthetic audio (silence or a sine tone) at real-time pace.
type MockSource struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	running  bool
	closed   bool
	streamCh chan AudioChunk
	stopCh   chan struct{}

	chunksRead  atomic.Int64
	samplesRead atomic.Int64
	overruns    atomic.Int64

	phase     float64
	frequency float64 // Hz, 0 = silence
	amplitude float64
}

// MockSourceOption configures a MockSource.
type MockSourceOption func(*MockSource)

// WithSineWave makes the mock emit a tone.
func WithSineWave(frequency, amplitude float64) MockSourceOption {
	return func(m *MockSource) {
		m.frequency = frequency
		m.amplitude = amplitude
	}
}

// NewMockSource creates a mock source emitting silence by default.
func NewMockSource(cfg Config, logger *slog.Logger, opts ...MockSourceOption) *MockSource {
	if logger == nil {
		logger = slog.Default()
	}
	m := &MockSource{
		cfg:       cfg,
		logger:    logger.With("component", "audioio.mock"),
		streamCh:  make(chan AudioChunk, 16),
		stopCh:    make(chan struct{}),
		amplitude: 0.5,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start begins generating audio.
func (m *MockSource) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if m.running {
		return nil
	}

	m.running = true
	m.stopCh = make(chan struct{})
	m.streamCh = make(chan AudioChunk, 16)
	go m.generateLoop(m.stopCh, m.streamCh)
	return nil
}

func (m *MockSource) generateLoop(stop chan struct{}, out chan AudioChunk) {
	ticker := time.NewTicker(m.cfg.BufferDuration)
	defer ticker.Stop()
	defer close(out)

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			chunk := m.generateChunk()
			select {
			case out <- chunk:
				m.chunksRead.Add(1)
				m.samplesRead.Add(int64(len(chunk.Samples)))
			default:
				m.overruns.Add(1)
			}
		}
	}
}

func (m *MockSource) generateChunk() AudioChunk {
	frames := m.cfg.BufferSize()
	samples := make([]int16, frames*m.cfg.Channels)

	if m.frequency > 0 {
		for i := 0; i < frames; i++ {
			v := int16(m.amplitude * 32767 * math.Sin(2*math.Pi*m.frequency*m.phase/float64(m.cfg.SampleRate)))
			for ch := 0; ch < m.cfg.Channels; ch++ {
				samples[i*m.cfg.Channels+ch] = v
			}
			m.phase++
			if m.phase >= float64(m.cfg.SampleRate) {
				m.phase = 0
			}
		}
	}

	return AudioChunk{Samples: samples, SampleRate: m.cfg.SampleRate, Channels: m.cfg.Channels}
}

// Stop halts generation.
func (m *MockSource) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return nil
	}
	m.running = false
	close(m.stopCh)
	return nil
}

// Read returns the next generated chunk.
func (m *MockSource) Read(ctx context.Context) (AudioChunk, error) {
	m.mu.Lock()
	ch := m.streamCh
	m.mu.Unlock()

	select {
	case <-ctx.Done():
		return AudioChunk{}, ctx.Err()
	case chunk, ok := <-ch:
		if !ok {
			return AudioChunk{}, io.EOF
		}
		return chunk, nil
	}
}

// Drain discards buffered chunks.
func (m *MockSource) Drain() int {
	m.mu.Lock()
	ch := m.streamCh
	m.mu.Unlock()
	return drainChan(ch)
}

func (m *MockSource) Config() Config { return m.cfg }

func (m *MockSource) Name() string { return string(BackendMock) }

// Close stops the source permanently.
func (m *MockSource) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()
	return m.Stop()
}

// Stats returns source statistics.
func (m *MockSource) Stats() SourceStats {
	m.mu.Lock()
	running := m.running
	m.mu.Unlock()
	return SourceStats{
		ChunksRead:  m.chunksRead.Load(),
		SamplesRead: m.samplesRead.Load(),
		Overruns:    m.overruns.Load(),
		Running:     running,
		Backend:     m.Name(),
	}
}

var _ SourceWithStats = (*MockSource)(nil)

// MockSink records what it is asked to play.
type MockSink struct {
	cfg    Config
	logger *slog.Logger

	// PlayDelay is how long Flush pretends to play; zero returns immediately.
	PlayDelay time.Duration

	mu      sync.Mutex
	running bool
	closed  bool
	pending []AudioChunk
	played  [][]AudioChunk

	chunksWritten  atomic.Int64
	samplesWritten atomic.Int64
	flushes        atomic.Int64
}

// NewMockSink creates a mock sink.
func NewMockSink(cfg Config, logger *slog.Logger) *MockSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &MockSink{cfg: cfg, logger: logger.With("component", "audioio.mock")}
}

// Start begins accepting audio.
func (m *MockSink) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.running = true
	return nil
}

// Stop halts audio acceptance.
func (m *MockSink) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = false
	return nil
}

// Write queues a chunk.
func (m *MockSink) Write(ctx context.Context, chunk AudioChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || !m.running {
		return ErrClosed
	}
	m.pending = append(m.pending, chunk)
	m.chunksWritten.Add(1)
	m.samplesWritten.Add(int64(len(chunk.Samples)))
	return nil
}

// Flush moves queued chunks into the played list after PlayDelay.
func (m *MockSink) Flush(ctx context.Context) error {
	m.mu.Lock()
	batch := m.pending
	m.pending = nil
	m.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	if m.PlayDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.PlayDelay):
		}
	}

	m.mu.Lock()
	m.played = append(m.played, batch)
	m.mu.Unlock()
	m.flushes.Add(1)
	return nil
}

// Clear discards queued audio.
func (m *MockSink) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = nil
	return nil
}

// Played returns one entry per completed Flush.
func (m *MockSink) Played() [][]AudioChunk {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]AudioChunk, len(m.played))
	copy(out, m.played)
	return out
}

func (m *MockSink) Config() Config { return m.cfg }

func (m *MockSink) Name() string { return string(BackendMock) }

// Close stops the sink permanently.
func (m *MockSink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.running = false
	return nil
}

// Stats returns sink statistics.
func (m *MockSink) Stats() SinkStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	var buffered int64
	for _, c := range m.pending {
		buffered += int64(len(c.Samples))
	}
	return SinkStats{
		ChunksWritten:   m.chunksWritten.Load(),
		SamplesWritten:  m.samplesWritten.Load(),
		Flushes:         m.flushes.Load(),
		Running:         m.running,
		Backend:         m.Name(),
		BufferedSamples: buffered,
	}
}

var _ SinkWithStats = (*MockSink)(nil)
