package audioio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	startupGrace = 250 * time.Millisecond
	stopGrace    = 1200 * time.Millisecond
)

// ALSASource captures raw PCM16 from an arecord subprocess.
type ALSASource struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	running  bool
	closed   bool
	cmd      *exec.Cmd
	stdout   io.ReadCloser
	stderr   *bytes.Buffer
	waitErr  chan error
	streamCh chan AudioChunk

	chunksRead  atomic.Int64
	samplesRead atomic.Int64
	overruns    atomic.Int64
}

// NewALSASource creates a source; nothing is spawned until Start.
func NewALSASource(cfg Config, logger *slog.Logger) *ALSASource {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RecordCommand == "" {
		cfg.RecordCommand = "arecord"
	}
	if cfg.Device == "" {
		cfg.Device = "default"
	}
	return &ALSASource{
		cfg:      cfg,
		logger:   logger.With("component", "audioio.alsa"),
		streamCh: make(chan AudioChunk, 16),
	}
}

func (s *ALSASource) recordArgs() []string {
	return []string{
		"-q",
		"-D", s.cfg.Device,
		"-f", "S16_LE",
		"-r", strconv.Itoa(s.cfg.SampleRate),
		"-c", strconv.Itoa(s.cfg.Channels),
		"-t", "raw",
	}
}

// Start spawns arecord and begins reading chunks.
func (s *ALSASource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.running {
		return nil
	}

	cmd := exec.Command(s.cfg.RecordCommand, s.recordArgs()...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("audioio: arecord stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("audioio: start %s: %w", s.cfg.RecordCommand, err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	// A missing device makes arecord exit immediately.
	select {
	case err := <-waitErr:
		return fmt.Errorf("audioio: arecord exited before capture started: %v: %s", err, strings.TrimSpace(stderr.String()))
	case <-time.After(startupGrace):
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		return ctx.Err()
	}

	s.cmd, s.stdout, s.stderr, s.waitErr = cmd, stdout, stderr, waitErr
	s.streamCh = make(chan AudioChunk, 16)
	s.running = true
	go s.readLoop(stdout, s.streamCh)

	s.logger.Info("capture started",
		"device", s.cfg.Device,
		"sample_rate", s.cfg.SampleRate,
		"channels", s.cfg.Channels,
	)
	return nil
}

func (s *ALSASource) readLoop(r io.Reader, out chan AudioChunk) {
	defer close(out)
	buf := make([]byte, s.cfg.BufferBytes())
	for {
		if _, err := io.ReadFull(r, buf); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				s.logger.Debug("capture read ended", "error", err)
			}
			return
		}
		var chunk AudioChunk
		chunk.FromBytes(buf, s.cfg.SampleRate, s.cfg.Channels)
		select {
		case out <- chunk:
			s.chunksRead.Add(1)
			s.samplesRead.Add(int64(len(chunk.Samples)))
		default:
			s.overruns.Add(1)
		}
	}
}

// Stop interrupts arecord, escalating to kill if it does not exit.
func (s *ALSASource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false

	_ = s.cmd.Process.Signal(os.Interrupt)
	var err error
	select {
	case err = <-s.waitErr:
	case <-time.After(stopGrace):
		_ = s.cmd.Process.Kill()
		err = <-s.waitErr
	}
	_ = s.stdout.Close()

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		err = nil
	}
	s.logger.Info("capture stopped")
	return err
}

// Read returns the next captured chunk.
func (s *ALSASource) Read(ctx context.Context) (AudioChunk, error) {
	s.mu.Lock()
	ch := s.streamCh
	running := s.running
	s.mu.Unlock()
	if !running && len(ch) == 0 {
		return AudioChunk{}, io.EOF
	}

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

// Drain discards chunks captured while nobody was listening.
func (s *ALSASource) Drain() int {
	s.mu.Lock()
	ch := s.streamCh
	s.mu.Unlock()
	return drainChan(ch)
}

func (s *ALSASource) Config() Config { return s.cfg }

func (s *ALSASource) Name() string { return string(BackendALSA) }

// Close stops capture; the source cannot be restarted.
func (s *ALSASource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.Stop()
}

// Stats returns source statistics.
func (s *ALSASource) Stats() SourceStats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	return SourceStats{
		ChunksRead:  s.chunksRead.Load(),
		SamplesRead: s.samplesRead.Load(),
		Overruns:    s.overruns.Load(),
		Running:     running,
		Backend:     s.Name(),
	}
}

var _ SourceWithStats = (*ALSASource)(nil)

// ALSASink buffers written audio and plays it with one aplay run per Flush.
type ALSASink struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	closed  bool
	pending []int16
	rate    int
	cancel  context.CancelFunc

	chunksWritten  atomic.Int64
	samplesWritten atomic.Int64
	flushes        atomic.Int64
}

// NewALSASink creates an aplay-backed sink.
func NewALSASink(cfg Config, logger *slog.Logger) *ALSASink {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PlayCommand == "" {
		cfg.PlayCommand = "aplay"
	}
	return &ALSASink{
		cfg:    cfg,
		logger: logger.With("component", "audioio.alsa"),
	}
}

// Start readies the sink.
func (s *ALSASink) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.running = true
	return nil
}

// Stop interrupts playback in progress.
func (s *ALSASink) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}

// Write queues a chunk. Chunks at a different rate than the first queued
// chunk are resampled to match.
func (s *ALSASink) Write(ctx context.Context, chunk AudioChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || !s.running {
		return ErrClosed
	}
	samples := ToMono(chunk.Samples, chunk.Channels)
	if len(s.pending) == 0 {
		s.rate = chunk.SampleRate
	} else {
		samples = Resample(samples, chunk.SampleRate, s.rate)
	}
	s.pending = append(s.pending, samples...)
	s.chunksWritten.Add(1)
	s.samplesWritten.Add(int64(len(samples)))
	return nil
}

func (s *ALSASink) playArgs(rate int) []string {
	args := []string{"-q", "-f", "S16_LE", "-r", strconv.Itoa(rate), "-c", "1", "-t", "raw"}
	dev := s.cfg.PlaybackDevice
	if dev == "" {
		dev = s.cfg.Device
	}
	if dev != "" {
		args = append(args, "-D", dev)
	}
	return args
}

// Flush plays the queued audio and blocks until aplay exits. Cancelling
// ctx or calling Clear kills playback.
func (s *ALSASink) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	samples, rate := s.pending, s.rate
	s.pending = nil
	if len(samples) == 0 {
		s.mu.Unlock()
		return nil
	}
	pctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	cmd := exec.CommandContext(pctx, s.cfg.PlayCommand, s.playArgs(rate)...)
	cmd.Stdin = bytes.NewReader(SamplesToBytes(samples))
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	s.flushes.Add(1)
	if err := cmd.Run(); err != nil {
		if pctx.Err() != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return nil // cleared
		}
		return fmt.Errorf("audioio: %s: %w: %s", s.cfg.PlayCommand, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// Clear drops queued audio and kills playback in progress.
func (s *ALSASink) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}

func (s *ALSASink) Config() Config { return s.cfg }

func (s *ALSASink) Name() string { return string(BackendALSA) }

// Close stops playback; the sink cannot be restarted.
func (s *ALSASink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.Stop()
}

// Stats returns sink statistics.
func (s *ALSASink) Stats() SinkStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SinkStats{
		ChunksWritten:   s.chunksWritten.Load(),
		SamplesWritten:  s.samplesWritten.Load(),
		Flushes:         s.flushes.Load(),
		Running:         s.running,
		Backend:         string(BackendALSA),
		BufferedSamples: int64(len(s.pending)),
	}
}

var _ SinkWithStats = (*ALSASink)(nil)
