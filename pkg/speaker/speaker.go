// Package speaker turns announcement text into sound and returns once it
// has finished playing.
package speaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-iris/pkg/audioio"
	"github.com/teslashibe/go-iris/pkg/tts"
)

// ErrClosed is returned by Speak after Close.
var ErrClosed = errors.New("speaker: closed")

// Speaker synthesizes with a tts.Provider and plays through an audioio.Sink.
// Speak blocks until playback completes, so callers see one utterance at a
// time regardless of how the backend buffers.
type Speaker struct {
	provider tts.Provider
	sink     audioio.Sink
	logger   *slog.Logger

	// OnPlaybackStart and OnPlaybackEnd are called around each utterance.
	OnPlaybackStart func(text string)
	OnPlaybackEnd   func(text string, err error)

	mu       sync.Mutex // one utterance at a time
	speaking atomic.Bool
	closed   atomic.Bool
}

// New creates a speaker and starts the sink.
func New(ctx context.Context, provider tts.Provider, sink audioio.Sink, logger *slog.Logger) (*Speaker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := sink.Start(ctx); err != nil {
		return nil, fmt.Errorf("speaker: start sink: %w", err)
	}
	return &Speaker{
		provider: provider,
		sink:     sink,
		logger:   logger.With("component", "speaker"),
	}, nil
}

// Speak synthesizes text and blocks until it has been played.
func (s *Speaker) Speak(ctx context.Context, text string) (err error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if s.closed.Load() {
		return ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	result, err := s.provider.Synthesize(ctx, text)
	if err != nil {
		return fmt.Errorf("speaker: synthesize: %w", err)
	}
	chunk, err := result.PCM()
	if err != nil {
		return fmt.Errorf("speaker: decode: %w", err)
	}

	s.speaking.Store(true)
	if s.OnPlaybackStart != nil {
		s.OnPlaybackStart(text)
	}
	defer func() {
		s.speaking.Store(false)
		if s.OnPlaybackEnd != nil {
			s.OnPlaybackEnd(text, err)
		}
	}()

	if err = s.sink.Write(ctx, chunk); err != nil {
		return fmt.Errorf("speaker: write: %w", err)
	}
	if err = s.sink.Flush(ctx); err != nil {
		return fmt.Errorf("speaker: play: %w", err)
	}

	s.logger.Debug("spoke",
		"text", text,
		"audio", chunk.Duration(),
		"took", time.Since(start),
		"synth_ms", result.LatencyMs,
	)
	return nil
}

// IsSpeaking reports whether audio is playing right now.
func (s *Speaker) IsSpeaking() bool {
	return s.speaking.Load()
}

// Cancel interrupts the current utterance.
func (s *Speaker) Cancel() {
	if err := s.sink.Clear(); err != nil {
		s.logger.Debug("clear sink", "error", err)
	}
}

// Close stops playback and releases the sink and provider.
func (s *Speaker) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return errors.Join(s.sink.Close(), s.provider.Close())
}

// Log is a Speaker stand-in for machines without audio output: it logs the
// text and pauses for roughly the time speaking it would take.
type Log struct {
	Logger *slog.Logger
	// WordsPerMinute paces the pause; zero returns immediately.
	WordsPerMinute int
}

// Speak logs text.
func (l Log) Speak(ctx context.Context, text string) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("announce", "component", "speaker", "text", text)

	if l.WordsPerMinute <= 0 {
		return nil
	}
	words := len(strings.Fields(text))
	d := time.Duration(words) * time.Minute / time.Duration(l.WordsPerMinute)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
