package eventlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// DefaultPath is used when no event file is configured.
const DefaultPath = "/tmp/iris_events.jsonl"

// ErrClosed is recorded when Append is called after Close.
var ErrClosed = errors.New("eventlog: sink closed")

// Config configures a Sink.
type Config struct {
	Path string `yaml:"path"`
	// Sync calls fsync after every line.
	Sync bool `yaml:"sync"`
	// SubscriberBuffer is the channel size handed out by Subscribe.
	SubscriberBuffer int `yaml:"subscriber_buffer"`
}

// DefaultConfig returns the default sink configuration.
func DefaultConfig() Config {
	return Config{
		Path:             DefaultPath,
		SubscriberBuffer: 32,
	}
}

// Stats counts sink activity.
type Stats struct {
	Written uint64
	Failed  uint64
}

// Sink appends events to a JSON-lines file. Safe for concurrent use.
// Append never fails the caller: write errors are logged and kept for Err.
type Sink struct {
	mu      sync.Mutex
	cfg     Config
	file    *os.File
	logger  *slog.Logger
	stats   Stats
	lastErr error
	closed  bool

	subMu sync.Mutex
	subs  map[chan Event]struct{}
}

// Open creates the parent directory and opens path for appending.
func Open(cfg Config, logger *slog.Logger) (*Sink, error) {
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = DefaultConfig().SubscriberBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}

	if dir := filepath.Dir(cfg.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("eventlog: create dir: %w", err)
		}
	}
	f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("eventlog: open %s: %w", cfg.Path, err)
	}

	return &Sink{
		cfg:    cfg,
		file:   f,
		logger: logger.With("component", "eventlog"),
		subs:   make(map[chan Event]struct{}),
	}, nil
}

// Path returns the file path of the sink.
func (s *Sink) Path() string {
	return s.cfg.Path
}

// Append writes ev as one line and fans it out to subscribers.
func (s *Sink) Append(ev Event) {
	line, err := json.Marshal(ev)
	if err != nil {
		s.fail(fmt.Errorf("eventlog: encode: %w", err), ev)
		return
	}
	line = append(line, '\n')

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.fail(ErrClosed, ev)
		return
	}
	// One Write per line keeps lines whole under O_APPEND.
	_, err = s.file.Write(line)
	if err == nil && s.cfg.Sync {
		err = s.file.Sync()
	}
	if err != nil {
		s.mu.Unlock()
		s.fail(fmt.Errorf("eventlog: write: %w", err), ev)
		return
	}
	s.stats.Written++
	s.mu.Unlock()

	s.logger.Debug("event written", "event", ev.Kind, "id", ev.ID)
	s.publish(ev)
}

func (s *Sink) fail(err error, ev Event) {
	s.mu.Lock()
	s.stats.Failed++
	s.lastErr = err
	s.mu.Unlock()
	s.logger.Error("event not persisted", "event", ev.Kind, "id", ev.ID, "error", err)
}

// Err returns the most recent write error, if any.
func (s *Sink) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Stats returns a copy of the counters.
func (s *Sink) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Subscribe returns a channel receiving every successfully written event.
// Slow subscribers miss events rather than block writers. Call the returned
// func to unsubscribe.
func (s *Sink) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, s.cfg.SubscriberBuffer)
	s.subMu.Lock()
	s.subs[ch] = struct{}{}
	s.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			if _, ok := s.subs[ch]; ok {
				delete(s.subs, ch)
				close(ch)
			}
			s.subMu.Unlock()
		})
	}
}

func (s *Sink) publish(ev Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- ev:
		default:
			s.logger.Warn("subscriber full, event skipped", "id", ev.ID)
		}
	}
}

// Close flushes and closes the file and all subscriber channels.
func (s *Sink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	err := s.file.Sync()
	if cerr := s.file.Close(); err == nil {
		err = cerr
	}
	s.mu.Unlock()

	s.subMu.Lock()
	for ch := range s.subs {
		delete(s.subs, ch)
		close(ch)
	}
	s.subMu.Unlock()
	return err
}
