package audioio

import (
	"fmt"
	"log/slog"
	"runtime"
)

// NewSource creates a microphone source for cfg.Backend.
func NewSource(cfg Config, logger *slog.Logger) (Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid audio config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	backend := resolve(cfg.Backend)
	logger.Info("creating audio source",
		"backend", backend,
		"sample_rate", cfg.SampleRate,
		"channels", cfg.Channels,
		"buffer_ms", cfg.BufferDuration.Milliseconds(),
	)

	switch backend {
	case BackendMock:
		return NewMockSource(cfg, logger), nil
	case BackendALSA:
		return NewALSASource(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unsupported audio backend: %s", backend)
	}
}

// NewSink creates a speaker sink for cfg.Backend.
func NewSink(cfg Config, logger *slog.Logger) (Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid audio config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	backend := resolve(cfg.Backend)
	logger.Info("creating audio sink", "backend", backend)

	switch backend {
	case BackendMock:
		return NewMockSink(cfg, logger), nil
	case BackendALSA:
		return NewALSASink(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unsupported audio backend: %s", backend)
	}
}

func resolve(b Backend) Backend {
	if b == BackendAuto || b == "" {
		return detectBestBackend()
	}
	return b
}

func detectBestBackend() Backend {
	if runtime.GOOS == "linux" {
		return BackendALSA
	}
	return BackendMock
}
