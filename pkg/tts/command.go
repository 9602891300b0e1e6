package tts

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Engine names a local command-line synthesizer.
type Engine string

const (
	// EngineEspeak runs espeak-ng and reads a WAV from stdout.
	EngineEspeak Engine = "espeak-ng"
	// EnginePiper runs piper with --output_raw; the voice model sets the rate.
	EnginePiper Engine = "piper"
)

// piperRate is the sample rate of the medium and low quality piper voices.
const piperRate = 22050

// Command synthesizes speech with a local engine subprocess. It needs no
// network, so it is the natural last link of a Chain.
type Command struct {
	engine Engine
	config *Config
	logger *slog.Logger
}

// NewCommand creates a provider for engine. The binary must be on PATH
// unless WithBinary points elsewhere; piper also needs WithModel.
func NewCommand(engine Engine, opts ...Option) (*Command, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	switch engine {
	case EngineEspeak, EnginePiper:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, engine)
	}
	if cfg.Binary == "" {
		cfg.Binary = string(engine)
	}
	if engine == EnginePiper && cfg.Model == "" {
		return nil, WrapError(string(engine), fmt.Errorf("voice model required"))
	}

	return &Command{
		engine: engine,
		config: cfg,
		logger: cfg.Logger.With("component", "tts."+string(engine)),
	}, nil
}

// Args returns the engine arguments for text; for piper the text travels
// on stdin instead.
func (c *Command) Args(text string) []string {
	switch c.engine {
	case EnginePiper:
		args := []string{"--model", c.config.Model, "--output_raw"}
		if c.config.Rate > 0 {
			// piper's length scale is inverse speed.
			scale := 150 / float64(c.config.Rate)
			args = append(args, "--length_scale", strconv.FormatFloat(scale, 'f', 2, 64))
		}
		return args
	default:
		args := []string{"--stdout"}
		if c.config.Rate > 0 {
			args = append(args, "-s", strconv.Itoa(c.config.Rate))
		}
		if c.config.Volume > 0 {
			// espeak-ng amplitude runs 0-200 with 100 as normal.
			args = append(args, "-a", strconv.Itoa(int(c.config.Volume*100)))
		}
		if c.config.Voice != "" {
			args = append(args, "-v", c.config.Voice)
		}
		return append(args, text)
	}
}

// Synthesize runs the engine once and collects its output.
func (c *Command) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, WrapError(string(c.engine), ErrEmptyText)
	}
	start := time.Now()

	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.config.Binary, c.Args(text)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if c.engine == EnginePiper {
		cmd.Stdin = strings.NewReader(text)
	}

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, WrapError(string(c.engine), ctx.Err())
		}
		return nil, WrapError(string(c.engine), fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String())))
	}

	format := AudioFormat{Encoding: EncodingWAV}
	if c.engine == EnginePiper {
		format = AudioFormat{Encoding: EncodingPCM, SampleRate: piperRate, Channels: 1}
	}

	latency := time.Since(start).Milliseconds()
	c.logger.Debug("synthesized audio", "chars", len(text), "bytes", stdout.Len(), "latency_ms", latency)

	return &AudioResult{
		Audio:     stdout.Bytes(),
		Format:    format,
		CharCount: len(text),
		LatencyMs: latency,
	}, nil
}

// Health checks that the engine binary can be found.
func (c *Command) Health(ctx context.Context) error {
	if _, err := exec.LookPath(c.config.Binary); err != nil {
		return WrapError(string(c.engine), err)
	}
	return nil
}

func (c *Command) Close() error { return nil }

var _ Provider = (*Command)(nil)
