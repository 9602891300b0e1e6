package tts

import (
	"log/slog"
	"time"
)

// Config holds provider configuration. Set it through Options.
type Config struct {
	APIKey  string
	BaseURL string

	Voice string
	Model string

	// Rate is the speaking rate in words per minute.
	Rate int
	// Volume is the output level in [0, 1].
	Volume float64

	// Binary overrides the executable for command engines.
	Binary string

	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration

	Logger *slog.Logger
}

// Option configures a provider.
type Option func(*Config)

func WithAPIKey(key string) Option { return func(c *Config) { c.APIKey = key } }

func WithBaseURL(url string) Option { return func(c *Config) { c.BaseURL = url } }

func WithVoice(voice string) Option { return func(c *Config) { c.Voice = voice } }

// WithModel sets the hosted model, or the voice model file for piper.
func WithModel(model string) Option { return func(c *Config) { c.Model = model } }

func WithRate(wpm int) Option { return func(c *Config) { c.Rate = wpm } }

func WithVolume(v float64) Option { return func(c *Config) { c.Volume = v } }

func WithBinary(path string) Option { return func(c *Config) { c.Binary = path } }

func WithTimeout(d time.Duration) Option { return func(c *Config) { c.Timeout = d } }

// WithRetry configures retries for hosted providers.
func WithRetry(maxRetries int, delay time.Duration) Option {
	return func(c *Config) {
		c.MaxRetries = maxRetries
		c.RetryDelay = delay
	}
}

func WithLogger(logger *slog.Logger) Option { return func(c *Config) { c.Logger = logger } }

// DefaultConfig returns defaults matching the desktop speech engine the
// assistant used to ship with: 150 wpm at 0.9 volume.
func DefaultConfig() *Config {
	return &Config{
		Rate:       150,
		Volume:     0.9,
		Timeout:    30 * time.Second,
		MaxRetries: 2,
		RetryDelay: 200 * time.Millisecond,
		Logger:     slog.Default(),
	}
}

// Apply applies options in order.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
