// Package audioio captures microphone audio and plays synthesized speech.
//
// Two backends exist:
//   - ALSA - arecord/aplay subprocesses on the Raspberry Pi
//   - Mock - tests and machines without a sound card
package audioio

import (
	"fmt"
	"time"
)

// Backend represents the audio backend type.
type Backend string

const (
	// BackendAuto selects ALSA on Linux and the mock elsewhere.
	BackendAuto Backend = "auto"
	// BackendALSA shells out to arecord and aplay.
	BackendALSA Backend = "alsa"
	// BackendMock uses an in-memory implementation.
	BackendMock Backend = "mock"
)

// Config holds audio configuration.
type Config struct {
	Backend Backend `yaml:"backend" json:"backend"`

	// SampleRate is the capture rate in Hz. Speech recognition models expect 16 kHz.
	SampleRate int `yaml:"sample_rate" json:"sample_rate"`

	// Channels is the number of audio channels (1 = mono).
	Channels int `yaml:"channels" json:"channels"`

	// BufferDuration is the length of each captured chunk.
	BufferDuration time.Duration `yaml:"buffer_duration" json:"buffer_duration"`

	// Device is the ALSA device name, e.g. "default" or "plughw:1,0".
	Device string `yaml:"device" json:"device"`

	// PlaybackDevice overrides Device for the sink.
	PlaybackDevice string `yaml:"playback_device" json:"playback_device"`

	// RecordCommand and PlayCommand name the ALSA utilities.
	RecordCommand string `yaml:"record_command" json:"record_command"`
	PlayCommand   string `yaml:"play_command" json:"play_command"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Backend:        BackendAuto,
		SampleRate:     16000,
		Channels:       1,
		BufferDuration: 100 * time.Millisecond,
		Device:         "default",
		RecordCommand:  "arecord",
		PlayCommand:    "aplay",
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("channels must be positive, got %d", c.Channels)
	}
	if c.BufferDuration <= 0 {
		return fmt.Errorf("buffer_duration must be positive, got %v", c.BufferDuration)
	}
	switch c.Backend {
	case BackendAuto, BackendALSA, BackendMock, "":
	default:
		return fmt.Errorf("unknown audio backend %q", c.Backend)
	}
	return nil
}

// BufferSize returns the number of frames per chunk.
func (c *Config) BufferSize() int {
	return int(float64(c.SampleRate) * c.BufferDuration.Seconds())
}

// BufferBytes returns the size of a chunk in bytes (PCM16).
func (c *Config) BufferBytes() int {
	return c.BufferSize() * c.Channels * 2
}

// SamplesFor returns how many interleaved samples cover d.
func (c *Config) SamplesFor(d time.Duration) int {
	return int(float64(c.SampleRate)*d.Seconds()) * c.Channels
}
