package audioio

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrClosed is returned by sources and sinks used after Close.
var ErrClosed = errors.New("audioio: closed")

// AudioChunk is a run of interleaved PCM16 samples.
type AudioChunk struct {
	Samples    []int16
	SampleRate int
	Channels   int
}

// Bytes returns the chunk as little-endian PCM16.
func (c *AudioChunk) Bytes() []byte {
	return SamplesToBytes(c.Samples)
}

// FromBytes populates the chunk from little-endian PCM16 bytes.
func (c *AudioChunk) FromBytes(data []byte, sampleRate, channels int) {
	c.SampleRate = sampleRate
	c.Channels = channels
	c.Samples = BytesToSamples(data)
}

// Duration returns the playback length of the chunk.
func (c *AudioChunk) Duration() time.Duration {
	if c.SampleRate == 0 || c.Channels == 0 {
		return 0
	}
	frames := len(c.Samples) / c.Channels
	return time.Duration(frames) * time.Second / time.Duration(c.SampleRate)
}

// Source captures audio from a microphone.
type Source interface {
	// Start begins capture. Calling Start on a running source is a no-op.
	Start(ctx context.Context) error

	// Stop halts capture. It is safe to call Stop multiple times.
	Stop() error

	// Read returns the next chunk, blocking until one is available.
	// It returns io.EOF once the source is stopped.
	Read(ctx context.Context) (AudioChunk, error)

	// Drain discards chunks captured but not yet read.
	Drain() int

	Config() Config
	Name() string

	io.Closer
}

// SourceStats contains statistics about the audio source.
type SourceStats struct {
	ChunksRead  int64  `json:"chunks_read"`
	SamplesRead int64  `json:"samples_read"`
	Overruns    int64  `json:"overruns"`
	Running     bool   `json:"running"`
	Backend     string `json:"backend"`
}

// SourceWithStats extends Source with statistics.
type SourceWithStats interface {
	Source
	Stats() SourceStats
}

// drainChan empties a chunk channel without blocking.
func drainChan(ch chan AudioChunk) int {
	n := 0
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return n
			}
			n++
		default:
			return n
		}
	}
}
