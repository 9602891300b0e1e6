package audioio

import (
	"context"
	"io"
)

// Sink plays audio to a speaker.
type Sink interface {
	// Start readies the sink for Write.
	Start(ctx context.Context) error

	// Stop halts playback. It is safe to call Stop multiple times.
	Stop() error

	// Write queues a chunk for playback.
	Write(ctx context.Context, chunk AudioChunk) error

	// Flush plays everything queued and returns once playback finished
	// or ctx is done.
	Flush(ctx context.Context) error

	// Clear discards queued audio and interrupts playback in progress.
	Clear() error

	Config() Config
	Name() string

	io.Closer
}

// SinkStats contains statistics about the audio sink.
type SinkStats struct {
	ChunksWritten   int64  `json:"chunks_written"`
	SamplesWritten  int64  `json:"samples_written"`
	Flushes         int64  `json:"flushes"`
	Running         bool   `json:"running"`
	Backend         string `json:"backend"`
	BufferedSamples int64  `json:"buffered_samples"`
}

// SinkWithStats extends Sink with statistics.
type SinkWithStats interface {
	Sink
	Stats() SinkStats
}
