// Package tts turns announcement text into audio.
//
// Providers cover a hosted OpenAI-compatible speech endpoint and local
// command-line engines (espeak-ng, piper). Chain falls back from one to the
// next, so an offline Pi still speaks when the network is down.
//
//	local, _ := tts.NewCommand(tts.EngineEspeak)
//	remote, _ := tts.NewOpenAI(tts.WithAPIKey(key))
//	provider, _ := tts.NewChain(remote, local)
//	result, _ := provider.Synthesize(ctx, "I see 2 chairs.")
//	chunk, _ := result.PCM()
package tts

import (
	"context"
	"fmt"
	"time"

	"github.com/teslashibe/go-iris/pkg/audioio"
)

// Provider synthesizes speech.
type Provider interface {
	// Synthesize converts text to a complete audio buffer.
	Synthesize(ctx context.Context, text string) (*AudioResult, error)

	// Health reports whether the provider can currently synthesize.
	Health(ctx context.Context) error

	Close() error
}

// AudioResult is a complete synthesis result.
type AudioResult struct {
	Audio     []byte
	Format    AudioFormat
	CharCount int
	// LatencyMs is the time until the audio was available.
	LatencyMs int64
}

// AudioFormat describes Audio.
type AudioFormat struct {
	Encoding   Encoding
	SampleRate int
	Channels   int
}

// Encoding is the container of AudioResult.Audio.
type Encoding string

const (
	// EncodingPCM is headerless little-endian PCM16.
	EncodingPCM Encoding = "pcm"
	// EncodingWAV is RIFF/WAVE PCM16.
	EncodingWAV Encoding = "wav"
)

// PCM decodes the result into samples ready for an audioio.Sink.
func (r *AudioResult) PCM() (audioio.AudioChunk, error) {
	switch r.Format.Encoding {
	case EncodingPCM:
		var chunk audioio.AudioChunk
		channels := r.Format.Channels
		if channels == 0 {
			channels = 1
		}
		chunk.FromBytes(r.Audio, r.Format.SampleRate, channels)
		return chunk, nil
	case EncodingWAV:
		return audioio.DecodeWAV(r.Audio)
	default:
		return audioio.AudioChunk{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, r.Format.Encoding)
	}
}

// Duration is the playback length of the result.
func (r *AudioResult) Duration() time.Duration {
	chunk, err := r.PCM()
	if err != nil {
		return 0
	}
	return chunk.Duration()
}
