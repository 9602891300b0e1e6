package audioio

import (
	"context"
	"errors"
	"io"
	"time"
)

// Capture records window of audio from src and returns it as interleaved
// PCM16. Audio buffered before the call is discarded so the result starts
// now. If ctx ends early the audio gathered so far is returned along with
// ctx.Err(). src is started if it is not running.
func Capture(ctx context.Context, src Source, window time.Duration) ([]int16, error) {
	if err := src.Start(ctx); err != nil {
		return nil, err
	}
	src.Drain()

	cfg := src.Config()
	want := cfg.SamplesFor(window)
	out := make([]int16, 0, want)

	for len(out) < want {
		chunk, err := src.Read(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) && len(out) > 0 {
				return out, nil
			}
			return out, err
		}
		out = append(out, chunk.Samples...)
	}
	return out[:want], nil
}
