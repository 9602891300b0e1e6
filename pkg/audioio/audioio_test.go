package audioio

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Backend = BackendMock
	cfg.BufferDuration = 10 * time.Millisecond
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1600, cfg.BufferSize())
	assert.Equal(t, 3200, cfg.BufferBytes())
	assert.Equal(t, 32000, cfg.SamplesFor(2*time.Second))

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero rate", func(c *Config) { c.SampleRate = 0 }},
		{"zero channels", func(c *Config) { c.Channels = 0 }},
		{"zero buffer", func(c *Config) { c.BufferDuration = 0 }},
		{"bad backend", func(c *Config) { c.Backend = "coreaudio" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := DefaultConfig()
			tc.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestMockSource_StartStop(t *testing.T) {
	src := NewMockSource(testConfig(), nil)
	defer src.Close()
	ctx := context.Background()

	require.NoError(t, src.Start(ctx))
	require.NoError(t, src.Start(ctx), "second Start is a no-op")
	require.NoError(t, src.Stop())
	require.NoError(t, src.Stop(), "second Stop is a no-op")

	require.NoError(t, src.Close())
	assert.ErrorIs(t, src.Start(ctx), ErrClosed)
}

func TestMockSource_SineWave(t *testing.T) {
	src := NewMockSource(testConfig(), nil, WithSineWave(440, 0.5))
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, src.Start(ctx))

	chunk, err := src.Read(ctx)
	require.NoError(t, err)
	assert.Len(t, chunk.Samples, 160)
	assert.Equal(t, 16000, chunk.SampleRate)
	assert.Greater(t, RMS(chunk.Samples), 0.1)
	assert.Equal(t, 10*time.Millisecond, chunk.Duration())
}

func TestCapture_ReturnsWindow(t *testing.T) {
	src := NewMockSource(testConfig(), nil)
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pcm, err := Capture(ctx, src, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Len(t, pcm, 800)
	assert.Zero(t, RMS(pcm))
}

func TestCapture_ContextEndsEarly(t *testing.T) {
	src := NewMockSource(testConfig(), nil)
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := Capture(ctx, src, 5*time.Second)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMockSink_FlushRecordsPlayback(t *testing.T) {
	sink := NewMockSink(testConfig(), nil)
	ctx := context.Background()

	assert.ErrorIs(t, sink.Write(ctx, AudioChunk{}), ErrClosed, "write before Start")
	require.NoError(t, sink.Start(ctx))
	require.NoError(t, sink.Write(ctx, AudioChunk{Samples: make([]int16, 10), SampleRate: 16000, Channels: 1}))
	assert.Equal(t, int64(10), sink.Stats().BufferedSamples)

	require.NoError(t, sink.Flush(ctx))
	require.Len(t, sink.Played(), 1)
	assert.Zero(t, sink.Stats().BufferedSamples)

	require.NoError(t, sink.Flush(ctx), "empty flush")
	assert.Len(t, sink.Played(), 1)
}

func TestResample(t *testing.T) {
	in := make([]int16, 960)
	for i := range in {
		in[i] = int16(i)
	}
	assert.Len(t, Resample(in, 48000, 24000), 480)
	assert.Len(t, Resample(in[:320], 16000, 24000), 480)
	assert.Equal(t, in, Resample(in, 16000, 16000))
	assert.Empty(t, Resample(nil, 16000, 24000))
}

func TestToMono(t *testing.T) {
	assert.Equal(t, []int16{150, -50}, ToMono([]int16{100, 200, -100, 0}, 2))
}

func TestWAV(t *testing.T) {
	samples := []int16{0, 1000, -1000, 32767, -32768}
	data := EncodeWAV(samples, 22050, 1)
	assert.Len(t, data, 44+10)

	chunk, err := DecodeWAV(data)
	require.NoError(t, err)
	assert.Equal(t, samples, chunk.Samples)
	assert.Equal(t, 22050, chunk.SampleRate)
	assert.Equal(t, 1, chunk.Channels)

	// Streaming writers leave the data length at zero.
	streamed := append([]byte(nil), data...)
	streamed[40], streamed[41], streamed[42], streamed[43] = 0, 0, 0, 0
	chunk, err = DecodeWAV(streamed)
	require.NoError(t, err)
	assert.Equal(t, samples, chunk.Samples)

	_, err = DecodeWAV([]byte("not audio at all"))
	assert.ErrorIs(t, err, ErrNotWAV)
}

func TestALSASource_CommandExitsEarly(t *testing.T) {
	if _, err := exec.LookPath("false"); err != nil {
		t.Skip("false(1) not available")
	}
	cfg := DefaultConfig()
	cfg.RecordCommand = "false"
	src := NewALSASource(cfg, nil)
	defer src.Close()

	err := src.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exited before capture started")
}

func TestALSASink_Flush(t *testing.T) {
	if _, err := exec.LookPath("true"); err != nil {
		t.Skip("true(1) not available")
	}
	cfg := DefaultConfig()
	cfg.PlayCommand = "true"
	sink := NewALSASink(cfg, nil)
	defer sink.Close()
	ctx := context.Background()

	require.NoError(t, sink.Start(ctx))
	require.NoError(t, sink.Write(ctx, AudioChunk{Samples: make([]int16, 2400), SampleRate: 24000, Channels: 1}))
	require.NoError(t, sink.Write(ctx, AudioChunk{Samples: make([]int16, 1600), SampleRate: 16000, Channels: 1}))
	assert.Equal(t, int64(4800), sink.Stats().BufferedSamples, "second chunk resampled to 24 kHz")

	require.NoError(t, sink.Flush(ctx))
	assert.Equal(t, int64(1), sink.Stats().Flushes)
	assert.Zero(t, sink.Stats().BufferedSamples)
}

func TestNewSource_Backends(t *testing.T) {
	src, err := NewSource(testConfig(), nil)
	require.NoError(t, err)
	assert.Equal(t, "mock", src.Name())

	cfg := testConfig()
	cfg.Backend = BackendALSA
	src, err = NewSource(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "alsa", src.Name())
}
