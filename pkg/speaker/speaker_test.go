package speaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teslashibe/go-iris/pkg/audioio"
	"github.com/teslashibe/go-iris/pkg/tts"
)

func newTestSpeaker(t *testing.T, p tts.Provider) (*Speaker, *audioio.MockSink) {
	t.Helper()
	cfg := audioio.DefaultConfig()
	cfg.Backend = audioio.BackendMock
	sink := audioio.NewMockSink(cfg, nil)
	s, err := New(context.Background(), p, sink, nil)
	require.NoError(t, err)
	return s, sink
}

func TestSpeak_PlaysSynthesizedAudio(t *testing.T) {
	provider := tts.NewMock()
	s, sink := newTestSpeaker(t, provider)

	var started, ended []string
	s.OnPlaybackStart = func(text string) { started = append(started, text) }
	s.OnPlaybackEnd = func(text string, err error) {
		assert.NoError(t, err)
		ended = append(ended, text)
	}

	require.NoError(t, s.Speak(context.Background(), "I see 1 person."))

	played := sink.Played()
	require.Len(t, played, 1)
	require.Len(t, played[0], 1)
	assert.Equal(t, 24000, played[0][0].SampleRate)
	assert.Equal(t, []string{"I see 1 person."}, provider.Texts())
	assert.Equal(t, []string{"I see 1 person."}, started)
	assert.Equal(t, started, ended)
	assert.False(t, s.IsSpeaking())
}

func TestSpeak_EmptyTextIsNoop(t *testing.T) {
	provider := tts.NewMock()
	s, sink := newTestSpeaker(t, provider)

	require.NoError(t, s.Speak(context.Background(), "   "))
	assert.Empty(t, provider.Texts())
	assert.Empty(t, sink.Played())
}

func TestSpeak_SynthesisFailure(t *testing.T) {
	boom := errors.New("engine missing")
	s, sink := newTestSpeaker(t, tts.WithError(boom))

	err := s.Speak(context.Background(), "hello")
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, sink.Played())
}

func TestSpeak_BlocksUntilPlayed(t *testing.T) {
	s, sink := newTestSpeaker(t, tts.NewMock())
	sink.PlayDelay = 50 * time.Millisecond

	start := time.Now()
	require.NoError(t, s.Speak(context.Background(), "wait for me"))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestSpeak_Cancelled(t *testing.T) {
	s, sink := newTestSpeaker(t, tts.NewMock())
	sink.PlayDelay = time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.Speak(ctx, "interrupted")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, s.IsSpeaking())
}

func TestClose(t *testing.T) {
	s, _ := newTestSpeaker(t, tts.NewMock())
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Speak(context.Background(), "hello"), ErrClosed)
}

func TestLog_Paces(t *testing.T) {
	l := Log{WordsPerMinute: 6000} // 10ms per word
	start := time.Now()
	require.NoError(t, l.Speak(context.Background(), "one two three"))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}
