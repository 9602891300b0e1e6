package iris

import (
	"context"
	"time"

	"github.com/teslashibe/go-iris/pkg/announce"
	"github.com/teslashibe/go-iris/pkg/audioio"
	"github.com/teslashibe/go-iris/pkg/detection"
	"github.com/teslashibe/go-iris/pkg/stt"
	"github.com/teslashibe/go-iris/pkg/wake"
)

// micListener records from the microphone and transcribes. It waits for the
// arbiter to finish speaking first so iris never hears itself.
type micListener struct {
	app *App
	src audioio.Source
	stt stt.Transcriber
}

func (l *micListener) Listen(ctx context.Context, window time.Duration) (string, error) {
	a := l.app
	if a.voice != nil {
		a.metrics.SetAwaiting(a.voice.State() == wake.AwaitingCommand)
	}
	if err := a.arbiter.WaitIdle(ctx); err != nil {
		return "", err
	}
	pcm, err := audioio.Capture(ctx, l.src, window)
	if err != nil {
		return "", err
	}
	return l.stt.Transcribe(ctx, pcm, l.src.Config().SampleRate)
}

// handleCommand acts on a recognized voice command.
func (a *App) handleCommand(ctx context.Context, cmd wake.Command) {
	a.metrics.Command(cmd.Intent.String())

	switch cmd.Intent {
	case wake.IntentDescribe:
		snap := a.currentSnapshot(ctx)
		a.arbiter.Submit(a.debouncer.AnnounceNow(snap))
	case wake.IntentCount:
		snap := a.currentSnapshot(ctx)
		a.say(detection.CountSummary(snap), cmd.Time)
	case wake.IntentStart:
		a.SetContinuous(true)
		a.say(SayStarting, cmd.Time)
	case wake.IntentStop:
		a.SetContinuous(false)
		a.say(SayStopping, cmd.Time)
	}
}

// Say submits text as a routine spoken response.
func (a *App) Say(text string) bool {
	return a.say(text, time.Now())
}

func (a *App) say(text string, t time.Time) bool {
	if t.IsZero() {
		t = time.Now()
	}
	return a.arbiter.Submit(announce.NewRequest(text, announce.Routine, announce.SourceVoice, t))
}
