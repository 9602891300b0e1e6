package announce

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teslashibe/go-iris/pkg/eventlog"
)

// gateSpeaker blocks each utterance until released.
type gateSpeaker struct {
	mu       sync.Mutex
	spoken   []string
	canceled int
	started  chan string
	release  chan struct{}
	fail     map[string]error
}

func newGateSpeaker() *gateSpeaker {
	return &gateSpeaker{
		started: make(chan string, 16),
		release: make(chan struct{}, 16),
		fail:    map[string]error{},
	}
}

func (g *gateSpeaker) Speak(ctx context.Context, text string) error {
	g.started <- text
	select {
	case <-g.release:
	case <-ctx.Done():
		g.mu.Lock()
		g.canceled++
		g.mu.Unlock()
		return ctx.Err()
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.fail[text]; err != nil {
		return err
	}
	g.spoken = append(g.spoken, text)
	return nil
}

func (g *gateSpeaker) Spoken() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.spoken...)
}

func (g *gateSpeaker) Canceled() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.canceled
}

type memSink struct {
	mu     sync.Mutex
	events []eventlog.Event
}

func (m *memSink) Append(ev eventlog.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
}

func (m *memSink) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func waitStarted(t *testing.T, g *gateSpeaker) string {
	t.Helper()
	select {
	case text := <-g.started:
		return text
	case <-time.After(2 * time.Second):
		t.Fatal("speaker was not called")
		return ""
	}
}

func startArbiter(t *testing.T, a *Arbiter) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, done
}

func waitIdle(t *testing.T, a *Arbiter) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, a.WaitIdle(ctx))
}

func routine(text string) Request {
	return NewRequest(text, Routine, SourceVision, time.Now())
}

func alert(text string) Request {
	return NewRequest(text, Alert, SourceFall, time.Now())
}

func TestArbiter_SpeaksWhenIdle(t *testing.T) {
	g := newGateSpeaker()
	a := NewArbiter(g, nil)
	startArbiter(t, a)

	require.True(t, a.Submit(routine("I see 1 person.")))
	assert.Equal(t, "I see 1 person.", waitStarted(t, g))
	g.release <- struct{}{}
	waitIdle(t, a)

	assert.Equal(t, []string{"I see 1 person."}, g.Spoken())
	assert.Equal(t, uint64(1), a.Stats().Spoken)
}

func TestArbiter_RoutineDroppedWhileBusy(t *testing.T) {
	g := newGateSpeaker()
	a := NewArbiter(g, nil)
	startArbiter(t, a)

	require.True(t, a.Submit(routine("first")))
	waitStarted(t, g)

	assert.False(t, a.Submit(routine("second")), "routine must be dropped while playing")

	g.release <- struct{}{}
	waitIdle(t, a)
	assert.Equal(t, []string{"first"}, g.Spoken())
	assert.Equal(t, uint64(1), a.Stats().Dropped)
}

func TestArbiter_RoutineDroppedWhilePending(t *testing.T) {
	a := NewArbiter(newGateSpeaker(), nil)

	require.True(t, a.Submit(routine("queued")))
	assert.False(t, a.Submit(routine("also queued")))
	assert.True(t, a.Busy())
}

func TestArbiter_AlertPreemptsPendingRoutine(t *testing.T) {
	g := newGateSpeaker()
	a := NewArbiter(g, nil)

	// Not running yet, so the routine sits in the pending slot.
	require.True(t, a.Submit(routine("chair at 2.0 feet")))
	require.True(t, a.Submit(alert("Fall detected! Are you okay?")))

	startArbiter(t, a)
	assert.Equal(t, "Fall detected! Are you okay?", waitStarted(t, g))
	g.release <- struct{}{}
	waitIdle(t, a)

	assert.Equal(t, []string{"Fall detected! Are you okay?"}, g.Spoken())
}

func TestArbiter_AlertWaitsForCurrentUtterance(t *testing.T) {
	g := newGateSpeaker()
	a := NewArbiter(g, nil)
	startArbiter(t, a)

	require.True(t, a.Submit(routine("I see 2 chairs.")))
	waitStarted(t, g)

	require.True(t, a.Submit(alert("Fall detected! Are you okay?")))

	// The routine utterance is not interrupted.
	select {
	case text := <-g.started:
		t.Fatalf("alert started before routine finished: %q", text)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, 0, g.Canceled())

	g.release <- struct{}{}
	assert.Equal(t, "Fall detected! Are you okay?", waitStarted(t, g))
	g.release <- struct{}{}
	waitIdle(t, a)

	assert.Equal(t, []string{"I see 2 chairs.", "Fall detected! Are you okay?"}, g.Spoken())
}

func TestArbiter_AlertQueueBounded(t *testing.T) {
	sink := &memSink{}
	a := NewArbiter(newGateSpeaker(), sink, WithAlertQueue(1))

	ev := eventlog.New(eventlog.KindFall, time.Now(), nil)
	require.True(t, a.Submit(alert("a1").WithEvent(ev)))  // pending
	require.True(t, a.Submit(alert("a2").WithEvent(ev)))  // queued
	assert.False(t, a.Submit(alert("a3").WithEvent(ev))) // full

	assert.Equal(t, 3, sink.Len(), "alert events are persisted even when the queue is full")
}

func TestArbiter_EventPersistence(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(a *Arbiter)
		req     Request
		persist bool
	}{
		{
			name:    "accepted distance routine",
			req:     NewRequest("person at 2.3 feet", Routine, SourceDistance, time.Now()),
			persist: true,
		},
		{
			name:    "dropped distance routine",
			setup:   func(a *Arbiter) { a.Submit(routine("busy")) },
			req:     NewRequest("person at 2.3 feet", Routine, SourceDistance, time.Now()),
			persist: false,
		},
		{
			name:    "alert while busy",
			setup:   func(a *Arbiter) { a.Submit(routine("busy")) },
			req:     alert("Fall detected! Are you okay?"),
			persist: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sink := &memSink{}
			a := NewArbiter(newGateSpeaker(), sink)
			if tc.setup != nil {
				tc.setup(a)
			}
			a.Submit(tc.req.WithEvent(eventlog.New(eventlog.KindDistance, time.Now(), nil)))

			if tc.persist {
				assert.Equal(t, 1, sink.Len())
			} else {
				assert.Equal(t, 0, sink.Len())
			}
		})
	}
}

func TestArbiter_SpeakerFailureDoesNotStopLoop(t *testing.T) {
	g := newGateSpeaker()
	g.fail["broken"] = errors.New("audio device gone")
	sink := &memSink{}
	a := NewArbiter(g, sink)
	startArbiter(t, a)

	ev := eventlog.New(eventlog.KindFall, time.Now(), nil)
	require.True(t, a.Submit(alert("broken").WithEvent(ev)))
	waitStarted(t, g)
	g.release <- struct{}{}
	waitIdle(t, a)

	require.True(t, a.Submit(routine("after")))
	waitStarted(t, g)
	g.release <- struct{}{}
	waitIdle(t, a)

	assert.Equal(t, []string{"after"}, g.Spoken())
	assert.Equal(t, 1, sink.Len(), "event written despite speaker failure")
	stats := a.Stats()
	assert.Equal(t, uint64(1), stats.SpeakFailed)
	assert.Equal(t, uint64(1), stats.Spoken)
}

func TestArbiter_EmptyTextDropped(t *testing.T) {
	a := NewArbiter(newGateSpeaker(), nil)
	assert.False(t, a.Submit(routine("")))
	assert.False(t, a.Busy())
}

func TestArbiter_RunStopsOnCancel(t *testing.T) {
	g := newGateSpeaker()
	a := NewArbiter(g, nil)
	cancel, done := startArbiter(t, a)

	require.True(t, a.Submit(routine("long sentence")))
	waitStarted(t, g)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.False(t, a.Submit(routine("late")), "submit after shutdown is dropped")
}
