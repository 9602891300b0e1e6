// Package announce serializes everything iris says through one speaker.
//
// Producers (vision, distance, fall, voice) Submit requests; a single Arbiter
// goroutine plays them one at a time. Routine chatter is dropped while the
// speaker is busy, alerts always get the next slot.
package announce

import (
	"time"

	"github.com/google/uuid"
	"github.com/teslashibe/go-iris/pkg/eventlog"
)

// Priority orders requests competing for the speaker.
type Priority int

const (
	Routine Priority = iota
	Alert
)

func (p Priority) String() string {
	if p == Alert {
		return "alert"
	}
	return "routine"
}

// Source names the producer of a request.
type Source string

const (
	SourceVision   Source = "vision"
	SourceDistance Source = "distance"
	SourceFall     Source = "fall"
	SourceVoice    Source = "voice"
)

// Request is one utterance to be spoken. Event, when set, is persisted on acceptance.
type Request struct {
	ID       string
	Text     string
	Priority Priority
	Source   Source
	Time     time.Time
	Event    *eventlog.Event
}

// NewRequest builds a request with a fresh ID.
func NewRequest(text string, p Priority, src Source, t time.Time) Request {
	return Request{
		ID:       uuid.NewString(),
		Text:     text,
		Priority: p,
		Source:   src,
		Time:     t,
	}
}

// WithEvent returns a copy of r carrying ev.
func (r Request) WithEvent(ev eventlog.Event) Request {
	r.Event = &ev
	return r
}
