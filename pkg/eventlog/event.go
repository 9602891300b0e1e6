// Package eventlog persists safety events as an append-only JSON-lines file.
//
// Each line is one object:
//
//	{"timestamp": 1712345678.123, "event": "fall_detected", "payload": {...}, "id": "..."}
//
// External consumers (the dashboard, the caregiver notifier) tail the file with Follow.
package eventlog

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// Kind identifies the event type.
type Kind string

const (
	KindDistance Kind = "distance_detection"
	KindFall     Kind = "fall_detected"
)

// Event is one persisted safety record.
type Event struct {
	ID      string
	Time    time.Time
	Kind    Kind
	Payload map[string]any
}

// New creates an event with a fresh ID.
func New(kind Kind, t time.Time, payload map[string]any) Event {
	if payload == nil {
		payload = map[string]any{}
	}
	return Event{
		ID:      uuid.NewString(),
		Time:    t,
		Kind:    kind,
		Payload: payload,
	}
}

// record is the on-disk shape.
type record struct {
	Timestamp float64        `json:"timestamp"`
	Event     Kind           `json:"event"`
	Payload   map[string]any `json:"payload"`
	ID        string         `json:"id,omitempty"`
}

// MarshalJSON encodes the event with a float unix-seconds timestamp.
func (e Event) MarshalJSON() ([]byte, error) {
	payload := e.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	return json.Marshal(record{
		Timestamp: float64(e.Time.UnixMicro()) / 1e6,
		Event:     e.Kind,
		Payload:   payload,
		ID:        e.ID,
	})
}

// UnmarshalJSON decodes a line; unknown fields are ignored.
func (e *Event) UnmarshalJSON(data []byte) error {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	if r.Event == "" {
		return fmt.Errorf("eventlog: missing event kind")
	}
	sec, frac := math.Modf(r.Timestamp)
	e.Time = time.Unix(int64(sec), int64(math.Round(frac*1e6))*int64(time.Microsecond))
	e.Kind = r.Event
	e.Payload = r.Payload
	e.ID = r.ID
	return nil
}
