// Package hub fans dashboard updates out to websocket clients over
// channels, one writer goroutine per connection.
package hub

import (
	"encoding/json"
	"time"
)

// MessageType indicates the websocket frame type.
type MessageType int

const (
	JSONMessage MessageType = iota
	BinaryMessage
)

// Message is one frame to broadcast.
type Message struct {
	Type MessageType
	Data []byte
}

// NewJSONMessage wraps pre-encoded JSON.
func NewJSONMessage(data []byte) Message {
	return Message{Type: JSONMessage, Data: data}
}

// NewBinaryMessage wraps binary data such as a JPEG frame.
func NewBinaryMessage(data []byte) Message {
	return Message{Type: BinaryMessage, Data: data}
}

// Envelope is the JSON shape of every text frame:
// {"type": "event", "time": "...", "data": {...}}.
type Envelope struct {
	Type string    `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data,omitempty"`
}

// Encode marshals an envelope into a JSON message.
func Encode(kind string, t time.Time, data any) (Message, error) {
	b, err := json.Marshal(Envelope{Type: kind, Time: t, Data: data})
	if err != nil {
		return Message{}, err
	}
	return NewJSONMessage(b), nil
}
