package server

import (
	"encoding/json"
	"time"
)

type ClientMessage struct {
	Id        int             `json:"id,omitempty"`
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"-"`
}

type ServerMessage struct {
	Id        int       `json:"id,omitempty"`
	Event     string    `json:"event"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type ErrorPayload struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func NewServerMessage(event string, data any) *ServerMessage {
	return &ServerMessage{
		Event:     event,
		Data:      data,
		Timestamp: Now(),
	}
}

// NoErrOK builds the reply to a successful inbound event. An empty name
// defaults to <event>_success.
func NoErrOK(id int, event, name string, data any) *ServerMessage {
	if name == "" {
		name = successEvent(event)
	}
	msg := NewServerMessage(name, data)
	msg.Id = id
	return msg
}

// ErrEvent builds the error reply for an inbound event. Failures that cannot
// be attributed to a known event use the generic error event.
func ErrEvent(id int, event string, err *EventError) *ServerMessage {
	name := errorEvent(event)
	if event == "" || err.Code == CodeUnknownEvent || err.Code == CodeInvalidMessage {
		name = EventGenericError
	}

	msg := NewServerMessage(name, ErrorPayload{Error: err.Message, Code: err.Code})
	msg.Id = id
	return msg
}

func ErrInvalidMessage(id int) *ServerMessage {
	return ErrEvent(id, "", ValidationError(CodeInvalidMessage, "invalid message format"))
}

func serializeMessage(msg *ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
