// Package protocol defines the relay's wire format: the event envelope, the
// event names and their payloads, and the sanitation applied to everything a
// client sends.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Client to server events.
const (
	EventJoin            = "join"
	EventLeave           = "leave"
	EventChangeName      = "changeName"
	EventMessage         = "message"
	EventTyping          = "typing"
	EventStopTyping      = "stop-typing"
	EventMessageReceived = "message-received"
)

// Server to client events. EventMessage, EventTyping and EventStopTyping are
// relayed in both directions.
const (
	EventUserJoined         = "user-joined"
	EventUserLeft           = "user-left"
	EventNameChanged        = "name-changed"
	EventUserCount          = "user-count"
	EventMessageSent        = "message-sent"
	EventMessageDelivered   = "message-delivered"
	EventMessageUndelivered = "message-undelivered"
	EventRateLimited        = "rate-limited"
)

// Envelope is a single websocket frame: an event name and its payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals data into an envelope for event.
func NewEnvelope(event string, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return Envelope{Event: event, Data: raw}, nil
}

// Encode marshals a complete frame for event.
func Encode(event string, data any) ([]byte, error) {
	env, err := NewEnvelope(event, data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// Parse decodes a raw frame. Frames without an event name are invalid.
func Parse(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("%w: missing event name", ErrValidation)
	}
	return env, nil
}

// Decode unmarshals the envelope's payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%w: %s has no payload", ErrValidation, e.Event)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrValidation, e.Event, err)
	}
	return nil
}

// UserPayload carries a display name (join, leave, typing, stop-typing).
type UserPayload struct {
	User string `json:"user" validate:"required"`
}

// NameChange is a rename request and its broadcast.
type NameChange struct {
	From string `json:"from" validate:"required"`
	To   string `json:"to" validate:"required"`
}

// ReplyRef is a denormalized snapshot of the message being replied to.
type ReplyRef struct {
	User    string `json:"user" validate:"required"`
	Message string `json:"message" validate:"required"`
	Time    int64  `json:"time"`
}

// ChatMessage is a user-authored chat line. Time is Unix milliseconds and is
// always assigned by the server.
type ChatMessage struct {
	User     string    `json:"user" validate:"required"`
	Message  string    `json:"message" validate:"required"`
	Time     int64     `json:"time"`
	ReplyTo  *ReplyRef `json:"replyTo,omitempty" validate:"-"`
	ClientID string    `json:"clientId,omitempty" validate:"omitempty,max=128"`
}

// Receipt acknowledges that a recipient received the message ClientID.
type Receipt struct {
	ClientID string `json:"clientId" validate:"required,max=128"`
}

// PresenceNotice announces a join or a departure.
type PresenceNotice struct {
	User string `json:"user"`
	Time int64  `json:"time"`
}

// UserCount is the live participant count.
type UserCount struct {
	Count int `json:"count"`
}

// Ack correlates a server notification with a client-generated identifier.
type Ack struct {
	ClientID string `json:"clientId"`
}

// Notice is an advisory message for a single connection.
type Notice struct {
	Message string `json:"message"`
}
