// Package pubsub is the relay's in-process activity bus. Gateway operations
// publish what happened in the room; observers such as the activity log and
// the health counters subscribe without being on the hot path.
package pubsub

import (
	"context"
)

// Message is the structure passed between components on the bus.
type Message struct {
	// Topic identifies the kind of activity (e.g., "room.message.relayed").
	Topic string
	// ConnID identifies the connection that caused the activity.
	ConnID string
	// Payload contains the JSON-encoded event.
	Payload []byte
	// Metadata can contain arbitrary key-value pairs for context.
	Metadata map[string]string
}

// Handler processes a received message.
type Handler func(ctx context.Context, msg Message) error

// Publisher sends messages to the bus.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// Subscriber receives messages from the bus.
type Subscriber interface {
	// Subscribe starts consuming topic in the background and returns once the
	// subscription is active. Consumption stops when ctx is canceled or the
	// subscriber is closed.
	Subscribe(ctx context.Context, topic string, handler Handler) error
	Close() error
}
