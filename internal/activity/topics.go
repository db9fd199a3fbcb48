// Package activity declares the room activity topics published on the bus and
// consumes them into a structured activity log and the counters reported by
// the health endpoint.
package activity

import "github.com/nfrund/relay/internal/pubsub"

// Presence describes a participant joining or leaving.
type Presence struct {
	User  string `json:"user"`
	Count int    `json:"count"`
	Time  int64  `json:"time"`
}

// Rename describes a display name change.
type Rename struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Relayed describes a chat message broadcast to the room.
type Relayed struct {
	ClientID   string `json:"clientId,omitempty"`
	User       string `json:"user"`
	Length     int    `json:"length"`
	Recipients int    `json:"recipients"`
	Reply      bool   `json:"reply"`
	Time       int64  `json:"time"`
}

// Delivery describes the outcome of a tracked message.
type Delivery struct {
	ClientID string `json:"clientId"`
	Owner    string `json:"owner"`
	By       string `json:"by,omitempty"`
}

// Denial describes an event dropped by the rate limiter.
type Denial struct {
	Category string `json:"category"`
}

// Room activity topics.
var (
	TopicUserJoined = pubsub.NewEvent[Presence](
		"room.user.joined", "A connection announced a display name")
	TopicUserLeft = pubsub.NewEvent[Presence](
		"room.user.left", "A joined connection left or disconnected")
	TopicUserRenamed = pubsub.NewEvent[Rename](
		"room.user.renamed", "A participant changed display name")
	TopicMessageRelayed = pubsub.NewEvent[Relayed](
		"room.message.relayed", "A chat message was broadcast")
	TopicMessageDelivered = pubsub.NewEvent[Delivery](
		"room.message.delivered", "A recipient acknowledged a message")
	TopicMessageUndelivered = pubsub.NewEvent[Delivery](
		"room.message.undelivered", "Nobody acknowledged a message in time")
	TopicRateLimited = pubsub.NewEvent[Denial](
		"room.ratelimit.denied", "An event was dropped by the rate limiter")
)

// TopicInfo describes one declared topic.
type TopicInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type describer interface {
	Name() string
	Description() string
}

// Topics lists every room activity topic in declaration order.
func Topics() []TopicInfo {
	all := []describer{
		TopicUserJoined,
		TopicUserLeft,
		TopicUserRenamed,
		TopicMessageRelayed,
		TopicMessageDelivered,
		TopicMessageUndelivered,
		TopicRateLimited,
	}
	out := make([]TopicInfo, 0, len(all))
	for _, t := range all {
		out = append(out, TopicInfo{Name: t.Name(), Description: t.Description()})
	}
	return out
}
