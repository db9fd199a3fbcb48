package activity

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/nfrund/relay/internal/pubsub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_CountsEveryTopic(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := pubsub.NewWatermillBridge()
	defer bus.Close()

	rec := NewRecorder(bus)
	require.NoError(t, rec.Start(ctx))

	require.NoError(t, pubsub.Publish(ctx, bus, TopicUserJoined, "c1", Presence{User: "Ann", Count: 1}))
	require.NoError(t, pubsub.Publish(ctx, bus, TopicUserJoined, "c2", Presence{User: "Bo", Count: 2}))
	require.NoError(t, pubsub.Publish(ctx, bus, TopicUserRenamed, "c2", Rename{From: "Bo", To: "Bob"}))
	require.NoError(t, pubsub.Publish(ctx, bus, TopicMessageRelayed, "c1", Relayed{ClientID: "m-1", User: "Ann"}))
	require.NoError(t, pubsub.Publish(ctx, bus, TopicMessageDelivered, "c2", Delivery{ClientID: "m-1", Owner: "c1", By: "c2"}))
	require.NoError(t, pubsub.Publish(ctx, bus, TopicMessageUndelivered, "c1", Delivery{ClientID: "m-2", Owner: "c1"}))
	require.NoError(t, pubsub.Publish(ctx, bus, TopicRateLimited, "c1", Denial{Category: "message"}))
	require.NoError(t, pubsub.Publish(ctx, bus, TopicUserLeft, "c1", Presence{User: "Ann", Count: 1}))

	want := Snapshot{
		Joins:           2,
		Leaves:          1,
		Renames:         1,
		MessagesRelayed: 1,
		Deliveries:      1,
		Undelivered:     1,
		RateLimited:     1,
	}
	assert.Eventually(t, func() bool {
		return rec.Stats().Snapshot() == want
	}, time.Second, 10*time.Millisecond)
}

func TestTopics(t *testing.T) {
	topics := Topics()
	require.Len(t, topics, 7)

	seen := make(map[string]bool)
	for _, topic := range topics {
		assert.True(t, strings.HasPrefix(topic.Name, "room."), topic.Name)
		assert.NotEmpty(t, topic.Description)
		assert.False(t, seen[topic.Name], "duplicate topic %s", topic.Name)
		seen[topic.Name] = true
	}
	assert.Equal(t, TopicUserJoined.Name(), topics[0].Name)
}
