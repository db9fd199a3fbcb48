package pubsub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type greeting struct {
	Text string `json:"text"`
}

var testGreeting = NewEvent[greeting]("test.greeting", "A greeting")

func TestWatermillBridge_TypedRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bridge := NewWatermillBridge()
	defer bridge.Close()

	got := make(chan string, 1)
	err := Subscribe(ctx, bridge, testGreeting, func(_ context.Context, connID string, g greeting) error {
		got <- connID + ":" + g.Text
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, Publish(ctx, bridge, testGreeting, "conn-1", greeting{Text: "hi"}))

	select {
	case v := <-got:
		assert.Equal(t, "conn-1:hi", v)
	case <-time.After(time.Second):
		t.Fatal("typed event not delivered")
	}
}

func TestWatermillBridge_HandlerErrorDoesNotStopSubscription(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bridge := NewWatermillBridge(WithBlockingPublish())
	defer bridge.Close()

	var (
		mu    sync.Mutex
		calls int
	)
	err := bridge.Subscribe(ctx, "test.errors", func(context.Context, Message) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return errors.New("boom")
	})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, bridge.Publish(ctx, Message{Topic: "test.errors", Payload: []byte(`{}`)}))
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, calls, "each message is handled once and acked despite the error")
}

func TestWatermillBridge_PublishWithoutSubscribers(t *testing.T) {
	bridge := NewWatermillBridge()
	defer bridge.Close()

	assert.NoError(t, bridge.Publish(context.Background(), Message{Topic: "nobody.listens"}))
}

func TestEvent_Metadata(t *testing.T) {
	assert.Equal(t, "test.greeting", testGreeting.Name())
	assert.Equal(t, "A greeting", testGreeting.Description())
}
