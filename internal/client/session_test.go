package client

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nfrund/relay/internal/delivery"
	"github.com/nfrund/relay/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeTransport records every frame the session sends.
type fakeTransport struct {
	mu     sync.Mutex
	frames []protocol.Envelope
	err    error

	// When limited, only the next `remaining` frames are accepted.
	limited   bool
	remaining int
}

func (f *fakeTransport) Send(_ context.Context, event string, data any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.limited {
		if f.remaining == 0 {
			return ErrBufferFull
		}
		f.remaining--
	}
	env, err := protocol.NewEnvelope(event, data)
	if err != nil {
		return err
	}
	f.frames = append(f.frames, env)
	return nil
}

func (f *fakeTransport) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// acceptOnly lets n more frames through, then reports a full buffer.
func (f *fakeTransport) acceptOnly(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limited = true
	f.remaining = n
}

func (f *fakeTransport) unlimited() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limited = false
}

func (f *fakeTransport) events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.frames))
	for _, env := range f.frames {
		out = append(out, env.Event)
	}
	return out
}

func (f *fakeTransport) messages(t *testing.T) []protocol.ChatMessage {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []protocol.ChatMessage
	for _, env := range f.frames {
		if env.Event != protocol.EventMessage {
			continue
		}
		var msg protocol.ChatMessage
		require.NoError(t, env.Decode(&msg))
		out = append(out, msg)
	}
	return out
}

func (f *fakeTransport) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = nil
}

// updateLog collects observer updates.
type updateLog struct {
	mu      sync.Mutex
	updates []Update
}

func (l *updateLog) observe(u Update) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.updates = append(l.updates, u)
}

func (l *updateLog) kind(k UpdateKind) []Update {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Update
	for _, u := range l.updates {
		if u.Kind == k {
			out = append(out, u)
		}
	}
	return out
}

func frame(t *testing.T, event string, data any) []byte {
	t.Helper()
	raw, err := protocol.Encode(event, data)
	require.NoError(t, err)
	return raw
}

func newTestSession(t *testing.T, opts ...Option) (*Session, *fakeTransport, *updateLog, *fakeClock) {
	t.Helper()
	tr := &fakeTransport{}
	log := &updateLog{}
	clock := newFakeClock()
	opts = append([]Option{WithObserver(log.observe), WithClock(clock.Now)}, opts...)
	return NewSession("Ann", tr, opts...), tr, log, clock
}

func connected(t *testing.T, s *Session, tr *fakeTransport) {
	t.Helper()
	require.NoError(t, s.Connected(context.Background()))
	tr.reset()
}

func TestSession_OfflineMessagesReplayInOrder(t *testing.T) {
	s, tr, _, _ := newTestSession(t)
	ctx := context.Background()

	var ids []string
	for _, text := range []string{"A", "B", "C"} {
		e, err := s.Compose(ctx, text)
		require.NoError(t, err)
		assert.Equal(t, delivery.Queued, e.State)
		ids = append(ids, e.Message.ClientID)
	}
	assert.Equal(t, 3, s.Queued())
	assert.Empty(t, tr.events(), "nothing is sent while offline")

	require.NoError(t, s.Connected(ctx))

	assert.Equal(t, []string{
		protocol.EventJoin,
		protocol.EventMessage,
		protocol.EventMessage,
		protocol.EventMessage,
	}, tr.events(), "join comes before the replay")

	var bodies []string
	for _, m := range tr.messages(t) {
		bodies = append(bodies, m.Message)
	}
	assert.Equal(t, []string{"A", "B", "C"}, bodies)
	assert.Zero(t, s.Queued())
	for _, id := range ids {
		state, _ := s.State(id)
		assert.Equal(t, delivery.Sending, state)
	}
}

func TestSession_ComposeWhileFlushPendingKeepsOrder(t *testing.T) {
	s, tr, _, _ := newTestSession(t)
	ctx := context.Background()

	_, err := s.Compose(ctx, "A")
	require.NoError(t, err)

	// Only the join fits, so A is still queued on a live connection.
	tr.acceptOnly(1)
	require.NoError(t, s.Connected(ctx))
	assert.True(t, s.Online())
	assert.Equal(t, 1, s.Queued())
	tr.unlimited()

	e, err := s.Compose(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, delivery.Sending, e.State)
	assert.Zero(t, s.Queued())

	var bodies []string
	for _, m := range tr.messages(t) {
		bodies = append(bodies, m.Message)
	}
	assert.Equal(t, []string{"A", "B"}, bodies, "B never overtakes A")
}

func TestSession_FullBufferKeepsSessionOnline(t *testing.T) {
	s, tr, _, _ := newTestSession(t)
	connected(t, s, tr)
	ctx := context.Background()

	tr.acceptOnly(0)
	first, err := s.Compose(ctx, "first")
	require.NoError(t, err)
	assert.Equal(t, delivery.Queued, first.State)
	assert.True(t, s.Online(), "a congested connection is still connected")

	tr.unlimited()
	second, err := s.Compose(ctx, "second")
	require.NoError(t, err)

	assert.Zero(t, s.Queued())
	for _, id := range []string{first.Message.ClientID, second.Message.ClientID} {
		state, _ := s.State(id)
		assert.Equal(t, delivery.Sending, state)
	}
	assert.Equal(t, []string{protocol.EventMessage, protocol.EventMessage}, tr.events())

	s.Keystroke()
	assert.Contains(t, tr.events(), protocol.EventTyping, "typing is not muted")
}

func TestSession_ReconnectFlushResumesAfterFullBuffer(t *testing.T) {
	s, tr, _, _ := newTestSession(t)
	ctx := context.Background()

	for _, text := range []string{"1", "2", "3", "4", "5"} {
		_, err := s.Compose(ctx, text)
		require.NoError(t, err)
	}

	// The join and two messages fit before the buffer fills.
	tr.acceptOnly(3)
	require.NoError(t, s.Connected(ctx))
	assert.True(t, s.Online())
	assert.Equal(t, 3, s.Queued())

	// Nothing moves while the transport is still congested.
	require.NoError(t, s.Flush(ctx))
	assert.Equal(t, 3, s.Queued())

	tr.unlimited()
	require.NoError(t, s.Flush(ctx))
	assert.Zero(t, s.Queued())

	_, err := s.Compose(ctx, "later")
	require.NoError(t, err)

	var bodies []string
	for _, m := range tr.messages(t) {
		bodies = append(bodies, m.Message)
	}
	assert.Equal(t, []string{"1", "2", "3", "4", "5", "later"}, bodies)
	for _, e := range s.Entries() {
		assert.Equal(t, delivery.Sending, e.State, e.Message.Message)
	}
}

func TestSession_RunResumesPausedFlush(t *testing.T) {
	s, tr, _, _ := newTestSession(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := s.Compose(ctx, "queued")
	require.NoError(t, err)
	tr.acceptOnly(1)
	require.NoError(t, s.Connected(ctx))
	require.Equal(t, 1, s.Queued())

	tr.unlimited()
	go s.Run(ctx, 5*time.Millisecond)

	assert.Eventually(t, func() bool { return s.Queued() == 0 }, time.Second, 5*time.Millisecond)
	assert.Len(t, tr.messages(t), 1)
}

func TestSession_AcknowledgmentLifecycle(t *testing.T) {
	s, tr, log, _ := newTestSession(t)
	connected(t, s, tr)
	ctx := context.Background()

	e, err := s.Compose(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, delivery.Sending, e.State)
	id := e.Message.ClientID

	require.NoError(t, s.Handle(ctx, frame(t, protocol.EventMessageSent, protocol.Ack{ClientID: id})))
	state, _ := s.State(id)
	assert.Equal(t, delivery.Sent, state)

	for range 3 {
		require.NoError(t, s.Handle(ctx, frame(t, protocol.EventMessageDelivered, protocol.Ack{ClientID: id})))
	}
	state, _ = s.State(id)
	assert.Equal(t, delivery.Delivered, state)

	var delivered int
	for _, u := range log.kind(UpdateDelivery) {
		if u.Entry.State == delivery.Delivered {
			delivered++
		}
	}
	assert.Equal(t, 1, delivered, "duplicate acks notify once")
}

func TestSession_Undelivered(t *testing.T) {
	s, tr, _, _ := newTestSession(t)
	connected(t, s, tr)
	ctx := context.Background()

	e, err := s.Compose(ctx, "anyone?")
	require.NoError(t, err)
	id := e.Message.ClientID

	require.NoError(t, s.Handle(ctx, frame(t, protocol.EventMessageSent, protocol.Ack{ClientID: id})))
	require.NoError(t, s.Handle(ctx, frame(t, protocol.EventMessageUndelivered, protocol.Ack{ClientID: id})))
	require.NoError(t, s.Handle(ctx, frame(t, protocol.EventMessageDelivered, protocol.Ack{ClientID: id})))

	state, _ := s.State(id)
	assert.Equal(t, delivery.Undelivered, state)
}

func TestSession_SendTimeoutAndRetry(t *testing.T) {
	s, tr, _, clock := newTestSession(t, WithSendTimeout(5*time.Second))
	connected(t, s, tr)
	ctx := context.Background()

	e, err := s.Compose(ctx, "slow")
	require.NoError(t, err)
	id := e.Message.ClientID

	clock.Advance(4 * time.Second)
	assert.Empty(t, s.ExpireSending())

	clock.Advance(2 * time.Second)
	assert.Equal(t, []string{id}, s.ExpireSending())
	state, _ := s.State(id)
	assert.Equal(t, delivery.Failed, state)

	tr.reset()
	require.NoError(t, s.Retry(ctx, id))
	state, _ = s.State(id)
	assert.Equal(t, delivery.Sending, state)
	require.Len(t, tr.messages(t), 1)
	assert.Equal(t, id, tr.messages(t)[0].ClientID, "retry reuses the identifier")

	assert.ErrorIs(t, s.Retry(ctx, id), ErrNotFailed)
	assert.ErrorIs(t, s.Retry(ctx, "unknown"), ErrNotFailed)
}

func TestSession_TransportLossQueues(t *testing.T) {
	s, tr, _, _ := newTestSession(t)
	connected(t, s, tr)
	tr.fail(protocol.ErrTransportUnavailable)

	e, err := s.Compose(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, delivery.Queued, e.State)
	assert.Equal(t, 1, s.Queued())
	assert.False(t, s.Online())
}

func TestSession_RejectsEmptyMessage(t *testing.T) {
	s, tr, _, _ := newTestSession(t)
	connected(t, s, tr)

	_, err := s.Compose(context.Background(), "   ")
	assert.ErrorIs(t, err, protocol.ErrValidation)
	assert.Empty(t, tr.events())
	assert.Empty(t, s.Entries())
}

func TestSession_InboundMessageIsAcknowledged(t *testing.T) {
	s, tr, log, _ := newTestSession(t)
	connected(t, s, tr)
	ctx := context.Background()

	require.NoError(t, s.Handle(ctx, frame(t, protocol.EventTyping, protocol.UserPayload{User: "Bo"})))
	assert.Equal(t, "Bo is typing", s.TypingSummary())

	msg := protocol.ChatMessage{User: "Bo", Message: "hi", Time: 1, ClientID: "bo-1"}
	require.NoError(t, s.Handle(ctx, frame(t, protocol.EventMessage, msg)))

	require.Len(t, log.kind(UpdateMessage), 1)
	assert.Equal(t, msg, log.kind(UpdateMessage)[0].Message)
	assert.Empty(t, s.TypingSummary(), "a message ends the sender's typing")

	assert.Equal(t, []string{protocol.EventMessageReceived}, tr.events())
}

func TestSession_TypingSummary(t *testing.T) {
	s, tr, log, _ := newTestSession(t)
	connected(t, s, tr)
	ctx := context.Background()
	handle := func(event string, data any) {
		require.NoError(t, s.Handle(ctx, frame(t, event, data)))
	}

	handle(protocol.EventTyping, protocol.UserPayload{User: "Ann"})
	assert.Empty(t, s.TypingSummary(), "own typing is ignored")

	handle(protocol.EventTyping, protocol.UserPayload{User: "Bo"})
	handle(protocol.EventTyping, protocol.UserPayload{User: "Cy"})
	assert.Equal(t, "Bo and Cy are typing", s.TypingSummary())

	handle(protocol.EventTyping, protocol.UserPayload{User: "Bo"})
	assert.Len(t, log.kind(UpdateTyping), 2, "a keep-alive changes nothing")

	handle(protocol.EventNameChanged, protocol.NameChange{From: "Cy", To: "Cyd"})
	assert.Equal(t, "Bo and Cyd are typing", s.TypingSummary())

	handle(protocol.EventUserLeft, protocol.PresenceNotice{User: "Bo"})
	assert.Equal(t, "Cyd is typing", s.TypingSummary())

	handle(protocol.EventStopTyping, protocol.UserPayload{User: "Cyd"})
	assert.Empty(t, s.TypingSummary())
}

func TestSession_PresenceUpdates(t *testing.T) {
	s, tr, log, _ := newTestSession(t)
	connected(t, s, tr)
	ctx := context.Background()

	require.NoError(t, s.Handle(ctx, frame(t, protocol.EventUserCount, protocol.UserCount{Count: 3})))
	require.NoError(t, s.Handle(ctx, frame(t, protocol.EventUserJoined, protocol.PresenceNotice{User: "Bo"})))
	require.NoError(t, s.Handle(ctx, frame(t, protocol.EventRateLimited, protocol.Notice{Message: "slow down"})))

	assert.Equal(t, 3, s.Count())
	require.Len(t, log.kind(UpdateJoined), 1)
	assert.Equal(t, "Bo joined", log.kind(UpdateJoined)[0].Text)
	require.Len(t, log.kind(UpdateNotice), 1)
	assert.Equal(t, "slow down", log.kind(UpdateNotice)[0].Text)
}

func TestSession_RejectsMalformedFrames(t *testing.T) {
	s, tr, log, _ := newTestSession(t)
	connected(t, s, tr)
	ctx := context.Background()

	assert.ErrorIs(t, s.Handle(ctx, []byte("not json")), protocol.ErrValidation)
	assert.ErrorIs(t, s.Handle(ctx, frame(t, "bogus", struct{}{})), protocol.ErrValidation)
	assert.ErrorIs(t, s.Handle(ctx, frame(t, protocol.EventMessageSent, protocol.Ack{})), protocol.ErrValidation)
	assert.Empty(t, log.updates)
}

func TestSession_ReplyContext(t *testing.T) {
	s, tr, _, _ := newTestSession(t)
	connected(t, s, tr)
	ctx := context.Background()

	original := protocol.ChatMessage{User: "Bo", Message: strings.Repeat("x", 500), Time: 42}
	s.SetReply(original)
	ref, ok := s.Reply()
	require.True(t, ok)
	assert.Len(t, []rune(ref.Message), DefaultExcerptLen)

	e, err := s.Compose(ctx, "agreed")
	require.NoError(t, err)
	require.NotNil(t, e.Message.ReplyTo)
	assert.Equal(t, "Bo", e.Message.ReplyTo.User)
	assert.Equal(t, int64(42), e.Message.ReplyTo.Time)

	_, ok = s.Reply()
	assert.False(t, ok, "the reply is consumed by the message")

	s.SetReply(original)
	s.CancelReply()
	_, ok = s.Reply()
	assert.False(t, ok)
	assert.Len(t, tr.messages(t), 1, "cancel sends nothing")
}

func TestSession_Rename(t *testing.T) {
	s, tr, _, _ := newTestSession(t)
	ctx := context.Background()

	require.NoError(t, s.Rename(ctx, "Annie"))
	assert.Empty(t, tr.events(), "offline renames wait for the next join")

	require.NoError(t, s.Connected(ctx))
	require.Len(t, tr.frames, 1)
	var join protocol.UserPayload
	require.NoError(t, tr.frames[0].Decode(&join))
	assert.Equal(t, "Annie", join.User)
	tr.reset()

	require.NoError(t, s.Rename(ctx, "Ann"))
	require.Equal(t, []string{protocol.EventChangeName}, tr.events())
	var change protocol.NameChange
	require.NoError(t, tr.frames[0].Decode(&change))
	assert.Equal(t, protocol.NameChange{From: "Annie", To: "Ann"}, change)

	assert.ErrorIs(t, s.Rename(ctx, " "), protocol.ErrValidation)
}

func TestSession_Leave(t *testing.T) {
	s, tr, _, _ := newTestSession(t)
	connected(t, s, tr)
	ctx := context.Background()

	require.NoError(t, s.Leave(ctx))
	require.NoError(t, s.Leave(ctx))
	assert.Equal(t, []string{protocol.EventLeave}, tr.events())
	assert.True(t, s.Left())

	_, err := s.Compose(ctx, "too late")
	assert.ErrorIs(t, err, ErrLeft)
	assert.ErrorIs(t, s.Connected(ctx), ErrLeft)
}

func TestSession_KeystrokesDriveTyping(t *testing.T) {
	s, tr, _, _ := newTestSession(t, WithTypingTimings(10*time.Millisecond, 50*time.Millisecond))
	connected(t, s, tr)

	s.Keystroke()
	s.Keystroke()
	s.Keystroke()
	assert.Equal(t, []string{protocol.EventTyping}, tr.events())

	assert.Eventually(t, func() bool {
		events := tr.events()
		return len(events) == 2 && events[1] == protocol.EventStopTyping
	}, time.Second, 5*time.Millisecond)
}

func TestSession_ComposeStopsTyping(t *testing.T) {
	s, tr, _, _ := newTestSession(t, WithTypingTimings(10*time.Millisecond, time.Minute))
	connected(t, s, tr)

	s.Keystroke()
	_, err := s.Compose(context.Background(), "done")
	require.NoError(t, err)

	assert.Equal(t, []string{
		protocol.EventTyping,
		protocol.EventMessage,
		protocol.EventStopTyping,
	}, tr.events())
}

func TestSession_DisconnectClearsTyping(t *testing.T) {
	s, tr, _, _ := newTestSession(t)
	connected(t, s, tr)
	ctx := context.Background()

	require.NoError(t, s.Handle(ctx, frame(t, protocol.EventTyping, protocol.UserPayload{User: "Bo"})))
	s.Disconnected()

	assert.False(t, s.Online())
	assert.Empty(t, s.TypingSummary())

	s.Keystroke()
	assert.Empty(t, tr.events(), "typing is not announced while offline")
}
