package gateway

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/nfrund/relay/internal/activity"
	"github.com/nfrund/relay/internal/delivery"
	"github.com/nfrund/relay/internal/presence"
	"github.com/nfrund/relay/internal/protocol"
	"github.com/nfrund/relay/internal/pubsub"
	"github.com/nfrund/relay/internal/ratelimit"
	"github.com/nfrund/relay/internal/typing"
)

// Notices sent to a connection whose event was dropped by the rate limiter.
const (
	messageLimitNotice = "You are sending messages too quickly. Please wait a moment."
	typingLimitNotice  = "Typing updates are being sent too quickly."
)

// Deps are the services a Gateway coordinates.
type Deps struct {
	Out       Outbound
	Registry  *presence.Registry
	Limiter   ratelimit.Limiter
	Tracker   *delivery.Tracker
	Sanitizer *protocol.Sanitizer
	// Bus receives room activity. Optional.
	Bus pubsub.Publisher
}

// Gateway applies the relay protocol to events arriving on connections.
// Dispatch is safe for concurrent use; events from a single connection must
// be dispatched in arrival order.
type Gateway struct {
	out       Outbound
	registry  *presence.Registry
	limiter   ratelimit.Limiter
	tracker   *delivery.Tracker
	roster    *typing.Roster
	sanitizer *protocol.Sanitizer
	bus       pubsub.Publisher
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a Gateway.
type Option func(*options)

type options struct {
	typingTTL time.Duration
	now       func() time.Time
}

// WithTypingTTL sets how long a typing signal lasts without a refresh.
func WithTypingTTL(d time.Duration) Option {
	return func(o *options) { o.typingTTL = d }
}

// WithClock replaces the time source used for server timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New creates a gateway.
func New(deps Deps, opts ...Option) *Gateway {
	o := options{typingTTL: typing.DefaultTTL, now: presence.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if deps.Sanitizer == nil {
		deps.Sanitizer = protocol.NewSanitizer(protocol.DefaultLimits())
	}

	g := &Gateway{
		out:       deps.Out,
		registry:  deps.Registry,
		limiter:   deps.Limiter,
		tracker:   deps.Tracker,
		sanitizer: deps.Sanitizer,
		bus:       deps.Bus,
		now:       o.now,
		logger:    slog.Default().With("component", "gateway"),
	}
	g.roster = typing.NewRoster(o.typingTTL, g.typingExpired)
	return g
}

// Connect registers a new connection and tells it the live count.
func (g *Gateway) Connect(ctx context.Context, connID string) {
	count := g.registry.Connect(connID)
	g.logger.Debug("Connection opened", "conn_id", connID, "count", count)
	g.send(connID, protocol.EventUserCount, protocol.UserCount{Count: count})
}

// Disconnect tears the connection down after its transport closed. It is a
// no-op for a connection that already left.
func (g *Gateway) Disconnect(ctx context.Context, connID string) {
	g.teardown(ctx, connID)
}

// Dispatch handles one inbound frame. Malformed frames are dropped.
func (g *Gateway) Dispatch(ctx context.Context, connID string, frame []byte) {
	env, err := protocol.Parse(frame)
	if err != nil {
		g.logger.Debug("Dropping malformed frame", "conn_id", connID, "error", err)
		return
	}

	switch env.Event {
	case protocol.EventJoin:
		err = g.handleJoin(ctx, connID, env)
	case protocol.EventLeave:
		err = g.handleLeave(ctx, connID)
	case protocol.EventChangeName:
		err = g.handleChangeName(ctx, connID, env)
	case protocol.EventMessage:
		err = g.handleMessage(ctx, connID, env)
	case protocol.EventTyping:
		err = g.handleTyping(ctx, connID)
	case protocol.EventStopTyping:
		g.stopTyping(connID)
	case protocol.EventMessageReceived:
		err = g.handleReceipt(ctx, connID, env)
	default:
		g.logger.Debug("Dropping unknown event", "conn_id", connID, "event", env.Event)
		return
	}

	switch {
	case err == nil:
	case errors.Is(err, protocol.ErrValidation),
		errors.Is(err, presence.ErrNotJoined),
		errors.Is(err, presence.ErrUnknownConnection):
		g.logger.Debug("Dropping invalid event", "conn_id", connID, "event", env.Event, "error", err)
	case errors.Is(err, protocol.ErrRateLimited):
		g.logger.Debug("Event rate limited", "conn_id", connID, "event", env.Event)
	default:
		g.logger.Error("Failed to handle event", "conn_id", connID, "event", env.Event, "error", err)
	}
}

// ExpireDeliveries notifies senders whose messages went unacknowledged for
// longer than the tracker's timeout. It runs until ctx is canceled.
func (g *Gateway) ExpireDeliveries(ctx context.Context, interval time.Duration) {
	g.tracker.Run(ctx, interval, func(o delivery.Outstanding) {
		g.send(o.Owner, protocol.EventMessageUndelivered, protocol.Ack{ClientID: o.ClientID})
		publish(ctx, g, activity.TopicMessageUndelivered, o.Owner, activity.Delivery{
			ClientID: o.ClientID,
			Owner:    o.Owner,
		})
	})
}

// Typing returns the number of connections currently typing.
func (g *Gateway) Typing() int {
	return g.roster.Len()
}

func (g *Gateway) send(connID, event string, data any) {
	frame, err := protocol.Encode(event, data)
	if err != nil {
		g.logger.Error("Failed to encode frame", "event", event, "error", err)
		return
	}
	g.out.Send(connID, frame)
}

func (g *Gateway) broadcast(event string, data any, except string) {
	frame, err := protocol.Encode(event, data)
	if err != nil {
		g.logger.Error("Failed to encode frame", "event", event, "error", err)
		return
	}
	g.out.Broadcast(frame, except)
}

// allow consults the limiter. A limiter failure lets the event through.
func (g *Gateway) allow(ctx context.Context, connID string, c ratelimit.Category, notice string) error {
	ok, err := g.limiter.Allow(ctx, connID, c)
	if err != nil {
		g.logger.Error("Rate limiter unavailable", "conn_id", connID, "category", c, "error", err)
		return nil
	}
	if ok {
		return nil
	}
	g.send(connID, protocol.EventRateLimited, protocol.Notice{Message: notice})
	publish(ctx, g, activity.TopicRateLimited, connID, activity.Denial{Category: string(c)})
	return protocol.ErrRateLimited
}

// publish records room activity on the bus, if one is attached.
func publish[T any](ctx context.Context, g *Gateway, event pubsub.Event[T], connID string, payload T) {
	if g.bus == nil {
		return
	}
	if err := pubsub.Publish(ctx, g.bus, event, connID, payload); err != nil {
		g.logger.Warn("Failed to publish activity", "topic", event.Name(), "error", err)
	}
}
