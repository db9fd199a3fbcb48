package gateway

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/nfrund/relay/internal/activity"
	"github.com/nfrund/relay/internal/delivery"
	"github.com/nfrund/relay/internal/presence"
	"github.com/nfrund/relay/internal/protocol"
	"github.com/nfrund/relay/internal/ratelimit"
)

func (g *Gateway) handleJoin(ctx context.Context, connID string, env protocol.Envelope) error {
	var in protocol.UserPayload
	if err := env.Decode(&in); err != nil {
		return err
	}
	user, err := g.sanitizer.User(in)
	if err != nil {
		return err
	}

	previous, _ := g.registry.Name(connID)
	_, count, err := g.registry.Join(connID, user.User)
	if err != nil {
		return fmt.Errorf("join %s: %w", connID, err)
	}

	// A second join under another name is a rename for everyone else.
	if previous != "" && previous != user.User {
		g.stopTyping(connID)
		g.broadcast(protocol.EventNameChanged, protocol.NameChange{From: previous, To: user.User}, connID)
		g.broadcast(protocol.EventUserCount, protocol.UserCount{Count: count}, "")

		publish(ctx, g, activity.TopicUserRenamed, connID, activity.Rename{From: previous, To: user.User})
		return nil
	}

	now := g.now().UnixMilli()
	g.broadcast(protocol.EventUserJoined, protocol.PresenceNotice{User: user.User, Time: now}, connID)
	g.broadcast(protocol.EventUserCount, protocol.UserCount{Count: count}, "")

	publish(ctx, g, activity.TopicUserJoined, connID, activity.Presence{User: user.User, Count: count, Time: now})
	return nil
}

func (g *Gateway) handleLeave(ctx context.Context, connID string) error {
	g.teardown(ctx, connID)
	g.out.Close(connID)
	return nil
}

func (g *Gateway) handleChangeName(ctx context.Context, connID string, env protocol.Envelope) error {
	var in protocol.NameChange
	if err := env.Decode(&in); err != nil {
		return err
	}
	req, err := g.sanitizer.Rename(in)
	if err != nil {
		return err
	}

	from, err := g.registry.Rename(connID, req.To)
	if err != nil {
		return fmt.Errorf("rename %s: %w", connID, err)
	}
	if from == req.To {
		return nil
	}

	// Receivers key typing state by name, so clear it under the old one.
	g.stopTyping(connID)
	g.broadcast(protocol.EventNameChanged, protocol.NameChange{From: from, To: req.To}, connID)

	publish(ctx, g, activity.TopicUserRenamed, connID, activity.Rename{From: from, To: req.To})
	return nil
}

func (g *Gateway) handleMessage(ctx context.Context, connID string, env protocol.Envelope) error {
	if err := g.allow(ctx, connID, ratelimit.CategoryMessage, messageLimitNotice); err != nil {
		return err
	}

	var in protocol.ChatMessage
	if err := env.Decode(&in); err != nil {
		return err
	}
	msg, err := g.sanitizer.Message(in, g.now())
	if err != nil {
		return err
	}

	// Tracked before broadcasting so a fast receipt always finds its owner.
	if msg.ClientID != "" {
		if err := g.tracker.Track(connID, msg.ClientID); err != nil {
			if !errors.Is(err, delivery.ErrDuplicateID) {
				return err
			}
			g.logger.Warn("Message relayed without delivery tracking", "conn_id", connID, "client_id", msg.ClientID, "error", err)
		}
	}

	g.broadcast(protocol.EventMessage, msg, connID)
	if msg.ClientID != "" {
		g.send(connID, protocol.EventMessageSent, protocol.Ack{ClientID: msg.ClientID})
	}
	g.stopTyping(connID)

	publish(ctx, g, activity.TopicMessageRelayed, connID, activity.Relayed{
		ClientID:   msg.ClientID,
		User:       msg.User,
		Length:     utf8.RuneCountInString(msg.Message),
		Recipients: g.registry.Count() - 1,
		Reply:      msg.ReplyTo != nil,
		Time:       msg.Time,
	})
	return nil
}

func (g *Gateway) handleTyping(ctx context.Context, connID string) error {
	// Typing is announced under the joined name only; the payload's user is
	// never trusted.
	name, ok := g.registry.Name(connID)
	if !ok {
		return fmt.Errorf("typing from %s: %w", connID, presence.ErrNotJoined)
	}
	if err := g.allow(ctx, connID, ratelimit.CategoryTyping, typingLimitNotice); err != nil {
		return err
	}

	g.roster.Touch(connID, name)
	g.broadcast(protocol.EventTyping, protocol.UserPayload{User: name}, connID)
	return nil
}

func (g *Gateway) handleReceipt(ctx context.Context, connID string, env protocol.Envelope) error {
	var in protocol.Receipt
	if err := env.Decode(&in); err != nil {
		return err
	}
	receipt, err := g.sanitizer.Receipt(in)
	if err != nil {
		return err
	}

	owner, ok := g.tracker.Ack(connID, receipt.ClientID)
	if !ok {
		return nil
	}
	g.send(owner, protocol.EventMessageDelivered, protocol.Ack{ClientID: receipt.ClientID})

	publish(ctx, g, activity.TopicMessageDelivered, connID, activity.Delivery{
		ClientID: receipt.ClientID,
		Owner:    owner,
		By:       connID,
	})
	return nil
}

// stopTyping clears the connection's typing entry and tells the others.
func (g *Gateway) stopTyping(connID string) {
	if name, ok := g.roster.Stop(connID); ok {
		g.broadcast(protocol.EventStopTyping, protocol.UserPayload{User: name}, connID)
	}
}

func (g *Gateway) typingExpired(connID, name string) {
	g.logger.Debug("Typing signal expired", "conn_id", connID, "user", name)
	g.broadcast(protocol.EventStopTyping, protocol.UserPayload{User: name}, connID)
}

// teardown releases everything the connection holds. Only the first call for
// a connection has any effect.
func (g *Gateway) teardown(ctx context.Context, connID string) {
	p, count, ok := g.registry.Remove(connID)
	if !ok {
		return
	}

	g.stopTyping(connID)
	now := g.now().UnixMilli()
	if p.Joined() {
		g.broadcast(protocol.EventUserLeft, protocol.PresenceNotice{User: p.Name, Time: now}, connID)
	}
	g.broadcast(protocol.EventUserCount, protocol.UserCount{Count: count}, connID)

	if err := g.limiter.Release(ctx, connID); err != nil {
		g.logger.Error("Failed to release rate limit windows", "conn_id", connID, "error", err)
	}
	if n := g.tracker.Release(connID); n > 0 {
		g.logger.Debug("Released outstanding deliveries", "conn_id", connID, "count", n)
	}

	if p.Joined() {
		publish(ctx, g, activity.TopicUserLeft, connID, activity.Presence{User: p.Name, Count: count, Time: now})
	}
}
