package client

import (
	"context"
	"fmt"

	"github.com/nfrund/relay/internal/delivery"
	"github.com/nfrund/relay/internal/protocol"
)

// Handle applies one inbound frame to the session and notifies observers.
// Malformed frames are returned as validation errors and change nothing.
func (s *Session) Handle(ctx context.Context, frame []byte) error {
	env, err := protocol.Parse(frame)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch env.Event {
	case protocol.EventMessage:
		return s.onMessage(ctx, env)
	case protocol.EventMessageSent:
		return s.onAck(env, delivery.Sent)
	case protocol.EventMessageDelivered:
		return s.onAck(env, delivery.Delivered)
	case protocol.EventMessageUndelivered:
		return s.onAck(env, delivery.Undelivered)
	case protocol.EventUserJoined:
		var in protocol.PresenceNotice
		if err := env.Decode(&in); err != nil {
			return err
		}
		s.emit(Update{Kind: UpdateJoined, User: in.User, Text: in.User + " joined"})
	case protocol.EventUserLeft:
		var in protocol.PresenceNotice
		if err := env.Decode(&in); err != nil {
			return err
		}
		s.emit(Update{Kind: UpdateLeft, User: in.User, Text: in.User + " left"})
		if s.typing.Remove(in.User) {
			s.emitTypingSummaryLocked()
		}
	case protocol.EventNameChanged:
		var in protocol.NameChange
		if err := env.Decode(&in); err != nil {
			return err
		}
		s.emit(Update{Kind: UpdateRenamed, From: in.From, To: in.To, Text: in.From + " is now " + in.To})
		if s.typing.Has(in.From) {
			s.typing.Rename(in.From, in.To)
			s.emitTypingSummaryLocked()
		}
	case protocol.EventUserCount:
		var in protocol.UserCount
		if err := env.Decode(&in); err != nil {
			return err
		}
		s.count = in.Count
		s.emit(Update{Kind: UpdateCount, Count: in.Count})
	case protocol.EventTyping, protocol.EventStopTyping:
		var in protocol.UserPayload
		if err := env.Decode(&in); err != nil {
			return err
		}
		if in.User == s.name {
			return nil
		}
		var changed bool
		if env.Event == protocol.EventTyping {
			changed = s.typing.Add(in.User)
		} else {
			changed = s.typing.Remove(in.User)
		}
		if changed {
			s.emitTypingSummaryLocked()
		}
	case protocol.EventRateLimited:
		var in protocol.Notice
		if err := env.Decode(&in); err != nil {
			return err
		}
		s.emit(Update{Kind: UpdateNotice, Text: in.Message})
	default:
		return fmt.Errorf("unknown event %q: %w", env.Event, protocol.ErrValidation)
	}
	return nil
}

func (s *Session) onMessage(ctx context.Context, env protocol.Envelope) error {
	var msg protocol.ChatMessage
	if err := env.Decode(&msg); err != nil {
		return err
	}

	s.emit(Update{Kind: UpdateMessage, Message: msg, User: msg.User})
	if s.typing.Remove(msg.User) {
		s.emitTypingSummaryLocked()
	}

	if msg.ClientID == "" {
		return nil
	}
	if err := s.transport.Send(ctx, protocol.EventMessageReceived, protocol.Receipt{ClientID: msg.ClientID}); err != nil {
		s.logger.Debug("Could not acknowledge message", "client_id", msg.ClientID, "error", err)
	}
	return nil
}

func (s *Session) onAck(env protocol.Envelope, to delivery.State) error {
	var ack protocol.Ack
	if err := env.Decode(&ack); err != nil {
		return err
	}
	if ack.ClientID == "" {
		return fmt.Errorf("%s without clientId: %w", env.Event, protocol.ErrValidation)
	}

	// A delivered ack that overtakes message-sent implies it.
	if !s.ledger.Transition(ack.ClientID, to) {
		s.logger.Debug("Ignored acknowledgment", "event", env.Event, "client_id", ack.ClientID)
	}
	return nil
}

func (s *Session) emitTypingSummaryLocked() {
	s.emit(Update{Kind: UpdateTyping, Text: s.typing.Summary(s.name)})
}
