// Package client is the Go client for the relay: session state, the offline
// outbox, delivery tracking and a reconnecting websocket transport.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nfrund/relay/internal/delivery"
	"github.com/nfrund/relay/internal/outbox"
	"github.com/nfrund/relay/internal/protocol"
	"github.com/nfrund/relay/internal/typing"
)

const (
	// DefaultSendTimeout bounds how long a message may wait for message-sent.
	DefaultSendTimeout = 10 * time.Second
	// DefaultExcerptLen caps the reply excerpt carried by a message.
	DefaultExcerptLen = 200
)

var (
	// ErrNotFailed is returned when retrying a message that has not failed.
	ErrNotFailed = errors.New("message is not in the failed state")
	// ErrLeft is returned by operations on a session that has left the room.
	ErrLeft = errors.New("session has left the room")
	// ErrBufferFull is returned by a Transport that is connected but cannot
	// take another frame yet. The session stays online and retries later.
	ErrBufferFull = errors.New("outbound buffer full")
)

// Transport delivers one event to the server. Implementations return an error
// wrapping protocol.ErrTransportUnavailable while offline and ErrBufferFull
// while the connection is congested.
type Transport interface {
	Send(ctx context.Context, event string, data any) error
}

// Session holds one participant's view of the room. Every inbound event,
// outbound action and timer callback is serialized through its lock.
//
// Observers run with the lock held and must not call back into the Session.
type Session struct {
	mu          sync.Mutex
	name        string
	transport   Transport
	online      bool
	left        bool
	count       int
	reply       *protocol.ReplyRef
	ledger      *delivery.Ledger
	outbox      *outbox.Queue
	typing      *typing.Set
	debouncer   *typing.Debouncer
	sendTimeout time.Duration
	excerptLen  int
	now         func() time.Time
	middleware  []Middleware
	final       Observer
	observe     Observer
	logger      *slog.Logger
}

// Option configures a Session.
type Option func(*sessionConfig)

type sessionConfig struct {
	observer    Observer
	sendTimeout time.Duration
	excerptLen  int
	debouncer   []typing.DebouncerOption
	now         func() time.Time
}

// WithObserver sets the observer that receives every Update after the
// middleware chain.
func WithObserver(o Observer) Option {
	return func(c *sessionConfig) {
		c.observer = o
	}
}

// WithSendTimeout bounds the wait for message-sent.
func WithSendTimeout(d time.Duration) Option {
	return func(c *sessionConfig) {
		c.sendTimeout = d
	}
}

// WithTypingTimings overrides the debouncer's settle and idle durations.
func WithTypingTimings(settle, idle time.Duration) Option {
	return func(c *sessionConfig) {
		c.debouncer = append(c.debouncer, typing.WithSettle(settle), typing.WithIdle(idle))
	}
}

// WithClock replaces time.Now for message timestamps and ledger bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(c *sessionConfig) {
		c.now = now
	}
}

// NewSession creates an offline session for the given display name.
func NewSession(name string, transport Transport, opts ...Option) *Session {
	cfg := sessionConfig{
		sendTimeout: DefaultSendTimeout,
		excerptLen:  DefaultExcerptLen,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Session{
		name:        name,
		transport:   transport,
		outbox:      outbox.New(),
		typing:      typing.NewSet(),
		sendTimeout: cfg.sendTimeout,
		excerptLen:  cfg.excerptLen,
		now:         cfg.now,
		final:       cfg.observer,
		logger:      slog.Default().With("component", "client_session"),
	}
	s.ledger = delivery.NewLedger(s.deliveryChanged, delivery.WithLedgerClock(cfg.now))
	s.debouncer = typing.NewDebouncer(s.emitTyping, cfg.debouncer...)
	s.rebuildLocked()
	return s
}

// Use appends middleware to the observer chain. The first middleware added
// sees each update first.
func (s *Session) Use(mw ...Middleware) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.middleware = append(s.middleware, mw...)
	s.rebuildLocked()
}

func (s *Session) rebuildLocked() {
	s.observe = Chain(s.final, s.middleware...)
}

// Name returns the current display name.
func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// Online reports whether the transport is connected.
func (s *Session) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// Left reports whether the session has left the room.
func (s *Session) Left() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.left
}

// Count returns the last live participant count reported by the server.
func (s *Session) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// TypingSummary describes who else is typing.
func (s *Session) TypingSummary() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.typing.Summary(s.name)
}

// Entries returns every composed message with its delivery state.
func (s *Session) Entries() []delivery.Entry {
	return s.ledger.Entries()
}

// State returns the delivery state of one composed message.
func (s *Session) State(clientID string) (delivery.State, bool) {
	return s.ledger.State(clientID)
}

// Queued returns the number of messages waiting for connectivity.
func (s *Session) Queued() int {
	return s.outbox.Len()
}

// Connected announces the session after the transport (re)connects: it
// re-joins under the current name and then flushes the outbox in order.
func (s *Session) Connected(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.left {
		return ErrLeft
	}
	s.online = true
	if err := s.transport.Send(ctx, protocol.EventJoin, protocol.UserPayload{User: s.name}); err != nil {
		s.online = false
		return fmt.Errorf("join as %q: %w", s.name, err)
	}
	return s.resumeLocked(ctx)
}

// Disconnected marks the session offline. Typing state from the server is
// stale from here on and is cleared.
func (s *Session) Disconnected() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.online = false
	if len(s.typing.Names()) > 0 {
		s.typing.Clear()
		s.emit(Update{Kind: UpdateTyping, Text: ""})
	}
}

func (s *Session) flushLocked(ctx context.Context) error {
	sent, err := s.outbox.Flush(ctx, func(ctx context.Context, msg protocol.ChatMessage) error {
		if err := s.transport.Send(ctx, protocol.EventMessage, msg); err != nil {
			return err
		}
		s.ledger.Transition(msg.ClientID, delivery.Sending)
		return nil
	})
	if sent > 0 {
		s.logger.Debug("Flushed outbox", "sent", sent, "remaining", s.outbox.Len())
	}
	if err != nil {
		return fmt.Errorf("flush outbox: %w", err)
	}
	return nil
}

// resumeLocked drains the outbox while online. A congested transport leaves
// the rest queued for the next attempt; an unavailable one takes the session
// offline until Connected.
func (s *Session) resumeLocked(ctx context.Context) error {
	if !s.online || s.outbox.Len() == 0 {
		return nil
	}
	err := s.flushLocked(ctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrBufferFull):
		s.logger.Debug("Outbox flush paused", "remaining", s.outbox.Len())
		return nil
	case errors.Is(err, protocol.ErrTransportUnavailable):
		s.online = false
	}
	return err
}

// Flush sends queued messages if the session is online. It is called on
// every Run tick so a flush paused by a congested transport resumes.
func (s *Session) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resumeLocked(ctx)
}

// Compose sends a chat message, or queues it when offline. The pending reply
// context is attached and cleared, and the typing indicator is canceled.
func (s *Session) Compose(ctx context.Context, text string) (delivery.Entry, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return delivery.Entry{}, fmt.Errorf("empty message: %w", protocol.ErrValidation)
	}

	entry, err := s.compose(ctx, text)
	if err != nil {
		return entry, err
	}
	s.debouncer.Cancel()
	return entry, nil
}

func (s *Session) compose(ctx context.Context, text string) (delivery.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.left {
		return delivery.Entry{}, ErrLeft
	}
	msg := protocol.ChatMessage{
		User:     s.name,
		Message:  text,
		Time:     s.now().UnixMilli(),
		ReplyTo:  s.reply,
		ClientID: uuid.NewString(),
	}
	s.reply = nil

	if !s.online {
		return s.queueLocked(msg), nil
	}
	// Anything already queued goes first, so queue behind it and drain.
	if s.outbox.Len() > 0 {
		s.queueLocked(msg)
		if err := s.resumeLocked(ctx); err != nil {
			s.logger.Debug("Outbox flush interrupted", "error", err)
		}
		entry, _ := s.ledger.Get(msg.ClientID)
		return entry, nil
	}

	err := s.transport.Send(ctx, protocol.EventMessage, msg)
	switch {
	case err == nil:
		return s.ledger.Add(msg, delivery.Sending), nil
	case errors.Is(err, ErrBufferFull):
		return s.queueLocked(msg), nil
	case errors.Is(err, protocol.ErrTransportUnavailable):
		s.online = false
		return s.queueLocked(msg), nil
	default:
		return s.ledger.Add(msg, delivery.Failed), fmt.Errorf("send message: %w", err)
	}
}

func (s *Session) queueLocked(msg protocol.ChatMessage) delivery.Entry {
	entry := s.ledger.Add(msg, delivery.Queued)
	s.outbox.Enqueue(msg)
	return entry
}

// Retry re-queues a failed message and flushes immediately when online.
func (s *Session) Retry(ctx context.Context, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.ledger.Get(clientID)
	if !ok || !s.ledger.Transition(clientID, delivery.Queued) {
		return fmt.Errorf("retry %s: %w", clientID, ErrNotFailed)
	}
	s.outbox.Enqueue(entry.Message)
	return s.resumeLocked(ctx)
}

// ExpireSending fails messages still waiting for message-sent after the send
// timeout and returns their identifiers.
func (s *Session) ExpireSending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.ExpireSending(s.sendTimeout)
}

// Run resumes the outbox and calls ExpireSending on every tick until ctx is
// done.
func (s *Session) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Flush(ctx); err != nil {
				s.logger.Debug("Outbox flush failed", "error", err)
			}
			if ids := s.ExpireSending(); len(ids) > 0 {
				s.logger.Warn("Messages timed out waiting for the server",
					"count", len(ids),
					"error", protocol.ErrTimeout,
				)
			}
		}
	}
}

// SetReply attaches a snapshot of msg to the next composed message.
func (s *Session) SetReply(msg protocol.ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reply = &protocol.ReplyRef{
		User:    msg.User,
		Message: protocol.Truncate(msg.Message, s.excerptLen),
		Time:    msg.Time,
	}
}

// Reply returns the pending reply context, if any.
func (s *Session) Reply() (protocol.ReplyRef, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reply == nil {
		return protocol.ReplyRef{}, false
	}
	return *s.reply, true
}

// CancelReply drops the pending reply context without sending anything.
func (s *Session) CancelReply() {
	s.mu.Lock()
	s.reply = nil
	s.mu.Unlock()

	s.debouncer.Cancel()
}

// Keystroke feeds one keystroke to the typing debouncer.
func (s *Session) Keystroke() {
	s.debouncer.Keystroke()
}

// Rename changes the display name. Offline, the new name is announced by the
// next join.
func (s *Session) Rename(ctx context.Context, to string) error {
	to = strings.TrimSpace(to)
	if to == "" {
		return fmt.Errorf("empty name: %w", protocol.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.left {
		return ErrLeft
	}
	from := s.name
	if from == to {
		return nil
	}
	s.name = to
	if !s.online {
		return nil
	}
	if err := s.transport.Send(ctx, protocol.EventChangeName, protocol.NameChange{From: from, To: to}); err != nil {
		s.logger.Warn("Rename will be announced on reconnect", "from", from, "to", to, "error", err)
	}
	return nil
}

// Leave announces the departure. The server closes the connection after it.
func (s *Session) Leave(ctx context.Context) error {
	s.debouncer.Cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.left {
		return nil
	}
	s.left = true
	if !s.online {
		return nil
	}
	return s.transport.Send(ctx, protocol.EventLeave, protocol.UserPayload{User: s.name})
}

// emitTyping is the debouncer callback.
func (s *Session) emitTyping(active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.online || s.left {
		return
	}
	event := protocol.EventStopTyping
	if active {
		event = protocol.EventTyping
	}
	if err := s.transport.Send(context.Background(), event, protocol.UserPayload{User: s.name}); err != nil {
		s.logger.Debug("Dropped typing notification", "event", event, "error", err)
	}
}

func (s *Session) deliveryChanged(e delivery.Entry) {
	s.emit(Update{Kind: UpdateDelivery, Entry: e})
}

func (s *Session) emit(u Update) {
	if s.observe != nil {
		s.observe(u)
	}
}
