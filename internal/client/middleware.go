package client

import (
	"log/slog"
	"sync"

	"github.com/nfrund/relay/internal/delivery"
	"github.com/nfrund/relay/internal/protocol"
)

// UpdateKind identifies what changed in a Session.
type UpdateKind int

const (
	UpdateMessage UpdateKind = iota
	UpdateDelivery
	UpdateJoined
	UpdateLeft
	UpdateRenamed
	UpdateCount
	UpdateTyping
	UpdateNotice
)

func (k UpdateKind) String() string {
	switch k {
	case UpdateMessage:
		return "message"
	case UpdateDelivery:
		return "delivery"
	case UpdateJoined:
		return "joined"
	case UpdateLeft:
		return "left"
	case UpdateRenamed:
		return "renamed"
	case UpdateCount:
		return "count"
	case UpdateTyping:
		return "typing"
	case UpdateNotice:
		return "notice"
	default:
		return "unknown"
	}
}

// Update is one change to a Session, as seen by observers. Only the fields
// relevant to Kind are set; Text is a ready-made system line where one
// applies.
type Update struct {
	Kind    UpdateKind
	Message protocol.ChatMessage
	Entry   delivery.Entry
	User    string
	From    string
	To      string
	Count   int
	Text    string
}

// Observer receives session updates.
type Observer func(Update)

// Middleware wraps an Observer. It may inspect, count or drop updates before
// passing them on.
type Middleware func(next Observer) Observer

// Chain composes middleware around final. mw[0] is outermost.
func Chain(final Observer, mw ...Middleware) Observer {
	if final == nil {
		final = func(Update) {}
	}
	o := final
	for i := len(mw) - 1; i >= 0; i-- {
		o = mw[i](o)
	}
	return o
}

// UnreadCounter counts chat messages that arrive while the reader is away.
type UnreadCounter struct {
	mu       sync.Mutex
	focused  bool
	unread   int
	onChange func(int)
}

// NewUnreadCounter creates a focused counter. onChange, if not nil, is called
// with the new count whenever it changes.
func NewUnreadCounter(onChange func(int)) *UnreadCounter {
	return &UnreadCounter{focused: true, onChange: onChange}
}

// Middleware returns the counting middleware.
func (u *UnreadCounter) Middleware() Middleware {
	return func(next Observer) Observer {
		return func(up Update) {
			if up.Kind == UpdateMessage {
				u.mu.Lock()
				if !u.focused {
					u.unread++
					u.notifyLocked()
				}
				u.mu.Unlock()
			}
			next(up)
		}
	}
}

// SetFocused records whether the reader is looking. Focusing clears the
// count.
func (u *UnreadCounter) SetFocused(focused bool) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.focused = focused
	if focused && u.unread > 0 {
		u.unread = 0
		u.notifyLocked()
	}
}

// Count returns the number of unread messages.
func (u *UnreadCounter) Count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.unread
}

func (u *UnreadCounter) notifyLocked() {
	if u.onChange != nil {
		u.onChange(u.unread)
	}
}

// LogUpdates logs every update at debug level.
func LogUpdates(logger *slog.Logger) Middleware {
	return func(next Observer) Observer {
		return func(up Update) {
			logger.Debug("Session update",
				"kind", up.Kind.String(),
				"user", up.User,
				"client_id", up.Entry.Message.ClientID,
				"state", up.Entry.State.String(),
			)
			next(up)
		}
	}
}
