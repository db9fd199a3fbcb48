package delivery

import (
	"sync"
	"time"

	"github.com/nfrund/relay/internal/protocol"
)

// State is the delivery state of one composed message.
type State int

const (
	// Queued: composed while offline, not yet handed to the transport.
	Queued State = iota
	// Sending: transmitted, waiting for the server to accept it.
	Sending
	// Sent: accepted and broadcast by the server.
	Sent
	// Delivered: at least one other participant acknowledged receipt.
	Delivered
	// Undelivered: sent, but nobody confirmed receipt within the server's
	// bounded wait. Terminal.
	Undelivered
	// Failed: the transmission failed or was never accepted.
	Failed
)

func (s State) String() string {
	switch s {
	case Queued:
		return "queued"
	case Sending:
		return "sending"
	case Sent:
		return "sent"
	case Delivered:
		return "delivered"
	case Undelivered:
		return "undelivered"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can leave the state, apart
// from an explicit retry of a failed message.
func (s State) Terminal() bool {
	return s == Delivered || s == Undelivered || s == Failed
}

var transitions = map[State][]State{
	Queued:  {Sending, Failed},
	Sending: {Sent, Delivered, Failed},
	Sent:    {Delivered, Undelivered},
	Failed:  {Queued},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Entry is a composed message and where it is in the delivery lifecycle.
type Entry struct {
	Message   protocol.ChatMessage
	State     State
	UpdatedAt time.Time
}

// Ledger is the client's record of every message it composed, keyed by
// client identifier. Illegal or repeated transitions are ignored, so
// duplicate acknowledgments never notify twice.
type Ledger struct {
	mu       sync.Mutex
	entries  map[string]*Entry
	order    []string
	now      func() time.Time
	onChange func(Entry)
}

// LedgerOption configures a Ledger.
type LedgerOption func(*Ledger)

// WithLedgerClock replaces time.Now.
func WithLedgerClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) {
		l.now = now
	}
}

// NewLedger creates a ledger. onChange, if not nil, is called after every
// effective transition, outside the ledger's lock.
func NewLedger(onChange func(Entry), opts ...LedgerOption) *Ledger {
	l := &Ledger{
		entries:  make(map[string]*Entry),
		now:      time.Now,
		onChange: onChange,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Add records a new message in its initial state (Queued or Sending).
func (l *Ledger) Add(msg protocol.ChatMessage, initial State) Entry {
	l.mu.Lock()
	e := &Entry{Message: msg, State: initial, UpdatedAt: l.now()}
	if _, exists := l.entries[msg.ClientID]; !exists {
		l.order = append(l.order, msg.ClientID)
	}
	l.entries[msg.ClientID] = e
	snapshot := *e
	l.mu.Unlock()

	l.notify(snapshot)
	return snapshot
}

// Transition moves the message to state `to` if the state machine allows it
// and reports whether anything changed.
func (l *Ledger) Transition(clientID string, to State) bool {
	l.mu.Lock()
	e, ok := l.entries[clientID]
	if !ok || !canTransition(e.State, to) {
		l.mu.Unlock()
		return false
	}
	e.State = to
	e.UpdatedAt = l.now()
	snapshot := *e
	l.mu.Unlock()

	l.notify(snapshot)
	return true
}

// ExpireSending fails every message that has been Sending for longer than
// timeout and returns their identifiers.
func (l *Ledger) ExpireSending(timeout time.Duration) []string {
	l.mu.Lock()
	cutoff := l.now().Add(-timeout)
	var failed []Entry
	for _, id := range l.order {
		e := l.entries[id]
		if e.State == Sending && !e.UpdatedAt.After(cutoff) {
			e.State = Failed
			e.UpdatedAt = l.now()
			failed = append(failed, *e)
		}
	}
	l.mu.Unlock()

	ids := make([]string, 0, len(failed))
	for _, e := range failed {
		l.notify(e)
		ids = append(ids, e.Message.ClientID)
	}
	return ids
}

// Get returns the entry for a client identifier.
func (l *Ledger) Get(clientID string) (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[clientID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// State returns the message's current state.
func (l *Ledger) State(clientID string) (State, bool) {
	e, ok := l.Get(clientID)
	return e.State, ok
}

// Entries returns every entry in composition order.
func (l *Ledger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Entry, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, *l.entries[id])
	}
	return out
}

func (l *Ledger) notify(e Entry) {
	if l.onChange != nil {
		l.onChange(e)
	}
}
