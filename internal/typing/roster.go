package typing

import (
	"log/slog"
	"sync"
	"time"

	"github.com/nfrund/relay/internal/timer"
)

// DefaultTTL bounds how long a typing entry survives without a refresh.
const DefaultTTL = 5 * time.Second

type rosterEntry struct {
	name  string
	timer *timer.Timer
}

// Roster is the server's view of who is typing, keyed by connection. Every
// entry expires after the TTL unless refreshed, so a lost stop-typing never
// leaves a name stuck on other participants' screens.
type Roster struct {
	mu       sync.Mutex
	entries  map[string]*rosterEntry
	ttl      time.Duration
	onExpire func(connID, name string)
	logger   *slog.Logger
}

// NewRoster creates a roster. onExpire is called, without the roster's lock,
// when an entry times out.
func NewRoster(ttl time.Duration, onExpire func(connID, name string)) *Roster {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Roster{
		entries:  make(map[string]*rosterEntry),
		ttl:      ttl,
		onExpire: onExpire,
		logger:   slog.Default().With("component", "typing"),
	}
}

// Touch marks the connection as typing under name and restarts its expiry.
// It reports whether the connection was not already typing.
func (r *Roster) Touch(connID, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[connID]
	if ok {
		e.name = name
		e.timer.Reset(r.ttl)
		return false
	}

	e = &rosterEntry{name: name}
	e.timer = timer.New(func() { r.expire(connID, e) })
	r.entries[connID] = e
	e.timer.Reset(r.ttl)
	return true
}

// Stop clears the connection's entry and returns the name it was typing
// under.
func (r *Roster) Stop(connID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[connID]
	if !ok {
		return "", false
	}
	e.timer.Stop()
	delete(r.entries, connID)
	return e.name, true
}

// Typing reports whether the connection is typing.
func (r *Roster) Typing(connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[connID]
	return ok
}

// Len returns the number of typing connections.
func (r *Roster) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Roster) expire(connID string, e *rosterEntry) {
	r.mu.Lock()
	current, ok := r.entries[connID]
	if !ok || current != e || e.timer.Pending() {
		r.mu.Unlock()
		return
	}
	delete(r.entries, connID)
	name := e.name
	r.mu.Unlock()

	r.logger.Debug("Typing entry expired", "conn_id", connID, "user", name)
	if r.onExpire != nil {
		r.onExpire(connID, name)
	}
}
