// Package delivery tracks message acknowledgments: the server-side table of
// outstanding identifiers per sending connection, and the client-side state
// machine of each composed message.
package delivery

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrDuplicateID is returned when a client identifier is already outstanding
// for a different connection.
var ErrDuplicateID = errors.New("client id already tracked by another connection")

// Outstanding identifies a message that is waiting for its first receipt.
type Outstanding struct {
	Owner     string
	ClientID  string
	TrackedAt time.Time
}

// Tracker holds, per sending connection, the identifiers broadcast but not yet
// acknowledged by any recipient, plus a reverse index from identifier to
// owner so an acknowledgment is routed without scanning connections.
type Tracker struct {
	mu      sync.Mutex
	byOwner map[string]map[string]time.Time // owner -> clientID -> trackedAt
	owners  map[string]string               // clientID -> owner
	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) {
		t.now = now
	}
}

// NewTracker creates a tracker that gives up on an identifier after timeout.
func NewTracker(timeout time.Duration, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		byOwner: make(map[string]map[string]time.Time),
		owners:  make(map[string]string),
		timeout: timeout,
		now:     time.Now,
		logger:  slog.Default().With("component", "delivery"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Track records clientID as outstanding for owner. Tracking an identifier the
// owner already tracks is a no-op.
func (t *Tracker) Track(owner, clientID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if current, ok := t.owners[clientID]; ok {
		if current != owner {
			return ErrDuplicateID
		}
		return nil
	}

	ids, ok := t.byOwner[owner]
	if !ok {
		ids = make(map[string]time.Time)
		t.byOwner[owner] = ids
	}
	ids[clientID] = t.now()
	t.owners[clientID] = owner
	return nil
}

// Ack records a receipt from connection from. It returns the owner to notify
// and true only for the first receipt of an outstanding identifier from a
// connection other than its owner; every other call is a no-op.
func (t *Tracker) Ack(from, clientID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	owner, ok := t.owners[clientID]
	if !ok || owner == from {
		return "", false
	}
	t.removeLocked(owner, clientID)
	return owner, true
}

// Release forgets every identifier owned by the connection and returns how
// many were outstanding.
func (t *Tracker) Release(owner string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	ids := t.byOwner[owner]
	for id := range ids {
		delete(t.owners, id)
	}
	delete(t.byOwner, owner)
	return len(ids)
}

// Owner returns the connection that owns an outstanding identifier.
func (t *Tracker) Owner(clientID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	owner, ok := t.owners[clientID]
	return owner, ok
}

// Pending returns the number of identifiers outstanding for owner.
func (t *Tracker) Pending(owner string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byOwner[owner])
}

// Len returns the total number of outstanding identifiers.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.owners)
}

// Expire removes and returns every identifier that has waited longer than the
// timeout.
func (t *Tracker) Expire() []Outstanding {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-t.timeout)
	var expired []Outstanding
	for owner, ids := range t.byOwner {
		for id, trackedAt := range ids {
			if trackedAt.After(cutoff) {
				continue
			}
			expired = append(expired, Outstanding{Owner: owner, ClientID: id, TrackedAt: trackedAt})
			t.removeLocked(owner, id)
		}
	}
	return expired
}

// Run expires identifiers on every interval until ctx is canceled, handing
// each expired one to fn.
func (t *Tracker) Run(ctx context.Context, interval time.Duration, fn func(Outstanding)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired := t.Expire()
			if len(expired) > 0 {
				t.logger.Debug("Delivery wait expired", "count", len(expired))
			}
			for _, o := range expired {
				fn(o)
			}
		}
	}
}

func (t *Tracker) removeLocked(owner, clientID string) {
	delete(t.owners, clientID)
	if ids, ok := t.byOwner[owner]; ok {
		delete(ids, clientID)
		if len(ids) == 0 {
			delete(t.byOwner, owner)
		}
	}
}
