package presence

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"
)

var (
	// ErrUnknownConnection is returned for a connection that never connected
	// or has already been removed.
	ErrUnknownConnection = errors.New("unknown connection")
	// ErrNotJoined is returned when a connection renames before joining.
	ErrNotJoined = errors.New("connection has not joined")
)

// Participant is one live connection and the display name it joined with.
type Participant struct {
	ConnID      string
	Name        string
	ConnectedAt time.Time
	JoinedAt    time.Time
}

// Joined reports whether the participant has announced a name.
func (p Participant) Joined() bool {
	return p.Name != ""
}

// Registry maps connection identity to display name and is the source of
// truth for the live participant count.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]*Participant
	now    func() time.Time
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		conns:  make(map[string]*Participant),
		now:    Now,
		logger: slog.Default().With("component", "presence"),
	}
}

// Now returns the current time in UTC.
func Now() time.Time {
	return time.Now().UTC()
}

// Connect registers a new connection without a name and returns the count.
func (r *Registry) Connect(connID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[connID]; !exists {
		r.conns[connID] = &Participant{ConnID: connID, ConnectedAt: r.now()}
	}
	return len(r.conns)
}

// Join records the connection's display name. Joining again (for example
// after a client resynchronizes) replaces the name.
func (r *Registry) Join(connID, name string) (Participant, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.conns[connID]
	if !ok {
		return Participant{}, len(r.conns), ErrUnknownConnection
	}
	p.Name = name
	p.JoinedAt = r.now()

	r.logger.Info("Participant joined", "conn_id", connID, "name", name, "count", len(r.conns))
	return *p, len(r.conns), nil
}

// Rename changes a joined connection's name and returns the previous one.
func (r *Registry) Rename(connID, to string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.conns[connID]
	if !ok {
		return "", ErrUnknownConnection
	}
	if !p.Joined() {
		return "", ErrNotJoined
	}
	from := p.Name
	p.Name = to

	r.logger.Info("Participant renamed", "conn_id", connID, "from", from, "to", to)
	return from, nil
}

// Remove deletes the connection. It returns the removed participant, the
// remaining count and whether the connection was present.
func (r *Registry) Remove(connID string) (Participant, int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.conns[connID]
	if !ok {
		return Participant{}, len(r.conns), false
	}
	delete(r.conns, connID)

	r.logger.Info("Participant removed", "conn_id", connID, "name", p.Name, "count", len(r.conns))
	return *p, len(r.conns), true
}

// Get returns the participant for a connection.
func (r *Registry) Get(connID string) (Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.conns[connID]
	if !ok {
		return Participant{}, false
	}
	return *p, true
}

// Name returns the connection's display name, if it has joined.
func (r *Registry) Name(connID string) (string, bool) {
	p, ok := r.Get(connID)
	if !ok || !p.Joined() {
		return "", false
	}
	return p.Name, true
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Names returns the sorted names of every joined connection.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.conns))
	for _, p := range r.conns {
		if p.Joined() {
			names = append(names, p.Name)
		}
	}
	sort.Strings(names)
	return names
}
