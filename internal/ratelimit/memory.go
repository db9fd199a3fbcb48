package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type key struct {
	conn     string
	category Category
}

type window struct {
	count   int
	resetAt time.Time
	length  time.Duration
}

// Memory is the in-process Limiter. All windows are owned by one lock-guarded
// table; nothing outside this type mutates them.
type Memory struct {
	mu      sync.Mutex
	rules   Rules
	windows map[key]*window
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures a Memory limiter.
type Option func(*Memory)

// WithClock replaces time.Now, which is useful for testing window boundaries.
func WithClock(now func() time.Time) Option {
	return func(m *Memory) {
		m.now = now
	}
}

// NewMemory creates an in-memory limiter enforcing rules.
func NewMemory(rules Rules, opts ...Option) *Memory {
	m := &Memory{
		rules:   rules,
		windows: make(map[key]*window),
		now:     time.Now,
		logger:  slog.Default().With("component", "ratelimit"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Allow implements Limiter.
func (m *Memory) Allow(_ context.Context, connID string, c Category) (bool, error) {
	rule, ok := m.rules[c]
	if !ok {
		return true, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	k := key{conn: connID, category: c}
	w, exists := m.windows[k]
	if !exists || !now.Before(w.resetAt) {
		m.windows[k] = &window{count: 1, resetAt: now.Add(rule.Window), length: rule.Window}
		return true, nil
	}

	if w.count >= rule.Ceiling {
		return false, nil
	}
	w.count++
	return true, nil
}

// Release implements Limiter.
func (m *Memory) Release(_ context.Context, connID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for k := range m.windows {
		if k.conn == connID {
			delete(m.windows, k)
		}
	}
	return nil
}

// Count returns the events counted in the connection's current window.
func (m *Memory) Count(connID string, c Category) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.windows[key{conn: connID, category: c}]
	if !ok || !m.now().Before(w.resetAt) {
		return 0
	}
	return w.count
}

// Len returns the number of windows held in memory.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.windows)
}

// Sweep drops windows that have been stale for at least one extra window
// length and returns how many it removed.
func (m *Memory) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for k, w := range m.windows {
		if !now.Before(w.resetAt.Add(w.length)) {
			delete(m.windows, k)
			removed++
		}
	}
	return removed
}

// Run sweeps on every interval until ctx is canceled.
func (m *Memory) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				m.logger.Debug("Swept stale rate-limit windows", "removed", n)
			}
		}
	}
}
