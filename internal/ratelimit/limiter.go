// Package ratelimit implements the per-connection, per-category fixed-window
// limiter that gates every mutating client event.
//
// The window is fixed, not sliding: a window opens on the first event of a
// (connection, category) pair and resets wholesale once its length has
// elapsed. A burst that straddles the boundary can briefly exceed the nominal
// rate; that approximation is part of the contract.
package ratelimit

import (
	"context"
	"time"
)

// Category groups events that share a ceiling.
type Category string

const (
	CategoryMessage Category = "message"
	CategoryTyping  Category = "typing"
)

// Rule is the ceiling for one category within one window.
type Rule struct {
	Ceiling int
	Window  time.Duration
}

// Rules maps categories to their rule. Categories without a rule are
// unlimited.
type Rules map[Category]Rule

// DefaultRules returns 30 messages and 20 typing signals per minute.
func DefaultRules() Rules {
	return Rules{
		CategoryMessage: {Ceiling: 30, Window: time.Minute},
		CategoryTyping:  {Ceiling: 20, Window: time.Minute},
	}
}

// Limiter decides whether a connection may emit another event of a category.
type Limiter interface {
	// Allow counts the event and reports whether it is within the ceiling.
	// A denied event is not counted.
	Allow(ctx context.Context, connID string, c Category) (bool, error)
	// Release discards every window owned by the connection.
	Release(ctx context.Context, connID string) error
}
