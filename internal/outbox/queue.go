// Package outbox buffers messages composed while the client is offline.
package outbox

import (
	"context"
	"sync"

	"github.com/nfrund/relay/internal/protocol"
)

// SendFunc hands one message to the transport.
type SendFunc func(ctx context.Context, msg protocol.ChatMessage) error

// Queue is a FIFO of messages waiting for connectivity. It never reorders or
// deduplicates; acknowledgments are matched by client identifier elsewhere.
type Queue struct {
	mu    sync.Mutex
	items []protocol.ChatMessage

	// flushMu serializes flushes so message k+1 is never handed to the
	// transport before message k.
	flushMu sync.Mutex
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{}
}

// Enqueue appends a message and returns the queue length.
func (q *Queue) Enqueue(msg protocol.ChatMessage) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, msg)
	return len(q.items)
}

// Flush sends queued messages in order until the queue is empty, the context
// is canceled or send fails. The failed message and everything behind it stay
// queued. It returns how many messages were sent.
func (q *Queue) Flush(ctx context.Context, send SendFunc) (int, error) {
	q.flushMu.Lock()
	defer q.flushMu.Unlock()

	sent := 0
	for {
		if err := ctx.Err(); err != nil {
			return sent, err
		}

		q.mu.Lock()
		if len(q.items) == 0 {
			q.mu.Unlock()
			return sent, nil
		}
		next := q.items[0]
		q.mu.Unlock()

		if err := send(ctx, next); err != nil {
			return sent, err
		}

		q.mu.Lock()
		q.items = q.items[1:]
		q.mu.Unlock()
		sent++
	}
}

// Len returns the number of queued messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Pending returns a copy of the queued messages in order.
func (q *Queue) Pending() []protocol.ChatMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]protocol.ChatMessage(nil), q.items...)
}
