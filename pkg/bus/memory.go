package bus

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryQueue implements Queue entirely in memory. It mirrors the
// SQLite queue's visibility semantics and backs the memory ledger
// configuration and tests. Messages do not survive process restarts.
type MemoryQueue struct {
	visibility time.Duration

	mu       sync.Mutex
	messages map[string]*Envelope
}

// NewMemoryQueue creates an empty in-memory queue.
func NewMemoryQueue(visibility time.Duration) *MemoryQueue {
	if visibility <= 0 {
		visibility = 5 * time.Minute
	}
	return &MemoryQueue{
		visibility: visibility,
		messages:   make(map[string]*Envelope),
	}
}

// Enqueue appends a message. Duplicate IDs are ignored.
func (q *MemoryQueue) Enqueue(ctx context.Context, env Envelope) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.messages[env.ID]; exists {
		return nil
	}
	copied := env
	q.messages[env.ID] = &copied
	return nil
}

// Receive claims the oldest visible message, or returns (nil, nil).
func (q *MemoryQueue) Receive(ctx context.Context) (*Envelope, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	var visible []*Envelope
	for _, env := range q.messages {
		if !env.AvailableAt.After(now) {
			visible = append(visible, env)
		}
	}
	if len(visible) == 0 {
		return nil, nil
	}
	sort.Slice(visible, func(i, j int) bool {
		return visible[i].EnqueuedAt.Before(visible[j].EnqueuedAt)
	})

	env := visible[0]
	env.Attempts++
	env.AvailableAt = now.Add(q.visibility)

	delivered := *env
	return &delivered, nil
}

// Ack removes a delivered message permanently.
func (q *MemoryQueue) Ack(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.messages, id)
	return nil
}

// Depth returns the number of messages in the queue, visible or not.
func (q *MemoryQueue) Depth(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages), nil
}

// Close is a no-op.
func (q *MemoryQueue) Close() error {
	return nil
}
