package workqueue

import (
	"context"
	"sync"
)

// MemoryQueue is an in-process Source for tests and the memory dev backend.
type MemoryQueue struct {
	mu       sync.Mutex
	pending  []*Unit
	inflight map[string]*Unit
}

// NewMemoryQueue returns an empty in-memory queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{inflight: make(map[string]*Unit)}
}

// Enqueue appends a unit to the pending queue.
func (q *MemoryQueue) Enqueue(u *Unit) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, u)
}

// HasPending reports whether any unit is queued.
func (q *MemoryQueue) HasPending(ctx context.Context) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending) > 0, nil
}

// Count returns the number of queued units.
func (q *MemoryQueue) Count(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.pending)), nil
}

// Next pops the oldest unit or returns nil, nil when empty.
func (q *MemoryQueue) Next(ctx context.Context) (*Unit, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil, nil
	}
	u := q.pending[0]
	q.pending = q.pending[1:]
	q.inflight[u.ID] = u
	return u, nil
}

// Ack drops a unit from the in-flight set.
func (q *MemoryQueue) Ack(ctx context.Context, u *Unit) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inflight, u.ID)
	return nil
}

// InflightCount reports units handed out but not yet acknowledged.
func (q *MemoryQueue) InflightCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inflight)
}
