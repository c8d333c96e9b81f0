// Package workqueue is the orchestrator's view of the external task queue.
// The queue owns delivery and re-delivery; the orchestrator only pulls,
// executes, and acknowledges.
package workqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Unit is one pending piece of work.
type Unit struct {
	ID         string    `json:"id"`
	Command    string    `json:"command"`
	EnqueuedAt time.Time `json:"enqueued_at,omitempty"`

	// raw is the exact queued payload so Ack can remove it from the
	// in-flight list byte-for-byte.
	raw string
}

// Source is the workload source contract. Next returns nil when the queue is
// legitimately empty; that is not an error.
type Source interface {
	HasPending(ctx context.Context) (bool, error)
	Count(ctx context.Context) (int64, error)
	Next(ctx context.Context) (*Unit, error)
	Ack(ctx context.Context, u *Unit) error
}

func encodeUnit(u *Unit) (string, error) {
	b, err := json.Marshal(u)
	if err != nil {
		return "", fmt.Errorf("encode work unit: %w", err)
	}
	return string(b), nil
}

func decodeUnit(raw string) (*Unit, error) {
	var u Unit
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return nil, fmt.Errorf("decode work unit: %w", err)
	}
	u.raw = raw
	return &u, nil
}
