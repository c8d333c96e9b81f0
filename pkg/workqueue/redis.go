package workqueue

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisQueue reads work from a Redis list. Next moves the unit onto an
// in-flight list so a crashed worker's units stay visible; Ack removes it.
// Recovery of stale in-flight units is the queue operator's re-delivery
// concern, not the orchestrator's.
type RedisQueue struct {
	client   *redis.Client
	pending  string
	inflight string
}

// NewRedisQueue connects to Redis and uses name as the pending list key.
func NewRedisQueue(addr, password string, db int, name string) *RedisQueue {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisQueue{
		client:   client,
		pending:  name,
		inflight: name + ":inflight",
	}
}

// HasPending reports whether at least one unit is queued.
func (q *RedisQueue) HasPending(ctx context.Context) (bool, error) {
	n, err := q.Count(ctx)
	return n > 0, err
}

// Count returns the number of queued units.
func (q *RedisQueue) Count(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.pending).Result()
	if err != nil {
		return 0, fmt.Errorf("queue count: %w", err)
	}
	return n, nil
}

// Next pops the oldest unit, parking it on the in-flight list. Returns
// nil, nil when the queue is empty.
func (q *RedisQueue) Next(ctx context.Context) (*Unit, error) {
	raw, err := q.client.LMove(ctx, q.pending, q.inflight, "LEFT", "RIGHT").Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue next: %w", err)
	}
	return decodeUnit(raw)
}

// Ack removes a completed unit from the in-flight list.
func (q *RedisQueue) Ack(ctx context.Context, u *Unit) error {
	if u == nil || u.raw == "" {
		return errors.New("ack: unit was not obtained from this queue")
	}
	if err := q.client.LRem(ctx, q.inflight, 1, u.raw).Err(); err != nil {
		return fmt.Errorf("queue ack %q: %w", u.ID, err)
	}
	return nil
}

// Enqueue pushes a unit onto the pending list. Used by tooling and tests;
// production producers write the same JSON shape.
func (q *RedisQueue) Enqueue(ctx context.Context, u *Unit) error {
	raw, err := encodeUnit(u)
	if err != nil {
		return err
	}
	if err := q.client.RPush(ctx, q.pending, raw).Err(); err != nil {
		return fmt.Errorf("queue enqueue %q: %w", u.ID, err)
	}
	return nil
}

// Close releases the Redis connection.
func (q *RedisQueue) Close() error { return q.client.Close() }
