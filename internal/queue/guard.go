package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Guard records which task ids are outstanding for brokers that cannot
// de-duplicate on their own
type Guard interface {
	// Acquire reports false when the id is already held
	Acquire(ctx context.Context, taskID string) (bool, error)
	Release(ctx context.Context, taskID string) error
}

// RedisGuard holds one SET NX key per outstanding task. The TTL bounds how
// long a lost ack can block a resubmission.
type RedisGuard struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewRedisGuard creates a guard whose keys live under "<name>:dedup:"
func NewRedisGuard(client redis.Cmdable, name string, ttl time.Duration) *RedisGuard {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisGuard{client: client, prefix: name + ":dedup:", ttl: ttl}
}

// Acquire claims the id for the guard's TTL
func (g *RedisGuard) Acquire(ctx context.Context, taskID string) (bool, error) {
	ok, err := g.client.SetNX(ctx, g.prefix+taskID, 1, g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire dedup key for %s: %w", taskID, err)
	}
	return ok, nil
}

// Release frees the id so it can be enqueued again
func (g *RedisGuard) Release(ctx context.Context, taskID string) error {
	if err := g.client.Del(ctx, g.prefix+taskID).Err(); err != nil {
		return fmt.Errorf("failed to release dedup key for %s: %w", taskID, err)
	}
	return nil
}
