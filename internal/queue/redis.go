package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// enqueueScript stores the payload and pushes the id only if the id is not
// already outstanding. KEYS: wait, payloads. ARGV: id, payload.
var enqueueScript = redis.NewScript(`
if redis.call('HSETNX', KEYS[2], ARGV[1], ARGV[2]) == 0 then
	return 0
end
redis.call('LPUSH', KEYS[1], ARGV[1])
return 1
`)

// dequeueScript first returns expired locks to the head of the line, oldest
// deadline first, then pops the next id that still has a payload and records
// the delivery token of its new holder.
// KEYS: wait, locks, payloads, attempts, holders. ARGV: now_ms, deadline_ms, token.
var dequeueScript = redis.NewScript(`
local expired = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1])
for i = #expired, 1, -1 do
	redis.call('ZREM', KEYS[2], expired[i])
	redis.call('RPUSH', KEYS[1], expired[i])
end
while true do
	local id = redis.call('RPOP', KEYS[1])
	if not id then
		return false
	end
	local payload = redis.call('HGET', KEYS[3], id)
	if payload then
		local attempt = redis.call('HINCRBY', KEYS[4], id, 1)
		redis.call('ZADD', KEYS[2], ARGV[2], id)
		redis.call('HSET', KEYS[5], id, ARGV[3])
		return {id, payload, attempt}
	end
end
`)

// ackScript forgets a task if the caller still holds it.
// KEYS: locks, payloads, attempts, holders. ARGV: id, token.
var ackScript = redis.NewScript(`
if redis.call('HGET', KEYS[4], ARGV[1]) ~= ARGV[2] then
	return 0
end
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('HDEL', KEYS[2], ARGV[1])
redis.call('HDEL', KEYS[3], ARGV[1])
redis.call('HDEL', KEYS[4], ARGV[1])
return 1
`)

// releaseScript unlocks a task and puts it at the head of the line, unless a
// later delivery holds it or a dequeue already reclaimed the expired lock.
// KEYS: wait, locks, holders. ARGV: id, token.
var releaseScript = redis.NewScript(`
if redis.call('HGET', KEYS[3], ARGV[1]) ~= ARGV[2] then
	return 0
end
if redis.call('ZREM', KEYS[2], ARGV[1]) == 1 then
	redis.call('RPUSH', KEYS[1], ARGV[1])
end
return 1
`)

// Redis is a work queue on plain Redis data structures: a wait list, a sorted
// set of locks scored by deadline, and hashes for payloads, attempt counts and
// the token of the current holder. A payload entry exists exactly while the
// task is outstanding, which is what makes Enqueue idempotent per id. Ack and
// Release from a delivery whose lock was taken over are ignored.
type Redis struct {
	client redis.Cmdable
	opts   Options
	logger *slog.Logger
	now    func() time.Time

	waitKey     string
	locksKey    string
	payloadsKey string
	attemptsKey string
	holdersKey  string

	closeOnce sync.Once
	closed    chan struct{}
}

// NewRedis creates a Redis backed queue
func NewRedis(client redis.Cmdable, opts Options, logger *slog.Logger) *Redis {
	opts.setDefaults()

	// the hash tag keeps every key of one queue on the same cluster slot
	prefix := "{" + opts.Name + "}"
	return &Redis{
		client:      client,
		opts:        opts,
		logger:      logger,
		now:         time.Now,
		waitKey:     prefix + ":wait",
		locksKey:    prefix + ":locks",
		payloadsKey: prefix + ":payloads",
		attemptsKey: prefix + ":attempts",
		holdersKey:  prefix + ":holders",
		closed:      make(chan struct{}),
	}
}

// Enqueue adds a task unless one with the same id is outstanding
func (q *Redis) Enqueue(ctx context.Context, taskID string, payload []byte) (bool, error) {
	n, err := enqueueScript.Run(ctx, q.client, []string{q.waitKey, q.payloadsKey}, taskID, payload).Int()
	if err != nil {
		return false, fmt.Errorf("failed to enqueue task %s: %w", taskID, err)
	}

	if n == 0 {
		q.logger.Debug("Task already outstanding, enqueue skipped", slog.String("task_id", taskID))
		return false, nil
	}

	return true, nil
}

// Dequeue polls until a task is available, ctx ends or the queue is closed
func (q *Redis) Dequeue(ctx context.Context) (*Task, error) {
	for {
		task, err := q.tryDequeue(ctx)
		if err != nil {
			return nil, err
		}
		if task != nil {
			return task, nil
		}

		timer := time.NewTimer(q.opts.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-q.closed:
			timer.Stop()
			return nil, ErrClosed
		case <-timer.C:
		}
	}
}

func (q *Redis) tryDequeue(ctx context.Context) (*Task, error) {
	now := q.now()
	deadline := now.Add(q.opts.LockDuration)
	token := uuid.NewString()

	res, err := dequeueScript.Run(ctx, q.client,
		[]string{q.waitKey, q.locksKey, q.payloadsKey, q.attemptsKey, q.holdersKey},
		now.UnixMilli(), deadline.UnixMilli(), token,
	).Slice()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to dequeue task: %w", err)
	}

	if len(res) != 3 {
		return nil, fmt.Errorf("unexpected dequeue reply of length %d", len(res))
	}

	id, _ := res[0].(string)
	payload, _ := res[1].(string)
	attempt, _ := res[2].(int64)

	if attempt > 1 {
		q.logger.Warn("Redelivering task after lock expiry or release",
			slog.String("task_id", id),
			slog.Int64("attempt", attempt),
		)
	}

	return &Task{ID: id, Payload: []byte(payload), Attempt: int(attempt), token: token}, nil
}

// Ack removes a finished task. A stale ack, from a delivery whose lock
// expired and was redelivered, leaves the current holder's lock in place.
func (q *Redis) Ack(ctx context.Context, task *Task) error {
	n, err := ackScript.Run(ctx, q.client,
		[]string{q.locksKey, q.payloadsKey, q.attemptsKey, q.holdersKey},
		task.ID, task.token,
	).Int()
	if err != nil {
		return fmt.Errorf("failed to ack task %s: %w", task.ID, err)
	}
	if n == 0 {
		q.logger.Warn("Ignoring ack from a superseded delivery",
			slog.String("task_id", task.ID),
			slog.Int("attempt", task.Attempt),
		)
	}
	return nil
}

// Release unlocks a task so the next Dequeue returns it. It is a no-op when
// another delivery holds the task.
func (q *Redis) Release(ctx context.Context, task *Task) error {
	n, err := releaseScript.Run(ctx, q.client,
		[]string{q.waitKey, q.locksKey, q.holdersKey},
		task.ID, task.token,
	).Int()
	if err != nil {
		return fmt.Errorf("failed to release task %s: %w", task.ID, err)
	}
	if n == 0 {
		q.logger.Debug("Ignoring release from a superseded delivery",
			slog.String("task_id", task.ID),
			slog.Int("attempt", task.Attempt),
		)
	}
	return nil
}

// Stats reports waiting and locked task counts. Waiting may include ids whose
// payload was already acked; those are skipped on dequeue.
func (q *Redis) Stats(ctx context.Context) (Stats, error) {
	waiting, err := q.client.LLen(ctx, q.waitKey).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("failed to read queue length: %w", err)
	}

	inFlight, err := q.client.ZCard(ctx, q.locksKey).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("failed to read in-flight count: %w", err)
	}

	return Stats{Waiting: waiting, InFlight: inFlight}, nil
}

// Close wakes any blocked Dequeue. The Redis client is owned by the caller.
func (q *Redis) Close() error {
	q.closeOnce.Do(func() { close(q.closed) })
	return nil
}
