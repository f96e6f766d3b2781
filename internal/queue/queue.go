// Package queue is the durable work queue between the ingestion coordinator
// and the worker pool. Delivery is at-least-once in global arrival order; a
// dequeued task stays invisible to other consumers until it is acked,
// released or its lock expires.
package queue

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by Dequeue once the queue has been closed
var ErrClosed = errors.New("queue closed")

// Task is one delivery of an enqueued payload
type Task struct {
	ID      string
	Payload []byte
	// Attempt is 1 on first delivery and grows with each redelivery
	Attempt int

	// tag is the RabbitMQ delivery tag, token the Redis holder token
	tag   uint64
	token string
}

// Stats is a point-in-time view of the queue
type Stats struct {
	Waiting  int64
	InFlight int64
}

// Queue is implemented by the Redis and RabbitMQ drivers
type Queue interface {
	// Enqueue adds a task unless one with the same id is outstanding.
	// It reports whether a new task was created.
	Enqueue(ctx context.Context, taskID string, payload []byte) (bool, error)
	// Dequeue blocks until a task is available or ctx ends
	Dequeue(ctx context.Context) (*Task, error)
	// Ack removes a finished task for good
	Ack(ctx context.Context, task *Task) error
	// Release makes the task deliverable again immediately
	Release(ctx context.Context, task *Task) error
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// Options shared by the drivers
type Options struct {
	Name         string
	LockDuration time.Duration
	PollInterval time.Duration
}

func (o *Options) setDefaults() {
	if o.Name == "" {
		o.Name = "thumbnail-generation"
	}
	if o.LockDuration <= 0 {
		o.LockDuration = 5 * time.Minute
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 500 * time.Millisecond
	}
}
