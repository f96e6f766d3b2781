package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cuongbtq/thumbnail-pipeline/shared/rabbitmq"
)

// Broker is the part of the RabbitMQ client the queue needs
type Broker interface {
	Publish(ctx context.Context, msg rabbitmq.Message) error
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
	QueueDepth() (messages int, consumers int, err error)
	Close() error
}

// RabbitMQ is a work queue on a durable RabbitMQ queue. The broker enforces the
// lock through x-consumer-timeout; de-duplication is delegated to a Guard.
type RabbitMQ struct {
	broker Broker
	guard  Guard
	logger *slog.Logger

	mu         sync.Mutex
	deliveries <-chan amqp.Delivery
	inflight   map[uint64]amqp.Delivery

	closeOnce sync.Once
	closed    chan struct{}
}

// ErrStreamLost is returned by Dequeue when the broker ended the delivery
// stream. The next Dequeue subscribes again.
var ErrStreamLost = errors.New("delivery stream lost")

// NewRabbitMQ creates a RabbitMQ backed queue
func NewRabbitMQ(broker Broker, guard Guard, logger *slog.Logger) *RabbitMQ {
	return &RabbitMQ{
		broker:   broker,
		guard:    guard,
		logger:   logger,
		inflight: make(map[uint64]amqp.Delivery),
		closed:   make(chan struct{}),
	}
}

// Enqueue publishes the payload unless the guard already holds the id
func (q *RabbitMQ) Enqueue(ctx context.Context, taskID string, payload []byte) (bool, error) {
	acquired, err := q.guard.Acquire(ctx, taskID)
	if err != nil {
		return false, err
	}
	if !acquired {
		q.logger.Debug("Task already outstanding, enqueue skipped", slog.String("task_id", taskID))
		return false, nil
	}

	err = q.broker.Publish(ctx, rabbitmq.Message{
		ID:          taskID,
		Body:        payload,
		ContentType: "application/json",
	})
	if err != nil {
		if relErr := q.guard.Release(context.WithoutCancel(ctx), taskID); relErr != nil {
			q.logger.Error("Failed to release dedup key after publish failure",
				slog.String("task_id", taskID),
				slog.Any("error", relErr),
			)
		}
		return false, fmt.Errorf("failed to enqueue task %s: %w", taskID, err)
	}

	return true, nil
}

// subscribe returns the current delivery stream, starting a consumer if
// there is none
func (q *RabbitMQ) subscribe() (<-chan amqp.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.deliveries == nil {
		deliveries, err := q.broker.Consume("thumbnail-worker-" + uuid.NewString()[:8])
		if err != nil {
			return nil, fmt.Errorf("failed to start consumer: %w", err)
		}
		q.deliveries = deliveries
	}
	return q.deliveries, nil
}

// Dequeue waits for the next delivery. After a lost stream it returns
// ErrStreamLost once and resubscribes on the following call.
func (q *RabbitMQ) Dequeue(ctx context.Context) (*Task, error) {
	select {
	case <-q.closed:
		return nil, ErrClosed
	default:
	}

	deliveries, err := q.subscribe()
	if err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-q.closed:
		return nil, ErrClosed
	case d, ok := <-deliveries:
		if !ok {
			q.mu.Lock()
			if q.deliveries == deliveries {
				q.deliveries = nil
			}
			q.mu.Unlock()

			select {
			case <-q.closed:
				return nil, ErrClosed
			default:
			}
			q.logger.Warn("RabbitMQ delivery stream ended, resubscribing on next dequeue")
			return nil, ErrStreamLost
		}

		q.mu.Lock()
		q.inflight[d.DeliveryTag] = d
		q.mu.Unlock()

		return &Task{
			ID:      d.MessageId,
			Payload: d.Body,
			Attempt: deliveryAttempt(d),
			tag:     d.DeliveryTag,
		}, nil
	}
}

// deliveryAttempt prefers the quorum queue delivery counter and falls back
// to the redelivered flag on classic queues
func deliveryAttempt(d amqp.Delivery) int {
	switch n := d.Headers["x-delivery-count"].(type) {
	case int64:
		return int(n) + 1
	case int32:
		return int(n) + 1
	case int:
		return n + 1
	}
	if d.Redelivered {
		return 2
	}
	return 1
}

func (q *RabbitMQ) take(task *Task) (amqp.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	d, ok := q.inflight[task.tag]
	if !ok {
		return amqp.Delivery{}, fmt.Errorf("task %s is not in flight", task.ID)
	}
	delete(q.inflight, task.tag)
	return d, nil
}

// Ack acknowledges the delivery and frees the dedup key
func (q *RabbitMQ) Ack(ctx context.Context, task *Task) error {
	d, err := q.take(task)
	if err != nil {
		return err
	}

	if err := d.Ack(false); err != nil {
		return fmt.Errorf("failed to ack task %s: %w", task.ID, err)
	}

	return q.guard.Release(ctx, task.ID)
}

// Release requeues the delivery
func (q *RabbitMQ) Release(ctx context.Context, task *Task) error {
	d, err := q.take(task)
	if err != nil {
		return err
	}

	if err := d.Nack(false, true); err != nil {
		return fmt.Errorf("failed to release task %s: %w", task.ID, err)
	}
	return nil
}

// Stats reports ready messages on the broker and deliveries held by this process
func (q *RabbitMQ) Stats(ctx context.Context) (Stats, error) {
	messages, _, err := q.broker.QueueDepth()
	if err != nil {
		return Stats{}, err
	}

	q.mu.Lock()
	inFlight := len(q.inflight)
	q.mu.Unlock()

	return Stats{Waiting: int64(messages), InFlight: int64(inFlight)}, nil
}

// Close closes the broker connection, which ends the delivery stream
func (q *RabbitMQ) Close() error {
	q.closeOnce.Do(func() { close(q.closed) })
	return q.broker.Close()
}
