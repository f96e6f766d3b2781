package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/thumbnail-pipeline/shared/logger"
	"github.com/cuongbtq/thumbnail-pipeline/shared/rabbitmq"
)

type fakeBroker struct {
	mu         sync.Mutex
	published  []rabbitmq.Message
	publishErr error
	deliveries chan amqp.Delivery
	// streams, when set, are handed out one per Consume call
	streams  []chan amqp.Delivery
	consumes int
	closed   bool
}

func (b *fakeBroker) Publish(_ context.Context, msg rabbitmq.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.publishErr != nil {
		return b.publishErr
	}
	b.published = append(b.published, msg)
	return nil
}

func (b *fakeBroker) Consume(string) (<-chan amqp.Delivery, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consumes++
	if len(b.streams) > 0 {
		next := b.streams[0]
		b.streams = b.streams[1:]
		return next, nil
	}
	return b.deliveries, nil
}

func (b *fakeBroker) QueueDepth() (int, int, error) {
	return len(b.deliveries), 1, nil
}

func (b *fakeBroker) Close() error {
	b.closed = true
	close(b.deliveries)
	return nil
}

type fakeAcknowledger struct {
	mu     sync.Mutex
	acked  []uint64
	nacked []uint64
}

func (a *fakeAcknowledger) Ack(tag uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acked = append(a.acked, tag)
	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if requeue {
		a.nacked = append(a.nacked, tag)
	}
	return nil
}

func (a *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func newTestRabbitQueue(t *testing.T) (*RabbitMQ, *fakeBroker, *fakeAcknowledger) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	broker := &fakeBroker{deliveries: make(chan amqp.Delivery, 8)}
	q := NewRabbitMQ(broker, NewRedisGuard(client, "thumbs", time.Hour), logger.NewNop().Logger)
	return q, broker, &fakeAcknowledger{}
}

func TestRabbitMQ_EnqueueDeduplicates(t *testing.T) {
	q, broker, _ := newTestRabbitQueue(t)
	ctx := context.Background()

	ok, err := q.Enqueue(ctx, "job-1", []byte(`{"job_id":"job-1"}`))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = q.Enqueue(ctx, "job-1", []byte(`{"job_id":"job-1"}`))
	require.NoError(t, err)
	assert.False(t, ok)

	require.Len(t, broker.published, 1)
	assert.Equal(t, "job-1", broker.published[0].ID)
	assert.Equal(t, "application/json", broker.published[0].ContentType)
}

func TestRabbitMQ_PublishFailureFreesID(t *testing.T) {
	q, broker, _ := newTestRabbitQueue(t)
	ctx := context.Background()

	broker.publishErr = errors.New("channel closed")
	_, err := q.Enqueue(ctx, "job-1", []byte("x"))
	require.Error(t, err)

	broker.publishErr = nil
	ok, err := q.Enqueue(ctx, "job-1", []byte("x"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRabbitMQ_DequeueAckRelease(t *testing.T) {
	q, broker, acker := newTestRabbitQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "job-1", []byte("a"))
	require.NoError(t, err)

	broker.deliveries <- amqp.Delivery{Acknowledger: acker, DeliveryTag: 1, MessageId: "job-1", Body: []byte("a")}
	broker.deliveries <- amqp.Delivery{
		Acknowledger: acker, DeliveryTag: 2, MessageId: "job-2", Body: []byte("b"),
		Headers: amqp.Table{"x-delivery-count": int64(2)},
	}

	first, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "job-1", first.ID)
	assert.Equal(t, 1, first.Attempt)

	second, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, second.Attempt)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.InFlight)

	require.NoError(t, q.Ack(ctx, first))
	require.NoError(t, q.Release(ctx, second))
	assert.Equal(t, []uint64{1}, acker.acked)
	assert.Equal(t, []uint64{2}, acker.nacked)

	// ack frees the dedup key
	ok, err := q.Enqueue(ctx, "job-1", []byte("a"))
	require.NoError(t, err)
	assert.True(t, ok)

	// a task can only be settled once
	assert.Error(t, q.Ack(ctx, first))
}

func TestRabbitMQ_DequeueAfterClose(t *testing.T) {
	q, broker, _ := newTestRabbitQueue(t)

	require.NoError(t, q.Close())
	assert.True(t, broker.closed)

	_, err := q.Dequeue(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRabbitMQ_ResubscribesAfterStreamLoss(t *testing.T) {
	q, broker, acker := newTestRabbitQueue(t)
	ctx := context.Background()

	first := make(chan amqp.Delivery)
	second := make(chan amqp.Delivery, 1)
	broker.streams = []chan amqp.Delivery{first, second}

	close(first)
	_, err := q.Dequeue(ctx)
	assert.ErrorIs(t, err, ErrStreamLost)

	second <- amqp.Delivery{Acknowledger: acker, DeliveryTag: 7, MessageId: "job-1", Body: []byte("a")}
	task, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "job-1", task.ID)
	assert.Equal(t, 2, broker.consumes)

	require.NoError(t, q.Ack(ctx, task))
	assert.Equal(t, []uint64{7}, acker.acked)
}

func TestDeliveryAttempt(t *testing.T) {
	tests := []struct {
		name string
		d    amqp.Delivery
		want int
	}{
		{name: "first delivery", d: amqp.Delivery{}, want: 1},
		{name: "classic redelivery", d: amqp.Delivery{Redelivered: true}, want: 2},
		{name: "quorum count int64", d: amqp.Delivery{Headers: amqp.Table{"x-delivery-count": int64(4)}}, want: 5},
		{name: "quorum count int32", d: amqp.Delivery{Headers: amqp.Table{"x-delivery-count": int32(1)}, Redelivered: true}, want: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, deliveryAttempt(tt.d))
		})
	}
}
