package status

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/thumbnail-pipeline/internal/domain"
	"github.com/cuongbtq/thumbnail-pipeline/shared/logger"
)

func TestEvent_WireShape(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	job := &domain.Job{ID: "job-1", OwnerID: "U1", Status: domain.StatusCompleted, ArtifactRef: "thumb-job-1.jpg"}

	body, err := json.Marshal(NewEvent(job, at))
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, map[string]any{
		"jobId":       "job-1",
		"ownerId":     "U1",
		"status":      "completed",
		"artifactRef": "thumb-job-1.jpg",
		"timestamp":   float64(at.UnixMilli()),
	}, got)
}

func TestEvent_OmitsEmptyOptionalFields(t *testing.T) {
	body, err := json.Marshal(NewEvent(&domain.Job{ID: "j", OwnerID: "o", Status: domain.StatusQueued}, time.Now()))
	require.NoError(t, err)
	assert.NotContains(t, string(body), "artifactRef")
	assert.NotContains(t, string(body), "errorDetail")
}

func TestHub_SubscribeUnsubscribe(t *testing.T) {
	hub := NewHub(logger.NewNop().Logger)

	var a, b []string
	unsubA := hub.Subscribe(func(e Event) { a = append(a, e.JobID) })
	hub.Subscribe(func(e Event) { b = append(b, e.JobID) })
	assert.Equal(t, 2, hub.Len())

	require.NoError(t, hub.Publish(context.Background(), Event{JobID: "1"}))
	unsubA()
	unsubA() // idempotent
	require.NoError(t, hub.Publish(context.Background(), Event{JobID: "2"}))

	assert.Equal(t, []string{"1"}, a)
	assert.Equal(t, []string{"1", "2"}, b)
	assert.Equal(t, 1, hub.Len())
}

func TestHub_PanickingHandlerIsIsolated(t *testing.T) {
	hub := NewHub(logger.NewNop().Logger)

	var got []string
	hub.Subscribe(func(Event) { panic("boom") })
	hub.Subscribe(func(e Event) { got = append(got, e.JobID) })

	assert.NotPanics(t, func() {
		_ = hub.Publish(context.Background(), Event{JobID: "1"})
	})
	assert.Equal(t, []string{"1"}, got)
}

func TestRedisPublisher_NoSubscribers(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	p := NewRedisPublisher(client, "", logger.NewNop().Logger)
	assert.NoError(t, p.Publish(context.Background(), Event{JobID: "lost"}))
}

func TestRedisRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	log := logger.NewNop().Logger
	hub := NewHub(log)

	var mu sync.Mutex
	var received []Event
	hub.Subscribe(func(e Event) {
		mu.Lock()
		received = append(received, e)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewRedisSubscriber(client, DefaultChannel, log).Run(ctx, hub) }()

	require.Eventually(t, func() bool {
		return mr.PubSubNumSub(DefaultChannel)[DefaultChannel] == 1
	}, 2*time.Second, 10*time.Millisecond)

	pub := NewRedisPublisher(client, DefaultChannel, log)
	require.NoError(t, client.Publish(context.Background(), DefaultChannel, "{not json").Err())
	require.NoError(t, pub.Publish(context.Background(), Event{JobID: "job-1", OwnerID: "U1", Status: domain.StatusProcessing, Timestamp: 1}))
	require.NoError(t, pub.Publish(context.Background(), Event{JobID: "job-1", OwnerID: "U1", Status: domain.StatusCompleted, Timestamp: 2}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, domain.StatusProcessing, received[0].Status)
	assert.Equal(t, domain.StatusCompleted, received[1].Status)
	mu.Unlock()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber did not stop")
	}
}
