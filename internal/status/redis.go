package status

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher publishes events on a Redis pub/sub channel
type RedisPublisher struct {
	client  redis.Cmdable
	channel string
	logger  *slog.Logger
}

// NewRedisPublisher creates a RedisPublisher
func NewRedisPublisher(client redis.Cmdable, channel string, logger *slog.Logger) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{client: client, channel: channel, logger: logger}
}

// Publish implements Publisher. Zero receivers is not an error.
func (p *RedisPublisher) Publish(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal status event: %w", err)
	}

	receivers, err := p.client.Publish(ctx, p.channel, body).Result()
	if err != nil {
		return fmt.Errorf("failed to publish status event: %w", err)
	}

	p.logger.Debug("Status event published",
		slog.String("job_id", event.JobID),
		slog.String("status", string(event.Status)),
		slog.Int64("receivers", receivers),
	)
	return nil
}

// RedisSubscriber feeds events from a Redis channel into a Hub
type RedisSubscriber struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

// NewRedisSubscriber creates a RedisSubscriber
func NewRedisSubscriber(client *redis.Client, channel string, logger *slog.Logger) *RedisSubscriber {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisSubscriber{client: client, channel: channel, logger: logger}
}

// Run subscribes and dispatches events to hub until ctx ends
func (s *RedisSubscriber) Run(ctx context.Context, hub *Hub) error {
	pubsub := s.client.Subscribe(ctx, s.channel)
	defer pubsub.Close()

	// wait for the subscription to be confirmed
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", s.channel, err)
	}

	s.logger.Info("Subscribed to status channel", slog.String("channel", s.channel))

	msgs := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}

			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				s.logger.Warn("Dropping malformed status event",
					slog.String("channel", msg.Channel),
					slog.Any("error", err),
				)
				continue
			}
			hub.Publish(ctx, event)
		}
	}
}
