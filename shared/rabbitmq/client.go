package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Config holds RabbitMQ connection configuration
type Config struct {
	Host              string
	Port              int
	User              string
	Password          string
	VHost             string
	ExchangeName      string
	ExchangeType      string
	QueueName         string
	QueueType         string        // classic or quorum
	ConsumerTimeout   time.Duration // broker side ack deadline per delivery
	RoutingKey        string
	Prefetch          int
	RetryAttempts     int
	RetryInterval     time.Duration
	Heartbeat         time.Duration
	PublishRetries    int
	PublishRetryDelay time.Duration
}

// URL returns the AMQP connection URL
func (c *Config) URL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d%s", c.User, c.Password, c.Host, c.Port, c.VHost)
}

// Message is a single publishing
type Message struct {
	ID          string
	Body        []byte
	ContentType string
}

// Client represents a RabbitMQ client bound to one exchange and one durable queue.
// A lost channel or connection is re-dialed in the background until Close.
type Client struct {
	config *Config
	logger *slog.Logger

	// guards conn and channel; amqp channels are not safe for concurrent publishes
	mu          sync.Mutex
	conn        *amqp.Connection
	channel     *amqp.Channel
	isConnected atomic.Bool

	closeChan chan *amqp.Error
	done      chan struct{}
	closeOnce sync.Once
}

// NewClient connects to RabbitMQ and declares the topology
func NewClient(config *Config, logger *slog.Logger) (*Client, error) {
	client := &Client{config: config, logger: logger, done: make(chan struct{})}

	if err := client.connect(); err != nil {
		return nil, fmt.Errorf("failed to create RabbitMQ client: %w", err)
	}

	return client, nil
}

// connect establishes connection to RabbitMQ with retry logic and starts
// watching it for closure
func (c *Client) connect() error {
	var (
		conn *amqp.Connection
		err  error
	)

	attempts := c.config.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		c.logger.Info("Connecting to RabbitMQ",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
		)

		conn, err = amqp.DialConfig(c.config.URL(), amqp.Config{
			Heartbeat: c.config.Heartbeat,
			Locale:    "en_US",
		})
		if err == nil {
			break
		}

		c.logger.Error("Failed to connect to RabbitMQ",
			slog.Any("error", err),
			slog.Int("attempt", attempt),
		)

		if attempt < attempts {
			select {
			case <-c.done:
				return errClientClosed
			case <-time.After(c.config.RetryInterval):
			}
		}
	}
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", attempts, err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create channel: %w", err)
	}

	if err := c.setup(channel); err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("failed to setup exchange and queue: %w", err)
	}

	// a channel closes with its connection, so one notification covers both
	closeChan := channel.NotifyClose(make(chan *amqp.Error, 1))

	c.mu.Lock()
	select {
	case <-c.done:
		// Close ran while we were dialing
		c.mu.Unlock()
		channel.Close()
		conn.Close()
		return errClientClosed
	default:
	}
	c.conn, c.channel, c.closeChan = conn, channel, closeChan
	c.mu.Unlock()
	c.isConnected.Store(true)

	go c.watch(closeChan)

	c.logger.Info("RabbitMQ client initialized",
		slog.String("exchange", c.config.ExchangeName),
		slog.String("queue", c.config.QueueName),
		slog.Duration("consumer_timeout", c.config.ConsumerTimeout),
	)

	return nil
}

var errClientClosed = errors.New("rabbitmq client closed")

// watch re-dials after the broker or network drops the channel. Consumers
// see their delivery channel close and must call Consume again.
func (c *Client) watch(closeChan <-chan *amqp.Error) {
	var reason *amqp.Error
	select {
	case <-c.done:
		return
	case reason = <-closeChan:
	}

	select {
	case <-c.done:
		return
	default:
	}

	c.isConnected.Store(false)
	c.logger.Warn("RabbitMQ channel closed, reconnecting", slog.Any("reason", reason))

	// a channel level error such as a consumer timeout leaves the connection open
	c.mu.Lock()
	if c.conn != nil && !c.conn.IsClosed() {
		c.conn.Close()
	}
	c.mu.Unlock()

	for {
		err := c.connect()
		if err == nil {
			return
		}
		if errors.Is(err, errClientClosed) {
			return
		}

		c.logger.Error("Failed to reconnect to RabbitMQ", slog.Any("error", err))
		select {
		case <-c.done:
			return
		case <-time.After(c.config.RetryInterval):
		}
	}
}

// queueArgs carries the visibility lock and queue type to the broker
func (c *Client) queueArgs() amqp.Table {
	args := amqp.Table{}
	if c.config.QueueType != "" {
		args["x-queue-type"] = c.config.QueueType
	}
	if c.config.ConsumerTimeout > 0 {
		args["x-consumer-timeout"] = c.config.ConsumerTimeout.Milliseconds()
	}
	return args
}

// setup declares exchange, queue, bindings and the prefetch window
func (c *Client) setup(channel *amqp.Channel) error {
	err := channel.ExchangeDeclare(
		c.config.ExchangeName, // name
		c.config.ExchangeType, // type
		true,                  // durable
		false,                 // auto-deleted
		false,                 // internal
		false,                 // no-wait
		nil,                   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	_, err = channel.QueueDeclare(
		c.config.QueueName, // name
		true,               // durable
		false,              // auto-delete
		false,              // exclusive
		false,              // no-wait
		c.queueArgs(),      // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	err = channel.QueueBind(
		c.config.QueueName,    // queue name
		c.config.RoutingKey,   // routing key
		c.config.ExchangeName, // exchange
		false,                 // no-wait
		nil,                   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	if c.config.Prefetch > 0 {
		if err := channel.Qos(c.config.Prefetch, 0, false); err != nil {
			return fmt.Errorf("failed to set QoS: %w", err)
		}
	}

	return nil
}

// Publish publishes a persistent message, retrying with exponential backoff
func (c *Client) Publish(ctx context.Context, msg Message) error {
	if !c.IsConnected() {
		return fmt.Errorf("not connected to RabbitMQ")
	}

	maxRetries := c.config.PublishRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	delay := c.config.PublishRetryDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		c.mu.Lock()
		lastErr = c.channel.PublishWithContext(
			ctx,
			c.config.ExchangeName, // exchange
			c.config.RoutingKey,   // routing key
			false,                 // mandatory
			false,                 // immediate
			amqp.Publishing{
				MessageId:    msg.ID,
				ContentType:  msg.ContentType,
				Body:         msg.Body,
				DeliveryMode: amqp.Persistent,
				Timestamp:    time.Now(),
			},
		)
		c.mu.Unlock()

		if lastErr == nil {
			c.logger.Debug("Message published to RabbitMQ",
				slog.String("message_id", msg.ID),
				slog.Int("body_size", len(msg.Body)),
				slog.Int("attempt", attempt+1),
			)
			return nil
		}

		if attempt == maxRetries {
			break
		}

		backoff := delay * time.Duration(1<<uint(attempt))
		c.logger.Warn("Failed to publish message to RabbitMQ, retrying",
			slog.String("message_id", msg.ID),
			slog.Int("attempt", attempt+1),
			slog.Duration("retry_after", backoff),
			slog.Any("error", lastErr),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}

	return fmt.Errorf("failed to publish message after %d attempts: %w", maxRetries+1, lastErr)
}

// Consume starts a manual-ack consumer on the queue
func (c *Client) Consume(consumerTag string) (<-chan amqp.Delivery, error) {
	if !c.IsConnected() {
		return nil, fmt.Errorf("not connected to RabbitMQ")
	}

	c.mu.Lock()
	channel := c.channel
	c.mu.Unlock()

	messages, err := channel.Consume(
		c.config.QueueName, // queue
		consumerTag,        // consumer tag
		false,              // auto-ack
		false,              // exclusive
		false,              // no-local
		false,              // no-wait
		nil,                // args
	)
	if err != nil {
		return nil, fmt.Errorf("failed to consume messages: %w", err)
	}

	c.logger.Info("Started consuming messages from RabbitMQ",
		slog.String("queue", c.config.QueueName),
		slog.String("consumer_tag", consumerTag),
	)

	return messages, nil
}

// QueueDepth returns the number of ready messages and attached consumers
func (c *Client) QueueDepth() (messages int, consumers int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// passive declare so a missing queue errors instead of being created
	q, err := c.channel.QueueDeclarePassive(c.config.QueueName, true, false, false, false, c.queueArgs())
	if err != nil {
		return 0, 0, fmt.Errorf("failed to inspect queue: %w", err)
	}
	return q.Messages, q.Consumers, nil
}

// Close stops reconnecting and closes the RabbitMQ channel and connection
func (c *Client) Close() error {
	c.logger.Info("Closing RabbitMQ connection")

	c.closeOnce.Do(func() { close(c.done) })
	c.isConnected.Store(false)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			c.logger.Error("Failed to close RabbitMQ channel", slog.Any("error", err))
		}
	}

	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Error("Failed to close RabbitMQ connection", slog.Any("error", err))
			return err
		}
	}

	return nil
}

// IsConnected returns the connection status
func (c *Client) IsConnected() bool {
	if !c.isConnected.Load() {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && !c.conn.IsClosed()
}
