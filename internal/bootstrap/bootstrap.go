// Package bootstrap builds infrastructure clients and pipeline components
// from configuration. Every binary wires itself through these constructors.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/thumbnail-pipeline/internal/artifact"
	"github.com/cuongbtq/thumbnail-pipeline/internal/config"
	"github.com/cuongbtq/thumbnail-pipeline/internal/media"
	"github.com/cuongbtq/thumbnail-pipeline/internal/queue"
	"github.com/cuongbtq/thumbnail-pipeline/internal/status"
	"github.com/cuongbtq/thumbnail-pipeline/internal/storage"
	"github.com/cuongbtq/thumbnail-pipeline/internal/thumbnail"
	"github.com/cuongbtq/thumbnail-pipeline/shared/database"
	"github.com/cuongbtq/thumbnail-pipeline/shared/logger"
	"github.com/cuongbtq/thumbnail-pipeline/shared/rabbitmq"
	sharedredis "github.com/cuongbtq/thumbnail-pipeline/shared/redis"
)

// NewLogger initializes and configures the application logger
func NewLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
		NoColor:      cfg.NoColor,
	})
}

// NewDatabase opens the job record store connection
func NewDatabase(cfg *config.DatabaseConfig, log *slog.Logger) (*database.Client, error) {
	return database.NewClient(&database.Config{
		Driver:          cfg.Driver,
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}, log)
}

// NewStorage wraps the database in the job record store, migrating the schema when asked
func NewStorage(ctx context.Context, db *database.Client, migrate bool, log *slog.Logger) (*storage.Storage, error) {
	store := storage.NewStorage(db.GetDB(), log)
	if migrate {
		if err := store.Migrate(ctx); err != nil {
			return nil, err
		}
	}
	return store, nil
}

// NewRedis connects to Redis
func NewRedis(cfg *config.RedisConfig, log *slog.Logger) (*sharedredis.Client, error) {
	return sharedredis.NewClient(&sharedredis.Config{
		Addr:        cfg.Addr,
		Username:    cfg.Username,
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		DialTimeout: cfg.DialTimeout,
	}, log)
}

// NewRabbitMQ connects to RabbitMQ and declares the work queue. The broker
// side consumer timeout enforces the queue lock duration.
func NewRabbitMQ(cfg *config.Config, prefetch int, log *slog.Logger) (*rabbitmq.Client, error) {
	rc := &cfg.RabbitMQ
	return rabbitmq.NewClient(&rabbitmq.Config{
		Host:              rc.Host,
		Port:              rc.Port,
		User:              rc.User,
		Password:          rc.Password,
		VHost:             rc.VHost,
		ExchangeName:      rc.Exchange.Name,
		ExchangeType:      rc.Exchange.Type,
		QueueName:         rc.Queue.Name,
		QueueType:         rc.Queue.Type,
		ConsumerTimeout:   cfg.Queue.LockDuration,
		RoutingKey:        rc.RoutingKey,
		Prefetch:          prefetch,
		RetryAttempts:     rc.Connection.RetryAttempts,
		RetryInterval:     rc.Connection.RetryInterval,
		Heartbeat:         rc.Connection.Heartbeat,
		PublishRetries:    rc.Publish.RetryAttempts,
		PublishRetryDelay: rc.Publish.RetryInterval,
	}, log)
}

// NewQueue builds the configured work queue driver. prefetch is the number
// of unacked deliveries a RabbitMQ consumer may hold; it should match the
// worker pool size.
func NewQueue(cfg *config.Config, rdb *sharedredis.Client, prefetch int, log *slog.Logger) (queue.Queue, error) {
	switch cfg.Queue.Driver {
	case config.QueueDriverRedis:
		return queue.NewRedis(rdb, queue.Options{
			Name:         cfg.Queue.Name,
			LockDuration: cfg.Queue.LockDuration,
			PollInterval: cfg.Queue.PollInterval,
		}, log), nil

	case config.QueueDriverRabbitMQ:
		client, err := NewRabbitMQ(cfg, prefetch, log)
		if err != nil {
			return nil, err
		}
		guard := queue.NewRedisGuard(rdb, cfg.Queue.Name, cfg.Queue.DedupTTL)
		return queue.NewRabbitMQ(client, guard, log), nil
	}

	return nil, fmt.Errorf("unsupported queue driver %q", cfg.Queue.Driver)
}

// NewArtifactStore builds the configured artifact store
func NewArtifactStore(ctx context.Context, cfg *config.ArtifactConfig, log *slog.Logger) (artifact.Store, error) {
	switch cfg.Driver {
	case config.ArtifactDriverLocal:
		return artifact.NewLocalStore(cfg.LocalDir)
	case config.ArtifactDriverMinio:
		return artifact.NewMinioStore(ctx, artifact.MinioConfig{
			Endpoint:  cfg.Minio.Endpoint,
			AccessKey: cfg.Minio.AccessKey,
			SecretKey: cfg.Minio.SecretKey,
			Bucket:    cfg.Minio.Bucket,
			Region:    cfg.Minio.Region,
			UseSSL:    cfg.Minio.UseSSL,
		}, log)
	}
	return nil, fmt.Errorf("unsupported artifact driver %q", cfg.Driver)
}

// NewValidator builds the media validator from the allow-lists
func NewValidator(cfg *config.MediaConfig) *media.Validator {
	return media.NewValidator(media.Config{
		MaxSizeBytes: cfg.MaxSizeBytes,
		Image: media.Rules{
			MimeTypes:  cfg.Image.MimeTypes,
			Extensions: cfg.Image.Extensions,
		},
		Video: media.Rules{
			MimeTypes:  cfg.Video.MimeTypes,
			Extensions: cfg.Video.Extensions,
		},
	})
}

// NewTransformer builds the image and video transformers behind a kind dispatcher
func NewTransformer(cfg *config.ThumbnailConfig, store artifact.Store) *thumbnail.Dispatcher {
	image := thumbnail.NewImageTransformer(store, thumbnail.ImageOptions{
		Size:        cfg.Size,
		JPEGQuality: cfg.JPEGQuality,
		TempDir:     cfg.TempDir,
	})
	video := thumbnail.NewVideoTransformer(thumbnail.ExecRunner{}, image, thumbnail.VideoOptions{
		FFmpegPath:  cfg.FFmpegPath,
		FFprobePath: cfg.FFprobePath,
		TempDir:     cfg.TempDir,
	})
	return thumbnail.NewDispatcher(image, video)
}

// NewPublisher publishes status events on the broadcast channel
func NewPublisher(rdb *sharedredis.Client, cfg *config.EventsConfig, log *slog.Logger) *status.RedisPublisher {
	return status.NewRedisPublisher(rdb, cfg.Channel, log)
}
