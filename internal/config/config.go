package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Work queue drivers
const (
	QueueDriverRabbitMQ = "rabbitmq"
	QueueDriverRedis    = "redis"
)

// Artifact store drivers
const (
	ArtifactDriverLocal = "local"
	ArtifactDriverMinio = "minio"
)

// Config represents the complete application configuration
type Config struct {
	App       AppConfig       `yaml:"app"`
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	RabbitMQ  RabbitMQConfig  `yaml:"rabbitmq"`
	Redis     RedisConfig     `yaml:"redis"`
	Queue     QueueConfig     `yaml:"queue"`
	Events    EventsConfig    `yaml:"events"`
	Storage   StorageConfig   `yaml:"storage"`
	Media     MediaConfig     `yaml:"media"`
	Thumbnail ThumbnailConfig `yaml:"thumbnail"`
	Worker    WorkerConfig    `yaml:"worker"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	// MaxUploadBytes caps one upload request body; zero leaves it uncapped
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
}

// DatabaseConfig holds job record store connection configuration
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"` // postgres, pgx or sqlite3
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	Path            string        `yaml:"path"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string            `yaml:"host"`
	Port       int               `yaml:"port"`
	User       string            `yaml:"user"`
	Password   string            `yaml:"password"`
	VHost      string            `yaml:"vhost"`
	Exchange   ExchangeConfig    `yaml:"exchange"`
	Queue      RabbitQueueConfig `yaml:"queue"`
	RoutingKey string            `yaml:"routing_key"`
	Connection ConnectionConfig  `yaml:"connection"`
	Publish    PublishConfig     `yaml:"publish"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// RabbitQueueConfig holds RabbitMQ queue configuration
type RabbitQueueConfig struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"` // classic or quorum
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	Heartbeat     time.Duration `yaml:"heartbeat"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr        string        `yaml:"addr"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	PoolSize    int           `yaml:"pool_size"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// QueueConfig holds durable work queue settings
type QueueConfig struct {
	Driver       string        `yaml:"driver"` // rabbitmq or redis
	Name         string        `yaml:"name"`
	LockDuration time.Duration `yaml:"lock_duration"`
	PollInterval time.Duration `yaml:"poll_interval"`
	DedupTTL     time.Duration `yaml:"dedup_ttl"`
}

// EventsConfig holds status broadcast settings
type EventsConfig struct {
	Channel      string `yaml:"channel"`
	ClientBuffer int    `yaml:"client_buffer"`
}

// StorageConfig holds upload and artifact storage settings
type StorageConfig struct {
	UploadDir string         `yaml:"upload_dir"`
	Artifact  ArtifactConfig `yaml:"artifact"`
}

// ArtifactConfig selects where thumbnails are written
type ArtifactConfig struct {
	Driver   string      `yaml:"driver"` // local or minio
	LocalDir string      `yaml:"local_dir"`
	Minio    MinioConfig `yaml:"minio"`
}

// MinioConfig holds S3 compatible object storage settings
type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// MediaConfig holds the upload allow-lists
type MediaConfig struct {
	MaxSizeBytes int64         `yaml:"max_size_bytes"`
	Image        MediaKindRule `yaml:"image"`
	Video        MediaKindRule `yaml:"video"`
}

// MediaKindRule lists accepted mime types and extensions for one media kind
type MediaKindRule struct {
	MimeTypes  []string `yaml:"mime_types"`
	Extensions []string `yaml:"extensions"`
}

// ThumbnailConfig holds transformer settings
type ThumbnailConfig struct {
	Size        int    `yaml:"size"`
	JPEGQuality int    `yaml:"jpeg_quality"`
	FFmpegPath  string `yaml:"ffmpeg_path"`
	FFprobePath string `yaml:"ffprobe_path"`
	TempDir     string `yaml:"temp_dir"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	Concurrency            int           `yaml:"concurrency"`
	JobTimeout             time.Duration `yaml:"job_timeout"`
	ShutdownTimeout        time.Duration `yaml:"shutdown_timeout"`
	PendingRetryDelay      time.Duration `yaml:"pending_retry_delay"`
	MaxPendingRedeliveries int           `yaml:"max_pending_redeliveries"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
	NoColor      bool   `yaml:"no_color"`
}

// Load reads the configuration file, expands ${VAR} references and applies defaults
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "thumbnail-pipeline"
	}

	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 25
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}

	if c.Queue.Driver == "" {
		c.Queue.Driver = QueueDriverRabbitMQ
	}
	if c.Queue.Name == "" {
		c.Queue.Name = "thumbnail-generation"
	}

	if c.RabbitMQ.Exchange.Type == "" {
		c.RabbitMQ.Exchange.Type = "direct"
	}
	if c.RabbitMQ.Queue.Name == "" {
		c.RabbitMQ.Queue.Name = c.Queue.Name
	}
	// quorum queues count redeliveries, classic queues only flag them
	if c.RabbitMQ.Queue.Type == "" {
		c.RabbitMQ.Queue.Type = "quorum"
	}
	if c.RabbitMQ.RoutingKey == "" {
		c.RabbitMQ.RoutingKey = c.RabbitMQ.Queue.Name
	}
	if c.RabbitMQ.Connection.RetryAttempts == 0 {
		c.RabbitMQ.Connection.RetryAttempts = 5
	}
	if c.RabbitMQ.Connection.RetryInterval == 0 {
		c.RabbitMQ.Connection.RetryInterval = 2 * time.Second
	}
	if c.RabbitMQ.Connection.Heartbeat == 0 {
		c.RabbitMQ.Connection.Heartbeat = 10 * time.Second
	}
	if c.RabbitMQ.Publish.RetryAttempts == 0 {
		c.RabbitMQ.Publish.RetryAttempts = 3
	}
	if c.RabbitMQ.Publish.RetryInterval == 0 {
		c.RabbitMQ.Publish.RetryInterval = 100 * time.Millisecond
	}

	if c.Queue.LockDuration == 0 {
		c.Queue.LockDuration = 5 * time.Minute
	}
	if c.Queue.PollInterval == 0 {
		c.Queue.PollInterval = 500 * time.Millisecond
	}
	if c.Queue.DedupTTL == 0 {
		c.Queue.DedupTTL = 24 * time.Hour
	}

	if c.Events.Channel == "" {
		c.Events.Channel = "job:status:update"
	}
	if c.Events.ClientBuffer == 0 {
		c.Events.ClientBuffer = 16
	}

	if c.Storage.UploadDir == "" {
		c.Storage.UploadDir = "uploads"
	}
	if c.Storage.Artifact.Driver == "" {
		c.Storage.Artifact.Driver = ArtifactDriverLocal
	}
	if c.Storage.Artifact.LocalDir == "" {
		c.Storage.Artifact.LocalDir = "uploads/thumbnails"
	}

	if c.Media.MaxSizeBytes == 0 {
		c.Media.MaxSizeBytes = 100 * 1024 * 1024
	}
	if len(c.Media.Image.MimeTypes) == 0 {
		c.Media.Image.MimeTypes = []string{"image/jpeg", "image/png", "image/gif", "image/webp"}
	}
	if len(c.Media.Image.Extensions) == 0 {
		c.Media.Image.Extensions = []string{".jpg", ".jpeg", ".png", ".gif", ".webp"}
	}
	if len(c.Media.Video.MimeTypes) == 0 {
		c.Media.Video.MimeTypes = []string{"video/mp4", "video/avi", "video/quicktime", "video/webm"}
	}
	if len(c.Media.Video.Extensions) == 0 {
		c.Media.Video.Extensions = []string{".mp4", ".avi", ".mov", ".webm"}
	}

	if c.Thumbnail.Size == 0 {
		c.Thumbnail.Size = 256
	}
	if c.Thumbnail.JPEGQuality == 0 {
		c.Thumbnail.JPEGQuality = 95
	}
	if c.Thumbnail.FFmpegPath == "" {
		c.Thumbnail.FFmpegPath = "ffmpeg"
	}
	if c.Thumbnail.FFprobePath == "" {
		c.Thumbnail.FFprobePath = "ffprobe"
	}

	if c.Worker.Concurrency == 0 {
		c.Worker.Concurrency = 1
	}
	if c.Worker.JobTimeout == 0 {
		c.Worker.JobTimeout = 4 * time.Minute
	}
	if c.Worker.ShutdownTimeout == 0 {
		c.Worker.ShutdownTimeout = 30 * time.Second
	}
	if c.Worker.PendingRetryDelay == 0 {
		c.Worker.PendingRetryDelay = 2 * time.Second
	}
	if c.Worker.MaxPendingRedeliveries == 0 {
		c.Worker.MaxPendingRedeliveries = 5
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
}

// Validate checks the settings every binary needs: record store, queue, broadcast channel
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite3":
		if c.Database.Path == "" {
			return fmt.Errorf("database path is required for sqlite3")
		}
	case "postgres", "pgx", "":
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Database.Port < MinPort || c.Database.Port > MaxPort {
			return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}

	switch c.Queue.Driver {
	case QueueDriverRabbitMQ, "":
		if c.RabbitMQ.Host == "" {
			return fmt.Errorf("rabbitmq host is required")
		}
		if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
			return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
		}
		if c.RabbitMQ.Exchange.Name == "" {
			return fmt.Errorf("rabbitmq exchange name is required")
		}
		if c.RabbitMQ.Queue.Name == "" {
			return fmt.Errorf("rabbitmq queue name is required")
		}
	case QueueDriverRedis:
		if c.Queue.Name == "" {
			return fmt.Errorf("queue name is required")
		}
	default:
		return fmt.Errorf("unsupported queue driver: %s", c.Queue.Driver)
	}

	if c.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required")
	}

	if c.Queue.LockDuration < 0 {
		return fmt.Errorf("queue lock_duration must not be negative")
	}

	switch c.Storage.Artifact.Driver {
	case ArtifactDriverLocal, "":
		if c.Storage.Artifact.LocalDir == "" {
			return fmt.Errorf("storage artifact local_dir is required")
		}
	case ArtifactDriverMinio:
		if c.Storage.Artifact.Minio.Endpoint == "" || c.Storage.Artifact.Minio.Bucket == "" {
			return fmt.Errorf("storage artifact minio endpoint and bucket are required")
		}
	default:
		return fmt.Errorf("unsupported artifact driver: %s", c.Storage.Artifact.Driver)
	}

	return nil
}

// ValidateAPIConfig checks the settings the API service needs
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.Validate(); err != nil {
		return err
	}

	if c.Storage.UploadDir == "" {
		return fmt.Errorf("storage upload_dir is required")
	}

	if c.Media.MaxSizeBytes <= 0 {
		return fmt.Errorf("media max_size_bytes must be greater than 0")
	}

	return nil
}

// ValidateWorkerConfig checks the settings the worker service needs
func (c *Config) ValidateWorkerConfig() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.JobTimeout <= 0 {
		return fmt.Errorf("worker job_timeout must be greater than 0")
	}

	// a transform outliving its lock is redelivered to a second consumer
	if c.Queue.LockDuration > 0 && c.Worker.JobTimeout >= c.Queue.LockDuration {
		return fmt.Errorf("worker job_timeout (%s) must be shorter than queue lock_duration (%s)",
			c.Worker.JobTimeout, c.Queue.LockDuration)
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	if c.Thumbnail.Size <= 0 {
		return fmt.Errorf("thumbnail size must be greater than 0")
	}

	if c.Thumbnail.JPEGQuality < 1 || c.Thumbnail.JPEGQuality > 100 {
		return fmt.Errorf("thumbnail jpeg_quality must be between 1 and 100")
	}

	return nil
}
