package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/cuongbtq/thumbnail-pipeline/internal/api/handler"
	"github.com/cuongbtq/thumbnail-pipeline/internal/api/router"
	"github.com/cuongbtq/thumbnail-pipeline/internal/bootstrap"
	"github.com/cuongbtq/thumbnail-pipeline/internal/config"
	"github.com/cuongbtq/thumbnail-pipeline/internal/ingest"
	"github.com/cuongbtq/thumbnail-pipeline/internal/relay"
	"github.com/cuongbtq/thumbnail-pipeline/internal/status"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := bootstrap.NewLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger := appLogger.Logger

	logger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	closers := bootstrap.NewClosers(logger)
	defer closers.Close()
	closers.Add("logger", appLogger)

	db, err := bootstrap.NewDatabase(&cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	closers.Add("database", db)

	store, err := bootstrap.NewStorage(ctx, db, true, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize job store: %w", err)
	}

	rdb, err := bootstrap.NewRedis(&cfg.Redis, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize redis: %w", err)
	}
	closers.Add("redis", rdb)

	q, err := bootstrap.NewQueue(cfg, rdb, 0, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize queue: %w", err)
	}
	closers.Add("queue", q)

	artifacts, err := bootstrap.NewArtifactStore(ctx, &cfg.Storage.Artifact, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize artifact store: %w", err)
	}

	if err := os.MkdirAll(cfg.Storage.UploadDir, 0o755); err != nil {
		return fmt.Errorf("failed to create upload dir: %w", err)
	}

	validator := bootstrap.NewValidator(&cfg.Media)
	publisher := bootstrap.NewPublisher(rdb, &cfg.Events, logger)
	coordinator := ingest.NewCoordinator(store, q, validator, publisher, logger)

	// events from every process arrive through the broadcast channel
	hub := status.NewHub(logger)
	rl := relay.New(logger)
	hub.Subscribe(rl.Forward)

	subscriber := status.NewRedisSubscriber(rdb.Client, cfg.Events.Channel, logger)
	go func() {
		if err := subscriber.Run(ctx, hub); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Status subscriber stopped", slog.Any("error", err))
		}
	}()

	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	r := router.SetupRouter(&handler.Dependencies{
		Logger:       logger,
		Store:        store,
		Coordinator:  coordinator,
		Artifacts:    artifacts,
		Relay:        rl,
		UploadDir:    cfg.Storage.UploadDir,
		Extensions:   validator.Extensions(),
		ClientBuffer: cfg.Events.ClientBuffer,
		HealthChecks: map[string]handler.HealthCheck{
			"database": db.HealthCheck,
			"redis":    rdb.HealthCheck,
		},
	}, router.Options{
		ServiceName:    cfg.App.Name,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	logger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
	)

	errChan := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down server...")
	case err := <-errChan:
		logger.Error("Server failed", slog.Any("error", err))
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", slog.Any("error", err))
		return err
	}

	logger.Info("Server shutdown complete")
	return nil
}
