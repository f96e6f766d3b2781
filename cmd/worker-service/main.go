package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/cuongbtq/thumbnail-pipeline/internal/bootstrap"
	"github.com/cuongbtq/thumbnail-pipeline/internal/config"
	"github.com/cuongbtq/thumbnail-pipeline/internal/worker"
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

	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := bootstrap.NewLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger := appLogger.Logger

	logger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.Int("concurrency", cfg.Worker.Concurrency),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	closers := bootstrap.NewClosers(logger)
	defer closers.Close()
	closers.Add("logger", appLogger)

	db, err := bootstrap.NewDatabase(&cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	closers.Add("database", db)

	store, err := bootstrap.NewStorage(ctx, db, false, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize job store: %w", err)
	}

	rdb, err := bootstrap.NewRedis(&cfg.Redis, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize redis: %w", err)
	}
	closers.Add("redis", rdb)

	q, err := bootstrap.NewQueue(cfg, rdb, cfg.Worker.Concurrency, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize queue: %w", err)
	}
	closers.Add("queue", q)

	artifacts, err := bootstrap.NewArtifactStore(ctx, &cfg.Storage.Artifact, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize artifact store: %w", err)
	}

	workerInstance := worker.NewWorker(&worker.Config{
		Logger:                 logger,
		Store:                  store,
		Queue:                  q,
		Transformer:            bootstrap.NewTransformer(&cfg.Thumbnail, artifacts),
		Publisher:              bootstrap.NewPublisher(rdb, &cfg.Events, logger),
		Concurrency:            cfg.Worker.Concurrency,
		JobTimeout:             cfg.Worker.JobTimeout,
		PendingRetryDelay:      cfg.Worker.PendingRetryDelay,
		MaxPendingRedeliveries: cfg.Worker.MaxPendingRedeliveries,
	})

	if err := workerInstance.Start(ctx); err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}

	logger.Info("Worker service started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.Info("Received signal, shutting down gracefully",
		slog.String("signal", sig.String()),
	)

	if workerInstance.StopWithTimeout(cfg.Worker.ShutdownTimeout) {
		logger.Info("Worker stopped gracefully")
	} else {
		logger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	logger.Info("Worker service shutdown complete")
	return nil
}
