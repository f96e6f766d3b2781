package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/cuongbtq/thumbnail-pipeline/internal/bootstrap"
	"github.com/cuongbtq/thumbnail-pipeline/internal/cli"
	"github.com/cuongbtq/thumbnail-pipeline/internal/config"
	"github.com/cuongbtq/thumbnail-pipeline/internal/ingest"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cli.Execute(ctx, os.Args[1:], os.Stdout, open); err != nil {
		log.Fatal(err)
	}
}

// open wires the job store, and the queue side only for commands that need it
func open(ctx context.Context, configPath string, withQueue bool) (*cli.App, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := bootstrap.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger := appLogger.Logger

	closers := bootstrap.NewClosers(logger)
	closers.Add("logger", appLogger)
	cleanup := func() { _ = closers.Close() }

	db, err := bootstrap.NewDatabase(&cfg.Database, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	closers.Add("database", db)

	store, err := bootstrap.NewStorage(ctx, db, false, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to initialize job store: %w", err)
	}

	app := &cli.App{Store: store}
	if !withQueue {
		return app, cleanup, nil
	}

	rdb, err := bootstrap.NewRedis(&cfg.Redis, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to initialize redis: %w", err)
	}
	closers.Add("redis", rdb)

	q, err := bootstrap.NewQueue(cfg, rdb, 1, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to initialize queue: %w", err)
	}
	closers.Add("queue", q)

	app.Queue = q
	app.Reconciler = ingest.NewCoordinator(store, q, bootstrap.NewValidator(&cfg.Media),
		bootstrap.NewPublisher(rdb, &cfg.Events, logger), logger)
	return app, cleanup, nil
}
