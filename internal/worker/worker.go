// Package worker runs the pool of consumers that turn queued jobs into thumbnails.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/thumbnail-pipeline/internal/domain"
	"github.com/cuongbtq/thumbnail-pipeline/internal/queue"
	"github.com/cuongbtq/thumbnail-pipeline/internal/status"
	"github.com/cuongbtq/thumbnail-pipeline/internal/storage"
	"github.com/cuongbtq/thumbnail-pipeline/internal/thumbnail"
)

// JobStore is the part of the job record store the worker reads and updates
type JobStore interface {
	GetJobByID(ctx context.Context, jobID string) (*domain.Job, error)
	TransitionJob(ctx context.Context, jobID string, from, to domain.Status, fields storage.TransitionFields) (*domain.Job, error)
}

// Config holds worker configuration
type Config struct {
	Logger      *slog.Logger
	Store       JobStore
	Queue       queue.Queue
	Transformer thumbnail.Transformer
	Publisher   status.Publisher

	Concurrency int
	// JobTimeout bounds one transform; keep it below the queue lock duration
	JobTimeout time.Duration
	// PendingRetryDelay is how long a task whose job is still pending waits before release
	PendingRetryDelay      time.Duration
	MaxPendingRedeliveries int
}

// Worker represents the thumbnail worker pool
type Worker struct {
	logger      *slog.Logger
	store       JobStore
	queue       queue.Queue
	transformer thumbnail.Transformer
	publisher   status.Publisher

	workerID               string
	concurrency            int
	jobTimeout             time.Duration
	pendingRetryDelay      time.Duration
	maxPendingRedeliveries int
	now                    func() time.Time

	jobsChan chan *jobMessage
	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
	cancel   context.CancelFunc
}

// jobMessage is a decoded task handed from the dispatcher to the pool
type jobMessage struct {
	task    *queue.Task
	payload domain.ThumbnailTask
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	jobTimeout := cfg.JobTimeout
	if jobTimeout <= 0 {
		jobTimeout = 4 * time.Minute
	}
	maxPending := cfg.MaxPendingRedeliveries
	if maxPending <= 0 {
		maxPending = 5
	}

	return &Worker{
		logger:                 cfg.Logger,
		store:                  cfg.Store,
		queue:                  cfg.Queue,
		transformer:            cfg.Transformer,
		publisher:              cfg.Publisher,
		workerID:               "worker-" + uuid.NewString()[:8],
		concurrency:            concurrency,
		jobTimeout:             jobTimeout,
		pendingRetryDelay:      cfg.PendingRetryDelay,
		maxPendingRedeliveries: maxPending,
		now:                    time.Now,
		// unbuffered: a task is only taken off the queue when a goroutine is free
		jobsChan: make(chan *jobMessage),
		stopChan: make(chan struct{}),
	}
}

// Start spawns the pool and the dispatcher and returns immediately
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("job_timeout", w.jobTimeout),
	)

	dispatchCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.spawnWorkerPool(ctx)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.startMessageDispatcher(dispatchCtx)
	}()

	return nil
}

// Stop stops dequeuing and waits for in-flight jobs to finish
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.logger.Info("Stopping worker...", slog.String("worker_id", w.workerID))
		close(w.stopChan)
		if w.cancel != nil {
			w.cancel()
		}
	})
	w.wg.Wait()
	w.logger.Info("Worker stopped", slog.String("worker_id", w.workerID))
}

// StopWithTimeout is Stop bounded by timeout. It reports false when jobs were
// still running at the deadline.
func (w *Worker) StopWithTimeout(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		w.logger.Warn("Worker stop timed out, abandoning in-flight jobs to queue redelivery",
			slog.Duration("timeout", timeout),
		)
		return false
	}
}

// settle acks or releases the task depending on the processing result
func (w *Worker) settle(ctx context.Context, workerName string, msg *jobMessage, err error) {
	ctx = context.WithoutCancel(ctx)

	if err != nil && shouldRequeueJob(err) {
		if relErr := w.queue.Release(ctx, msg.task); relErr != nil {
			w.logger.Error("Failed to release task",
				slog.String("worker_name", workerName),
				slog.String("job_id", msg.task.ID),
				slog.String("error", relErr.Error()),
			)
			return
		}
		w.logger.Info("Task released for redelivery",
			slog.String("worker_name", workerName),
			slog.String("job_id", msg.task.ID),
			slog.Int("attempt", msg.task.Attempt),
			slog.String("reason", err.Error()),
		)
		return
	}

	if ackErr := w.queue.Ack(ctx, msg.task); ackErr != nil {
		w.logger.Error("Failed to ack task",
			slog.String("worker_name", workerName),
			slog.String("job_id", msg.task.ID),
			slog.String("error", ackErr.Error()),
		)
	}
}

// shouldRequeueJob determines if a task should be released back to the queue
func shouldRequeueJob(err error) bool {
	if errors.Is(err, domain.ErrInvalidPayload) {
		return false
	}
	return domain.IsRetryable(err)
}
