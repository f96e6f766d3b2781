package worker

import (
	"context"
	"fmt"
	"log/slog"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
		slog.String("worker_id", w.workerID),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}
}

// workerLoop processes jobs until the dispatcher closes jobsChan. A job that
// has started always runs to completion; shutdown only stops new dequeues.
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	w.logger.Debug("Worker goroutine started",
		slog.String("worker_name", workerName),
	)

	for msg := range w.jobsChan {
		w.logger.Info("Worker received job",
			slog.String("worker_name", workerName),
			slog.String("job_id", msg.task.ID),
			slog.Int("attempt", msg.task.Attempt),
		)

		err := w.runJob(ctx, workerName, msg)
		w.settle(ctx, workerName, msg, err)
	}

	w.logger.Debug("Worker goroutine stopping - jobsChan closed",
		slog.String("worker_name", workerName),
	)
}

// runJob isolates a panicking transform so the goroutine keeps consuming
func (w *Worker) runJob(ctx context.Context, workerName string, msg *jobMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Job processing panicked",
				slog.String("worker_name", workerName),
				slog.String("job_id", msg.task.ID),
				slog.Any("panic", r),
			)
			err = fmt.Errorf("job %s panicked: %v", msg.task.ID, r)
		}
	}()

	return w.processJob(ctx, workerName, msg)
}
