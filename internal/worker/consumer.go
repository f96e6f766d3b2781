package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/thumbnail-pipeline/internal/domain"
	"github.com/cuongbtq/thumbnail-pipeline/internal/queue"
)

const dequeueErrorBackoff = time.Second

// startMessageDispatcher dequeues tasks and hands them to the worker pool.
// It closes jobsChan on return so the pool drains and exits.
func (w *Worker) startMessageDispatcher(ctx context.Context) {
	defer close(w.jobsChan)

	w.logger.Info("Message dispatcher started",
		slog.String("worker_id", w.workerID),
	)

	for {
		task, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				w.logger.Info("Message dispatcher stopped", slog.String("reason", err.Error()))
				return
			}

			// the next Dequeue resubscribes, broker outages still back off below
			if errors.Is(err, queue.ErrStreamLost) {
				w.logger.Warn("Delivery stream lost, resubscribing")
				continue
			}

			w.logger.Error("Failed to dequeue task",
				slog.String("error", err.Error()),
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(dequeueErrorBackoff):
			}
			continue
		}

		payload, err := decodeTask(task)
		if err != nil {
			w.logger.Error("Dropping malformed task",
				slog.String("task_id", task.ID),
				slog.String("error", err.Error()),
			)
			if ackErr := w.queue.Ack(context.WithoutCancel(ctx), task); ackErr != nil {
				w.logger.Error("Failed to ack malformed task",
					slog.String("task_id", task.ID),
					slog.String("error", ackErr.Error()),
				)
			}
			continue
		}

		msg := &jobMessage{task: task, payload: payload}

		select {
		case w.jobsChan <- msg:
			w.logger.Debug("Job dispatched to worker pool",
				slog.String("job_id", task.ID),
				slog.Int("attempt", task.Attempt),
			)
		case <-ctx.Done():
			w.logger.Info("Message dispatcher stopped while dispatching job")
			if relErr := w.queue.Release(context.WithoutCancel(ctx), task); relErr != nil {
				w.logger.Error("Failed to release task on shutdown",
					slog.String("job_id", task.ID),
					slog.String("error", relErr.Error()),
				)
			}
			return
		}
	}
}

// decodeTask parses the payload and checks that it names a valid job
func decodeTask(task *queue.Task) (domain.ThumbnailTask, error) {
	var payload domain.ThumbnailTask
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return payload, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}

	if _, err := uuid.Parse(payload.JobID); err != nil {
		return payload, fmt.Errorf("%w: job_id %q is not a UUID", domain.ErrInvalidPayload, payload.JobID)
	}

	if task.ID != "" && task.ID != payload.JobID {
		return payload, fmt.Errorf("%w: task id %s does not match job_id %s", domain.ErrInvalidPayload, task.ID, payload.JobID)
	}

	return payload, nil
}
