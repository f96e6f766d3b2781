package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/thumbnail-pipeline/internal/domain"
	"github.com/cuongbtq/thumbnail-pipeline/internal/status"
	"github.com/cuongbtq/thumbnail-pipeline/internal/storage"
	"github.com/cuongbtq/thumbnail-pipeline/internal/thumbnail"
)

// processJob drives one delivered task through the job state machine.
// The returned error decides between ack and release; transform failures are
// recorded on the job and never returned.
func (w *Worker) processJob(ctx context.Context, workerName string, msg *jobMessage) error {
	jobID := msg.payload.JobID
	log := w.logger.With(
		slog.String("worker_name", workerName),
		slog.String("job_id", jobID),
	)

	job, err := w.store.GetJobByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			log.Warn("Job record not found, dropping task")
			return nil
		}
		return domain.NewRetryableError(fmt.Errorf("failed to load job: %w", err))
	}

	switch job.Status {
	case domain.StatusPending:
		return w.handlePending(log, msg)

	case domain.StatusQueued:
		claimed, err := w.store.TransitionJob(ctx, jobID, domain.StatusQueued, domain.StatusProcessing, storage.TransitionFields{})
		if err != nil {
			if errors.Is(err, domain.ErrInvalidTransition) {
				log.Warn("Job claimed by another consumer, skipping", slog.String("error", err.Error()))
				return nil
			}
			return domain.NewRetryableError(fmt.Errorf("failed to claim job: %w", err))
		}
		job = claimed
		w.publish(ctx, log, job)

	case domain.StatusProcessing:
		// the lock expired or a consumer died mid-transform; the artifact key
		// is derived from the job id so running again overwrites
		log.Warn("Job redelivered while processing, running transform again",
			slog.Int("attempt", msg.task.Attempt),
		)

	default:
		log.Info("Job already finished, skipping", slog.String("status", job.Status.String()))
		return nil
	}

	return w.transform(ctx, log, job)
}

// handlePending deals with a task that overtook its coordinator's pending to
// queued update. It is released after a delay until the redelivery budget is
// spent; then the job is left for reconciliation.
func (w *Worker) handlePending(log *slog.Logger, msg *jobMessage) error {
	if msg.task.Attempt >= w.maxPendingRedeliveries {
		log.Warn("Job still pending after redeliveries, leaving it for reconcile",
			slog.Int("attempt", msg.task.Attempt),
		)
		return nil
	}

	if w.pendingRetryDelay > 0 {
		timer := time.NewTimer(w.pendingRetryDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-w.stopChan:
		}
	}

	return domain.NewRetryableError(domain.ErrJobNotReady)
}

// transform runs the media transformer and records the outcome. Shutdown
// does not cancel a running transform; only the job timeout does.
func (w *Worker) transform(ctx context.Context, log *slog.Logger, job *domain.Job) error {
	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.jobTimeout)
	defer cancel()

	started := w.now()
	artifact, err := w.safeTransform(jobCtx, thumbnail.Request{
		JobID:     job.ID,
		SourceRef: job.SourceRef,
		Kind:      job.MediaKind,
		MimeType:  job.MimeType,
	})

	storeCtx := context.WithoutCancel(ctx)

	if err != nil {
		log.Error("Thumbnail generation failed",
			slog.String("media_kind", string(job.MediaKind)),
			slog.String("error", err.Error()),
		)

		failed, updErr := w.store.TransitionJob(storeCtx, job.ID, domain.StatusProcessing, domain.StatusFailed,
			storage.TransitionFields{ErrorDetail: err.Error()})
		return w.finish(storeCtx, log, failed, updErr)
	}

	log.Info("Thumbnail generated",
		slog.String("artifact_ref", artifact.Ref),
		slog.Int64("artifact_size_bytes", artifact.SizeBytes),
		slog.Duration("elapsed", w.now().Sub(started)),
	)

	completed, updErr := w.store.TransitionJob(storeCtx, job.ID, domain.StatusProcessing, domain.StatusCompleted,
		storage.TransitionFields{ArtifactRef: artifact.Ref, ArtifactSizeBytes: artifact.SizeBytes})
	return w.finish(storeCtx, log, completed, updErr)
}

// finish publishes the terminal status or classifies the update error
func (w *Worker) finish(ctx context.Context, log *slog.Logger, job *domain.Job, updErr error) error {
	if updErr != nil {
		if errors.Is(updErr, domain.ErrInvalidTransition) {
			// a concurrent redelivery already finished the job
			log.Warn("Job finished elsewhere, outcome discarded", slog.String("error", updErr.Error()))
			return nil
		}
		log.Error("Failed to record job outcome", slog.String("error", updErr.Error()))
		return domain.NewRetryableError(fmt.Errorf("failed to record job outcome: %w", updErr))
	}

	w.publish(ctx, log, job)
	return nil
}

// safeTransform turns a transformer panic into an ordinary failure
func (w *Worker) safeTransform(ctx context.Context, req thumbnail.Request) (artifact thumbnail.Artifact, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transform panicked: %v", r)
		}
	}()
	return w.transformer.Transform(ctx, req)
}

func (w *Worker) publish(ctx context.Context, log *slog.Logger, job *domain.Job) {
	if err := w.publisher.Publish(ctx, status.NewEvent(job, w.now())); err != nil {
		log.Warn("Failed to publish status event",
			slog.String("status", job.Status.String()),
			slog.String("error", err.Error()),
		)
	}
}
