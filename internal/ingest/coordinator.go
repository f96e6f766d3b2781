// Package ingest turns accepted uploads into queued thumbnail jobs.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/thumbnail-pipeline/internal/domain"
	"github.com/cuongbtq/thumbnail-pipeline/internal/media"
	"github.com/cuongbtq/thumbnail-pipeline/internal/status"
	"github.com/cuongbtq/thumbnail-pipeline/internal/storage"
)

// JobStore is the part of the job record store the coordinator writes to
type JobStore interface {
	CreateJob(ctx context.Context, job *domain.Job) error
	TransitionJob(ctx context.Context, jobID string, from, to domain.Status, fields storage.TransitionFields) (*domain.Job, error)
	ListStalePending(ctx context.Context, before time.Time, limit int) ([]domain.Job, error)
}

// Enqueuer hands tasks to the work queue
type Enqueuer interface {
	Enqueue(ctx context.Context, taskID string, payload []byte) (bool, error)
}

const defaultReconcileLimit = 100

// Validator classifies an upload
type Validator interface {
	Validate(filename, mimeType string, sizeBytes int64) media.Result
}

// ValidationError is returned by Submit when the upload is rejected.
// No job record exists for a rejected upload.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "upload rejected: " + e.Reason
}

// IsValidationError reports whether err is, or wraps, a ValidationError
func IsValidationError(err error) bool {
	var validationErr *ValidationError
	return errors.As(err, &validationErr)
}

// SubmitRequest describes one uploaded file whose bytes are already stored at SourceRef
type SubmitRequest struct {
	OwnerID   string
	SourceRef string
	Filename  string
	MimeType  string
	SizeBytes int64
}

// Coordinator creates job records and enqueues their tasks
type Coordinator struct {
	store     JobStore
	queue     Enqueuer
	validator Validator
	publisher status.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewCoordinator creates a Coordinator
func NewCoordinator(store JobStore, queue Enqueuer, validator Validator, publisher status.Publisher, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		store:     store,
		queue:     queue,
		validator: validator,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// Submit validates the upload, records a pending job, enqueues it and moves it
// to queued. Record creation and enqueue are not atomic: when the enqueue
// fails the pending job is returned with the error and stays pending until
// Reconcile picks it up.
func (c *Coordinator) Submit(ctx context.Context, req SubmitRequest) (*domain.Job, error) {
	result := c.validator.Validate(req.Filename, req.MimeType, req.SizeBytes)
	if !result.Accepted {
		c.logger.Info("Upload rejected",
			slog.String("owner_id", req.OwnerID),
			slog.String("filename", req.Filename),
			slog.String("reason", result.Reason),
		)
		return nil, &ValidationError{Reason: result.Reason}
	}

	job := &domain.Job{
		ID:               uuid.NewString(),
		OwnerID:          req.OwnerID,
		OriginalFilename: req.Filename,
		SourceRef:        req.SourceRef,
		MediaKind:        result.Kind,
		MimeType:         req.MimeType,
		SizeBytes:        req.SizeBytes,
		Status:           domain.StatusPending,
	}

	if err := c.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	c.logger.Info("Job created",
		slog.String("job_id", job.ID),
		slog.String("owner_id", job.OwnerID),
		slog.String("media_kind", string(job.MediaKind)),
	)

	queued, err := c.enqueue(ctx, job)
	if err != nil {
		return job, err
	}
	return queued, nil
}

// enqueue sends the task for a pending job and moves the job to queued
func (c *Coordinator) enqueue(ctx context.Context, job *domain.Job) (*domain.Job, error) {
	payload, err := json.Marshal(domain.TaskFor(job))
	if err != nil {
		return nil, fmt.Errorf("failed to encode task for job %s: %w", job.ID, err)
	}

	enqueued, err := c.queue.Enqueue(ctx, job.ID, payload)
	if err != nil {
		c.logger.Error("Failed to enqueue job, left pending",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("failed to enqueue job %s: %w", job.ID, err)
	}
	if !enqueued {
		c.logger.Debug("Job task already outstanding", slog.String("job_id", job.ID))
	}

	updated, err := c.store.TransitionJob(ctx, job.ID, domain.StatusPending, domain.StatusQueued, storage.TransitionFields{})
	if err != nil {
		return nil, fmt.Errorf("failed to mark job %s queued: %w", job.ID, err)
	}

	c.publish(ctx, updated)
	return updated, nil
}

func (c *Coordinator) publish(ctx context.Context, job *domain.Job) {
	if err := c.publisher.Publish(ctx, status.NewEvent(job, c.now())); err != nil {
		c.logger.Warn("Failed to publish status event",
			slog.String("job_id", job.ID),
			slog.String("status", job.Status.String()),
			slog.String("error", err.Error()),
		)
	}
}

// Reconcile re-enqueues jobs that have been pending for longer than olderThan
// and returns how many were moved to queued. A job that left pending in the
// meantime is skipped.
func (c *Coordinator) Reconcile(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultReconcileLimit
	}

	stale, err := c.store.ListStalePending(ctx, c.now().Add(-olderThan), limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale jobs: %w", err)
	}

	var (
		moved int
		errs  []error
	)
	for i := range stale {
		job := &stale[i]
		if _, err := c.enqueue(ctx, job); err != nil {
			if errors.Is(err, domain.ErrInvalidTransition) {
				c.logger.Debug("Job left pending during reconcile", slog.String("job_id", job.ID))
				continue
			}
			errs = append(errs, err)
			continue
		}
		moved++
	}

	c.logger.Info("Reconcile finished",
		slog.Int("stale", len(stale)),
		slog.Int("requeued", moved),
		slog.Int("failed", len(errs)),
	)

	return moved, errors.Join(errs...)
}
