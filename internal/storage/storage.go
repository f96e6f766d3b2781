package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/cuongbtq/thumbnail-pipeline/internal/domain"
)

const defaultFailureDetail = "thumbnail generation failed"

const jobColumns = `id, owner_id, original_filename, source_ref, media_kind, mime_type, size_bytes,
	status, artifact_ref, artifact_size_bytes, error_detail, created_at, updated_at, completed_at`

// Storage is the job record store. Queries are written with ? placeholders
// and rebound for the connected driver.
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

// JobFilter narrows ListJobs
type JobFilter struct {
	OwnerID  string
	Status   domain.Status
	PageSize int
	Cursor   *JobCursor
}

// JobCursor is the keyset position of the last row of the previous page
type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}

// TransitionFields carries the terminal fields written with a transition
type TransitionFields struct {
	ArtifactRef       string
	ArtifactSizeBytes int64
	ErrorDetail       string
}

type jobRow struct {
	ID                string         `db:"id"`
	OwnerID           string         `db:"owner_id"`
	OriginalFilename  string         `db:"original_filename"`
	SourceRef         string         `db:"source_ref"`
	MediaKind         string         `db:"media_kind"`
	MimeType          string         `db:"mime_type"`
	SizeBytes         int64          `db:"size_bytes"`
	Status            string         `db:"status"`
	ArtifactRef       sql.NullString `db:"artifact_ref"`
	ArtifactSizeBytes sql.NullInt64  `db:"artifact_size_bytes"`
	ErrorDetail       sql.NullString `db:"error_detail"`
	CreatedAt         time.Time      `db:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at"`
	CompletedAt       sql.NullTime   `db:"completed_at"`
}

func (r *jobRow) toDomain() *domain.Job {
	job := &domain.Job{
		ID:                r.ID,
		OwnerID:           r.OwnerID,
		OriginalFilename:  r.OriginalFilename,
		SourceRef:         r.SourceRef,
		MediaKind:         domain.MediaKind(r.MediaKind),
		MimeType:          r.MimeType,
		SizeBytes:         r.SizeBytes,
		Status:            domain.Status(r.Status),
		ArtifactRef:       r.ArtifactRef.String,
		ArtifactSizeBytes: r.ArtifactSizeBytes.Int64,
		ErrorDetail:       r.ErrorDetail.String,
		CreatedAt:         r.CreatedAt.UTC(),
		UpdatedAt:         r.UpdatedAt.UTC(),
	}
	if r.CompletedAt.Valid {
		t := r.CompletedAt.Time.UTC()
		job.CompletedAt = &t
	}
	return job
}

// timestamp normalises times to what both PostgreSQL and SQLite round-trip
func timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// CreateJob inserts a new job. The caller supplies id, owner, source and media
// fields; status is forced to pending and timestamps are set here.
func (s *Storage) CreateJob(ctx context.Context, job *domain.Job) error {
	now := timestamp(s.now())
	job.Status = domain.StatusPending
	job.CreatedAt = now
	job.UpdatedAt = now
	job.ArtifactRef = ""
	job.ArtifactSizeBytes = 0
	job.ErrorDetail = ""
	job.CompletedAt = nil

	query := s.db.Rebind(`
		INSERT INTO jobs (
			id, owner_id, original_filename, source_ref, media_kind,
			mime_type, size_bytes, status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)

	_, err := s.db.ExecContext(ctx, query,
		job.ID,
		job.OwnerID,
		job.OriginalFilename,
		job.SourceRef,
		string(job.MediaKind),
		job.MimeType,
		job.SizeBytes,
		string(job.Status),
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

// GetJobByID retrieves a job by its ID
func (s *Storage) GetJobByID(ctx context.Context, jobID string) (*domain.Job, error) {
	query := s.db.Rebind(`SELECT ` + jobColumns + ` FROM jobs WHERE id = ?`)

	var row jobRow
	if err := s.db.GetContext(ctx, &row, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return row.toDomain(), nil
}

// ListJobs returns jobs newest first. It fetches PageSize+1 rows so the caller
// can tell whether another page exists.
func (s *Storage) ListJobs(ctx context.Context, filter JobFilter) ([]domain.Job, error) {
	var (
		where []string
		args  []interface{}
	)

	if filter.OwnerID != "" {
		where = append(where, "owner_id = ?")
		args = append(args, filter.OwnerID)
	}

	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}

	if filter.Cursor != nil {
		where = append(where, "(created_at < ? OR (created_at = ? AND id < ?))")
		cursorAt := timestamp(filter.Cursor.CreatedAt)
		args = append(args, cursorAt, cursorAt, filter.Cursor.JobID)
	}

	query := `SELECT ` + jobColumns + ` FROM jobs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	// created_at, id DESC keeps pagination stable for jobs created in the same microsecond
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, filter.PageSize+1)

	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	jobs := make([]domain.Job, 0, len(rows))
	for i := range rows {
		jobs = append(jobs, *rows[i].toDomain())
	}
	return jobs, nil
}

// TransitionJob moves a job from one status to the next with optimistic locking.
// It fails with ErrInvalidTransition when the edge is not in the state machine
// or when the job is no longer in the from status.
func (s *Storage) TransitionJob(ctx context.Context, jobID string, from, to domain.Status, fields TransitionFields) (*domain.Job, error) {
	if !domain.CanTransition(from, to) {
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, to)
	}

	now := timestamp(s.now())
	set := []string{"status = ?", "updated_at = ?"}
	args := []interface{}{string(to), now}

	switch to {
	case domain.StatusCompleted:
		if fields.ArtifactRef == "" {
			return nil, fmt.Errorf("%w: completed job requires an artifact ref", domain.ErrInvalidTransition)
		}
		set = append(set, "artifact_ref = ?", "artifact_size_bytes = ?", "completed_at = ?")
		args = append(args, fields.ArtifactRef, fields.ArtifactSizeBytes, now)
	case domain.StatusFailed:
		detail := fields.ErrorDetail
		if detail == "" {
			detail = defaultFailureDetail
		}
		set = append(set, "error_detail = ?", "completed_at = ?")
		args = append(args, detail, now)
	}

	query := s.db.Rebind(`UPDATE jobs SET ` + strings.Join(set, ", ") +
		` WHERE id = ? AND status = ? RETURNING ` + jobColumns)
	args = append(args, jobID, string(from))

	var row jobRow
	err := s.db.QueryRowxContext(ctx, query, args...).StructScan(&row)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("failed to transition job: %w", err)
		}

		current, getErr := s.GetJobByID(ctx, jobID)
		if getErr != nil {
			return nil, getErr
		}

		s.logger.Warn("Job transition lost - status changed concurrently",
			slog.String("job_id", jobID),
			slog.String("expected", string(from)),
			slog.String("actual", string(current.Status)),
			slog.String("target", string(to)),
		)
		return nil, fmt.Errorf("%w: job %s is %s, expected %s", domain.ErrInvalidTransition, jobID, current.Status, from)
	}

	s.logger.Debug("Job status updated",
		slog.String("job_id", jobID),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
	)

	return row.toDomain(), nil
}

// DeleteJob removes a job owned by ownerID and returns the deleted record
func (s *Storage) DeleteJob(ctx context.Context, jobID, ownerID string) (*domain.Job, error) {
	query := s.db.Rebind(`DELETE FROM jobs WHERE id = ? AND owner_id = ? RETURNING ` + jobColumns)

	var row jobRow
	if err := s.db.QueryRowxContext(ctx, query, jobID, ownerID).StructScan(&row); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to delete job: %w", err)
	}

	return row.toDomain(), nil
}

// CountByStatus returns the number of jobs per status. Every status is present in the result.
func (s *Storage) CountByStatus(ctx context.Context) (map[domain.Status]int64, error) {
	var rows []struct {
		Status string `db:"status"`
		Count  int64  `db:"count"`
	}

	if err := s.db.SelectContext(ctx, &rows, `SELECT status, COUNT(*) AS count FROM jobs GROUP BY status`); err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}

	counts := make(map[domain.Status]int64, len(domain.AllStatuses))
	for _, st := range domain.AllStatuses {
		counts[st] = 0
	}
	for _, r := range rows {
		counts[domain.Status(r.Status)] = r.Count
	}
	return counts, nil
}

// ListStalePending returns pending jobs created before the given time, oldest first
func (s *Storage) ListStalePending(ctx context.Context, before time.Time, limit int) ([]domain.Job, error) {
	query := s.db.Rebind(`SELECT ` + jobColumns + ` FROM jobs
		WHERE status = ? AND created_at < ?
		ORDER BY created_at ASC, id ASC
		LIMIT ?`)

	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, query, string(domain.StatusPending), timestamp(before), limit); err != nil {
		return nil, fmt.Errorf("failed to list stale pending jobs: %w", err)
	}

	jobs := make([]domain.Job, 0, len(rows))
	for i := range rows {
		jobs = append(jobs, *rows[i].toDomain())
	}
	return jobs, nil
}
