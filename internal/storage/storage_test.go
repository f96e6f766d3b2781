package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/thumbnail-pipeline/internal/domain"
	"github.com/cuongbtq/thumbnail-pipeline/shared/logger"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time {
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

func newTestStorage(t *testing.T) (*Storage, *fakeClock) {
	t.Helper()

	db, err := sqlx.Open("sqlite3", "file::memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	clock := &fakeClock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	s := NewStorage(db, logger.NewNop().Logger)
	s.now = clock.now

	require.NoError(t, s.Migrate(context.Background()))
	// a second run must be a no-op
	require.NoError(t, s.Migrate(context.Background()))
	return s, clock
}

func newJob(owner string) *domain.Job {
	return &domain.Job{
		ID:               uuid.NewString(),
		OwnerID:          owner,
		OriginalFilename: "cat.jpg",
		SourceRef:        "/uploads/cat.jpg",
		MediaKind:        domain.MediaKindImage,
		MimeType:         "image/jpeg",
		SizeBytes:        2048,
	}
}

func TestStorage_CreateAndGet(t *testing.T) {
	s, _ := newTestStorage(t)
	ctx := context.Background()

	job := newJob("U1")
	job.Status = domain.StatusCompleted // ignored
	job.ArtifactRef = "bogus"           // ignored
	require.NoError(t, s.CreateJob(ctx, job))

	got, err := s.GetJobByID(ctx, job.ID)
	require.NoError(t, err)

	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, "U1", got.OwnerID)
	assert.Equal(t, "cat.jpg", got.OriginalFilename)
	assert.Equal(t, domain.MediaKindImage, got.MediaKind)
	assert.Equal(t, int64(2048), got.SizeBytes)
	assert.Equal(t, domain.StatusPending, got.Status)
	assert.Empty(t, got.ArtifactRef)
	assert.Empty(t, got.ErrorDetail)
	assert.Nil(t, got.CompletedAt)
	assert.True(t, job.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, time.UTC, got.CreatedAt.Location())
}

func TestStorage_CreateDuplicateID(t *testing.T) {
	s, _ := newTestStorage(t)
	ctx := context.Background()

	job := newJob("U1")
	require.NoError(t, s.CreateJob(ctx, job))

	dup := *job
	assert.Error(t, s.CreateJob(ctx, &dup))
}

func TestStorage_GetJobByID_NotFound(t *testing.T) {
	s, _ := newTestStorage(t)

	_, err := s.GetJobByID(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestStorage_TransitionJob_HappyPath(t *testing.T) {
	s, _ := newTestStorage(t)
	ctx := context.Background()

	job := newJob("U1")
	require.NoError(t, s.CreateJob(ctx, job))

	queued, err := s.TransitionJob(ctx, job.ID, domain.StatusPending, domain.StatusQueued, TransitionFields{})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusQueued, queued.Status)
	assert.True(t, queued.UpdatedAt.After(queued.CreatedAt))

	processing, err := s.TransitionJob(ctx, job.ID, domain.StatusQueued, domain.StatusProcessing, TransitionFields{})
	require.NoError(t, err)
	assert.Nil(t, processing.CompletedAt)

	completed, err := s.TransitionJob(ctx, job.ID, domain.StatusProcessing, domain.StatusCompleted, TransitionFields{
		ArtifactRef:       "thumb-" + job.ID + ".jpg",
		ArtifactSizeBytes: 512,
		ErrorDetail:       "ignored",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, completed.Status)
	assert.Equal(t, "thumb-"+job.ID+".jpg", completed.ArtifactRef)
	assert.Equal(t, int64(512), completed.ArtifactSizeBytes)
	assert.Empty(t, completed.ErrorDetail)
	require.NotNil(t, completed.CompletedAt)
}

func TestStorage_TransitionJob_Failed(t *testing.T) {
	s, _ := newTestStorage(t)
	ctx := context.Background()

	job := newJob("U1")
	require.NoError(t, s.CreateJob(ctx, job))
	_, err := s.TransitionJob(ctx, job.ID, domain.StatusPending, domain.StatusQueued, TransitionFields{})
	require.NoError(t, err)
	_, err = s.TransitionJob(ctx, job.ID, domain.StatusQueued, domain.StatusProcessing, TransitionFields{})
	require.NoError(t, err)

	failed, err := s.TransitionJob(ctx, job.ID, domain.StatusProcessing, domain.StatusFailed, TransitionFields{
		ArtifactRef: "ignored",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, failed.Status)
	assert.Equal(t, defaultFailureDetail, failed.ErrorDetail)
	assert.Empty(t, failed.ArtifactRef)
	require.NotNil(t, failed.CompletedAt)
}

func TestStorage_TransitionJob_Rejections(t *testing.T) {
	s, _ := newTestStorage(t)
	ctx := context.Background()

	job := newJob("U1")
	require.NoError(t, s.CreateJob(ctx, job))

	tests := []struct {
		name    string
		from    domain.Status
		to      domain.Status
		fields  TransitionFields
		wantErr error
	}{
		{name: "skip queued", from: domain.StatusPending, to: domain.StatusProcessing, wantErr: domain.ErrInvalidTransition},
		{name: "back to pending", from: domain.StatusQueued, to: domain.StatusPending, wantErr: domain.ErrInvalidTransition},
		{name: "stale from status", from: domain.StatusQueued, to: domain.StatusProcessing, wantErr: domain.ErrInvalidTransition},
		{name: "completed without artifact", from: domain.StatusProcessing, to: domain.StatusCompleted, wantErr: domain.ErrInvalidTransition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.TransitionJob(ctx, job.ID, tt.from, tt.to, tt.fields)
			assert.ErrorIs(t, err, tt.wantErr)

			got, getErr := s.GetJobByID(ctx, job.ID)
			require.NoError(t, getErr)
			assert.Equal(t, domain.StatusPending, got.Status)
		})
	}

	_, err := s.TransitionJob(ctx, uuid.NewString(), domain.StatusPending, domain.StatusQueued, TransitionFields{})
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestStorage_TransitionJob_OnlyOneClaimWins(t *testing.T) {
	s, _ := newTestStorage(t)
	ctx := context.Background()

	job := newJob("U1")
	require.NoError(t, s.CreateJob(ctx, job))
	_, err := s.TransitionJob(ctx, job.ID, domain.StatusPending, domain.StatusQueued, TransitionFields{})
	require.NoError(t, err)

	_, first := s.TransitionJob(ctx, job.ID, domain.StatusQueued, domain.StatusProcessing, TransitionFields{})
	_, second := s.TransitionJob(ctx, job.ID, domain.StatusQueued, domain.StatusProcessing, TransitionFields{})

	assert.NoError(t, first)
	assert.True(t, errors.Is(second, domain.ErrInvalidTransition))
}

func TestStorage_ListJobs_Pagination(t *testing.T) {
	s, _ := newTestStorage(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		job := newJob("U1")
		job.OriginalFilename = fmt.Sprintf("file-%d.jpg", i)
		require.NoError(t, s.CreateJob(ctx, job))
		ids = append(ids, job.ID)
	}
	require.NoError(t, s.CreateJob(ctx, newJob("U2")))

	page, err := s.ListJobs(ctx, JobFilter{OwnerID: "U1", PageSize: 2})
	require.NoError(t, err)
	require.Len(t, page, 3) // one extra signals more
	assert.Equal(t, ids[4], page[0].ID)
	assert.Equal(t, ids[3], page[1].ID)

	last := page[1]
	page, err = s.ListJobs(ctx, JobFilter{
		OwnerID:  "U1",
		PageSize: 2,
		Cursor:   &JobCursor{CreatedAt: last.CreatedAt, JobID: last.ID},
	})
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, ids[2], page[0].ID)
	assert.Equal(t, ids[1], page[1].ID)

	last = page[1]
	page, err = s.ListJobs(ctx, JobFilter{
		OwnerID:  "U1",
		PageSize: 2,
		Cursor:   &JobCursor{CreatedAt: last.CreatedAt, JobID: last.ID},
	})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, ids[0], page[0].ID)
}

func TestStorage_ListJobs_SameTimestampTieBreak(t *testing.T) {
	s, clock := newTestStorage(t)
	ctx := context.Background()

	fixed := clock.t
	s.now = func() time.Time { return fixed }

	a, b := newJob("U1"), newJob("U1")
	a.ID = "00000000-0000-0000-0000-00000000000a"
	b.ID = "00000000-0000-0000-0000-00000000000b"
	require.NoError(t, s.CreateJob(ctx, a))
	require.NoError(t, s.CreateJob(ctx, b))

	page, err := s.ListJobs(ctx, JobFilter{OwnerID: "U1", PageSize: 1})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, b.ID, page[0].ID)

	page, err = s.ListJobs(ctx, JobFilter{
		OwnerID:  "U1",
		PageSize: 1,
		Cursor:   &JobCursor{CreatedAt: page[0].CreatedAt, JobID: page[0].ID},
	})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, a.ID, page[0].ID)
}

func TestStorage_ListJobs_StatusFilter(t *testing.T) {
	s, _ := newTestStorage(t)
	ctx := context.Background()

	queued := newJob("U1")
	require.NoError(t, s.CreateJob(ctx, queued))
	_, err := s.TransitionJob(ctx, queued.ID, domain.StatusPending, domain.StatusQueued, TransitionFields{})
	require.NoError(t, err)
	require.NoError(t, s.CreateJob(ctx, newJob("U1")))

	jobs, err := s.ListJobs(ctx, JobFilter{OwnerID: "U1", Status: domain.StatusQueued, PageSize: 10})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, queued.ID, jobs[0].ID)
}

func TestStorage_DeleteJob(t *testing.T) {
	s, _ := newTestStorage(t)
	ctx := context.Background()

	job := newJob("U1")
	require.NoError(t, s.CreateJob(ctx, job))

	_, err := s.DeleteJob(ctx, job.ID, "U2")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)

	deleted, err := s.DeleteJob(ctx, job.ID, "U1")
	require.NoError(t, err)
	assert.Equal(t, job.SourceRef, deleted.SourceRef)

	_, err = s.GetJobByID(ctx, job.ID)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestStorage_CountByStatus(t *testing.T) {
	s, _ := newTestStorage(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.CreateJob(ctx, newJob("U1")))
	}
	job := newJob("U2")
	require.NoError(t, s.CreateJob(ctx, job))
	_, err := s.TransitionJob(ctx, job.ID, domain.StatusPending, domain.StatusQueued, TransitionFields{})
	require.NoError(t, err)

	counts, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), counts[domain.StatusPending])
	assert.Equal(t, int64(1), counts[domain.StatusQueued])
	assert.Equal(t, int64(0), counts[domain.StatusFailed])
	assert.Len(t, counts, len(domain.AllStatuses))
}

func TestStorage_ListStalePending(t *testing.T) {
	s, clock := newTestStorage(t)
	ctx := context.Background()

	old := newJob("U1")
	require.NoError(t, s.CreateJob(ctx, old))
	oldQueued := newJob("U1")
	require.NoError(t, s.CreateJob(ctx, oldQueued))
	_, err := s.TransitionJob(ctx, oldQueued.ID, domain.StatusPending, domain.StatusQueued, TransitionFields{})
	require.NoError(t, err)

	clock.t = clock.t.Add(time.Hour)
	cutoff := clock.t
	require.NoError(t, s.CreateJob(ctx, newJob("U1")))

	stale, err := s.ListStalePending(ctx, cutoff, 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, old.ID, stale[0].ID)
}
