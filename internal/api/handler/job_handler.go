package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cuongbtq/thumbnail-pipeline/internal/api/dto"
	"github.com/cuongbtq/thumbnail-pipeline/internal/artifact"
	"github.com/cuongbtq/thumbnail-pipeline/internal/domain"
	"github.com/cuongbtq/thumbnail-pipeline/internal/ingest"
	"github.com/cuongbtq/thumbnail-pipeline/internal/media"
	"github.com/cuongbtq/thumbnail-pipeline/internal/storage"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// UploadFiles handles POST /api/v1/uploads
// Stores each multipart "files" part and submits it as a thumbnail job
func (h *JobHandler) UploadFiles(c *gin.Context) {
	owner := ownerID(c)

	form, err := c.MultipartForm()
	if err != nil {
		h.logger.Warn("Invalid multipart form", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid multipart form",
		})
		return
	}

	files := form.File["files"]
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": `at least one file is required in field "files"`,
		})
		return
	}

	resp := dto.UploadResponse{Jobs: []dto.JobDTO{}}
	for _, fh := range files {
		job, err := h.submitFile(c, owner, fh)
		if err != nil {
			resp.Errors = append(resp.Errors, dto.UploadErrorDTO{
				Filename: fh.Filename,
				Error:    err.Error(),
			})
			continue
		}
		resp.Jobs = append(resp.Jobs, dto.FromJob(job))
	}

	if len(resp.Jobs) == 0 {
		c.JSON(http.StatusBadRequest, resp)
		return
	}

	c.JSON(http.StatusAccepted, resp)
}

// submitFile stores one upload and submits it. The stored bytes are removed
// unless a job record now points at them.
func (h *JobHandler) submitFile(c *gin.Context, owner string, fh *multipart.FileHeader) (*domain.Job, error) {
	filename := filepath.Base(fh.Filename)
	dst := filepath.Join(h.uploadDir, uuid.NewString()+strings.ToLower(filepath.Ext(filename)))

	if err := c.SaveUploadedFile(fh, dst); err != nil {
		h.logger.Error("Failed to store upload",
			slog.String("filename", filename),
			slog.String("error", err.Error()),
		)
		return nil, errors.New("failed to store file")
	}

	mimeType := fh.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = media.ContentTypeFor(filename)
	}

	job, err := h.coordinator.Submit(c.Request.Context(), ingest.SubmitRequest{
		OwnerID:   owner,
		SourceRef: dst,
		Filename:  filename,
		MimeType:  mimeType,
		SizeBytes: fh.Size,
	})
	if err == nil {
		return job, nil
	}

	if job != nil {
		// the record exists at pending and keeps its source bytes for reconcile
		return nil, errors.New("file accepted but could not be queued, it will be retried")
	}

	h.discard(dst)

	var validationErr *ingest.ValidationError
	if errors.As(err, &validationErr) {
		msg := validationErr.Reason
		if len(h.extensions) > 0 {
			msg += "; supported extensions: " + strings.Join(h.extensions, ", ")
		}
		return nil, errors.New(msg)
	}

	h.logger.Error("Failed to submit upload",
		slog.String("filename", filename),
		slog.String("error", err.Error()),
	)
	return nil, errors.New("failed to create job")
}

func (h *JobHandler) discard(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		h.logger.Warn("Failed to remove upload", slog.String("path", path), slog.String("error", err.Error()))
	}
}

// GetJob handles GET /api/v1/jobs/:job_id
func (h *JobHandler) GetJob(c *gin.Context) {
	job, ok := h.loadOwnedJob(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, dto.FromJob(job))
}

// ListJobs handles GET /api/v1/jobs
// Lists the caller's jobs newest first with cursor pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}
	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	st := domain.Status(strings.ToLower(req.Status))
	if st != "" && !st.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("unknown status %q", req.Status),
		})
		return
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	jobs, err := h.store.ListJobs(c.Request.Context(), storage.JobFilter{
		OwnerID:  ownerID(c),
		Status:   st,
		PageSize: req.PageSize,
		Cursor:   cursor,
	})
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list jobs",
		})
		return
	}

	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	jobResponse := make([]dto.JobDTO, len(jobs))
	for i := range jobs {
		jobResponse[i] = dto.FromJob(&jobs[i])
	}

	var nextCursor string
	if hasMore {
		lastJob := jobs[len(jobs)-1]
		nextCursor = EncodeJobCursor(&storage.JobCursor{
			CreatedAt: lastJob.CreatedAt,
			JobID:     lastJob.ID,
		})
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:       jobResponse,
		NextCursor: nextCursor,
	})
}

// DeleteJob handles DELETE /api/v1/jobs/:job_id
// Removes a finished job together with its source bytes and thumbnail
func (h *JobHandler) DeleteJob(c *gin.Context) {
	job, ok := h.loadOwnedJob(c)
	if !ok {
		return
	}

	if !job.Status.IsTerminal() {
		c.JSON(http.StatusConflict, gin.H{
			"error":  "job is still in progress",
			"status": job.Status.String(),
		})
		return
	}

	deleted, err := h.store.DeleteJob(c.Request.Context(), job.ID, job.OwnerID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		h.logger.Error("Failed to delete job", slog.String("job_id", job.ID), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to delete job",
		})
		return
	}

	h.removeFiles(context.WithoutCancel(c.Request.Context()), deleted)
	c.Status(http.StatusNoContent)
}

func (h *JobHandler) removeFiles(ctx context.Context, job *domain.Job) {
	if job.SourceRef != "" {
		h.discard(job.SourceRef)
	}
	if job.ArtifactRef != "" {
		if err := h.artifacts.Delete(ctx, job.ArtifactRef); err != nil {
			h.logger.Warn("Failed to delete thumbnail",
				slog.String("job_id", job.ID),
				slog.String("artifact_ref", job.ArtifactRef),
				slog.String("error", err.Error()),
			)
		}
	}
}

// GetThumbnail handles GET /api/v1/jobs/:job_id/thumbnail
func (h *JobHandler) GetThumbnail(c *gin.Context) {
	job, ok := h.loadOwnedJob(c)
	if !ok {
		return
	}

	if job.Status != domain.StatusCompleted {
		c.JSON(http.StatusConflict, gin.H{
			"error":  "thumbnail not available",
			"status": job.Status.String(),
		})
		return
	}

	rc, obj, err := h.artifacts.Open(c.Request.Context(), job.ArtifactRef)
	if err != nil {
		if errors.Is(err, artifact.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "thumbnail not found"})
			return
		}
		h.logger.Error("Failed to open thumbnail",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to open thumbnail"})
		return
	}
	defer rc.Close()

	contentType := obj.ContentType
	if contentType == "" {
		contentType = media.ContentTypeFor(job.ArtifactRef)
	}

	c.DataFromReader(http.StatusOK, obj.Size, contentType, rc, map[string]string{
		"Cache-Control": "private, max-age=3600",
	})
}

// loadOwnedJob resolves :job_id for the caller and writes the error response
// when it cannot. Jobs of other owners are reported as not found.
func (h *JobHandler) loadOwnedJob(c *gin.Context) (*domain.Job, bool) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return nil, false
	}

	job, err := h.store.GetJobByID(c.Request.Context(), jobID)
	if err == nil && job.OwnerID != ownerID(c) {
		err = domain.ErrJobNotFound
	}
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return nil, false
		}
		h.logger.Error("Failed to get job", slog.String("job_id", jobID), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job",
		})
		return nil, false
	}

	return job, true
}
