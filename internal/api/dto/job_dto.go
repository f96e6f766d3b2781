package dto

import (
	"time"

	"github.com/cuongbtq/thumbnail-pipeline/internal/domain"
)

type ListJobsRequest struct {
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	JobID             string `json:"job_id"`
	OwnerID           string `json:"owner_id"`
	OriginalFilename  string `json:"original_filename"`
	MediaKind         string `json:"media_kind"`
	MimeType          string `json:"mime_type"`
	SizeBytes         int64  `json:"size_bytes"`
	Status            string `json:"status"`
	ArtifactRef       string `json:"artifact_ref,omitempty"`
	ArtifactSizeBytes int64  `json:"artifact_size_bytes,omitempty"`
	ThumbnailURL      string `json:"thumbnail_url,omitempty"`
	ErrorDetail       string `json:"error_detail,omitempty"`
	CreatedAt         string `json:"created_at"`
	UpdatedAt         string `json:"updated_at"`
	CompletedAt       string `json:"completed_at,omitempty"`
}

type UploadResponse struct {
	Jobs   []JobDTO         `json:"jobs"`
	Errors []UploadErrorDTO `json:"errors,omitempty"`
}

type UploadErrorDTO struct {
	Filename string `json:"filename"`
	Error    string `json:"error"`
}

// FromJob converts a job record to its API shape
func FromJob(job *domain.Job) JobDTO {
	out := JobDTO{
		JobID:             job.ID,
		OwnerID:           job.OwnerID,
		OriginalFilename:  job.OriginalFilename,
		MediaKind:         string(job.MediaKind),
		MimeType:          job.MimeType,
		SizeBytes:         job.SizeBytes,
		Status:            job.Status.String(),
		ArtifactRef:       job.ArtifactRef,
		ArtifactSizeBytes: job.ArtifactSizeBytes,
		ErrorDetail:       job.ErrorDetail,
		CreatedAt:         job.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:         job.UpdatedAt.Format(time.RFC3339Nano),
	}
	if job.Status == domain.StatusCompleted {
		out.ThumbnailURL = "/api/v1/jobs/" + job.ID + "/thumbnail"
	}
	if job.CompletedAt != nil {
		out.CompletedAt = job.CompletedAt.Format(time.RFC3339Nano)
	}
	return out
}
