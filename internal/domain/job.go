package domain

import (
	"fmt"
	"strings"
	"time"
)

// MediaKind is the category of an uploaded file. It is fixed at creation.
type MediaKind string

const (
	MediaKindImage MediaKind = "image"
	MediaKindVideo MediaKind = "video"
)

// ParseMediaKind converts a stored or transported value into a MediaKind
func ParseMediaKind(s string) (MediaKind, error) {
	switch MediaKind(strings.ToLower(strings.TrimSpace(s))) {
	case MediaKindImage:
		return MediaKindImage, nil
	case MediaKindVideo:
		return MediaKindVideo, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedMediaKind, s)
}

// Job is one thumbnail generation task for one uploaded file.
// ArtifactRef is set iff Status is completed, ErrorDetail iff Status is failed.
type Job struct {
	ID                string
	OwnerID           string
	OriginalFilename  string
	SourceRef         string
	MediaKind         MediaKind
	MimeType          string
	SizeBytes         int64
	Status            Status
	ArtifactRef       string
	ArtifactSizeBytes int64
	ErrorDetail       string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	CompletedAt       *time.Time
}

// ThumbnailTask is the queue payload for a job. The job id doubles as task id.
type ThumbnailTask struct {
	JobID     string    `json:"job_id"`
	OwnerID   string    `json:"owner_id"`
	SourceRef string    `json:"source_ref"`
	MediaKind MediaKind `json:"media_kind"`
	MimeType  string    `json:"mime_type"`
}

// TaskFor builds the queue payload describing job
func TaskFor(job *Job) ThumbnailTask {
	return ThumbnailTask{
		JobID:     job.ID,
		OwnerID:   job.OwnerID,
		SourceRef: job.SourceRef,
		MediaKind: job.MediaKind,
		MimeType:  job.MimeType,
	}
}
