// Package status broadcasts job status changes. Delivery is fire-and-forget:
// an event published while nobody listens is lost, and the job record stays
// the source of truth.
package status

import (
	"context"
	"time"

	"github.com/cuongbtq/thumbnail-pipeline/internal/domain"
)

// DefaultChannel is the broadcast channel name
const DefaultChannel = "job:status:update"

// Event is the wire shape of one status transition
type Event struct {
	JobID       string        `json:"jobId"`
	OwnerID     string        `json:"ownerId"`
	Status      domain.Status `json:"status"`
	ArtifactRef string        `json:"artifactRef,omitempty"`
	ErrorDetail string        `json:"errorDetail,omitempty"`
	// Timestamp is milliseconds since the Unix epoch
	Timestamp int64 `json:"timestamp"`
}

// NewEvent describes the job's current status
func NewEvent(job *domain.Job, at time.Time) Event {
	return Event{
		JobID:       job.ID,
		OwnerID:     job.OwnerID,
		Status:      job.Status,
		ArtifactRef: job.ArtifactRef,
		ErrorDetail: job.ErrorDetail,
		Timestamp:   at.UnixMilli(),
	}
}

// Publisher emits status events
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// PublisherFunc adapts a function to Publisher
type PublisherFunc func(ctx context.Context, event Event) error

func (f PublisherFunc) Publish(ctx context.Context, event Event) error {
	return f(ctx, event)
}
