package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/thumbnail-pipeline/internal/artifact"
	"github.com/cuongbtq/thumbnail-pipeline/internal/domain"
	"github.com/cuongbtq/thumbnail-pipeline/internal/ingest"
	"github.com/cuongbtq/thumbnail-pipeline/internal/relay"
	"github.com/cuongbtq/thumbnail-pipeline/internal/storage"
)

// OwnerKey is the gin context key holding the caller's owner id
const OwnerKey = "owner_id"

// JobStore is the part of the job record store the handlers read and delete from
type JobStore interface {
	GetJobByID(ctx context.Context, jobID string) (*domain.Job, error)
	ListJobs(ctx context.Context, filter storage.JobFilter) ([]domain.Job, error)
	DeleteJob(ctx context.Context, jobID, ownerID string) (*domain.Job, error)
}

// Submitter turns a stored upload into a job
type Submitter interface {
	Submit(ctx context.Context, req ingest.SubmitRequest) (*domain.Job, error)
}

// HealthCheck reports whether one dependency is reachable
type HealthCheck func(ctx context.Context) error

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger      *slog.Logger
	Store       JobStore
	Coordinator Submitter
	Artifacts   artifact.Store
	Relay       *relay.Relay
	// UploadDir receives raw upload bytes; the path becomes the job's source ref
	UploadDir string
	// Extensions are listed in rejection messages
	Extensions []string
	// ClientBuffer is the per-connection event buffer of the live status stream
	ClientBuffer int
	HealthChecks map[string]HealthCheck
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger       *slog.Logger
	store        JobStore
	coordinator  Submitter
	artifacts    artifact.Store
	relay        *relay.Relay
	uploadDir    string
	extensions   []string
	clientBuffer int
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:       deps.Logger,
		store:        deps.Store,
		coordinator:  deps.Coordinator,
		artifacts:    deps.Artifacts,
		relay:        deps.Relay,
		uploadDir:    deps.UploadDir,
		extensions:   deps.Extensions,
		clientBuffer: deps.ClientBuffer,
	}
}

// Health handles GET /health
func Health(service string, checks map[string]HealthCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		failing := gin.H{}
		for name, check := range checks {
			if err := check(c.Request.Context()); err != nil {
				failing[name] = err.Error()
			}
		}

		if len(failing) > 0 {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "unhealthy",
				"service": service,
				"errors":  failing,
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": service,
		})
	}
}

func ownerID(c *gin.Context) string {
	return c.GetString(OwnerKey)
}
