package router

import (
	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/thumbnail-pipeline/internal/api/handler"
)

// Options holds router level settings
type Options struct {
	ServiceName    string
	AllowedOrigins []string
	// MaxUploadBytes caps one upload request; zero means no cap
	MaxUploadBytes int64
}

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies, opts Options) *gin.Engine {
	if opts.ServiceName == "" {
		opts.ServiceName = "thumbnail-api-service"
	}

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware(opts.AllowedOrigins))

	r.GET("/health", handler.Health(opts.ServiceName, deps.HealthChecks))

	jobHandler := handler.NewJobHandler(deps)

	v1 := r.Group("/api/v1", OwnerMiddleware())
	{
		// POST /api/v1/uploads - Upload files for thumbnail generation
		v1.POST("/uploads", MaxBodyMiddleware(opts.MaxUploadBytes), jobHandler.UploadFiles)

		// GET /api/v1/events - Live status stream
		v1.GET("/events", jobHandler.StreamEvents)

		jobs := v1.Group("/jobs")
		{
			jobs.GET("", jobHandler.ListJobs)
			jobs.GET("/:job_id", jobHandler.GetJob)
			jobs.GET("/:job_id/thumbnail", jobHandler.GetThumbnail)
			jobs.DELETE("/:job_id", jobHandler.DeleteJob)
		}
	}

	return r
}
