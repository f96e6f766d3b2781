package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	statusEventName   = "jobStatusUpdate"
	keepAliveInterval = 15 * time.Second
)

// StreamEvents handles GET /api/v1/events
// Streams the caller's job status changes as server-sent events until the client leaves
func (h *JobHandler) StreamEvents(c *gin.Context) {
	owner := ownerID(c)
	conn := h.relay.Attach(owner, h.clientBuffer)
	defer conn.Close()

	h.logger.Info("Status stream opened", slog.String("owner_id", owner))

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("Status stream closed", slog.String("owner_id", owner))
			return
		case event, ok := <-conn.Events():
			if !ok {
				return
			}
			c.SSEvent(statusEventName, event)
			c.Writer.Flush()
		case <-keepAlive.C:
			c.SSEvent("ping", time.Now().UnixMilli())
			c.Writer.Flush()
		}
	}
}
