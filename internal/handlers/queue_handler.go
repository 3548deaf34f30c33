package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-order-pipeline/internal/introspection"
	"github.com/imrishuroy/go-order-pipeline/internal/queue"
)

// Introspector reports queue state.
type Introspector interface {
	QueueInfo(ctx context.Context) (queue.Counts, error)
	DeadLetterJobs(ctx context.Context) ([]introspection.DeadLetterJob, error)
}

// RegisterQueueRoutes registers the queue metrics and dead-letter routes.
func RegisterQueueRoutes(r gin.IRouter, cfg HandlerConfig) {
	r.GET("/queue/metrics", func(c *gin.Context) {
		counts, err := cfg.Introspection.QueueInfo(c.Request.Context())
		if err != nil {
			writeError(c, cfg.Logger, err)
			return
		}
		c.JSON(http.StatusOK, counts)
	})

	r.GET("/queue/dlq", func(c *gin.Context) {
		jobs, err := cfg.Introspection.DeadLetterJobs(c.Request.Context())
		if err != nil {
			writeError(c, cfg.Logger, err)
			return
		}
		c.JSON(http.StatusOK, jobs)
	})
}
