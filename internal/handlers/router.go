// Package handlers exposes the order pipeline over HTTP with gin.
package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/go-order-pipeline/internal/validation"
)

// HandlerConfig groups dependencies for the HTTP handlers.
type HandlerConfig struct {
	Orders        OrderService
	Introspection Introspector
	Validator     *validatorv10.Validate
	Logger        *slog.Logger
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(cfg HandlerConfig) *gin.Engine {
	if cfg.Validator == nil {
		cfg.Validator = validation.New()
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(cfg.Logger))

	// health
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	RegisterOrdersRoutes(r, cfg)
	RegisterQueueRoutes(r, cfg)
	return r
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	log := logger.With("component", "http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		level := slog.LevelInfo
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		log.Log(c.Request.Context(), level, "request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", c.GetHeader("X-Request-Id"),
		)
	}
}
