package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-order-pipeline/internal/errs"
)

// writeError maps the error taxonomy onto HTTP statuses.
func writeError(c *gin.Context, logger *slog.Logger, err error) {
	var (
		ve *errs.ValidationError
		nf *errs.NotFoundError
		ee *errs.EnqueueError
	)
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "field": ve.Field, "reason": ve.Reason})
	case errors.As(err, &nf):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "detail": nf.Error()})
	case errors.As(err, &ee):
		logger.Error("order not enqueued", "order_id", ee.OrderID, "error", ee.Cause)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "enqueue_failed", "order_id": ee.OrderID})
	default:
		logger.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}
