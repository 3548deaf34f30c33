// Package worker moves queued orders through PROCESSING to COMPLETED and
// dead-letters the ones that run out of attempts.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/imrishuroy/go-order-pipeline/internal/dlq"
	"github.com/imrishuroy/go-order-pipeline/internal/orders"
	"github.com/imrishuroy/go-order-pipeline/internal/queue"
)

// Processor performs the order lifecycle transitions for one job.
type Processor struct {
	orders    orders.Repository
	dlq       dlq.Store
	fulfiller Fulfiller
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
}

func NewProcessor(repo orders.Repository, dead dlq.Store, f Fulfiller, logger *slog.Logger) *Processor {
	return &Processor{
		orders:    repo,
		dlq:       dead,
		fulfiller: f,
		logger:    logger.With("component", "worker.processor"),
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
}

// Process handles one delivery of job. A returned error means the attempt
// failed and the queue should retry it.
func (p *Processor) Process(ctx context.Context, job *queue.Job) error {
	orderID := job.Payload.OrderID
	log := p.logger.With("job_id", job.ID, "order_id", orderID, "attempt", job.AttemptsMade+1)

	// Step 1: read the current order
	order, err := p.orders.Get(ctx, orderID)
	if err != nil {
		return fmt.Errorf("fetch order %s: %w", orderID, err)
	}
	if order == nil {
		log.Warn("order not found, dropping job")
		return nil
	}
	if order.Status.IsTerminal() {
		log.Info("order already final, skipping", "status", order.Status)
		return nil
	}

	// Step 2: RECEIVED or PROCESSING -> PROCESSING
	if err := p.orders.UpdateStatus(ctx, orderID, order.Status, orders.StatusProcessing, ""); err != nil {
		return fmt.Errorf("mark order %s processing: %w", orderID, err)
	}
	order.Status = orders.StatusProcessing

	// Step 3: fulfil, unless a previous delivery already did
	if order.FulfilledAt == nil {
		if err := p.fulfiller.Fulfill(ctx, order); err != nil {
			return fmt.Errorf("fulfill order %s: %w", orderID, err)
		}
		now := p.now()
		order.FulfilledAt = &now
		if err := p.orders.Update(ctx, order); err != nil {
			return fmt.Errorf("record fulfillment of order %s: %w", orderID, err)
		}
	} else {
		log.Info("order already fulfilled, completing")
	}

	// Step 4: PROCESSING -> COMPLETED
	if err := p.orders.UpdateStatus(ctx, orderID, orders.StatusProcessing, orders.StatusCompleted, ""); err != nil {
		return fmt.Errorf("mark order %s completed: %w", orderID, err)
	}

	log.Info("order completed")
	return nil
}

// HandleExhausted dead-letters a job that used all its attempts and marks
// its order FAILED_ENRICHMENT. A repeated call appends no second record
// but still finishes the order if an earlier call could not.
func (p *Processor) HandleExhausted(ctx context.Context, job *queue.Job, cause error) error {
	orderID := job.Payload.OrderID
	reason := job.FailedReason
	if reason == "" && cause != nil {
		reason = cause.Error()
	}

	err := p.dlq.Append(ctx, dlq.Record{
		ID:            p.newID(),
		OriginalJobID: job.ID,
		OrderID:       orderID,
		FailedReason:  reason,
		AttemptsMade:  job.AttemptsMade,
		Timestamp:     p.now(),
	})
	switch {
	case errors.Is(err, dlq.ErrAlreadyRecorded):
		// an earlier call may have stopped before marking the order
		p.logger.Info("job already dead-lettered", "job_id", job.ID, "order_id", orderID)
	case err != nil:
		return fmt.Errorf("dead-letter job %s: %w", job.ID, err)
	default:
		p.logger.Warn("job dead-lettered",
			"job_id", job.ID, "order_id", orderID, "attempts_made", job.AttemptsMade, "reason", reason)
	}

	// the order can move between the read and the write, so retry once on a mismatch
	for try := 0; ; try++ {
		order, err := p.orders.Get(ctx, orderID)
		if err != nil {
			return fmt.Errorf("fetch order %s: %w", orderID, err)
		}
		if order == nil || order.Status.IsTerminal() {
			return nil
		}
		err = p.orders.UpdateStatus(ctx, orderID, order.Status, orders.StatusFailedEnrichment, reason)
		if err == nil {
			return nil
		}
		if !errors.Is(err, orders.ErrStatusMismatch) || try > 0 {
			return fmt.Errorf("mark order %s failed: %w", orderID, err)
		}
	}
}
