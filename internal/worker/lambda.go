package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"

	"github.com/imrishuroy/go-order-pipeline/internal/queue"
)

// EventQueue is the queue behind the SQS trigger. JobFromEvent builds a
// job from a delivered record; Fail counts a failed attempt and delays the
// record's redelivery by the retry backoff.
type EventQueue interface {
	JobFromEvent(msg events.SQSMessage) (*queue.Job, error)
	Fail(ctx context.Context, job *queue.Job, cause error) (exhausted bool, err error)
}

// LambdaHandler runs the Processor for SQS-triggered Lambda invocations.
// SQS counts receives, so a record is an exhausted job once its receive
// count reaches MaxAttempts; such records are dead-lettered and
// acknowledged instead of being handed back to SQS.
type LambdaHandler struct {
	processor *Processor
	queue     EventQueue
	hooks     queue.Hooks
	logger    *slog.Logger
}

func NewLambdaHandler(p *Processor, q EventQueue, hooks queue.Hooks, logger *slog.Logger) *LambdaHandler {
	return &LambdaHandler{
		processor: p,
		queue:     q,
		hooks:     hooks,
		logger:    logger.With("component", "worker.lambda"),
	}
}

// Handle processes a batch and reports the records SQS should redeliver.
func (h *LambdaHandler) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	h.logger.Debug("received SQS batch", "records", len(ev.Records))

	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		if err := h.handleRecord(ctx, rec); err != nil {
			h.logger.Error("record failed", "message_id", rec.MessageId, "error", err)
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
		}
	}
	return resp, nil
}

func (h *LambdaHandler) handleRecord(ctx context.Context, rec events.SQSMessage) error {
	job, err := h.queue.JobFromEvent(rec)
	if err != nil {
		return err
	}

	runErr := h.processor.Process(ctx, job)
	if runErr == nil {
		if h.hooks.OnCompleted != nil {
			h.hooks.OnCompleted(ctx, job)
		}
		return nil
	}

	if job.AttemptsMade+1 < job.MaxAttempts {
		// the record is still reported as failed, so SQS redelivers it
		// once the backoff visibility runs out
		if _, err := h.queue.Fail(ctx, job, runErr); err != nil {
			h.logger.Warn("retry backoff not applied", "job_id", job.ID, "error", err)
		}
		if h.hooks.OnFailed != nil {
			h.hooks.OnFailed(ctx, job, runErr)
		}
		return runErr
	}

	job.AttemptsMade++
	job.FailedReason = runErr.Error()
	if h.hooks.OnFailed != nil {
		h.hooks.OnFailed(ctx, job, runErr)
	}

	job.State = queue.StateFailed
	if h.hooks.OnExhausted != nil {
		h.hooks.OnExhausted(ctx, job)
	}
	if err := h.processor.HandleExhausted(ctx, job, fmt.Errorf("%w: %w", queue.ErrExhausted, runErr)); err != nil {
		return fmt.Errorf("handle exhausted job %s: %w", job.ID, err)
	}
	return nil
}
