// Package introspection reports queue depth and dead-lettered jobs.
package introspection

import (
	"context"
	"fmt"

	"github.com/imrishuroy/go-order-pipeline/internal/dlq"
	"github.com/imrishuroy/go-order-pipeline/internal/queue"
)

// DeadLetterJob is the reporting view of a dlq.Record. Timestamp is in
// unix milliseconds.
type DeadLetterJob struct {
	ID            string `json:"id"`
	OriginalJobID string `json:"original_job_id"`
	OrderID       string `json:"order_id"`
	FailedReason  string `json:"failed_reason"`
	AttemptsMade  int    `json:"attempts_made"`
	Timestamp     int64  `json:"timestamp"`
}

type Service struct {
	queue queue.Inspector
	dlq   dlq.Store
}

func NewService(q queue.Inspector, d dlq.Store) *Service {
	return &Service{queue: q, dlq: d}
}

func (s *Service) QueueInfo(ctx context.Context) (queue.Counts, error) {
	counts, err := s.queue.Counts(ctx)
	if err != nil {
		return queue.Counts{}, fmt.Errorf("queue counts: %w", err)
	}
	return counts, nil
}

// DeadLetterJobs lists dead-lettered jobs, oldest first.
func (s *Service) DeadLetterJobs(ctx context.Context) ([]DeadLetterJob, error) {
	records, err := s.dlq.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	out := make([]DeadLetterJob, 0, len(records))
	for _, r := range records {
		out = append(out, DeadLetterJob{
			ID:            r.ID,
			OriginalJobID: r.OriginalJobID,
			OrderID:       r.OrderID,
			FailedReason:  r.FailedReason,
			AttemptsMade:  r.AttemptsMade,
			Timestamp:     r.Timestamp.UnixMilli(),
		})
	}
	return out, nil
}
