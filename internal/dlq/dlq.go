// Package dlq keeps the dead-letter record of jobs that exhausted their
// retries. Records are written once per original job and never changed.
package dlq

import (
	"context"
	"errors"
	"time"
)

// ErrAlreadyRecorded is returned by Append when the original job already has a record.
var ErrAlreadyRecorded = errors.New("dead-letter record already exists for job")

type Record struct {
	ID            string    `json:"id" dynamodbav:"id"`
	OriginalJobID string    `json:"original_job_id" dynamodbav:"original_job_id"` // PK
	OrderID       string    `json:"order_id" dynamodbav:"order_id"`
	FailedReason  string    `json:"failed_reason" dynamodbav:"failed_reason"`
	AttemptsMade  int       `json:"attempts_made" dynamodbav:"attempts_made"`
	Timestamp     time.Time `json:"timestamp" dynamodbav:"timestamp,unixtime"`
}

type Store interface {
	Append(ctx context.Context, r Record) error
	// List returns records oldest first.
	List(ctx context.Context) ([]Record, error)
}

// Purger is implemented by stores that support age-based retention.
type Purger interface {
	PurgeBefore(ctx context.Context, cutoff time.Time) (int, error)
}
