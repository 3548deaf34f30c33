package queue

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrExhausted wraps the last failure of a job that used all its attempts.
	ErrExhausted = errors.New("job exhausted retries")

	// ErrLeaseLost is returned when completing or failing a job whose lease
	// expired and was handed to someone else.
	ErrLeaseLost = errors.New("job lease lost")
)

type Enqueuer interface {
	Enqueue(ctx context.Context, p Payload, opts ...EnqueueOption) (string, error)
}

type Inspector interface {
	Counts(ctx context.Context) (Counts, error)
}

// Broker is a queue a Consumer can drain.
type Broker interface {
	Enqueuer
	Inspector
	// Reserve leases the next ready job, or returns (nil, nil) when none is ready.
	Reserve(ctx context.Context) (*Job, error)
	Complete(ctx context.Context, job *Job) error
	// Fail records a failed attempt and updates job in place. exhausted is
	// true when no attempts remain and the job moved to the failed set.
	Fail(ctx context.Context, job *Job, cause error) (exhausted bool, err error)
}

// Maintainer is implemented by backends that need a periodic sweep to
// promote due delayed jobs and reclaim expired leases. Jobs that ran out
// of attempts while leased are returned so their exhaustion can be handled.
type Maintainer interface {
	Maintain(ctx context.Context) (exhausted []*Job, err error)
}

// Deduplicator is implemented by brokers that can report whether an
// enqueue with an existing WithJobID id is really dropped.
type Deduplicator interface {
	DeduplicatesJobIDs() bool
}

type EnqueueOptions struct {
	JobID string
	Delay time.Duration
}

type EnqueueOption func(*EnqueueOptions)

// WithJobID sets a caller-chosen id. On a Deduplicator that reports true,
// enqueueing an id that already exists is a no-op.
func WithJobID(id string) EnqueueOption {
	return func(o *EnqueueOptions) { o.JobID = id }
}

func WithDelay(d time.Duration) EnqueueOption {
	return func(o *EnqueueOptions) { o.Delay = d }
}

func ApplyEnqueueOptions(opts ...EnqueueOption) EnqueueOptions {
	var o EnqueueOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
