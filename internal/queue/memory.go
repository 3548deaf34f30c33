package queue

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue is an in-process Broker. It keeps the same state machine
// as the Redis backend and takes an injectable clock so retry timing can
// be driven by tests.
type MemoryQueue struct {
	mu  sync.Mutex
	cfg Config
	now func() time.Time
	seq int64

	jobs      map[string]*Job
	waiting   []string
	active    map[string]time.Time // lease deadline
	delayed   map[string]struct{}
	completed []string
	failed    []string
}

type MemoryOption func(*MemoryQueue)

func WithClock(now func() time.Time) MemoryOption {
	return func(q *MemoryQueue) { q.now = now }
}

func NewMemoryQueue(cfg Config, opts ...MemoryOption) *MemoryQueue {
	q := &MemoryQueue{
		cfg:     cfg.WithDefaults(),
		now:     time.Now,
		jobs:    map[string]*Job{},
		active:  map[string]time.Time{},
		delayed: map[string]struct{}{},
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *MemoryQueue) Enqueue(ctx context.Context, p Payload, opts ...EnqueueOption) (string, error) {
	o := ApplyEnqueueOptions(opts...)

	q.mu.Lock()
	defer q.mu.Unlock()

	id := o.JobID
	if id == "" {
		q.seq++
		id = strconv.FormatInt(q.seq, 10)
	} else if _, exists := q.jobs[id]; exists {
		return id, nil
	}

	now := q.now()
	job := &Job{
		ID:          id,
		Payload:     p,
		MaxAttempts: q.cfg.MaxAttempts,
		State:       StateWaiting,
		CreatedAt:   now,
		ProcessAt:   now.Add(o.Delay),
	}
	q.jobs[id] = job
	if o.Delay > 0 {
		job.State = StateDelayed
		q.delayed[id] = struct{}{}
	} else {
		q.waiting = append(q.waiting, id)
	}
	return id, nil
}

func (q *MemoryQueue) DeduplicatesJobIDs() bool { return true }

func (q *MemoryQueue) Reserve(ctx context.Context) (*Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	q.promoteDueLocked(now)
	if len(q.waiting) == 0 {
		return nil, nil
	}

	id := q.waiting[0]
	q.waiting = q.waiting[1:]
	job := q.jobs[id]
	job.State = StateActive
	job.Receipt = uuid.NewString()
	q.active[id] = now.Add(q.cfg.Lease)

	cp := *job
	return &cp, nil
}

func (q *MemoryQueue) Complete(ctx context.Context, job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	stored, err := q.leasedLocked(job)
	if err != nil {
		return err
	}

	now := q.now()
	delete(q.active, job.ID)
	stored.State = StateCompleted
	stored.FinishedAt = &now
	stored.Receipt = ""
	q.completed = q.retainLocked(append(q.completed, job.ID), q.cfg.RemoveOnComplete)

	job.State = stored.State
	job.FinishedAt = stored.FinishedAt
	return nil
}

func (q *MemoryQueue) Fail(ctx context.Context, job *Job, cause error) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	stored, err := q.leasedLocked(job)
	if err != nil {
		return false, err
	}
	delete(q.active, job.ID)
	exhausted := q.failLocked(stored, cause.Error(), q.now())
	*job = *stored
	return exhausted, nil
}

// Maintain promotes due delayed jobs and reclaims expired leases.
func (q *MemoryQueue) Maintain(ctx context.Context) ([]*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	q.promoteDueLocked(now)

	var expired []string
	for id, deadline := range q.active {
		if !now.Before(deadline) {
			expired = append(expired, id)
		}
	}
	sort.Strings(expired)

	var exhausted []*Job
	for _, id := range expired {
		delete(q.active, id)
		job := q.jobs[id]
		if q.failLocked(job, "lease expired", now) {
			cp := *job
			exhausted = append(exhausted, &cp)
			continue
		}
		// a lost lease is retried right away rather than after backoff
		delete(q.delayed, id)
		job.State = StateWaiting
		job.ProcessAt = now
		q.waiting = append(q.waiting, id)
	}
	return exhausted, nil
}

func (q *MemoryQueue) Counts(ctx context.Context) (Counts, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return Counts{
		Waiting:   int64(len(q.waiting)),
		Active:    int64(len(q.active)),
		Completed: int64(len(q.completed)),
		Failed:    int64(len(q.failed)),
		Delayed:   int64(len(q.delayed)),
	}, nil
}

// Job returns a copy of the stored job, if still retained.
func (q *MemoryQueue) Job(id string) (*Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[id]
	if !ok {
		return nil, false
	}
	cp := *job
	return &cp, true
}

func (q *MemoryQueue) leasedLocked(job *Job) (*Job, error) {
	stored, ok := q.jobs[job.ID]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", job.ID, ErrLeaseLost)
	}
	if _, active := q.active[job.ID]; !active || stored.Receipt != job.Receipt {
		return nil, fmt.Errorf("job %s: %w", job.ID, ErrLeaseLost)
	}
	return stored, nil
}

// failLocked counts one attempt and moves the job to delayed or failed.
func (q *MemoryQueue) failLocked(job *Job, reason string, now time.Time) bool {
	job.AttemptsMade++
	job.FailedReason = reason
	job.Receipt = ""
	if job.AttemptsMade < job.MaxAttempts {
		job.State = StateDelayed
		job.ProcessAt = now.Add(q.cfg.Backoff(job.AttemptsMade))
		q.delayed[job.ID] = struct{}{}
		return false
	}
	job.State = StateFailed
	job.FinishedAt = &now
	q.failed = q.retainLocked(append(q.failed, job.ID), q.cfg.RemoveOnFail)
	return true
}

func (q *MemoryQueue) promoteDueLocked(now time.Time) {
	var due []*Job
	for id := range q.delayed {
		if job := q.jobs[id]; !job.ProcessAt.After(now) {
			due = append(due, job)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].ProcessAt.Equal(due[j].ProcessAt) {
			return due[i].ID < due[j].ID
		}
		return due[i].ProcessAt.Before(due[j].ProcessAt)
	})
	for _, job := range due {
		delete(q.delayed, job.ID)
		job.State = StateWaiting
		q.waiting = append(q.waiting, job.ID)
	}
}

// retainLocked keeps the newest limit ids and forgets the rest.
func (q *MemoryQueue) retainLocked(ids []string, limit int) []string {
	if len(ids) <= limit {
		return ids
	}
	drop := len(ids) - limit
	for _, id := range ids[:drop] {
		delete(q.jobs, id)
	}
	return append([]string(nil), ids[drop:]...)
}
