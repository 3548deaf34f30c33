// Package redisqueue is the Redis backend of queue.Broker. Job state lives
// in hashes, with a list for ready jobs and sorted sets for leases and
// pending retries. Every transition is a Lua script.
package redisqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/imrishuroy/go-order-pipeline/internal/queue"
)

type Queue struct {
	client redis.UniversalClient
	cfg    queue.Config
	keys   keys
	now    func() time.Time
	logger *slog.Logger
}

type Option func(*Queue)

func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

func New(client redis.UniversalClient, cfg queue.Config, logger *slog.Logger, opts ...Option) *Queue {
	cfg = cfg.WithDefaults()
	q := &Queue{
		client: client,
		cfg:    cfg,
		keys:   newKeys(cfg.Name),
		now:    time.Now,
		logger: logger.With("component", "queue.redis", "queue", cfg.Name),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

var _ queue.Broker = (*Queue)(nil)
var _ queue.Maintainer = (*Queue)(nil)
var _ queue.Deduplicator = (*Queue)(nil)

// DeduplicatesJobIDs is always true: the enqueue script skips ids that have a job hash.
func (q *Queue) DeduplicatesJobIDs() bool { return true }

func (q *Queue) Enqueue(ctx context.Context, p queue.Payload, opts ...queue.EnqueueOption) (string, error) {
	o := queue.ApplyEnqueueOptions(opts...)

	id := o.JobID
	if id == "" {
		n, err := q.client.Incr(ctx, q.keys.seq()).Result()
		if err != nil {
			return "", fmt.Errorf("next job id: %w", err)
		}
		id = strconv.FormatInt(n, 10)
	}

	now := q.now()
	created, err := enqueueScript.Run(ctx, q.client,
		[]string{q.keys.job(id), q.keys.waiting(), q.keys.delayed()},
		id, p.OrderID, q.cfg.MaxAttempts, ms(now), ms(now.Add(o.Delay)),
	).Int()
	if err != nil {
		return "", fmt.Errorf("enqueue job %s: %w", id, err)
	}
	if created == 0 {
		q.logger.Debug("job already enqueued", "job_id", id)
	}
	return id, nil
}

func (q *Queue) Reserve(ctx context.Context) (*queue.Job, error) {
	token := uuid.NewString()
	id, err := reserveScript.Run(ctx, q.client,
		[]string{q.keys.waiting(), q.keys.delayed(), q.keys.active()},
		ms(q.now()), q.cfg.Lease.Milliseconds(), token, q.keys.jobPrefix(),
	).Text()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reserve: %w", err)
	}

	job, err := q.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("reserved job %s has no data", id)
	}
	job.Receipt = token
	return job, nil
}

func (q *Queue) Complete(ctx context.Context, job *queue.Job) error {
	res, err := completeScript.Run(ctx, q.client,
		[]string{q.keys.job(job.ID), q.keys.active(), q.keys.completed()},
		job.ID, job.Receipt, ms(q.now()), q.cfg.RemoveOnComplete, q.keys.jobPrefix(),
	).Int()
	if err != nil {
		return fmt.Errorf("complete job %s: %w", job.ID, err)
	}
	if res < 0 {
		return fmt.Errorf("job %s: %w", job.ID, queue.ErrLeaseLost)
	}
	now := q.now()
	job.State = queue.StateCompleted
	job.FinishedAt = &now
	job.Receipt = ""
	return nil
}

func (q *Queue) Fail(ctx context.Context, job *queue.Job, cause error) (bool, error) {
	backoff := q.cfg.Backoff(job.AttemptsMade + 1)
	res, err := failScript.Run(ctx, q.client,
		[]string{q.keys.job(job.ID), q.keys.active(), q.keys.delayed(), q.keys.failed()},
		job.ID, job.Receipt, ms(q.now()), cause.Error(), backoff.Milliseconds(), q.cfg.RemoveOnFail, q.keys.jobPrefix(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("fail job %s: %w", job.ID, err)
	}
	if res < 0 {
		return false, fmt.Errorf("job %s: %w", job.ID, queue.ErrLeaseLost)
	}

	stored, err := q.load(ctx, job.ID)
	if err != nil {
		return res == 1, err
	}
	if stored == nil {
		// trimmed straight away by a tiny RemoveOnFail
		job.AttemptsMade++
		job.FailedReason = cause.Error()
		job.State = queue.StateFailed
		job.Receipt = ""
		return true, nil
	}
	*job = *stored
	return res == 1, nil
}

// Maintain promotes due delayed jobs and reclaims expired leases.
func (q *Queue) Maintain(ctx context.Context) ([]*queue.Job, error) {
	ids, err := maintainScript.Run(ctx, q.client,
		[]string{q.keys.waiting(), q.keys.delayed(), q.keys.active(), q.keys.failed()},
		ms(q.now()), q.cfg.RemoveOnFail, q.keys.jobPrefix(),
	).StringSlice()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("maintain: %w", err)
	}

	exhausted := make([]*queue.Job, 0, len(ids))
	for _, id := range ids {
		job, err := q.load(ctx, id)
		if err != nil {
			return exhausted, err
		}
		if job != nil {
			exhausted = append(exhausted, job)
		}
	}
	return exhausted, nil
}

func (q *Queue) Counts(ctx context.Context) (queue.Counts, error) {
	pipe := q.client.Pipeline()
	waiting := pipe.LLen(ctx, q.keys.waiting())
	active := pipe.ZCard(ctx, q.keys.active())
	completed := pipe.LLen(ctx, q.keys.completed())
	failed := pipe.LLen(ctx, q.keys.failed())
	delayed := pipe.ZCard(ctx, q.keys.delayed())
	if _, err := pipe.Exec(ctx); err != nil {
		return queue.Counts{}, fmt.Errorf("queue counts: %w", err)
	}
	return queue.Counts{
		Waiting:   waiting.Val(),
		Active:    active.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
		Delayed:   delayed.Val(),
	}, nil
}

// Job returns the stored job, or nil once it has been trimmed.
func (q *Queue) Job(ctx context.Context, id string) (*queue.Job, error) {
	return q.load(ctx, id)
}

func (q *Queue) load(ctx context.Context, id string) (*queue.Job, error) {
	fields, err := q.client.HGetAll(ctx, q.keys.job(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return jobFromHash(fields)
}

func jobFromHash(h map[string]string) (*queue.Job, error) {
	job := &queue.Job{
		ID:           h["id"],
		Payload:      queue.Payload{OrderID: h["order_id"]},
		State:        queue.State(h["state"]),
		FailedReason: h["failed_reason"],
	}
	var err error
	if job.AttemptsMade, err = atoi(h, "attempts_made"); err != nil {
		return nil, err
	}
	if job.MaxAttempts, err = atoi(h, "max_attempts"); err != nil {
		return nil, err
	}
	if job.CreatedAt, err = unixMS(h, "created_at"); err != nil {
		return nil, err
	}
	if job.ProcessAt, err = unixMS(h, "process_at"); err != nil {
		return nil, err
	}
	if _, ok := h["finished_at"]; ok {
		t, err := unixMS(h, "finished_at")
		if err != nil {
			return nil, err
		}
		job.FinishedAt = &t
	}
	return job, nil
}

func atoi(h map[string]string, field string) (int, error) {
	n, err := strconv.Atoi(h[field])
	if err != nil {
		return 0, fmt.Errorf("job field %s: %w", field, err)
	}
	return n, nil
}

func unixMS(h map[string]string, field string) (time.Time, error) {
	n, err := strconv.ParseInt(h[field], 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("job field %s: %w", field, err)
	}
	return time.UnixMilli(n).UTC(), nil
}

func ms(t time.Time) int64 { return t.UnixMilli() }
