package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// Handler processes one job attempt. A returned error counts as a failed attempt.
type Handler func(ctx context.Context, job *Job) error

// ExhaustionListener is told about a job that failed its last attempt.
// cause wraps ErrExhausted.
type ExhaustionListener func(ctx context.Context, job *Job, cause error) error

// Hooks observe job outcomes, e.g. to publish metrics. All are optional.
type Hooks struct {
	OnCompleted func(ctx context.Context, job *Job)
	OnFailed    func(ctx context.Context, job *Job, err error)
	OnExhausted func(ctx context.Context, job *Job)
}

type ConsumerConfig struct {
	Concurrency  int
	PollInterval time.Duration
	// ListenerAttempts bounds the calls to a failing exhaustion listener,
	// ListenerBackoff is the pause before the second call and doubles after.
	ListenerAttempts int
	ListenerBackoff  time.Duration
}

// Consumer drains a Broker with a fixed pool of goroutines.
type Consumer struct {
	broker    Broker
	handler   Handler
	cfg       ConsumerConfig
	hooks     Hooks
	listeners []ExhaustionListener
	logger    *slog.Logger
}

func NewConsumer(broker Broker, handler Handler, cfg ConsumerConfig, logger *slog.Logger) *Consumer {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.ListenerAttempts <= 0 {
		cfg.ListenerAttempts = 3
	}
	if cfg.ListenerBackoff <= 0 {
		cfg.ListenerBackoff = 200 * time.Millisecond
	}
	return &Consumer{
		broker:  broker,
		handler: handler,
		cfg:     cfg,
		logger:  logger.With("component", "queue.consumer"),
	}
}

// OnExhausted registers l. Register listeners before Run. A listener that
// returns an error is called again, so it must tolerate repeats.
func (c *Consumer) OnExhausted(l ExhaustionListener) {
	c.listeners = append(c.listeners, l)
}

func (c *Consumer) SetHooks(h Hooks) {
	c.hooks = h
}

// Run starts the worker pool and blocks until ctx is cancelled and every
// in-flight job has returned.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("consumer started", "concurrency", c.cfg.Concurrency)

	var wg sync.WaitGroup
	for i := 0; i < c.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			c.loop(ctx, worker)
		}(i)
	}
	wg.Wait()

	c.logger.Info("consumer stopped")
	return nil
}

func (c *Consumer) loop(ctx context.Context, worker int) {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		// drain without waiting while jobs are ready
		for {
			if ctx.Err() != nil {
				return
			}
			ok, err := c.ProcessNext(ctx)
			if err != nil && ctx.Err() == nil {
				c.logger.Error("process next", "worker", worker, "error", err)
			}
			if !ok || err != nil {
				break
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ProcessNext reserves and handles a single job. It reports whether a job
// was available.
func (c *Consumer) ProcessNext(ctx context.Context) (bool, error) {
	job, err := c.broker.Reserve(ctx)
	if err != nil {
		return false, fmt.Errorf("reserve: %w", err)
	}
	if job == nil {
		return false, nil
	}

	log := c.logger.With("job_id", job.ID, "order_id", job.Payload.OrderID, "attempt", job.AttemptsMade+1)

	// processing must outlive a shutdown signal long enough to settle the lease
	runErr := c.run(context.WithoutCancel(ctx), job)
	if runErr == nil {
		if err := c.broker.Complete(context.WithoutCancel(ctx), job); err != nil {
			return true, fmt.Errorf("complete job %s: %w", job.ID, err)
		}
		log.Debug("job completed")
		if c.hooks.OnCompleted != nil {
			c.hooks.OnCompleted(ctx, job)
		}
		return true, nil
	}

	exhausted, err := c.broker.Fail(context.WithoutCancel(ctx), job, runErr)
	if err != nil {
		return true, fmt.Errorf("fail job %s: %w", job.ID, err)
	}
	log.Warn("job attempt failed", "error", runErr, "attempts_made", job.AttemptsMade, "exhausted", exhausted)
	if c.hooks.OnFailed != nil {
		c.hooks.OnFailed(ctx, job, runErr)
	}
	if exhausted {
		c.exhaust(context.WithoutCancel(ctx), job, runErr)
	}
	return true, nil
}

// Maintain runs the broker's sweep, if it has one, and handles jobs that
// ran out of attempts while their lease was lost.
func (c *Consumer) Maintain(ctx context.Context) error {
	m, ok := c.broker.(Maintainer)
	if !ok {
		return nil
	}
	exhausted, err := m.Maintain(ctx)
	if err != nil {
		return fmt.Errorf("maintain: %w", err)
	}
	for _, job := range exhausted {
		c.logger.Warn("job lease expired on last attempt", "job_id", job.ID, "order_id", job.Payload.OrderID)
		c.exhaust(ctx, job, errors.New(job.FailedReason))
	}
	return nil
}

func (c *Consumer) run(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("handler panic", "job_id", job.ID, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return c.handler(ctx, job)
}

func (c *Consumer) exhaust(ctx context.Context, job *Job, cause error) {
	if c.hooks.OnExhausted != nil {
		c.hooks.OnExhausted(ctx, job)
	}
	wrapped := fmt.Errorf("%w: %w", ErrExhausted, cause)
	for _, l := range c.listeners {
		if err := c.notify(ctx, l, job, wrapped); err != nil {
			c.logger.Error("exhaustion listener failed",
				"job_id", job.ID, "order_id", job.Payload.OrderID, "error", err)
		}
	}
}

func (c *Consumer) notify(ctx context.Context, l ExhaustionListener, job *Job, cause error) error {
	wait := c.cfg.ListenerBackoff
	var err error
	for attempt := 1; ; attempt++ {
		if err = l(ctx, job, cause); err == nil || attempt >= c.cfg.ListenerAttempts {
			return err
		}
		c.logger.Warn("exhaustion listener failed, retrying",
			"job_id", job.ID, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return err
		case <-time.After(wait):
		}
		wait *= 2
	}
}
