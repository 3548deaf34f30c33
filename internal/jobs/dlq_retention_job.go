package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/imrishuroy/go-order-pipeline/internal/dlq"
)

// DLQRetentionJob deletes dead-letter records older than maxAge.
type DLQRetentionJob struct {
	purger dlq.Purger
	maxAge time.Duration
	now    func() time.Time
	cron   *cron.Cron
	logger *slog.Logger
}

func NewDLQRetentionJob(p dlq.Purger, maxAge time.Duration, logger *slog.Logger) *DLQRetentionJob {
	return &DLQRetentionJob{
		purger: p,
		maxAge: maxAge,
		now:    time.Now,
		cron:   cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger: logger.With("component", "dlq_retention_job"),
	}
}

func (j *DLQRetentionJob) Start() error {
	if _, err := j.cron.AddFunc("0 0 * * * *", func() { j.Run(context.Background()) }); err != nil {
		return err
	}
	j.cron.Start()
	j.logger.Info("dlq retention job started (running hourly)", "max_age", j.maxAge.String())
	return nil
}

// Run purges once and returns how many records were removed.
func (j *DLQRetentionJob) Run(ctx context.Context) int {
	n, err := j.purger.PurgeBefore(ctx, j.now().Add(-j.maxAge))
	if err != nil {
		j.logger.ErrorContext(ctx, "dlq retention failed", "error", err)
		return 0
	}
	if n > 0 {
		j.logger.InfoContext(ctx, "purged dead-letter records", "count", n)
	}
	return n
}

func (j *DLQRetentionJob) Stop() {
	<-j.cron.Stop().Done()
	j.logger.Info("dlq retention job stopped")
}
