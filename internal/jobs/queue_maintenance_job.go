package jobs

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Maintainer is satisfied by queue.Consumer.
type Maintainer interface {
	Maintain(ctx context.Context) error
}

// QueueMaintenanceJob sweeps the job queue every second.
type QueueMaintenanceJob struct {
	maintainer Maintainer
	cron       *cron.Cron
	logger     *slog.Logger
}

func NewQueueMaintenanceJob(m Maintainer, logger *slog.Logger) *QueueMaintenanceJob {
	return &QueueMaintenanceJob{
		maintainer: m,
		cron:       cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger:     logger.With("component", "queue_maintenance_job"),
	}
}

func (j *QueueMaintenanceJob) Start() error {
	if _, err := j.cron.AddFunc("* * * * * *", func() { j.Run(context.Background()) }); err != nil {
		return err
	}
	j.cron.Start()
	j.logger.Info("queue maintenance job started (running every second)")
	return nil
}

// Run performs one sweep.
func (j *QueueMaintenanceJob) Run(ctx context.Context) {
	if err := j.maintainer.Maintain(ctx); err != nil {
		j.logger.ErrorContext(ctx, "queue maintenance failed", "error", err)
	}
}

// Stop waits for a running sweep to finish.
func (j *QueueMaintenanceJob) Stop() {
	<-j.cron.Stop().Done()
	j.logger.Info("queue maintenance job stopped")
}
