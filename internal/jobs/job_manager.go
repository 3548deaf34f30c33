package jobs

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/imrishuroy/go-order-pipeline/internal/dlq"
)

type job interface {
	Start() error
	Stop()
}

// JobManager coordinates the scheduled jobs of a worker process.
type JobManager struct {
	jobs []job
}

// NewJobManager always schedules queue maintenance. DLQ retention is added
// when store supports purging and maxAge is positive.
func NewJobManager(m Maintainer, store dlq.Store, maxAge time.Duration, logger *slog.Logger) *JobManager {
	jm := &JobManager{jobs: []job{NewQueueMaintenanceJob(m, logger)}}
	if p, ok := store.(dlq.Purger); ok && maxAge > 0 {
		jm.jobs = append(jm.jobs, NewDLQRetentionJob(p, maxAge, logger))
	}
	return jm
}

// StartAll starts every job, stopping the ones already started if one fails.
func (jm *JobManager) StartAll() error {
	for i, j := range jm.jobs {
		if err := j.Start(); err != nil {
			for _, started := range jm.jobs[:i] {
				started.Stop()
			}
			return fmt.Errorf("failed to start job %d: %w", i, err)
		}
	}
	return nil
}

func (jm *JobManager) StopAll() {
	for _, j := range jm.jobs {
		j.Stop()
	}
}
