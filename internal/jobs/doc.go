// Package jobs runs the periodic maintenance of the order pipeline on
// github.com/robfig/cron/v3 schedules.
//
//   - QueueMaintenanceJob runs every second. It promotes delayed jobs whose
//     backoff has elapsed, reclaims expired leases and dead-letters jobs
//     whose last lease expired.
//   - DLQRetentionJob runs hourly and deletes dead-letter records older
//     than the configured age, for stores that support it.
//
// Both skip a tick while the previous run is still in progress.
package jobs
