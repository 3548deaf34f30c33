package queue

import "time"

// Config is the retry and retention policy shared by every backend.
type Config struct {
	Name             string
	MaxAttempts      int
	BackoffBase      time.Duration
	RemoveOnComplete int
	RemoveOnFail     int
	Lease            time.Duration
}

func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		MaxAttempts:      3,
		BackoffBase:      time.Second,
		RemoveOnComplete: 100,
		RemoveOnFail:     1000,
		Lease:            30 * time.Second,
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig(c.Name)
	if c.Name == "" {
		c.Name = "orders-queue"
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = d.BackoffBase
	}
	if c.RemoveOnComplete <= 0 {
		c.RemoveOnComplete = d.RemoveOnComplete
	}
	if c.RemoveOnFail <= 0 {
		c.RemoveOnFail = d.RemoveOnFail
	}
	if c.Lease <= 0 {
		c.Lease = d.Lease
	}
	return c
}

// Backoff returns the delay before the retry that follows failed attempt
// number attempt (1-based): base * 2^(attempt-1).
func (c Config) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	shift := attempt - 1
	if shift > 30 {
		shift = 30
	}
	return c.BackoffBase * time.Duration(1<<uint(shift))
}
