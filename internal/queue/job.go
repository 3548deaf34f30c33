// Package queue defines the at-least-once job queue that decouples order
// intake from processing, together with the consumer that drives it.
package queue

import "time"

// State is where a job sits in the queue lifecycle.
type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateDelayed   State = "delayed"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Payload is the body of an order processing job.
type Payload struct {
	OrderID string `json:"order_id"`
}

// Job is a unit of work as seen by a consumer.
type Job struct {
	ID           string     `json:"id"`
	Payload      Payload    `json:"payload"`
	AttemptsMade int        `json:"attempts_made"`
	MaxAttempts  int        `json:"max_attempts"`
	State        State      `json:"state"`
	FailedReason string     `json:"failed_reason,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	ProcessAt    time.Time  `json:"process_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`

	// Receipt identifies the current lease (SQS receipt handle, Redis lease token).
	Receipt string `json:"-"`
}

// Counts is a snapshot of queue depth per state.
type Counts struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Delayed   int64 `json:"delayed"`
}
