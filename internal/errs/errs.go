// Package errs defines the error taxonomy shared by intake, query and
// processing code. Each kind has a sentinel for errors.Is checks and a
// struct carrying details and an optional cause.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks a malformed intake command or a failed address lookup.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound marks an empty query result or a missing order.
	ErrNotFound = errors.New("not found")

	// ErrEnqueue marks an order that was persisted but never reached the queue.
	ErrEnqueue = errors.New("enqueue failed")
)

// ValidationError reports which field or check rejected the request.
type ValidationError struct {
	Field  string
	Reason string
	Cause  error
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func NewValidationErrorWithCause(field, reason string, cause error) *ValidationError {
	return &ValidationError{Field: field, Reason: reason, Cause: cause}
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("%s: %s %s", ErrValidation, e.Field, e.Reason)
	if e.Cause != nil {
		msg = fmt.Sprintf("%s (cause: %v)", msg, e.Cause)
	}
	return msg
}

func (e *ValidationError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrValidation}
	}
	return []error{ErrValidation, e.Cause}
}

// NotFoundError names the missing resource.
type NotFoundError struct {
	Resource string
	ID       string
}

func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s: %s", e.Resource, ErrNotFound)
	}
	return fmt.Sprintf("%s %s: %s", e.Resource, e.ID, ErrNotFound)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// EnqueueError is returned when an order row exists but its processing job
// could not be enqueued. Such an order never progresses on its own, so
// callers must treat it as an operational failure.
type EnqueueError struct {
	OrderID string
	Cause   error
}

func NewEnqueueError(orderID string, cause error) *EnqueueError {
	return &EnqueueError{OrderID: orderID, Cause: cause}
}

func (e *EnqueueError) Error() string {
	return fmt.Sprintf("%s for order %s: %v", ErrEnqueue, e.OrderID, e.Cause)
}

func (e *EnqueueError) Unwrap() []error { return []error{ErrEnqueue, e.Cause} }
