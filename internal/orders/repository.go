package orders

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrDuplicateIdempotencyKey is returned by Create when the key is taken.
	ErrDuplicateIdempotencyKey = errors.New("idempotency key already used")

	// ErrStatusMismatch is returned when the persisted status differs from the expected one.
	ErrStatusMismatch = errors.New("status mismatch/conditional failed")

	ErrInvalidTransition = errors.New("invalid status transition")
)

// Repository is the durable order store.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	// Get returns (nil, nil) when the order does not exist.
	Get(ctx context.Context, id string) (*Order, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*Order, error)
	// List returns every order, or only those in status when it is non-nil.
	List(ctx context.Context, status *Status) ([]Order, error)
	// Update overwrites the order, provided its persisted status still
	// equals o.Status; otherwise it returns ErrStatusMismatch.
	Update(ctx context.Context, o *Order) error
	// UpdateStatus moves the order from expected to next. reason is stored
	// as the failure reason when next is FAILED_ENRICHMENT.
	UpdateStatus(ctx context.Context, id string, expected, next Status, reason string) error
}

// CheckTransition returns ErrInvalidTransition unless expected may move to next.
func CheckTransition(expected, next Status) error {
	if !expected.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, expected, next)
	}
	return nil
}
