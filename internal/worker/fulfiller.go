package worker

import (
	"context"
	"time"

	"github.com/imrishuroy/go-order-pipeline/internal/orders"
)

// Fulfiller performs the business side of processing an order. It may be
// called more than once for the same order if a worker dies between
// fulfilling and recording it.
type Fulfiller interface {
	Fulfill(ctx context.Context, o *orders.Order) error
}

type FulfillerFunc func(ctx context.Context, o *orders.Order) error

func (f FulfillerFunc) Fulfill(ctx context.Context, o *orders.Order) error { return f(ctx, o) }

// DelayFulfiller stands in for real fulfillment by waiting Delay.
type DelayFulfiller struct {
	Delay time.Duration
}

func (f DelayFulfiller) Fulfill(ctx context.Context, o *orders.Order) error {
	if f.Delay <= 0 {
		return nil
	}
	t := time.NewTimer(f.Delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
