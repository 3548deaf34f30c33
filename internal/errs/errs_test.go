package errs_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-order-pipeline/internal/errs"
)

func TestValidationError(t *testing.T) {
	t.Run("without cause", func(t *testing.T) {
		err := errs.NewValidationError("items", "must contain at least one item")

		assert.Equal(t, "validation failed: items must contain at least one item", err.Error())
		require.ErrorIs(t, err, errs.ErrValidation)
		assert.NotErrorIs(t, err, errs.ErrNotFound)
	})

	t.Run("with cause", func(t *testing.T) {
		cause := errors.New("cep not found")
		err := errs.NewValidationErrorWithCause("customer.postal_code", "lookup failed", cause)

		assert.Equal(t, "validation failed: customer.postal_code lookup failed (cause: cep not found)", err.Error())
		require.ErrorIs(t, err, errs.ErrValidation)
		require.ErrorIs(t, err, cause)
	})

	t.Run("wrapped keeps type", func(t *testing.T) {
		wrapped := fmt.Errorf("receive order: %w", errs.NewValidationError("currency", "is required"))

		var ve *errs.ValidationError
		require.ErrorAs(t, wrapped, &ve)
		assert.Equal(t, "currency", ve.Field)
	})
}

func TestNotFoundError(t *testing.T) {
	err := errs.NewNotFoundError("order", "abc")
	assert.Equal(t, "order abc: not found", err.Error())
	require.ErrorIs(t, err, errs.ErrNotFound)

	empty := errs.NewNotFoundError("orders", "")
	assert.Equal(t, "orders: not found", empty.Error())
}

func TestEnqueueError(t *testing.T) {
	cause := errors.New("connection refused")
	err := errs.NewEnqueueError("o-1", cause)

	assert.Equal(t, "enqueue failed for order o-1: connection refused", err.Error())
	require.ErrorIs(t, err, errs.ErrEnqueue)
	require.ErrorIs(t, err, cause)
}
