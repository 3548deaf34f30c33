package orders

import "github.com/shopspring/decimal"

// CreateOrderCommand is a validated request to create an order.
type CreateOrderCommand struct {
	// IdempotencyKey identifies the logical submission. Optional; a new key
	// is generated when empty.
	IdempotencyKey string `json:"-" validate:"omitempty,max=128"`

	Customer CustomerInput `json:"customer"`
	Items    []ItemInput   `json:"items" validate:"required,min=1,dive"`
	Currency string        `json:"currency" validate:"required,len=3,alpha"`
}

type CustomerInput struct {
	Name       string `json:"name" validate:"required,notblank"`
	Email      string `json:"email" validate:"required,email"`
	PostalCode string `json:"postal_code" validate:"required,notblank"`
}

type ItemInput struct {
	SKU       string          `json:"sku" validate:"required,notblank"`
	Quantity  int             `json:"quantity" validate:"gte=0"`
	UnitPrice decimal.Decimal `json:"unit_price" validate:"gte=0"`
}
