package postgres

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"github.com/imrishuroy/go-order-pipeline/internal/dlq"
	"github.com/imrishuroy/go-order-pipeline/internal/orders"
)

// OrderDTO is the orders row. Customer and items are kept as jsonb.
type OrderDTO struct {
	ID                string                              `gorm:"column:id;primaryKey;type:varchar(64)"`
	IdempotencyKey    string                              `gorm:"column:idempotency_key;type:varchar(128);not null;uniqueIndex:uk_orders_idempotency_key"`
	Customer          datatypes.JSONType[orders.Customer] `gorm:"column:customer;type:jsonb;not null"`
	Items             datatypes.JSONSlice[orders.Item]    `gorm:"column:items;type:jsonb;not null"`
	Currency          string                              `gorm:"column:currency;type:varchar(3);not null"`
	Status            string                              `gorm:"column:status;type:varchar(32);not null;index:idx_orders_status"`
	TotalAmount       *decimal.Decimal                    `gorm:"column:total_amount;type:numeric(18,2)"`
	ConvertedAmount   *decimal.Decimal                    `gorm:"column:converted_amount;type:numeric(18,2)"`
	ConvertedCurrency *string                             `gorm:"column:converted_currency;type:varchar(3)"`
	FailureReason     *string                             `gorm:"column:failure_reason;type:text"`
	FulfilledAt       *time.Time                          `gorm:"column:fulfilled_at"`
	CreatedAt         time.Time                           `gorm:"column:created_at;not null;index:idx_orders_created_at"`
	UpdatedAt         time.Time                           `gorm:"column:updated_at;not null"`
}

func (OrderDTO) TableName() string { return "orders" }

func orderFromDomain(o *orders.Order) OrderDTO {
	return OrderDTO{
		ID:                o.ID,
		IdempotencyKey:    o.IdempotencyKey,
		Customer:          datatypes.NewJSONType(o.Customer),
		Items:             datatypes.JSONSlice[orders.Item](o.Items),
		Currency:          o.Currency,
		Status:            string(o.Status),
		TotalAmount:       moneyToDecimal(o.TotalAmount),
		ConvertedAmount:   moneyToDecimal(o.ConvertedAmount),
		ConvertedCurrency: o.ConvertedCurrency,
		FailureReason:     o.FailureReason,
		FulfilledAt:       o.FulfilledAt,
		CreatedAt:         o.CreatedAt,
		UpdatedAt:         o.UpdatedAt,
	}
}

func (d OrderDTO) toDomain() orders.Order {
	return orders.Order{
		ID:                d.ID,
		IdempotencyKey:    d.IdempotencyKey,
		Customer:          d.Customer.Data(),
		Items:             []orders.Item(d.Items),
		Currency:          d.Currency,
		Status:            orders.Status(d.Status),
		TotalAmount:       decimalToMoney(d.TotalAmount),
		ConvertedAmount:   decimalToMoney(d.ConvertedAmount),
		ConvertedCurrency: d.ConvertedCurrency,
		FailureReason:     d.FailureReason,
		FulfilledAt:       d.FulfilledAt,
		CreatedAt:         d.CreatedAt.UTC(),
		UpdatedAt:         d.UpdatedAt.UTC(),
	}
}

func moneyToDecimal(m *orders.Money) *decimal.Decimal {
	if m == nil {
		return nil
	}
	d := m.Decimal
	return &d
}

func decimalToMoney(d *decimal.Decimal) *orders.Money {
	if d == nil {
		return nil
	}
	m := orders.NewMoney(*d)
	return &m
}

// DeadLetterDTO is the orders_dlq row.
type DeadLetterDTO struct {
	ID            string    `gorm:"column:id;primaryKey;type:varchar(64)"`
	OriginalJobID string    `gorm:"column:original_job_id;type:varchar(128);not null;uniqueIndex:uk_dlq_original_job_id"`
	OrderID       string    `gorm:"column:order_id;type:varchar(64);not null;index:idx_dlq_order_id"`
	FailedReason  string    `gorm:"column:failed_reason;type:text"`
	AttemptsMade  int       `gorm:"column:attempts_made;not null"`
	Timestamp     time.Time `gorm:"column:failed_at;not null;index:idx_dlq_failed_at"`
}

func (DeadLetterDTO) TableName() string { return "orders_dlq" }

func deadLetterFromDomain(r dlq.Record) DeadLetterDTO {
	return DeadLetterDTO(r)
}

func (d DeadLetterDTO) toDomain() dlq.Record {
	r := dlq.Record(d)
	r.Timestamp = r.Timestamp.UTC()
	return r
}
