package orders

import (
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"
)

// Customer carries the submitted contact data plus the enriched address.
type Customer struct {
	Name         string `json:"name" dynamodbav:"name"`
	Email        string `json:"email" dynamodbav:"email"`
	PostalCode   string `json:"postal_code" dynamodbav:"postal_code"`
	Street       string `json:"street,omitempty" dynamodbav:"street,omitempty"`
	Complement   string `json:"complement,omitempty" dynamodbav:"complement,omitempty"`
	Neighborhood string `json:"neighborhood,omitempty" dynamodbav:"neighborhood,omitempty"`
	City         string `json:"city,omitempty" dynamodbav:"city,omitempty"`
	State        string `json:"state,omitempty" dynamodbav:"state,omitempty"`
	StateName    string `json:"state_name,omitempty" dynamodbav:"state_name,omitempty"`
}

type Item struct {
	SKU       string `json:"sku" dynamodbav:"sku"`
	Quantity  int    `json:"quantity" dynamodbav:"quantity"`
	UnitPrice Money  `json:"unit_price" dynamodbav:"unit_price"`
}

// Order represents the item stored in the orders table.
type Order struct {
	ID                string     `json:"id" dynamodbav:"order_id"` // PK
	IdempotencyKey    string     `json:"idempotency_key" dynamodbav:"idempotency_key"`
	Customer          Customer   `json:"customer" dynamodbav:"customer"`
	Items             []Item     `json:"items" dynamodbav:"items"`
	Currency          string     `json:"currency" dynamodbav:"currency"`
	Status            Status     `json:"status" dynamodbav:"status"`
	TotalAmount       *Money     `json:"total_amount" dynamodbav:"total_amount,omitempty"`
	ConvertedAmount   *Money     `json:"converted_amount" dynamodbav:"converted_amount,omitempty"`
	ConvertedCurrency *string    `json:"converted_currency" dynamodbav:"converted_currency,omitempty"`
	FailureReason     *string    `json:"failure_reason" dynamodbav:"failure_reason,omitempty"`
	FulfilledAt       *time.Time `json:"fulfilled_at,omitempty" dynamodbav:"fulfilled_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at" dynamodbav:"updated_at"`
}

// OrderList is the listing response shape.
type OrderList struct {
	Count  int     `json:"count"`
	Orders []Order `json:"orders"`
}

// Money is a decimal amount. It is stored as a DynamoDB number and encoded
// in JSON as a string so no precision is lost.
type Money struct {
	decimal.Decimal
}

func NewMoney(d decimal.Decimal) Money { return Money{Decimal: d} }

func (m Money) MarshalDynamoDBAttributeValue() (types.AttributeValue, error) {
	return &types.AttributeValueMemberN{Value: m.Decimal.String()}, nil
}

func (m *Money) UnmarshalDynamoDBAttributeValue(av types.AttributeValue) error {
	var raw string
	switch v := av.(type) {
	case *types.AttributeValueMemberN:
		raw = v.Value
	case *types.AttributeValueMemberS:
		raw = v.Value
	case *types.AttributeValueMemberNULL:
		m.Decimal = decimal.Zero
		return nil
	default:
		return fmt.Errorf("money: unsupported attribute type %T", av)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("money: %w", err)
	}
	m.Decimal = d
	return nil
}

// Total sums quantity * unit price over items, rounded to cents.
func Total(items []Item) Money {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return NewMoney(sum.Round(2))
}
