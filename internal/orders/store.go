package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/go-order-pipeline/internal/aws"
	"github.com/imrishuroy/go-order-pipeline/internal/idempotency"
)

// Store encapsulates operations on the orders table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	keys      *idempotency.Store
	nowFunc   func() time.Time
}

// NewStore creates a new orders Store. keys guards idempotency keys in its own table.
func NewStore(client aws.DynamoDBAPI, tableName string, keys *idempotency.Store) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		keys:      keys,
		nowFunc:   time.Now,
	}
}

// Create atomically writes:
//   - the idempotency record, guarded by attribute_not_exists(idempotency_key)
//   - the order item, guarded by attribute_not_exists(order_id)
func (s *Store) Create(ctx context.Context, o *Order) error {
	guard, err := s.keys.GuardedPut(o.IdempotencyKey, o.ID)
	if err != nil {
		return err
	}

	now := s.nowFunc()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now

	orderMap, err := attributevalue.MarshalMap(o)
	if err != nil {
		return fmt.Errorf("marshal order item: %w", err)
	}

	input := &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: guard},
			{
				Put: &types.Put{
					TableName:           &s.tableName,
					Item:                orderMap,
					ConditionExpression: aws.String("attribute_not_exists(order_id)"),
				},
			},
		},
	}

	if _, err := s.client.TransactWriteItems(ctx, input); err != nil {
		if aws.TransactionConditionFailed(err, 0) {
			return ErrDuplicateIdempotencyKey
		}
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) {
			return fmt.Errorf("transaction canceled: %w", err)
		}
		return fmt.Errorf("transact write: %w", err)
	}
	return nil
}

// Get fetches an order by order_id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, orderID string) (*Order, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            orderKey(orderID),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Item, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// GetByIdempotencyKey resolves the key through the idempotency table.
func (s *Store) GetByIdempotencyKey(ctx context.Context, key string) (*Order, error) {
	rec, err := s.keys.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	return s.Get(ctx, rec.OrderID)
}

// List scans the whole table, filtering on status when given.
func (s *Store) List(ctx context.Context, status *Status) ([]Order, error) {
	input := &dyn.ScanInput{TableName: &s.tableName}
	if status != nil {
		input.FilterExpression = aws.String("#s = :status")
		input.ExpressionAttributeNames = map[string]string{"#s": "status"}
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":status": &types.AttributeValueMemberS{Value: string(*status)},
		}
	}

	var out []Order
	for {
		page, err := s.client.Scan(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		var batch []Order
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("unmarshal orders: %w", err)
		}
		out = append(out, batch...)
		if len(page.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = page.LastEvaluatedKey
	}
	return out, nil
}

// Update overwrites an existing order item whose status is unchanged.
func (s *Store) Update(ctx context.Context, o *Order) error {
	o.UpdatedAt = s.nowFunc()
	item, err := attributevalue.MarshalMap(o)
	if err != nil {
		return fmt.Errorf("marshal order item: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:                &s.tableName,
		Item:                     item,
		ConditionExpression:      aws.String("attribute_exists(order_id) AND #s = :status"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status": &types.AttributeValueMemberS{Value: string(o.Status)},
		},
	})
	if err != nil {
		if aws.IsConditionalCheckFailed(err) {
			return ErrStatusMismatch
		}
		return fmt.Errorf("put item: %w", err)
	}
	return nil
}

// UpdateStatus conditionally updates the order status from expected -> next.
// Returns ErrStatusMismatch if the condition failed.
func (s *Store) UpdateStatus(ctx context.Context, orderID string, expected, next Status, reason string) error {
	if err := CheckTransition(expected, next); err != nil {
		return err
	}

	now := s.nowFunc()
	updateExpr := "SET #s = :new, updated_at = :ua"
	values := map[string]types.AttributeValue{
		":new":      &types.AttributeValueMemberS{Value: string(next)},
		":ua":       &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		":expected": &types.AttributeValueMemberS{Value: string(expected)},
	}
	if next == StatusFailedEnrichment && reason != "" {
		updateExpr += ", failure_reason = :reason"
		values[":reason"] = &types.AttributeValueMemberS{Value: reason}
	}

	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       orderKey(orderID),
		UpdateExpression:          &updateExpr,
		ExpressionAttributeNames:  map[string]string{"#s": "status"},
		ExpressionAttributeValues: values,
		ConditionExpression:       aws.String("#s = :expected"),
	})
	if err != nil {
		if aws.IsConditionalCheckFailed(err) {
			return ErrStatusMismatch
		}
		return fmt.Errorf("update item: %w", err)
	}
	return nil
}

func orderKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"order_id": &types.AttributeValueMemberS{Value: id},
	}
}

func awsBool(b bool) *bool { return &b }
