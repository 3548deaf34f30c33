package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/imrishuroy/go-order-pipeline/internal/aws"
)

// Store encapsulates idempotency operations against DynamoDB.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore returns a configured Store. Records never expire: a record is
// the only link from a key to its order, so losing it would let the key
// create a second order.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// GuardedPut builds the transaction item that reserves key for orderID.
// The put only succeeds when the key has never been seen.
func (s *Store) GuardedPut(key, orderID string) (*types.Put, error) {
	now := s.nowFunc()
	rec := Record{
		IdempotencyKey: key,
		Status:         StatusInProgress,
		OrderID:        orderID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal idempotency record: %w", err)
	}
	return &types.Put{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(idempotency_key)"),
	}, nil
}

// Get retrieves an idempotency record by key. If not found, returns (nil, nil).
func (s *Store) Get(ctx context.Context, key string) (*Record, error) {
	input := &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"idempotency_key": &types.AttributeValueMemberS{Value: key},
		},
	}
	out, err := s.client.GetItem(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var rec Record
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	return &rec, nil
}

// stuckAfter is how long an IN_PROGRESS record may sit before its
// submission is treated as having crashed before the enqueue.
const stuckAfter = time.Minute

// EnqueuePending reports whether the order behind key was never handed to
// the queue: its record is FAILED, or IN_PROGRESS for longer than stuckAfter.
func (s *Store) EnqueuePending(ctx context.Context, key string) (bool, error) {
	rec, err := s.Get(ctx, key)
	if err != nil || rec == nil {
		return false, err
	}
	switch rec.Status {
	case StatusFailed:
		return true, nil
	case StatusInProgress:
		return s.nowFunc().Sub(rec.UpdatedAt) > stuckAfter, nil
	default:
		return false, nil
	}
}

// MarkDone records that the order behind key was handed to the queue.
func (s *Store) MarkDone(ctx context.Context, key string) error {
	return s.setStatus(ctx, key, StatusDone, "")
}

// MarkFailed marks the record FAILED and stores a note for operators.
func (s *Store) MarkFailed(ctx context.Context, key, note string) error {
	return s.setStatus(ctx, key, StatusFailed, note)
}

func (s *Store) setStatus(ctx context.Context, key, status, note string) error {
	now := s.nowFunc()
	expr := "SET #s = :s, updated_at = :ua"
	values := map[string]types.AttributeValue{
		":s":  &types.AttributeValueMemberS{Value: status},
		":ua": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
	}
	if note != "" {
		expr += ", note = :n"
		values[":n"] = &types.AttributeValueMemberS{Value: note}
	}
	input := &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"idempotency_key": &types.AttributeValueMemberS{Value: key},
		},
		UpdateExpression:          &expr,
		ConditionExpression:       aws.String("attribute_exists(idempotency_key)"),
		ExpressionAttributeNames:  map[string]string{"#s": "status"},
		ExpressionAttributeValues: values,
	}
	if _, err := s.client.UpdateItem(ctx, input); err != nil {
		if aws.IsConditionalCheckFailed(err) {
			return fmt.Errorf("idempotency key %s not found: %w", key, err)
		}
		return fmt.Errorf("update item (mark %s): %w", status, err)
	}
	return nil
}
