package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

func TestGuardedPut_Get_MarkDone_MarkFailed(t *testing.T) {
	mock := newSimpleMock()
	s := NewStore(mock, "idempotency-table")
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s.nowFunc = func() time.Time { return now }

	ctx := context.Background()
	key := "test-key-1"
	orderID := "order-123"

	put, err := s.GuardedPut(key, orderID)
	if err != nil {
		t.Fatalf("GuardedPut error: %v", err)
	}
	if *put.TableName != "idempotency-table" {
		t.Fatalf("table mismatch: %s", *put.TableName)
	}
	if put.ConditionExpression == nil || *put.ConditionExpression != "attribute_not_exists(idempotency_key)" {
		t.Fatalf("expected guard condition, got %v", put.ConditionExpression)
	}
	if _, err := mock.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{{Put: put}},
	}); err != nil {
		t.Fatalf("transact: %v", err)
	}

	// a second reservation of the same key is rejected
	if _, err := mock.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{{Put: put}},
	}); err == nil {
		t.Fatalf("expected duplicate reservation to fail")
	}

	rec, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if rec == nil {
		t.Fatalf("expected record, got nil")
	}
	if rec.Status != StatusInProgress {
		t.Fatalf("expected IN_PROGRESS, got %s", rec.Status)
	}
	if rec.OrderID != orderID {
		t.Fatalf("order id mismatch")
	}
	if _, ok := mock.table[key]["expires_at"]; ok {
		t.Fatalf("record must not carry a TTL attribute: %+v", mock.table[key])
	}

	if err := s.MarkDone(ctx, key); err != nil {
		t.Fatalf("MarkDone error: %v", err)
	}
	if st, ok := mock.table[key]["status"].(*types.AttributeValueMemberS); !ok || st.Value != StatusDone {
		t.Fatalf("status not updated to DONE, got %+v", mock.table[key]["status"])
	}

	if err := s.MarkFailed(ctx, key, "enqueue failed"); err != nil {
		t.Fatalf("MarkFailed error: %v", err)
	}
	item := mock.table[key]
	if st, ok := item["status"].(*types.AttributeValueMemberS); !ok || st.Value != StatusFailed {
		t.Fatalf("status not updated to FAILED, got %+v", item["status"])
	}
	if n, ok := item["note"].(*types.AttributeValueMemberS); !ok || n.Value != "enqueue failed" {
		t.Fatalf("note not set, got %+v", item["note"])
	}
}

func TestGet_Missing(t *testing.T) {
	s := NewStore(newSimpleMock(), "idempotency-table")

	rec, err := s.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec != nil {
		t.Fatalf("expected nil record, got %+v", rec)
	}
}

func TestMarkDone_UnknownKey(t *testing.T) {
	s := NewStore(newSimpleMock(), "idempotency-table")

	if err := s.MarkDone(context.Background(), "ghost"); err == nil {
		t.Fatalf("expected error for unknown key")
	}
}

func TestAttributevalueMarshal_Unmarshal(t *testing.T) {
	rec := Record{
		IdempotencyKey: "k1",
		Status:         StatusInProgress,
		OrderID:        "o1",
		CreatedAt:      time.Now().Round(time.Second),
		UpdatedAt:      time.Now().Round(time.Second),
	}
	m, err := attributevalue.MarshalMap(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out Record
	if err := attributevalue.UnmarshalMap(m, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.IdempotencyKey != rec.IdempotencyKey || !out.CreatedAt.Equal(rec.CreatedAt) {
		t.Fatalf("unmarshal mismatch: %+v", out)
	}
}

func TestEnqueuePending(t *testing.T) {
	mock := newSimpleMock()
	s := NewStore(mock, "idempotency-table")
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s.nowFunc = func() time.Time { return now }
	ctx := context.Background()

	reserve := func(key string) {
		t.Helper()
		put, err := s.GuardedPut(key, "order-"+key)
		if err != nil {
			t.Fatalf("GuardedPut error: %v", err)
		}
		if _, err := mock.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
			TransactItems: []types.TransactWriteItem{{Put: put}},
		}); err != nil {
			t.Fatalf("transact: %v", err)
		}
	}
	reserve("done")
	reserve("failed")
	reserve("fresh")
	reserve("stuck")
	if err := s.MarkDone(ctx, "done"); err != nil {
		t.Fatalf("MarkDone: %v", err)
	}
	if err := s.MarkFailed(ctx, "failed", "enqueue failed"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	cases := []struct {
		key  string
		at   time.Time
		want bool
	}{
		{"done", now.Add(time.Hour), false},
		{"failed", now, true},
		{"fresh", now.Add(10 * time.Second), false},
		{"stuck", now.Add(2 * time.Minute), true},
		{"unknown", now, false},
	}
	for _, tc := range cases {
		s.nowFunc = func() time.Time { return tc.at }
		got, err := s.EnqueuePending(ctx, tc.key)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.key, err)
		}
		if got != tc.want {
			t.Fatalf("%s: expected pending=%v, got %v", tc.key, tc.want, got)
		}
	}
}
