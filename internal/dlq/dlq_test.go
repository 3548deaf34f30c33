package dlq

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)

func record(job string, at time.Time) Record {
	return Record{
		ID:            "dlq-" + job,
		OriginalJobID: job,
		OrderID:       "order-" + job,
		FailedReason:  "boom",
		AttemptsMade:  3,
		Timestamp:     at,
	}
}

func TestMemoryStore_AppendOncePerJob(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(10)

	require.NoError(t, s.Append(ctx, record("1", base)))
	err := s.Append(ctx, record("1", base.Add(time.Second)))
	assert.ErrorIs(t, err, ErrAlreadyRecorded)

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 3, list[0].AttemptsMade)
}

func TestMemoryStore_RetentionKeepsGuard(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(2)

	for i := 1; i <= 3; i++ {
		require.NoError(t, s.Append(ctx, record(strconv.Itoa(i), base.Add(time.Duration(i)*time.Second))))
	}
	list, _ := s.List(ctx)
	require.Len(t, list, 2)
	assert.Equal(t, "2", list[0].OriginalJobID)

	assert.ErrorIs(t, s.Append(ctx, record("1", base)), ErrAlreadyRecorded, "evicted job is still guarded")
}

func TestMemoryStore_PurgeBefore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(10)
	require.NoError(t, s.Append(ctx, record("old", base)))
	require.NoError(t, s.Append(ctx, record("new", base.Add(time.Hour))))

	n, err := s.PurgeBefore(ctx, base.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	list, _ := s.List(ctx)
	require.Len(t, list, 1)
	assert.Equal(t, "new", list[0].OriginalJobID)
}

// dlqTable is an in-memory table keyed by original_job_id.
type dlqTable struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue
}

func newDLQTable() *dlqTable {
	return &dlqTable{items: map[string]map[string]types.AttributeValue{}}
}

func jobKey(m map[string]types.AttributeValue) string {
	return m["original_job_id"].(*types.AttributeValueMemberS).Value
}

func (d *dlqTable) PutItem(ctx context.Context, in *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	k := jobKey(in.Item)
	if _, exists := d.items[k]; exists && in.ConditionExpression != nil {
		return nil, &types.ConditionalCheckFailedException{}
	}
	d.items[k] = in.Item
	return &dyn.PutItemOutput{}, nil
}

func (d *dlqTable) GetItem(ctx context.Context, in *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	return nil, errors.New("not used")
}

func (d *dlqTable) UpdateItem(ctx context.Context, in *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	return nil, errors.New("not used")
}

func (d *dlqTable) TransactWriteItems(ctx context.Context, in *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	return nil, errors.New("not used")
}

// Scan returns one item per page to exercise pagination.
func (d *dlqTable) Scan(ctx context.Context, in *dyn.ScanInput, optFns ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	keys := make([]string, 0, len(d.items))
	for k := range d.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	start := 0
	if in.ExclusiveStartKey != nil {
		start = sort.SearchStrings(keys, jobKey(in.ExclusiveStartKey)) + 1
	}
	out := &dyn.ScanOutput{}
	if start >= len(keys) {
		return out, nil
	}
	item := d.items[keys[start]]
	keep := true
	if in.FilterExpression != nil {
		cutoff, _ := strconv.ParseInt(in.ExpressionAttributeValues[":cutoff"].(*types.AttributeValueMemberN).Value, 10, 64)
		ts, _ := strconv.ParseInt(item["timestamp"].(*types.AttributeValueMemberN).Value, 10, 64)
		keep = ts < cutoff
	}
	if keep {
		out.Items = []map[string]types.AttributeValue{item}
	}
	if start+1 < len(keys) {
		out.LastEvaluatedKey = map[string]types.AttributeValue{
			"original_job_id": &types.AttributeValueMemberS{Value: keys[start]},
		}
	}
	return out, nil
}

func (d *dlqTable) DeleteItem(ctx context.Context, in *dyn.DeleteItemInput, optFns ...func(*dyn.Options)) (*dyn.DeleteItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.items, jobKey(in.Key))
	return &dyn.DeleteItemOutput{}, nil
}

func TestDynamoStore_AppendListPurge(t *testing.T) {
	ctx := context.Background()
	table := newDLQTable()
	s := NewDynamoStore(table, "orders-dlq")

	require.NoError(t, s.Append(ctx, record("b", base.Add(time.Hour))))
	require.NoError(t, s.Append(ctx, record("a", base)))
	require.NoError(t, s.Append(ctx, record("c", base.Add(2*time.Hour))))

	err := s.Append(ctx, record("a", base))
	assert.ErrorIs(t, err, ErrAlreadyRecorded)

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{list[0].OriginalJobID, list[1].OriginalJobID, list[2].OriginalJobID})
	assert.True(t, list[0].Timestamp.Equal(base))
	assert.Equal(t, "order-a", list[0].OrderID)

	n, err := s.PurgeBefore(ctx, base.Add(90*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	list, _ = s.List(ctx)
	require.Len(t, list, 1)
	assert.Equal(t, "c", list[0].OriginalJobID)
}
