package dlq

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/go-order-pipeline/internal/aws"
)

// DynamoStore keeps records in a table keyed by original_job_id.
type DynamoStore struct {
	client    aws.DynamoDBAPI
	tableName string
}

func NewDynamoStore(client aws.DynamoDBAPI, tableName string) *DynamoStore {
	return &DynamoStore{client: client, tableName: tableName}
}

func (s *DynamoStore) Append(ctx context.Context, r Record) error {
	item, err := attributevalue.MarshalMap(r)
	if err != nil {
		return fmt.Errorf("marshal dlq record: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(original_job_id)"),
	})
	if err != nil {
		if aws.IsConditionalCheckFailed(err) {
			return fmt.Errorf("job %s: %w", r.OriginalJobID, ErrAlreadyRecorded)
		}
		return fmt.Errorf("put dlq record: %w", err)
	}
	return nil
}

func (s *DynamoStore) List(ctx context.Context) ([]Record, error) {
	records, err := s.scan(ctx, &dyn.ScanInput{TableName: &s.tableName})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.Before(records[j].Timestamp)
	})
	return records, nil
}

// PurgeBefore deletes records whose timestamp is older than cutoff.
func (s *DynamoStore) PurgeBefore(ctx context.Context, cutoff time.Time) (int, error) {
	old, err := s.scan(ctx, &dyn.ScanInput{
		TableName:                &s.tableName,
		FilterExpression:         aws.String("#ts < :cutoff"),
		ExpressionAttributeNames: map[string]string{"#ts": "timestamp"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":cutoff": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", cutoff.Unix())},
		},
	})
	if err != nil {
		return 0, err
	}
	for i, r := range old {
		_, err := s.client.DeleteItem(ctx, &dyn.DeleteItemInput{
			TableName: &s.tableName,
			Key: map[string]types.AttributeValue{
				"original_job_id": &types.AttributeValueMemberS{Value: r.OriginalJobID},
			},
		})
		if err != nil {
			return i, fmt.Errorf("delete dlq record %s: %w", r.OriginalJobID, err)
		}
	}
	return len(old), nil
}

func (s *DynamoStore) scan(ctx context.Context, input *dyn.ScanInput) ([]Record, error) {
	var out []Record
	for {
		page, err := s.client.Scan(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("scan dlq: %w", err)
		}
		var batch []Record
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("unmarshal dlq records: %w", err)
		}
		out = append(out, batch...)
		if len(page.LastEvaluatedKey) == 0 {
			return out, nil
		}
		input.ExclusiveStartKey = page.LastEvaluatedKey
	}
}
