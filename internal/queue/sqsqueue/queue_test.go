package sqsqueue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-order-pipeline/internal/logging"
	"github.com/imrishuroy/go-order-pipeline/internal/queue"
)

type mockSQS struct {
	sent       []*sqs.SendMessageInput
	received   []sqstypes.Message
	deleted    []string
	visibility []*sqs.ChangeMessageVisibilityInput
	attrs      map[string]string
	deleteErr  error
}

func (m *mockSQS) SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	m.sent = append(m.sent, in)
	return &sqs.SendMessageOutput{MessageId: in.MessageBody}, nil
}

func (m *mockSQS) ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	if len(m.received) == 0 {
		return &sqs.ReceiveMessageOutput{}, nil
	}
	msg := m.received[0]
	m.received = m.received[1:]
	return &sqs.ReceiveMessageOutput{Messages: []sqstypes.Message{msg}}, nil
}

func (m *mockSQS) DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	if m.deleteErr != nil {
		return nil, m.deleteErr
	}
	m.deleted = append(m.deleted, *in.ReceiptHandle)
	return &sqs.DeleteMessageOutput{}, nil
}

func (m *mockSQS) ChangeMessageVisibility(ctx context.Context, in *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error) {
	m.visibility = append(m.visibility, in)
	return &sqs.ChangeMessageVisibilityOutput{}, nil
}

func (m *mockSQS) GetQueueAttributes(ctx context.Context, in *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error) {
	return &sqs.GetQueueAttributesOutput{Attributes: m.attrs}, nil
}

func str(s string) *string { return &s }

func message(jobID, orderID, receipt string, receiveCount string) sqstypes.Message {
	body, _ := json.Marshal(queue.Payload{OrderID: orderID})
	return sqstypes.Message{
		MessageId:     str("msg-" + jobID),
		ReceiptHandle: str(receipt),
		Body:          str(string(body)),
		Attributes: map[string]string{
			"ApproximateReceiveCount": receiveCount,
			"SentTimestamp":           "1735689600000",
		},
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			attrJobID: {DataType: str("String"), StringValue: str(jobID)},
		},
	}
}

func newTestQueue(m *mockSQS) *Queue {
	return New(m, "https://sqs.local/orders", queue.Config{MaxAttempts: 3, BackoffBase: time.Second}, logging.Discard())
}

func TestEnqueue_SendsPayloadAndAttributes(t *testing.T) {
	m := &mockSQS{}
	q := newTestQueue(m)

	id, err := q.Enqueue(context.Background(), queue.Payload{OrderID: "o-1"}, queue.WithJobID("o-1"), queue.WithDelay(1500*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, "o-1", id)

	require.Len(t, m.sent, 1)
	in := m.sent[0]
	assert.Equal(t, "https://sqs.local/orders", *in.QueueUrl)
	assert.JSONEq(t, `{"order_id":"o-1"}`, *in.MessageBody)
	assert.Equal(t, "o-1", *in.MessageAttributes[attrJobID].StringValue)
	assert.EqualValues(t, 2, in.DelaySeconds)
}

func TestEnqueue_FIFOUsesJobIDForDeduplication(t *testing.T) {
	m := &mockSQS{}
	q := New(m, "https://sqs.local/orders.fifo", queue.Config{MaxAttempts: 3}, logging.Discard())
	assert.True(t, q.DeduplicatesJobIDs())

	for i := 0; i < 2; i++ {
		_, err := q.Enqueue(context.Background(), queue.Payload{OrderID: "o-1"}, queue.WithJobID("o-1"))
		require.NoError(t, err)
	}
	require.Len(t, m.sent, 2)
	for _, in := range m.sent {
		assert.Equal(t, "o-1", *in.MessageDeduplicationId)
		assert.Equal(t, "o-1", *in.MessageGroupId)
		assert.Zero(t, in.DelaySeconds)
	}

	_, err := q.Enqueue(context.Background(), queue.Payload{OrderID: "o-2"}, queue.WithDelay(time.Second))
	assert.ErrorContains(t, err, "FIFO")
	assert.Len(t, m.sent, 2)
}

func TestEnqueue_StandardQueueDoesNotDeduplicate(t *testing.T) {
	m := &mockSQS{}
	q := newTestQueue(m)
	assert.False(t, q.DeduplicatesJobIDs())

	_, err := q.Enqueue(context.Background(), queue.Payload{OrderID: "o-1"}, queue.WithJobID("o-1"))
	require.NoError(t, err)
	assert.Nil(t, m.sent[0].MessageDeduplicationId)
	assert.Nil(t, m.sent[0].MessageGroupId)
}

func TestReserve_MapsReceiveCountToAttempts(t *testing.T) {
	m := &mockSQS{received: []sqstypes.Message{message("job-1", "o-1", "rh-1", "2")}}
	q := newTestQueue(m)

	job, err := q.Reserve(context.Background())
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "job-1", job.ID)
	assert.Equal(t, "o-1", job.Payload.OrderID)
	assert.Equal(t, 1, job.AttemptsMade)
	assert.Equal(t, 3, job.MaxAttempts)
	assert.Equal(t, "rh-1", job.Receipt)
	assert.Equal(t, time.UnixMilli(1735689600000).UTC(), job.CreatedAt)

	none, err := q.Reserve(context.Background())
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestFail_RetryExtendsVisibilityByBackoff(t *testing.T) {
	m := &mockSQS{received: []sqstypes.Message{message("job-1", "o-1", "rh-1", "2")}}
	q := newTestQueue(m)

	job, err := q.Reserve(context.Background())
	require.NoError(t, err)

	exhausted, err := q.Fail(context.Background(), job, errors.New("fulfillment timeout"))
	require.NoError(t, err)
	assert.False(t, exhausted)
	assert.Equal(t, 2, job.AttemptsMade)
	assert.Equal(t, queue.StateDelayed, job.State)

	require.Len(t, m.visibility, 1)
	assert.EqualValues(t, 2, m.visibility[0].VisibilityTimeout, "second retry waits base*2")
	assert.Empty(t, m.deleted)
}

func TestFail_LastAttemptDeletesMessage(t *testing.T) {
	m := &mockSQS{received: []sqstypes.Message{message("job-1", "o-1", "rh-1", "3")}}
	q := newTestQueue(m)

	job, err := q.Reserve(context.Background())
	require.NoError(t, err)

	exhausted, err := q.Fail(context.Background(), job, errors.New("boom"))
	require.NoError(t, err)
	assert.True(t, exhausted)
	assert.Equal(t, 3, job.AttemptsMade)
	assert.Equal(t, []string{"rh-1"}, m.deleted)

	counts, err := q.Counts(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, counts.Failed)
}

func TestComplete_InvalidReceiptIsLeaseLost(t *testing.T) {
	m := &mockSQS{deleteErr: &sqstypes.ReceiptHandleIsInvalid{Message: str("expired")}}
	q := newTestQueue(m)

	err := q.Complete(context.Background(), &queue.Job{ID: "job-1", Receipt: "old"})
	assert.ErrorIs(t, err, queue.ErrLeaseLost)
}

func TestCounts_CombinesQueueAttributesAndLocalTotals(t *testing.T) {
	m := &mockSQS{
		received: []sqstypes.Message{message("job-1", "o-1", "rh-1", "1")},
		attrs: map[string]string{
			"ApproximateNumberOfMessages":           "4",
			"ApproximateNumberOfMessagesNotVisible": "1",
			"ApproximateNumberOfMessagesDelayed":    "2",
		},
	}
	q := newTestQueue(m)

	job, err := q.Reserve(context.Background())
	require.NoError(t, err)
	require.NoError(t, q.Complete(context.Background(), job))

	counts, err := q.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, queue.Counts{Waiting: 4, Active: 1, Delayed: 2, Completed: 1}, counts)
}

func TestJobFromEvent(t *testing.T) {
	q := newTestQueue(&mockSQS{})

	job, err := q.JobFromEvent(events.SQSMessage{
		MessageId:     "m-1",
		ReceiptHandle: "rh",
		Body:          `{"order_id":"o-7"}`,
		Attributes:    map[string]string{"ApproximateReceiveCount": "3"},
	})
	require.NoError(t, err)
	assert.Equal(t, "m-1", job.ID, "falls back to the message id")
	assert.Equal(t, "o-7", job.Payload.OrderID)
	assert.Equal(t, 2, job.AttemptsMade)

	_, err = q.JobFromEvent(events.SQSMessage{MessageId: "m-2", Body: "not json"})
	assert.Error(t, err)
}
