// Package sqsqueue is the SQS backend of queue.Broker. SQS owns waiting,
// in-flight and delayed messages; the receive count is the attempt
// counter and the visibility timeout is both lease and retry backoff.
package sqsqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"

	"github.com/imrishuroy/go-order-pipeline/internal/aws"
	"github.com/imrishuroy/go-order-pipeline/internal/queue"
)

const (
	attrJobID   = "job_id"
	attrOrderID = "order_id"

	maxDelaySeconds      = 900
	maxVisibilitySeconds = 43200
)

// Queue wraps an SQS client and a queue URL.
type Queue struct {
	client   aws.SQSAPI
	queueURL string
	cfg      queue.Config
	fifo     bool
	logger   *slog.Logger

	// SQS forgets deleted messages, so finished totals are process-local.
	completed atomic.Int64
	failed    atomic.Int64
}

func New(client aws.SQSAPI, queueURL string, cfg queue.Config, logger *slog.Logger) *Queue {
	cfg = cfg.WithDefaults()
	return &Queue{
		client:   client,
		queueURL: queueURL,
		cfg:      cfg,
		fifo:     strings.HasSuffix(queueURL, ".fifo"),
		logger:   logger.With("component", "queue.sqs", "queue", cfg.Name),
	}
}

var _ queue.Broker = (*Queue)(nil)
var _ queue.Deduplicator = (*Queue)(nil)

// DeduplicatesJobIDs is true for FIFO queues, where the job id is the
// message deduplication id. SQS drops a repeat sent within its five
// minute deduplication window.
func (q *Queue) DeduplicatesJobIDs() bool { return q.fifo }

// Enqueue sends the payload as a JSON message body. The job id and order
// id also travel as message attributes. FIFO queues take no per-message
// delay.
func (q *Queue) Enqueue(ctx context.Context, p queue.Payload, opts ...queue.EnqueueOption) (string, error) {
	o := queue.ApplyEnqueueOptions(opts...)
	id := o.JobID
	if id == "" {
		id = uuid.NewString()
	}

	body, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    &q.queueURL,
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			attrJobID:   {DataType: aws.String("String"), StringValue: aws.String(id)},
			attrOrderID: {DataType: aws.String("String"), StringValue: aws.String(p.OrderID)},
		},
	}
	switch {
	case q.fifo && o.Delay > 0:
		return "", fmt.Errorf("enqueue %s: per-message delay is not supported on FIFO queues", id)
	case q.fifo:
		input.MessageDeduplicationId = aws.String(id)
		input.MessageGroupId = aws.String(id)
	case o.Delay > 0:
		input.DelaySeconds = int32(clampSeconds(o.Delay, maxDelaySeconds))
	}

	if _, err := q.client.SendMessage(ctx, input); err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	return id, nil
}

// Reserve receives one message and hides it for the lease duration.
func (q *Queue) Reserve(ctx context.Context) (*queue.Job, error) {
	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            &q.queueURL,
		MaxNumberOfMessages: 1,
		VisibilityTimeout:   int32(clampSeconds(q.cfg.Lease, maxVisibilitySeconds)),
		MessageSystemAttributeNames: []sqstypes.MessageSystemAttributeName{
			sqstypes.MessageSystemAttributeNameApproximateReceiveCount,
			sqstypes.MessageSystemAttributeNameSentTimestamp,
		},
		MessageAttributeNames: []string{"All"},
	})
	if err != nil {
		return nil, fmt.Errorf("receive message: %w", err)
	}
	if len(out.Messages) == 0 {
		return nil, nil
	}

	m := out.Messages[0]
	attrs := map[string]string{}
	for k, v := range m.MessageAttributes {
		if v.StringValue != nil {
			attrs[k] = *v.StringValue
		}
	}
	return q.job(deref(m.MessageId), deref(m.Body), m.Attributes, attrs, deref(m.ReceiptHandle))
}

func (q *Queue) Complete(ctx context.Context, job *queue.Job) error {
	if err := q.delete(ctx, job); err != nil {
		return err
	}
	q.completed.Add(1)
	now := time.Now().UTC()
	job.State = queue.StateCompleted
	job.FinishedAt = &now
	return nil
}

// Fail deletes the message once attempts run out; otherwise it keeps the
// message hidden for the backoff delay so SQS redelivers it afterwards.
func (q *Queue) Fail(ctx context.Context, job *queue.Job, cause error) (bool, error) {
	job.AttemptsMade++
	job.FailedReason = cause.Error()

	if job.AttemptsMade >= job.MaxAttempts {
		if err := q.delete(ctx, job); err != nil {
			return false, err
		}
		q.failed.Add(1)
		now := time.Now().UTC()
		job.State = queue.StateFailed
		job.FinishedAt = &now
		return true, nil
	}

	backoff := q.cfg.Backoff(job.AttemptsMade)
	_, err := q.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          &q.queueURL,
		ReceiptHandle:     aws.String(job.Receipt),
		VisibilityTimeout: int32(clampSeconds(backoff, maxVisibilitySeconds)),
	})
	if err != nil {
		return false, leaseErr(job, "change visibility", err)
	}
	job.State = queue.StateDelayed
	job.ProcessAt = time.Now().UTC().Add(backoff)
	job.Receipt = ""
	return false, nil
}

// Counts reads the approximate depths from SQS. In-flight messages cover
// both leased jobs and jobs waiting out a retry backoff; they are
// reported as active.
func (q *Queue) Counts(ctx context.Context) (queue.Counts, error) {
	out, err := q.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl: &q.queueURL,
		AttributeNames: []sqstypes.QueueAttributeName{
			sqstypes.QueueAttributeNameApproximateNumberOfMessages,
			sqstypes.QueueAttributeNameApproximateNumberOfMessagesNotVisible,
			sqstypes.QueueAttributeNameApproximateNumberOfMessagesDelayed,
		},
	})
	if err != nil {
		return queue.Counts{}, fmt.Errorf("get queue attributes: %w", err)
	}

	attr := func(name sqstypes.QueueAttributeName) int64 {
		n, _ := strconv.ParseInt(out.Attributes[string(name)], 10, 64)
		return n
	}
	return queue.Counts{
		Waiting:   attr(sqstypes.QueueAttributeNameApproximateNumberOfMessages),
		Active:    attr(sqstypes.QueueAttributeNameApproximateNumberOfMessagesNotVisible),
		Delayed:   attr(sqstypes.QueueAttributeNameApproximateNumberOfMessagesDelayed),
		Completed: q.completed.Load(),
		Failed:    q.failed.Load(),
	}, nil
}

// JobFromEvent turns a Lambda SQS record into a job, the same way Reserve
// does for a polled message.
func (q *Queue) JobFromEvent(msg events.SQSMessage) (*queue.Job, error) {
	attrs := map[string]string{}
	for k, v := range msg.MessageAttributes {
		if v.StringValue != nil {
			attrs[k] = *v.StringValue
		}
	}
	return q.job(msg.MessageId, msg.Body, msg.Attributes, attrs, msg.ReceiptHandle)
}

func (q *Queue) job(messageID, body string, system, attrs map[string]string, receipt string) (*queue.Job, error) {
	var p queue.Payload
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		return nil, fmt.Errorf("invalid message body for %s: %w", messageID, err)
	}
	id := attrs[attrJobID]
	if id == "" {
		id = messageID
	}

	received, err := strconv.Atoi(system[string(sqstypes.MessageSystemAttributeNameApproximateReceiveCount)])
	if err != nil || received < 1 {
		received = 1
	}
	job := &queue.Job{
		ID:           id,
		Payload:      p,
		AttemptsMade: received - 1,
		MaxAttempts:  q.cfg.MaxAttempts,
		State:        queue.StateActive,
		Receipt:      receipt,
	}
	if sent, err := strconv.ParseInt(system[string(sqstypes.MessageSystemAttributeNameSentTimestamp)], 10, 64); err == nil {
		job.CreatedAt = time.UnixMilli(sent).UTC()
		job.ProcessAt = job.CreatedAt
	}
	return job, nil
}

func (q *Queue) delete(ctx context.Context, job *queue.Job) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      &q.queueURL,
		ReceiptHandle: aws.String(job.Receipt),
	})
	if err != nil {
		return leaseErr(job, "delete message", err)
	}
	job.Receipt = ""
	return nil
}

// leaseErr maps an expired receipt handle to queue.ErrLeaseLost.
func leaseErr(job *queue.Job, op string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "ReceiptHandleIsInvalid" {
		return fmt.Errorf("job %s: %w", job.ID, queue.ErrLeaseLost)
	}
	var invalid *sqstypes.ReceiptHandleIsInvalid
	if errors.As(err, &invalid) {
		return fmt.Errorf("job %s: %w", job.ID, queue.ErrLeaseLost)
	}
	return fmt.Errorf("%s for job %s: %w", op, job.ID, err)
}

func clampSeconds(d time.Duration, max int) int {
	s := int(math.Ceil(d.Seconds()))
	if s > max {
		return max
	}
	if s < 0 {
		return 0
	}
	return s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
