package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-order-pipeline/internal/address"
	"github.com/imrishuroy/go-order-pipeline/internal/aws"
	"github.com/imrishuroy/go-order-pipeline/internal/config"
	"github.com/imrishuroy/go-order-pipeline/internal/logging"
	"github.com/imrishuroy/go-order-pipeline/internal/orders"
	"github.com/imrishuroy/go-order-pipeline/internal/queue"
	"github.com/imrishuroy/go-order-pipeline/internal/worker"
)

func init() { gin.SetMode(gin.TestMode) }

type fixedLookup struct{}

func (fixedLookup) Lookup(ctx context.Context, cep string) (*address.Address, error) {
	return &address.Address{PostalCode: "29102035", City: "Vila Velha", State: "ES"}, nil
}

type countingCloudWatch struct {
	mu    sync.Mutex
	names []string
}

func (c *countingCloudWatch) PutMetricData(ctx context.Context, in *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.names = append(c.names, *in.MetricData[0].MetricName)
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func (c *countingCloudWatch) seen() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.names...)
}

func memoryConfig() *config.Config {
	return &config.Config{
		StoreBackend:       config.BackendMemory,
		QueueBackend:       config.BackendMemory,
		QueueName:          "orders-queue",
		QueueMaxAttempts:   3,
		QueueBackoffBase:   time.Millisecond,
		QueueLease:         time.Second,
		WorkerConcurrency:  2,
		WorkerPollInterval: 5 * time.Millisecond,
		DLQRetention:       10,
	}
}

func postOrder(t *testing.T, r http.Handler) orders.Order {
	t.Helper()
	body := `{"customer":{"name":"Caio","email":"caio@x.com","postal_code":"29102-035"},"items":[{"sku":"abc123","quantity":2,"unit_price":50}],"currency":"BRL"}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/orders", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var o orders.Order
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &o))
	return o
}

func runWorker(t *testing.T, a *App) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.RunWorker(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
}

func TestApp_MemoryPipelineCompletesOrder(t *testing.T) {
	a, err := New(context.Background(), memoryConfig(), logging.Discard(), WithAddressLookup(fixedLookup{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	o := postOrder(t, a.Router())
	runWorker(t, a)

	require.Eventually(t, func() bool {
		got, err := a.Orders.GetOrderByID(context.Background(), o.ID)
		return err == nil && got != nil && got.Status == orders.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	counts, err := a.Introspection.QueueInfo(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, counts.Completed)
}

func TestApp_ExhaustedJobIsDeadLetteredWithMetrics(t *testing.T) {
	cw := &countingCloudWatch{}
	cfg := memoryConfig()
	cfg.MetricsNamespace = "OrderPipeline"

	a, err := New(context.Background(), cfg, logging.Discard(),
		WithAddressLookup(fixedLookup{}),
		WithAWSClients(&aws.AWSClients{CloudWatch: cw}),
		WithFulfiller(worker.FulfillerFunc(func(ctx context.Context, o *orders.Order) error {
			return errors.New("warehouse offline")
		})),
	)
	require.NoError(t, err)

	o := postOrder(t, a.Router())
	runWorker(t, a)

	require.Eventually(t, func() bool {
		jobs, err := a.Introspection.DeadLetterJobs(context.Background())
		return err == nil && len(jobs) == 1
	}, 2*time.Second, 10*time.Millisecond)

	jobs, _ := a.Introspection.DeadLetterJobs(context.Background())
	assert.Equal(t, o.ID, jobs[0].OrderID)
	assert.Equal(t, 3, jobs[0].AttemptsMade)

	got, err := a.Orders.GetOrderByID(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusFailedEnrichment, got.Status)

	assert.Eventually(t, func() bool {
		var failed, exhausted int
		for _, n := range cw.seen() {
			switch n {
			case aws.MetricJobFailed:
				failed++
			case aws.MetricJobExhausted:
				exhausted++
			}
		}
		return failed == 3 && exhausted == 1
	}, time.Second, 10*time.Millisecond)
}

func TestApp_LambdaHandlerNeedsSQS(t *testing.T) {
	a, err := New(context.Background(), memoryConfig(), logging.Discard(), WithAddressLookup(fixedLookup{}))
	require.NoError(t, err)

	_, err = a.LambdaHandler()
	assert.ErrorContains(t, err, "QUEUE_BACKEND=sqs")
}

func TestApp_SQSBackend(t *testing.T) {
	cfg := memoryConfig()
	cfg.QueueBackend = config.BackendSQS
	cfg.QueueURL = "http://localhost:4566/000000000000/orders"

	a, err := New(context.Background(), cfg, logging.Discard(),
		WithAddressLookup(fixedLookup{}),
		WithAWSClients(&aws.AWSClients{}),
	)
	require.NoError(t, err)

	h, err := a.LambdaHandler()
	require.NoError(t, err)
	assert.NotNil(t, h)
	_, isMaintainer := a.Broker.(queue.Maintainer)
	assert.False(t, isMaintainer)
}
