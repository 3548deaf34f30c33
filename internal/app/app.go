// Package app wires the configured backends into the intake service, the
// worker and the scheduled jobs.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/imrishuroy/go-order-pipeline/internal/address"
	"github.com/imrishuroy/go-order-pipeline/internal/aws"
	"github.com/imrishuroy/go-order-pipeline/internal/config"
	"github.com/imrishuroy/go-order-pipeline/internal/dlq"
	"github.com/imrishuroy/go-order-pipeline/internal/handlers"
	"github.com/imrishuroy/go-order-pipeline/internal/idempotency"
	"github.com/imrishuroy/go-order-pipeline/internal/introspection"
	"github.com/imrishuroy/go-order-pipeline/internal/jobs"
	"github.com/imrishuroy/go-order-pipeline/internal/orders"
	"github.com/imrishuroy/go-order-pipeline/internal/postgres"
	"github.com/imrishuroy/go-order-pipeline/internal/queue"
	"github.com/imrishuroy/go-order-pipeline/internal/queue/redisqueue"
	"github.com/imrishuroy/go-order-pipeline/internal/queue/sqsqueue"
	"github.com/imrishuroy/go-order-pipeline/internal/worker"
)

// App holds every long-lived component of a process.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Orders        *orders.Service
	Broker        queue.Broker
	DLQ           dlq.Store
	Processor     *worker.Processor
	Consumer      *queue.Consumer
	Introspection *introspection.Service
	Jobs          *jobs.JobManager
	Hooks         queue.Hooks

	sqs     *sqsqueue.Queue
	closers []func() error
}

type Option func(*options)

type options struct {
	clients   *aws.AWSClients
	lookup    orders.AddressLookup
	fulfiller worker.Fulfiller
}

// WithAWSClients supplies the AWS clients instead of loading them from the
// default credential chain.
func WithAWSClients(c *aws.AWSClients) Option {
	return func(o *options) { o.clients = c }
}

func WithAddressLookup(l orders.AddressLookup) Option {
	return func(o *options) { o.lookup = l }
}

func WithFulfiller(f worker.Fulfiller) Option {
	return func(o *options) { o.fulfiller = f }
}

// New builds the components selected by cfg. Call Close when done.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Config: cfg, Logger: logger}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	if o.clients == nil && a.needsAWS() {
		clients, err := aws.NewAWSClients(ctx)
		if err != nil {
			return nil, fmt.Errorf("init aws clients: %w", err)
		}
		o.clients = clients
	}

	repo, keys, err := a.buildStores(o.clients)
	if err != nil {
		return nil, err
	}

	broker, err := a.buildBroker(ctx, o.clients)
	if err != nil {
		return nil, err
	}
	a.Broker = broker

	if o.lookup == nil {
		o.lookup = address.NewClient(cfg.ViaCEPBaseURL, cfg.ViaCEPTimeout, cfg.ViaCEPRateLimit, logger)
	}
	var svcOpts []orders.ServiceOption
	if keys != nil {
		svcOpts = append(svcOpts, orders.WithKeyTracker(keys))
	}
	a.Orders = orders.NewService(repo, o.lookup, broker, logger, svcOpts...)

	if o.fulfiller == nil {
		o.fulfiller = worker.DelayFulfiller{Delay: cfg.FulfillmentDelay}
	}
	a.Processor = worker.NewProcessor(repo, a.DLQ, o.fulfiller, logger)

	if cfg.MetricsNamespace != "" && o.clients != nil {
		a.Hooks = metricHooks(aws.NewMetrics(o.clients.CloudWatch, cfg.MetricsNamespace), cfg.QueueName, logger)
	}

	a.Consumer = queue.NewConsumer(broker, a.Processor.Process, queue.ConsumerConfig{
		Concurrency:  cfg.WorkerConcurrency,
		PollInterval: cfg.WorkerPollInterval,
	}, logger)
	a.Consumer.SetHooks(a.Hooks)
	a.Consumer.OnExhausted(a.Processor.HandleExhausted)

	a.Introspection = introspection.NewService(broker, a.DLQ)
	a.Jobs = jobs.NewJobManager(a.Consumer, a.DLQ, cfg.DLQRetentionAge, logger)

	ok = true
	logger.Info("application wired",
		"store", cfg.StoreBackend, "queue", cfg.QueueBackend, "queue_name", cfg.QueueName)
	return a, nil
}

func (a *App) needsAWS() bool {
	return a.Config.StoreBackend == config.BackendDynamoDB ||
		a.Config.QueueBackend == config.BackendSQS ||
		a.Config.MetricsNamespace != ""
}

func (a *App) queueConfig() queue.Config {
	return queue.Config{
		Name:             a.Config.QueueName,
		MaxAttempts:      a.Config.QueueMaxAttempts,
		BackoffBase:      a.Config.QueueBackoffBase,
		RemoveOnComplete: a.Config.QueueRemoveOnComplete,
		RemoveOnFail:     a.Config.QueueRemoveOnFail,
		Lease:            a.Config.QueueLease,
	}.WithDefaults()
}

// buildStores sets a.DLQ and returns the order repository. keys is non-nil
// only for DynamoDB, where idempotency keys live in their own table.
func (a *App) buildStores(clients *aws.AWSClients) (orders.Repository, *idempotency.Store, error) {
	cfg := a.Config
	switch cfg.StoreBackend {
	case config.BackendDynamoDB:
		keys := idempotency.NewStore(clients.DynamoDB, cfg.IdempotencyTable)
		a.DLQ = dlq.NewDynamoStore(clients.DynamoDB, cfg.DLQTable)
		return orders.NewStore(clients.DynamoDB, cfg.OrdersTable, keys), keys, nil

	case config.BackendPostgres:
		db, err := postgres.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, fmt.Errorf("postgres handle: %w", err)
		}
		a.closers = append(a.closers, sqlDB.Close)
		if err := postgres.Migrate(db); err != nil {
			return nil, nil, err
		}
		a.DLQ = postgres.NewDLQStore(db)
		return postgres.NewOrderRepository(db), nil, nil

	default:
		a.DLQ = dlq.NewMemoryStore(cfg.DLQRetention)
		return orders.NewMemoryStore(), nil, nil
	}
}

func (a *App) buildBroker(ctx context.Context, clients *aws.AWSClients) (queue.Broker, error) {
	cfg := a.Config
	qcfg := a.queueConfig()
	switch cfg.QueueBackend {
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		a.closers = append(a.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("ping redis %s: %w", cfg.RedisAddr, err)
		}
		return redisqueue.New(client, qcfg, a.Logger), nil

	case config.BackendSQS:
		a.sqs = sqsqueue.New(clients.SQS, cfg.QueueURL, qcfg, a.Logger)
		return a.sqs, nil

	default:
		return queue.NewMemoryQueue(qcfg), nil
	}
}

// Router returns the HTTP API.
func (a *App) Router() *gin.Engine {
	return handlers.NewRouter(handlers.HandlerConfig{
		Orders:        a.Orders,
		Introspection: a.Introspection,
		Logger:        a.Logger,
	})
}

// LambdaHandler returns the SQS event handler. It needs the sqs queue backend.
func (a *App) LambdaHandler() (*worker.LambdaHandler, error) {
	if a.sqs == nil {
		return nil, fmt.Errorf("lambda worker needs QUEUE_BACKEND=%s, got %q", config.BackendSQS, a.Config.QueueBackend)
	}
	return worker.NewLambdaHandler(a.Processor, a.sqs, a.Hooks, a.Logger), nil
}

// RunWorker starts the scheduled jobs and drains the queue until ctx is done.
func (a *App) RunWorker(ctx context.Context) error {
	if err := a.Jobs.StartAll(); err != nil {
		return err
	}
	defer a.Jobs.StopAll()
	return a.Consumer.Run(ctx)
}

func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

func metricHooks(m *aws.Metrics, queueName string, logger *slog.Logger) queue.Hooks {
	inc := func(ctx context.Context, name string, job *queue.Job) {
		if err := m.Increment(ctx, name, queueName); err != nil {
			logger.Warn("publish metric", "metric", name, "job_id", job.ID, "error", err)
		}
	}
	return queue.Hooks{
		OnCompleted: func(ctx context.Context, job *queue.Job) { inc(ctx, aws.MetricJobCompleted, job) },
		OnFailed:    func(ctx context.Context, job *queue.Job, _ error) { inc(ctx, aws.MetricJobFailed, job) },
		OnExhausted: func(ctx context.Context, job *queue.Job) { inc(ctx, aws.MetricJobExhausted, job) },
	}
}
