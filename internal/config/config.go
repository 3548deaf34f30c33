package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Backends selectable through STORE_BACKEND and QUEUE_BACKEND.
const (
	BackendMemory   = "memory"
	BackendDynamoDB = "dynamodb"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendSQS      = "sqs"
)

type Config struct {
	HTTPPort  string
	RunLocal  bool
	RunMode   string
	LogLevel  string
	LogFormat string

	StoreBackend string
	QueueBackend string

	OrdersTable      string
	IdempotencyTable string
	DLQTable         string
	DatabaseURL      string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	QueueURL              string
	QueueName             string
	QueueMaxAttempts      int
	QueueBackoffBase      time.Duration
	QueueRemoveOnComplete int
	QueueRemoveOnFail     int
	QueueLease            time.Duration

	WorkerConcurrency  int
	WorkerPollInterval time.Duration
	FulfillmentDelay   time.Duration
	EmbeddedWorker     bool

	DLQRetention    int
	DLQRetentionAge time.Duration

	ViaCEPBaseURL   string
	ViaCEPTimeout   time.Duration
	ViaCEPRateLimit float64

	MetricsNamespace string
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		HTTPPort:  getEnv("HTTP_PORT", "8080"),
		RunLocal:  getEnvBool("RUN_LOCAL", false),
		RunMode:   getEnv("RUN_MODE", "server"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		StoreBackend: strings.ToLower(getEnv("STORE_BACKEND", BackendMemory)),
		QueueBackend: strings.ToLower(getEnv("QUEUE_BACKEND", BackendMemory)),

		OrdersTable:      getEnv("ORDERS_TABLE", "orders"),
		IdempotencyTable: getEnv("IDEMPOTENCY_TABLE", "idempotency"),
		DLQTable:         getEnv("DLQ_TABLE", "orders-dlq"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		QueueURL:              os.Getenv("ORDERS_QUEUE_URL"),
		QueueName:             getEnv("QUEUE_NAME", "orders-queue"),
		QueueMaxAttempts:      getEnvInt("QUEUE_MAX_ATTEMPTS", 3),
		QueueRemoveOnComplete: getEnvInt("QUEUE_REMOVE_ON_COMPLETE", 100),
		QueueRemoveOnFail:     getEnvInt("QUEUE_REMOVE_ON_FAIL", 1000),

		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 4),
		EmbeddedWorker:    getEnvBool("EMBEDDED_WORKER", false),

		DLQRetention: getEnvInt("DLQ_RETENTION", 1000),

		ViaCEPBaseURL:   getEnv("VIACEP_BASE_URL", "https://viacep.com.br/ws"),
		ViaCEPRateLimit: getEnvFloat("VIACEP_RATE_LIMIT", 10),

		MetricsNamespace: os.Getenv("METRICS_NAMESPACE"),
	}

	durations := []struct {
		key string
		def string
		dst *time.Duration
	}{
		{"QUEUE_BACKOFF_BASE", "1s", &cfg.QueueBackoffBase},
		{"QUEUE_LEASE", "30s", &cfg.QueueLease},
		{"WORKER_POLL_INTERVAL", "500ms", &cfg.WorkerPollInterval},
		{"FULFILLMENT_DELAY", "2s", &cfg.FulfillmentDelay},
		{"DLQ_RETENTION_AGE", "720h", &cfg.DLQRetentionAge},
		{"VIACEP_TIMEOUT", "5s", &cfg.ViaCEPTimeout},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(getEnv(d.key, d.def))
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []string
	switch c.StoreBackend {
	case BackendMemory, BackendDynamoDB:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, "DATABASE_URL is required for the postgres store")
		}
	default:
		errs = append(errs, fmt.Sprintf("STORE_BACKEND %q is not supported", c.StoreBackend))
	}
	switch c.QueueBackend {
	case BackendMemory, BackendRedis:
	case BackendSQS:
		if c.QueueURL == "" {
			errs = append(errs, "ORDERS_QUEUE_URL is required for the sqs queue")
		}
	default:
		errs = append(errs, fmt.Sprintf("QUEUE_BACKEND %q is not supported", c.QueueBackend))
	}
	if c.QueueMaxAttempts <= 0 {
		errs = append(errs, "QUEUE_MAX_ATTEMPTS must be > 0")
	}
	if c.QueueBackoffBase < 0 {
		errs = append(errs, "QUEUE_BACKOFF_BASE must be >= 0")
	}
	if c.QueueLease <= 0 {
		errs = append(errs, "QUEUE_LEASE must be > 0")
	}
	if c.WorkerConcurrency <= 0 {
		errs = append(errs, "WORKER_CONCURRENCY must be > 0")
	}
	if c.ViaCEPRateLimit <= 0 {
		errs = append(errs, "VIACEP_RATE_LIMIT must be > 0")
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func getEnvInt(key string, def int) int {
	v, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return def
	}
	return v
}

func getEnvFloat(key string, def float64) float64 {
	v, err := strconv.ParseFloat(getEnv(key, ""), 64)
	if err != nil {
		return def
	}
	return v
}

func getEnvBool(key string, def bool) bool {
	v, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return def
	}
	return v
}
