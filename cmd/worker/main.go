package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/imrishuroy/go-order-pipeline/internal/app"
	"github.com/imrishuroy/go-order-pipeline/internal/config"
	"github.com/imrishuroy/go-order-pipeline/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to wire application", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	if cfg.RunMode != "lambda" {
		if err := a.RunWorker(ctx); err != nil {
			logger.Error("worker exited", "error", err)
			os.Exit(1)
		}
		return
	}

	h, err := a.LambdaHandler()
	if err != nil {
		logger.Error("failed to build lambda handler", "error", err)
		os.Exit(1)
	}

	// RUN_LOCAL feeds one synthetic SQS record through the handler.
	if cfg.RunLocal {
		body := os.Getenv("LOCAL_SQS_BODY")
		if body == "" {
			body = `{"order_id":"local-order-1"}`
		}
		event := events.SQSEvent{Records: []events.SQSMessage{{
			MessageId:  "local-1",
			Body:       body,
			Attributes: map[string]string{"ApproximateReceiveCount": "1"},
		}}}
		resp, err := h.Handle(ctx, event)
		if err != nil {
			logger.Error("local handler error", "error", err)
			os.Exit(1)
		}
		logger.Info("local event handled", "batch_item_failures", len(resp.BatchItemFailures))
		return
	}

	lambda.Start(h.Handle)
}
