package aws

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

func TestLoadAWSConfig_DefaultRegion(t *testing.T) {
	t.Setenv("AWS_ENDPOINT_OVERRIDE", "")
	t.Setenv("AWS_REGION", "")

	cfg, err := LoadAWSConfig(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Region != "us-east-1" {
		t.Fatalf("expected default region 'us-east-1', got %s", cfg.Region)
	}
}

func TestLoadAWSConfig_WithEndpointOverride(t *testing.T) {
	t.Setenv("AWS_REGION", "sa-east-1")
	t.Setenv("AWS_ENDPOINT_OVERRIDE", "http://localhost:4566")

	cfg, err := LoadAWSConfig(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Region != "sa-east-1" {
		t.Fatalf("region mismatch, got %s", cfg.Region)
	}
	if cfg.BaseEndpoint == nil || *cfg.BaseEndpoint != "http://localhost:4566" {
		t.Fatalf("expected base endpoint override, got %v", cfg.BaseEndpoint)
	}
}

type mockCloudWatch struct {
	inputs []*cloudwatch.PutMetricDataInput
	err    error
}

func (m *mockCloudWatch) PutMetricData(ctx context.Context, in *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	m.inputs = append(m.inputs, in)
	if m.err != nil {
		return nil, m.err
	}
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func TestMetricsIncrement(t *testing.T) {
	cw := &mockCloudWatch{}
	m := NewMetrics(cw, "OrderPipeline")
	fixed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	m.nowFunc = func() time.Time { return fixed }

	if err := m.Increment(context.Background(), MetricJobExhausted, "orders-queue"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cw.inputs) != 1 {
		t.Fatalf("expected 1 call, got %d", len(cw.inputs))
	}
	in := cw.inputs[0]
	if *in.Namespace != "OrderPipeline" {
		t.Fatalf("namespace mismatch: %s", *in.Namespace)
	}
	d := in.MetricData[0]
	if *d.MetricName != MetricJobExhausted || *d.Value != 1 || d.Unit != cwtypes.StandardUnitCount {
		t.Fatalf("unexpected datum: %+v", d)
	}
	if !d.Timestamp.Equal(fixed) {
		t.Fatalf("timestamp mismatch: %v", d.Timestamp)
	}
	if *d.Dimensions[0].Value != "orders-queue" {
		t.Fatalf("dimension mismatch: %+v", d.Dimensions)
	}
}

func TestMetricsIncrement_Error(t *testing.T) {
	cw := &mockCloudWatch{err: errors.New("throttled")}
	m := NewMetrics(cw, "OrderPipeline")

	if err := m.Increment(context.Background(), MetricJobFailed, "q"); err == nil {
		t.Fatal("expected error")
	}
}
