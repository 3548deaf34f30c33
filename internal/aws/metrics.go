package aws

import (
	"context"
	"fmt"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// Job metric names published by the worker.
const (
	MetricJobCompleted = "JobCompleted"
	MetricJobFailed    = "JobFailed"
	MetricJobExhausted = "JobExhausted"
)

// Metrics publishes job counters to CloudWatch under a namespace.
type Metrics struct {
	CloudWatch CloudWatchAPI
	Namespace  string
	nowFunc    func() time.Time
}

func NewMetrics(client CloudWatchAPI, namespace string) *Metrics {
	return &Metrics{CloudWatch: client, Namespace: namespace, nowFunc: time.Now}
}

// Increment adds one to the named counter, dimensioned by queue name.
func (m *Metrics) Increment(ctx context.Context, name, queueName string) error {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: &m.Namespace,
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: sdkaws.String(name),
				Timestamp:  sdkaws.Time(m.nowFunc()),
				Unit:       cwtypes.StandardUnitCount,
				Value:      sdkaws.Float64(1),
				Dimensions: []cwtypes.Dimension{
					{Name: sdkaws.String("Queue"), Value: sdkaws.String(queueName)},
				},
			},
		},
	}
	if _, err := m.CloudWatch.PutMetricData(ctx, input); err != nil {
		return fmt.Errorf("put metric data %s: %w", name, err)
	}
	return nil
}
