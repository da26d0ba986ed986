// Package observability emits operational metrics for the saga engine.
package observability

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"go.uber.org/zap"
)

// metricNamespace groups all saga engine metrics in CloudWatch
const metricNamespace = "TripSaga"

// CloudWatchMetrics implements ports.MetricsRecorder on CloudWatch.
// Emission is fire-and-forget: a metrics outage must never slow a saga down.
type CloudWatchMetrics struct {
	client  *cloudwatch.Client
	enabled bool
	logger  *zap.Logger
}

// NewCloudWatchMetrics creates the recorder. When disabled, every call is a
// no-op, which keeps local development free of AWS calls.
func NewCloudWatchMetrics(client *cloudwatch.Client, enabled bool, logger *zap.Logger) *CloudWatchMetrics {
	return &CloudWatchMetrics{
		client:  client,
		enabled: enabled,
		logger:  logger,
	}
}

// RecordSagaOutcome emits the terminal status and duration of one execution
func (m *CloudWatchMetrics) RecordSagaOutcome(ctx context.Context, definitionID string, status string, duration time.Duration) {
	if !m.enabled {
		return
	}

	dimensions := []types.Dimension{
		{Name: aws.String("Definition"), Value: aws.String(definitionID)},
		{Name: aws.String("Status"), Value: aws.String(status)},
	}

	m.put(ctx, []types.MetricDatum{
		{
			MetricName: aws.String("SagaCompleted"),
			Dimensions: dimensions,
			Value:      aws.Float64(1),
			Unit:       types.StandardUnitCount,
		},
		{
			MetricName: aws.String("SagaDuration"),
			Dimensions: dimensions,
			Value:      aws.Float64(float64(duration.Milliseconds())),
			Unit:       types.StandardUnitMilliseconds,
		},
	})
}

// RecordStepAttempts emits how many attempts one step invocation needed
func (m *CloudWatchMetrics) RecordStepAttempts(ctx context.Context, definitionID, stepName string, attempts int, succeeded bool) {
	if !m.enabled {
		return
	}

	outcome := "failure"
	if succeeded {
		outcome = "success"
	}

	m.put(ctx, []types.MetricDatum{
		{
			MetricName: aws.String("StepAttempts"),
			Dimensions: []types.Dimension{
				{Name: aws.String("Definition"), Value: aws.String(definitionID)},
				{Name: aws.String("Step"), Value: aws.String(stepName)},
				{Name: aws.String("Outcome"), Value: aws.String(outcome)},
			},
			Value: aws.Float64(float64(attempts)),
			Unit:  types.StandardUnitCount,
		},
	})
}

// put ships a batch of datapoints, logging failures instead of returning them
func (m *CloudWatchMetrics) put(ctx context.Context, data []types.MetricDatum) {
	_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(metricNamespace),
		MetricData: data,
	})
	if err != nil {
		m.logger.Warn("Failed to emit metrics", zap.Error(err))
	}
}
