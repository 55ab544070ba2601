package metrics

import (
	"context"
	"fmt"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/imrishuroy/go-clinic-bookingflow/internal/aws"
)

// DefaultNamespace is the CloudWatch namespace used when none is configured.
const DefaultNamespace = "ClinicBooking"

// CloudWatchPublisher pushes one datapoint per finished saga so alarms can
// fire on COMPENSATION_FAILED without scraping Prometheus.
type CloudWatchPublisher struct {
	client    aws.CloudWatchAPI
	namespace string
	nowFunc   func() time.Time
}

func NewCloudWatchPublisher(client aws.CloudWatchAPI, namespace string) *CloudWatchPublisher {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &CloudWatchPublisher{client: client, namespace: namespace, nowFunc: time.Now}
}

// PublishOutcome records a SagaOutcome count and a SagaDuration value, both
// dimensioned by status.
func (p *CloudWatchPublisher) PublishOutcome(ctx context.Context, status string, duration time.Duration) error {
	if p == nil || p.client == nil {
		return nil
	}
	now := p.nowFunc()
	dims := []cwtypes.Dimension{{Name: awssdk.String("Status"), Value: awssdk.String(status)}}
	_, err := p.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: awssdk.String(p.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: awssdk.String("SagaOutcome"),
				Dimensions: dims,
				Timestamp:  &now,
				Unit:       cwtypes.StandardUnitCount,
				Value:      awssdk.Float64(1),
			},
			{
				MetricName: awssdk.String("SagaDuration"),
				Dimensions: dims,
				Timestamp:  &now,
				Unit:       cwtypes.StandardUnitMilliseconds,
				Value:      awssdk.Float64(float64(duration.Milliseconds())),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("put metric data: %w", err)
	}
	return nil
}
