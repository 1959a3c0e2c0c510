package aws

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// CloudWatchAPI is the subset of the CloudWatch client used by MetricsClient.
type CloudWatchAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// MetricsClient wraps AWS CloudWatch Metrics operations. A nil *MetricsClient
// is valid and records nothing.
type MetricsClient struct {
	client    CloudWatchAPI
	namespace string
	enabled   bool
}

// NewMetricsClient creates a CloudWatch Metrics client. Metrics are only sent
// when CLOUDWATCH_ENABLED=true.
func NewMetricsClient(cfg aws.Config) *MetricsClient {
	namespace := os.Getenv("CLOUDWATCH_NAMESPACE")
	if namespace == "" {
		namespace = "Marketplace"
	}
	return NewMetricsClientWithAPI(cloudwatch.NewFromConfig(cfg), namespace, os.Getenv("CLOUDWATCH_ENABLED") == "true")
}

func NewMetricsClientWithAPI(api CloudWatchAPI, namespace string, enabled bool) *MetricsClient {
	return &MetricsClient{client: api, namespace: namespace, enabled: enabled}
}

// PutMetric sends a single metric data point to CloudWatch
func (m *MetricsClient) PutMetric(ctx context.Context, metricName string, value float64, unit types.StandardUnit, dimensions map[string]string) error {
	if !m.IsEnabled() {
		return nil
	}

	dims := make([]types.Dimension, 0, len(dimensions))
	for k, v := range dimensions {
		dims = append(dims, types.Dimension{
			Name:  aws.String(k),
			Value: aws.String(v),
		})
	}

	_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []types.MetricDatum{
			{
				MetricName: aws.String(metricName),
				Value:      aws.Float64(value),
				Unit:       unit,
				Timestamp:  aws.Time(time.Now()),
				Dimensions: dims,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to put metric: %w", err)
	}

	return nil
}

// RecordCount increments a counter metric
func (m *MetricsClient) RecordCount(ctx context.Context, metricName string, dimensions map[string]string) error {
	return m.PutMetric(ctx, metricName, 1, types.StandardUnitCount, dimensions)
}

// RecordLatency records a latency/duration metric in milliseconds
func (m *MetricsClient) RecordLatency(ctx context.Context, metricName string, duration time.Duration, dimensions map[string]string) error {
	return m.PutMetric(ctx, metricName, float64(duration.Milliseconds()), types.StandardUnitMilliseconds, dimensions)
}

// RecordValue records a generic value metric
func (m *MetricsClient) RecordValue(ctx context.Context, metricName string, value float64, dimensions map[string]string) error {
	return m.PutMetric(ctx, metricName, value, types.StandardUnitNone, dimensions)
}

// IsEnabled returns whether CloudWatch metrics are enabled
func (m *MetricsClient) IsEnabled() bool {
	return m != nil && m.enabled && m.client != nil
}

// Common metric names for standardization
const (
	// HTTP metrics
	MetricHTTPRequests = "HTTPRequests"
	MetricHTTPErrors   = "HTTPErrors"
	MetricHTTPLatency  = "HTTPLatency"
	MetricHTTP4xx      = "HTTP4xxErrors"
	MetricHTTP5xx      = "HTTP5xxErrors"

	// Business metrics
	MetricOrdersCreated         = "OrdersCreated"
	MetricOrdersCancelled       = "OrdersCancelled"
	MetricOrdersManualRefund    = "OrdersManualRefund"
	MetricPaymentSucceeded      = "PaymentSucceeded"
	MetricPaymentFailed         = "PaymentFailed"
	MetricPaymentRefunded       = "PaymentRefunded"
	MetricInventoryDecremented  = "InventoryDecremented"
	MetricInventoryCredited     = "InventoryCredited"
	MetricInventoryLow          = "InventoryLowStock"
	MetricInventoryInsufficient = "InventoryInsufficient"
	MetricCheckoutCompleted     = "CheckoutCompleted"
	MetricCheckoutFailed        = "CheckoutFailed"
	MetricNotificationsSent     = "NotificationsSent"
	MetricNotificationsFailed   = "NotificationsFailed"

	// Messaging metrics
	MetricMessagesProcessed    = "MessagesProcessed"
	MetricMessagesDeadLettered = "MessagesDeadLettered"
	MetricOutboxPublishFailed  = "OutboxPublishFailed"
)
