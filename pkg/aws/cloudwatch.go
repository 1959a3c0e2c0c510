package aws

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
)

const (
	defaultLogGroup      = "/marketplace/services"
	defaultRetentionDays = 14
	logBatchSize         = 100
	logFlushInterval     = 2 * time.Second
)

// LogsAPI is the subset of the CloudWatch Logs client the writer needs.
type LogsAPI interface {
	CreateLogGroup(ctx context.Context, params *cloudwatchlogs.CreateLogGroupInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogGroupOutput, error)
	PutRetentionPolicy(ctx context.Context, params *cloudwatchlogs.PutRetentionPolicyInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.PutRetentionPolicyOutput, error)
	CreateLogStream(ctx context.Context, params *cloudwatchlogs.CreateLogStreamInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogStreamOutput, error)
	PutLogEvents(ctx context.Context, params *cloudwatchlogs.PutLogEventsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.PutLogEventsOutput, error)
}

// CloudWatchLogsClient is a zapcore.WriteSyncer that ships log lines to one
// stream in batches. Lines are buffered until logBatchSize accumulate, the
// flush interval passes, or Sync is called.
type CloudWatchLogsClient struct {
	api     LogsAPI
	group   string
	stream  string
	now     func() time.Time
	mu      sync.Mutex
	pending []types.InputLogEvent
}

// NewCloudWatchLogsClient creates the log group (with CLOUDWATCH_RETENTION_DAYS
// retention) and a stream named after serviceName, then flushes in the
// background until ctx is done.
func NewCloudWatchLogsClient(ctx context.Context, cfg aws.Config, serviceName string) (*CloudWatchLogsClient, error) {
	group := os.Getenv("CLOUDWATCH_LOG_GROUP")
	if group == "" {
		group = defaultLogGroup
	}
	retention := defaultRetentionDays
	if n, err := strconv.Atoi(os.Getenv("CLOUDWATCH_RETENTION_DAYS")); err == nil && n > 0 {
		retention = n
	}
	host, _ := os.Hostname()
	stream := fmt.Sprintf("%s/%s/%d", serviceName, host, time.Now().Unix())

	w, err := NewCloudWatchLogsWriter(ctx, cloudwatchlogs.NewFromConfig(cfg), group, stream, int32(retention))
	if err != nil {
		return nil, err
	}
	go w.run(ctx)
	return w, nil
}

// NewCloudWatchLogsWriter prepares group and stream on api. It does not
// start the background flusher.
func NewCloudWatchLogsWriter(ctx context.Context, api LogsAPI, group, stream string, retentionDays int32) (*CloudWatchLogsClient, error) {
	var exists *types.ResourceAlreadyExistsException
	if _, err := api.CreateLogGroup(ctx, &cloudwatchlogs.CreateLogGroupInput{LogGroupName: aws.String(group)}); err != nil && !errors.As(err, &exists) {
		return nil, fmt.Errorf("create log group %s: %w", group, err)
	}
	if _, err := api.PutRetentionPolicy(ctx, &cloudwatchlogs.PutRetentionPolicyInput{
		LogGroupName:    aws.String(group),
		RetentionInDays: aws.Int32(retentionDays),
	}); err != nil {
		return nil, fmt.Errorf("set retention on %s: %w", group, err)
	}
	if _, err := api.CreateLogStream(ctx, &cloudwatchlogs.CreateLogStreamInput{
		LogGroupName:  aws.String(group),
		LogStreamName: aws.String(stream),
	}); err != nil && !errors.As(err, &exists) {
		return nil, fmt.Errorf("create log stream %s: %w", stream, err)
	}
	return &CloudWatchLogsClient{api: api, group: group, stream: stream, now: time.Now}, nil
}

// Write buffers one encoded log line. It never fails so logging keeps
// working while CloudWatch is unreachable.
func (c *CloudWatchLogsClient) Write(p []byte) (int, error) {
	c.mu.Lock()
	c.pending = append(c.pending, types.InputLogEvent{
		Message:   aws.String(string(p)),
		Timestamp: aws.Int64(c.now().UnixMilli()),
	})
	full := len(c.pending) >= logBatchSize
	c.mu.Unlock()

	if full {
		_ = c.Sync()
	}
	return len(p), nil
}

// Sync sends every buffered line.
func (c *CloudWatchLogsClient) Sync() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.flush(ctx)
}

func (c *CloudWatchLogsClient) flush(ctx context.Context) error {
	c.mu.Lock()
	batch := c.pending
	c.pending = nil
	c.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}

	_, err := c.api.PutLogEvents(ctx, &cloudwatchlogs.PutLogEventsInput{
		LogGroupName:  aws.String(c.group),
		LogStreamName: aws.String(c.stream),
		LogEvents:     batch,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "cloudwatch: dropped %d log events: %v\n", len(batch), err)
		return fmt.Errorf("put log events: %w", err)
	}
	return nil
}

func (c *CloudWatchLogsClient) run(ctx context.Context) {
	ticker := time.NewTicker(logFlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = c.Sync()
			return
		case <-ticker.C:
			_ = c.flush(ctx)
		}
	}
}
