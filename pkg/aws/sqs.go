package aws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"
)

// SQSAPI is the subset of the SQS client used by SQSConsumer.
type SQSAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSConsumer provides methods for consuming messages from SQS queues
type SQSConsumer struct {
	client   SQSAPI
	queueURL string
	logger   *zap.Logger
}

// NewSQSConsumer creates a new SQS consumer for the given queue URL
func NewSQSConsumer(cfg aws.Config, queueURL string, logger *zap.Logger) *SQSConsumer {
	client := sqs.NewFromConfig(cfg, func(o *sqs.Options) {
		if ep := ServiceEndpoint("sqs"); ep != "" {
			o.BaseEndpoint = aws.String(ep)
		}
	})
	return NewSQSConsumerWithAPI(client, queueURL, logger)
}

// NewSQSConsumerWithAPI builds a consumer over an existing SQS API implementation.
func NewSQSConsumerWithAPI(api SQSAPI, queueURL string, logger *zap.Logger) *SQSConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQSConsumer{client: api, queueURL: queueURL, logger: logger}
}

// Message is one received SQS message. Body has the SNS notification wrapper
// removed when present.
type Message struct {
	ID           string
	Body         string
	ReceiveCount int
}

// MessageHandler processes a message. Returning nil deletes it from the queue;
// returning an error leaves it to reappear after the visibility timeout.
type MessageHandler func(ctx context.Context, msg Message) error

// StartPolling polls SQS for messages and processes them with the handler
// Runs until context is cancelled
func (c *SQSConsumer) StartPolling(ctx context.Context, handler MessageHandler) error {
	c.logger.Info("Starting SQS polling", zap.String("queue_url", c.queueURL))

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("SQS polling stopped", zap.String("queue_url", c.queueURL))
			return ctx.Err()
		default:
			if err := c.PollOnce(ctx, handler); err != nil && !errors.Is(err, context.Canceled) {
				c.logger.Warn("Error polling SQS", zap.String("queue_url", c.queueURL), zap.Error(err))
			}
		}
	}
}

// PollOnce performs a single long-poll receive and dispatches every message.
func (c *SQSConsumer) PollOnce(ctx context.Context, handler MessageHandler) error {
	result, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:                    &c.queueURL,
		MaxNumberOfMessages:         10,
		WaitTimeSeconds:             20,
		VisibilityTimeout:           30,
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{types.MessageSystemAttributeNameApproximateReceiveCount},
	})
	if err != nil {
		return fmt.Errorf("failed to receive messages: %w", err)
	}

	for _, msg := range result.Messages {
		if msg.Body == nil {
			continue
		}

		m := Message{
			ID:           aws.ToString(msg.MessageId),
			Body:         unwrapSNS(*msg.Body),
			ReceiveCount: receiveCount(msg.Attributes),
		}

		if err := handler(ctx, m); err != nil {
			c.logger.Warn("Failed to process message",
				zap.String("message_id", m.ID),
				zap.Int("receive_count", m.ReceiveCount),
				zap.Error(err),
			)
			continue
		}

		if _, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
			QueueUrl:      &c.queueURL,
			ReceiptHandle: msg.ReceiptHandle,
		}); err != nil {
			c.logger.Warn("Failed to delete message", zap.String("message_id", m.ID), zap.Error(err))
		}
	}

	return nil
}

// SendMessage sends a single message to the given queue
func (c *SQSConsumer) SendMessage(ctx context.Context, queueURL, body string) error {
	_, err := c.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    &queueURL,
		MessageBody: &body,
	})
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// GetQueueURL retrieves the URL for a queue name
func GetQueueURL(ctx context.Context, cfg aws.Config, queueName string) (string, error) {
	client := sqs.NewFromConfig(cfg)
	result, err := client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{
		QueueName: &queueName,
	})
	if err != nil {
		return "", fmt.Errorf("failed to get queue URL: %w", err)
	}
	return *result.QueueUrl, nil
}

func unwrapSNS(body string) string {
	var snsEnvelope struct {
		Type    string `json:"Type"`
		Message string `json:"Message"`
	}
	if err := json.Unmarshal([]byte(body), &snsEnvelope); err == nil && snsEnvelope.Type == "Notification" && snsEnvelope.Message != "" {
		return snsEnvelope.Message
	}
	return body
}

func receiveCount(attrs map[string]string) int {
	n, err := strconv.Atoi(attrs[string(types.MessageSystemAttributeNameApproximateReceiveCount)])
	if err != nil || n < 1 {
		return 1
	}
	return n
}
