// Package sqs implements the broker contract on SNS fan-out to SQS queues.
// Facts are published to one SNS topic with a routing_key attribute; each
// consumer queue is an SQS queue subscribed to that topic. The queue's
// ApproximateReceiveCount drives the redeliver-then-dead-letter decision.
package sqs

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	awspkg "github.com/yashrajoria/marketplace/pkg/aws"
	"github.com/yashrajoria/marketplace/pkg/messaging"
)

// Poller is implemented by *awspkg.SQSConsumer.
type Poller interface {
	StartPolling(ctx context.Context, handler awspkg.MessageHandler) error
	SendMessage(ctx context.Context, queueURL, body string) error
}

type Config struct {
	TopicArn      string
	QueueURLs     map[string]string
	DLQURLs       map[string]string
	MaxDeliveries int
}

type Broker struct {
	cfg       Config
	sns       awspkg.SNSPublisher
	newPoller func(queueURL string) Poller
	logger    *zap.Logger
	wg        sync.WaitGroup
}

var _ messaging.Broker = (*Broker)(nil)

func New(cfg Config, sns awspkg.SNSPublisher, newPoller func(queueURL string) Poller, logger *zap.Logger) *Broker {
	if cfg.MaxDeliveries <= 0 {
		cfg.MaxDeliveries = messaging.DefaultMaxDeliveries
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broker{cfg: cfg, sns: sns, newPoller: newPoller, logger: logger}
}

func (b *Broker) Publish(ctx context.Context, routingKey string, env messaging.Envelope) error {
	if err := messaging.CheckRoutingKey(routingKey, &env); err != nil {
		return err
	}
	body, err := env.Marshal()
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	return b.sns.Publish(ctx, b.cfg.TopicArn, body, map[string]string{
		"routing_key":    routingKey,
		"correlation_id": env.CorrelationID,
	})
}

// Subscribe polls the SQS queue configured for queue. Messages whose routing
// key does not match routingKeys are deleted without invoking h.
func (b *Broker) Subscribe(ctx context.Context, queue string, routingKeys []string, h messaging.Handler) error {
	url, ok := b.cfg.QueueURLs[queue]
	if !ok || url == "" {
		return fmt.Errorf("no SQS queue URL configured for %s", queue)
	}
	poller := b.newPoller(url)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		err := poller.StartPolling(ctx, b.Handler(queue, routingKeys, h, poller))
		if err != nil && !errors.Is(err, context.Canceled) {
			b.logger.Error("SQS consumer stopped", zap.String("queue", queue), zap.Error(err))
		}
	}()
	return nil
}

// Handler adapts h to an SQS message handler for queue.
func (b *Broker) Handler(queue string, routingKeys []string, h messaging.Handler, poller Poller) awspkg.MessageHandler {
	return func(ctx context.Context, msg awspkg.Message) error {
		env, err := messaging.Unmarshal([]byte(msg.Body))
		if err == nil {
			if !messaging.MatchAny(routingKeys, env.RoutingKey) {
				return nil
			}
			ctx = messaging.WithDelivery(ctx, messaging.Delivery{Queue: queue, Attempt: msg.ReceiveCount})
			err = messaging.SafeHandle(ctx, h, env)
		}
		if err == nil {
			return nil
		}
		if !messaging.ShouldDeadLetter(msg.ReceiveCount, b.cfg.MaxDeliveries, err) {
			return err
		}

		b.logger.Warn("Message dead-lettered",
			zap.String("queue", queue),
			zap.String("message_id", msg.ID),
			zap.Int("receive_count", msg.ReceiveCount),
			zap.Error(err),
		)
		dlq := b.cfg.DLQURLs[queue]
		if dlq == "" {
			// Without an explicit DLQ the queue's redrive policy takes over.
			return err
		}
		if sendErr := poller.SendMessage(ctx, dlq, msg.Body); sendErr != nil {
			return fmt.Errorf("dead-letter %s: %w", queue, sendErr)
		}
		return nil
	}
}

func (b *Broker) Close() error {
	b.wg.Wait()
	return nil
}
