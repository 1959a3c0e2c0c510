// Package kafka implements the broker contract on Kafka. Each routing key is a
// topic, each consumer queue is a consumer group, and offsets are committed
// only after the handler succeeds or the message has been copied to the
// queue's dead-letter topic.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/yashrajoria/marketplace/pkg/messaging"
)

// ErrWildcardUnsupported is returned for topic patterns; Kafka groups need concrete topics.
var ErrWildcardUnsupported = errors.New("kafka subscriptions need concrete routing keys")

// MessageWriter is the subset of *kafkago.Writer used by the broker.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// MessageReader is the subset of *kafkago.Reader used by a consumer.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

type Config struct {
	Brokers         []string
	TopicPrefix     string
	MaxDeliveries   int
	RedeliveryDelay time.Duration
	// Reconnect bounds how often a failed consumer is rebuilt; OnFailure is
	// called once that budget is spent.
	Reconnect messaging.ReconnectPolicy
	OnFailure messaging.FailureHandler
}

type Broker struct {
	cfg       Config
	writer    MessageWriter
	newReader func(groupID string, topics []string) MessageReader
	logger    *zap.Logger
	wg        sync.WaitGroup
}

var _ messaging.Broker = (*Broker)(nil)

// New builds a Kafka broker. Topics are auto-created by the writer.
func New(cfg Config, logger *zap.Logger) *Broker {
	writer := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.Brokers...),
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	newReader := func(groupID string, topics []string) MessageReader {
		return kafkago.NewReader(kafkago.ReaderConfig{
			Brokers:     cfg.Brokers,
			GroupID:     groupID,
			GroupTopics: topics,
			StartOffset: kafkago.FirstOffset,
			MinBytes:    1,
			MaxBytes:    10e6,
		})
	}
	return NewWithClients(cfg, writer, newReader, logger)
}

// NewWithClients wires explicit writer and reader factories.
func NewWithClients(cfg Config, writer MessageWriter, newReader func(groupID string, topics []string) MessageReader, logger *zap.Logger) *Broker {
	if cfg.MaxDeliveries <= 0 {
		cfg.MaxDeliveries = messaging.DefaultMaxDeliveries
	}
	if cfg.RedeliveryDelay <= 0 {
		cfg.RedeliveryDelay = 500 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broker{cfg: cfg, writer: writer, newReader: newReader, logger: logger}
}

func (b *Broker) topic(routingKey string) string { return b.cfg.TopicPrefix + routingKey }

// DeadLetterTopic is where queue's failed messages are copied.
func (b *Broker) DeadLetterTopic(queue string) string { return b.cfg.TopicPrefix + queue + ".dlq" }

// Publish writes env keyed by routing key so one key maps to one partition
// and keeps publish order.
func (b *Broker) Publish(ctx context.Context, routingKey string, env messaging.Envelope) error {
	if err := messaging.CheckRoutingKey(routingKey, &env); err != nil {
		return err
	}
	body, err := env.Marshal()
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	err = b.writer.WriteMessages(ctx, kafkago.Message{
		Topic: b.topic(routingKey),
		Key:   []byte(routingKey),
		Value: body,
		Headers: []kafkago.Header{
			{Key: "correlation_id", Value: []byte(env.CorrelationID)},
			{Key: "source_service", Value: []byte(env.SourceService)},
		},
	})
	if err != nil {
		return fmt.Errorf("kafka write %s: %w", routingKey, err)
	}
	return nil
}

// Subscribe joins consumer group queue on the routing key topics.
func (b *Broker) Subscribe(ctx context.Context, queue string, routingKeys []string, h messaging.Handler) error {
	topics := make([]string, 0, len(routingKeys))
	for _, rk := range routingKeys {
		if strings.ContainsAny(rk, "*#") {
			return fmt.Errorf("%w: %s", ErrWildcardUnsupported, rk)
		}
		topics = append(topics, b.topic(rk))
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		err := messaging.Supervise(ctx, queue, b.cfg.Reconnect, b.logger, func(ctx context.Context, progress func()) error {
			reader := b.newReader(queue, topics)
			defer reader.Close()
			return b.consume(ctx, reader, queue, h, progress)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			b.logger.Error("Kafka consumer stopped", zap.String("queue", queue), zap.Error(err))
			if b.cfg.OnFailure != nil {
				b.cfg.OnFailure(queue, err)
			}
		}
	}()
	return nil
}

// Consume runs the fetch/handle/commit loop until ctx ends or the reader
// fails. Subscribe restarts it on a fresh reader; uncommitted messages are
// fetched again.
func (b *Broker) Consume(ctx context.Context, reader MessageReader, queue string, h messaging.Handler) error {
	return b.consume(ctx, reader, queue, h, func() {})
}

func (b *Broker) consume(ctx context.Context, reader MessageReader, queue string, h messaging.Handler, progress func()) error {
	for {
		m, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("fetch: %w", err)
		}

		if err := b.process(ctx, queue, h, m); err != nil {
			// Not committed; the group rebalance or restart will redeliver it.
			return err
		}
		if err := reader.CommitMessages(ctx, m); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		progress()
	}
}

func (b *Broker) process(ctx context.Context, queue string, h messaging.Handler, m kafkago.Message) error {
	env, err := messaging.Unmarshal(m.Value)
	attempt := 1
	for err == nil {
		err = messaging.SafeHandle(messaging.WithDelivery(ctx, messaging.Delivery{Queue: queue, Attempt: attempt}), h, env)
		if err == nil {
			return nil
		}
		if messaging.ShouldDeadLetter(attempt, b.cfg.MaxDeliveries, err) {
			break
		}
		attempt++
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.cfg.RedeliveryDelay):
		}
		err = nil
	}

	b.logger.Warn("Message dead-lettered",
		zap.String("queue", queue),
		zap.String("topic", m.Topic),
		zap.Int64("offset", m.Offset),
		zap.Int("attempt", attempt),
		zap.Error(err),
	)
	return b.writer.WriteMessages(ctx, kafkago.Message{
		Topic: b.DeadLetterTopic(queue),
		Key:   m.Key,
		Value: m.Value,
		Headers: append(m.Headers,
			kafkago.Header{Key: "dlq_reason", Value: []byte(err.Error())},
			kafkago.Header{Key: "dlq_source_topic", Value: []byte(m.Topic)},
		),
	})
}

// Close waits for consumers and closes the writer.
func (b *Broker) Close() error {
	b.wg.Wait()
	return b.writer.Close()
}
