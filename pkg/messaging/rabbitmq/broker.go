package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/yashrajoria/marketplace/pkg/messaging"
)

// Broker publishes on one channel and opens a dedicated channel per consumer.
// A dropped connection is redialled by whichever consumer or publisher
// notices first.
type Broker struct {
	cfg     Config
	connMu  sync.Mutex
	conn    *amqp.Connection
	pubMu   sync.Mutex
	pubCh   *amqp.Channel
	logger  *zap.Logger
	wg      sync.WaitGroup
	closing atomic.Bool
}

var _ messaging.Broker = (*Broker)(nil)

// New connects to RabbitMQ and declares the topology.
func New(cfg Config, logger *zap.Logger) (*Broker, error) {
	if cfg.Exchange == "" {
		cfg.Exchange = "marketplace.facts"
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 10
	}
	if cfg.MaxDeliveries <= 0 {
		cfg.MaxDeliveries = messaging.DefaultMaxDeliveries
	}
	conn, ch, err := SetupConn(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &Broker{cfg: cfg, conn: conn, pubCh: ch, logger: logger}, nil
}

// Publish sends env as a persistent message. The correlation id doubles as
// the AMQP message id.
func (b *Broker) Publish(ctx context.Context, routingKey string, env messaging.Envelope) error {
	if err := messaging.CheckRoutingKey(routingKey, &env); err != nil {
		return err
	}
	body, err := env.Marshal()
	if err != nil {
		return fmt.Errorf("could not marshal envelope: %w", err)
	}

	b.pubMu.Lock()
	defer b.pubMu.Unlock()
	if b.pubCh.IsClosed() {
		ch, err := b.channel()
		if err != nil {
			return fmt.Errorf("could not reopen publish channel: %w", err)
		}
		b.pubCh = ch
	}
	return b.pubCh.PublishWithContext(ctx,
		b.cfg.Exchange, // exchange
		routingKey,     // routing key
		false,          // mandatory
		false,          // immediate
		amqp.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp.Persistent,
			MessageId:     env.CorrelationID,
			CorrelationId: env.CorrelationID,
			Timestamp:     env.Timestamp,
			AppId:         env.SourceService,
			Body:          body,
		},
	)
}

// Subscribe declares queue, binds it and consumes with manual acks until ctx
// is cancelled. When the channel or connection drops the consumer is reopened
// with backoff; cfg.OnFailure is called if that budget runs out.
func (b *Broker) Subscribe(ctx context.Context, queue string, routingKeys []string, h messaging.Handler) error {
	ch, msgs, err := b.openConsumer(queue, routingKeys)
	if err != nil {
		return err
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		err := messaging.Supervise(ctx, queue, b.cfg.Reconnect, b.logger, func(ctx context.Context, progress func()) error {
			if ch == nil {
				var err error
				if ch, msgs, err = b.openConsumer(queue, routingKeys); err != nil {
					return err
				}
			}
			defer func() {
				ch.Close()
				ch = nil
			}()
			return b.drain(ctx, queue, h, ch, msgs, progress)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			b.logger.Error("RabbitMQ consumer stopped", zap.String("queue", queue), zap.Error(err))
			if b.cfg.OnFailure != nil {
				b.cfg.OnFailure(queue, err)
			}
		}
	}()
	return nil
}

func (b *Broker) openConsumer(queue string, routingKeys []string) (*amqp.Channel, <-chan amqp.Delivery, error) {
	ch, err := b.channel()
	if err != nil {
		return nil, nil, err
	}
	if err := DeclareQueue(ch, b.cfg, queue, routingKeys); err != nil {
		ch.Close()
		return nil, nil, err
	}
	if err := ch.Qos(b.cfg.Prefetch, 0, false); err != nil {
		ch.Close()
		return nil, nil, fmt.Errorf("could not set qos: %w", err)
	}

	msgs, err := ch.Consume(
		queue, // queue
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		ch.Close()
		return nil, nil, fmt.Errorf("could not start consume: %w", err)
	}
	return ch, msgs, nil
}

// drain delivers from msgs until ctx ends or the channel closes.
func (b *Broker) drain(ctx context.Context, queue string, h messaging.Handler, ch *amqp.Channel, msgs <-chan amqp.Delivery, progress func()) error {
	closed := ch.NotifyClose(make(chan *amqp.Error, 1))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case amqpErr := <-closed:
			return b.channelClosed(queue, amqpErr)
		case d, ok := <-msgs:
			if !ok {
				return b.channelClosed(queue, nil)
			}
			b.deliver(ctx, queue, h, d)
			progress()
		}
	}
}

func (b *Broker) channelClosed(queue string, amqpErr *amqp.Error) error {
	if b.closing.Load() {
		return messaging.ErrConsumerStopped
	}
	b.logger.Warn("Consumer channel closed", zap.String("queue", queue))
	if amqpErr != nil {
		return fmt.Errorf("consumer channel closed: %w", amqpErr)
	}
	return errors.New("consumer channel closed")
}

// channel opens a channel, redialling first if the connection is gone.
func (b *Broker) channel() (*amqp.Channel, error) {
	b.connMu.Lock()
	defer b.connMu.Unlock()
	if b.closing.Load() {
		return nil, messaging.ErrConsumerStopped
	}
	if b.conn.IsClosed() {
		conn, ch, err := SetupConn(b.cfg, b.logger)
		if err != nil {
			return nil, err
		}
		b.logger.Info("Reconnected to RabbitMQ")
		b.conn = conn
		return ch, nil
	}
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("could not open channel: %w", err)
	}
	return ch, nil
}

// Acknowledger is the subset of amqp.Delivery used to settle a message.
type Acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

func (b *Broker) deliver(ctx context.Context, queue string, h messaging.Handler, d amqp.Delivery) {
	attempt := deliveryAttempt(d)
	env, err := messaging.Unmarshal(d.Body)
	if err == nil {
		err = messaging.SafeHandle(messaging.WithDelivery(ctx, messaging.Delivery{Queue: queue, Attempt: attempt}), h, env)
	}
	if settleErr := Settle(&d, attempt, b.cfg.MaxDeliveries, err); settleErr != nil {
		b.logger.Warn("Failed to settle delivery", zap.String("queue", queue), zap.Error(settleErr))
	}
	if err != nil && messaging.ShouldDeadLetter(attempt, b.cfg.MaxDeliveries, err) {
		b.logger.Warn("Message dead-lettered",
			zap.String("queue", queue),
			zap.String("routing_key", d.RoutingKey),
			zap.String("correlation_id", d.CorrelationId),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}

// Settle acks on success, requeues a first failure and rejects (to the DLX)
// once the delivery budget is spent or the failure is permanent.
func Settle(a Acknowledger, attempt, maxDeliveries int, handleErr error) error {
	if handleErr == nil {
		return a.Ack(false)
	}
	if messaging.ShouldDeadLetter(attempt, maxDeliveries, handleErr) {
		return a.Nack(false, false)
	}
	return a.Nack(false, true)
}

// deliveryAttempt derives the attempt number. RabbitMQ only exposes the
// redelivered flag on classic queues, and x-delivery-count on quorum queues.
func deliveryAttempt(d amqp.Delivery) int {
	if v, ok := d.Headers["x-delivery-count"]; ok {
		switch n := v.(type) {
		case int64:
			return int(n) + 1
		case int32:
			return int(n) + 1
		case int:
			return n + 1
		}
	}
	if d.Redelivered {
		return 2
	}
	return 1
}

// ReplayDeadLetters republishes up to limit messages from queue's DLQ to the
// main exchange and acks them.
func (b *Broker) ReplayDeadLetters(ctx context.Context, queue string, limit int) (int, error) {
	ch, err := b.channel()
	if err != nil {
		return 0, err
	}
	defer ch.Close()

	replayed := 0
	for limit <= 0 || replayed < limit {
		d, ok, err := ch.Get(DeadLetterQueue(queue), false)
		if err != nil {
			return replayed, fmt.Errorf("could not read %s: %w", DeadLetterQueue(queue), err)
		}
		if !ok {
			break
		}
		pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = ch.PublishWithContext(pubCtx, b.cfg.Exchange, d.RoutingKey, false, false, amqp.Publishing{
			ContentType:   d.ContentType,
			DeliveryMode:  amqp.Persistent,
			MessageId:     d.MessageId,
			CorrelationId: d.CorrelationId,
			Timestamp:     d.Timestamp,
			AppId:         d.AppId,
			Body:          d.Body,
		})
		cancel()
		if err != nil {
			_ = d.Nack(false, true)
			return replayed, fmt.Errorf("could not republish: %w", err)
		}
		if err := d.Ack(false); err != nil {
			return replayed, err
		}
		replayed++
	}
	return replayed, nil
}

// Close waits for consumers to stop and closes the connection.
func (b *Broker) Close() error {
	b.closing.Store(true)
	b.connMu.Lock()
	err := b.conn.Close()
	b.connMu.Unlock()
	b.wg.Wait()
	if errors.Is(err, amqp.ErrClosed) {
		return nil
	}
	return err
}
