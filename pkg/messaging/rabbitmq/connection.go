// Package rabbitmq implements the broker contract on a RabbitMQ topic exchange.
// Every consumer owns a durable queue bound to its routing keys; failed
// deliveries are requeued once and then rejected to the queue's dead-letter
// exchange.
package rabbitmq

import (
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/yashrajoria/marketplace/pkg/messaging"
)

const ExchangeType = "topic"

// Config describes the connection and topology.
type Config struct {
	URL           string
	Exchange      string
	Prefetch      int
	DialAttempts  int
	MaxDeliveries int
	Reconnect     messaging.ReconnectPolicy
	OnFailure     messaging.FailureHandler
}

// DeadLetterExchange is the exchange rejected messages are routed to.
func (c Config) DeadLetterExchange() string { return c.Exchange + ".dlx" }

// DeadLetterQueue is the holding queue for messages queue gave up on.
func DeadLetterQueue(queue string) string { return queue + ".dlq" }

// SetupConn dials RabbitMQ with bounded retry and declares the main and
// dead-letter exchanges.
func SetupConn(cfg Config, logger *zap.Logger) (*amqp.Connection, *amqp.Channel, error) {
	attempts := cfg.DialAttempts
	if attempts <= 0 {
		attempts = 5
	}

	var conn *amqp.Connection
	var err error
	for i := 0; i < attempts; i++ {
		conn, err = amqp.Dial(cfg.URL)
		if err == nil {
			break
		}
		logger.Warn("Failed to connect to RabbitMQ", zap.Int("attempt", i+1), zap.Error(err))
		time.Sleep(time.Duration(i+1) * time.Second)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("could not connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("could not open channel: %w", err)
	}

	for _, name := range []string{cfg.Exchange, cfg.DeadLetterExchange()} {
		if err := ch.ExchangeDeclare(
			name,         // name
			ExchangeType, // type
			true,         // durable
			false,        // auto-deleted
			false,        // internal
			false,        // no-wait
			nil,          // arguments
		); err != nil {
			conn.Close()
			return nil, nil, fmt.Errorf("could not declare exchange %s: %w", name, err)
		}
	}

	return conn, ch, nil
}

// DeclareQueue declares queue and its dead-letter queue and binds queue to
// routingKeys. Dead letters keep their original routing key, so the DLQ is
// bound to the same keys on the DLX.
func DeclareQueue(ch *amqp.Channel, cfg Config, queue string, routingKeys []string) error {
	dlq := DeadLetterQueue(queue)
	if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return fmt.Errorf("could not declare queue %s: %w", dlq, err)
	}

	args := amqp.Table{"x-dead-letter-exchange": cfg.DeadLetterExchange()}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, args); err != nil {
		return fmt.Errorf("could not declare queue %s: %w", queue, err)
	}

	for _, rk := range routingKeys {
		if err := ch.QueueBind(queue, rk, cfg.Exchange, false, nil); err != nil {
			return fmt.Errorf("could not bind %s to %s: %w", queue, rk, err)
		}
		if err := ch.QueueBind(dlq, rk, cfg.DeadLetterExchange(), false, nil); err != nil {
			return fmt.Errorf("could not bind %s to %s: %w", dlq, rk, err)
		}
	}
	return nil
}
