package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DefaultMaxDeliveries is the first delivery plus one redelivery.
const DefaultMaxDeliveries = 2

// Handler applies one fact. Returning nil acknowledges the delivery; any other
// error triggers redelivery, or dead-lettering once the delivery budget is spent.
type Handler interface {
	Handle(ctx context.Context, env Envelope) error
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, env Envelope) error

func (f HandlerFunc) Handle(ctx context.Context, env Envelope) error { return f(ctx, env) }

// Publisher publishes one fact under a routing key.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, env Envelope) error
}

// Subscriber binds a durable named queue to routing key patterns and delivers
// its messages to h until ctx is cancelled. Patterns use topic syntax:
// "*" matches one word, "#" matches zero or more.
type Subscriber interface {
	Subscribe(ctx context.Context, queue string, routingKeys []string, h Handler) error
}

// Broker is a Publisher and Subscriber with a lifecycle.
type Broker interface {
	Publisher
	Subscriber
	Close() error
}

// DeadLetter is a message a queue gave up on.
type DeadLetter struct {
	Queue    string    `json:"queue"`
	Envelope Envelope  `json:"envelope"`
	Reason   string    `json:"reason"`
	Attempts int       `json:"attempts"`
	At       time.Time `json:"at"`
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth redelivering; the message is dead-lettered
// on first failure.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// ShouldDeadLetter decides whether a failed delivery is final.
func ShouldDeadLetter(attempt, maxDeliveries int, err error) bool {
	if maxDeliveries < 1 {
		maxDeliveries = DefaultMaxDeliveries
	}
	return IsPermanent(err) || attempt >= maxDeliveries
}

// Delivery describes the message currently being handled.
type Delivery struct {
	Queue   string
	Attempt int
}

type deliveryKey struct{}

// WithDelivery attaches delivery metadata to ctx.
func WithDelivery(ctx context.Context, d Delivery) context.Context {
	return context.WithValue(ctx, deliveryKey{}, d)
}

// DeliveryFrom returns the delivery metadata set by the broker adapter.
func DeliveryFrom(ctx context.Context) (Delivery, bool) {
	d, ok := ctx.Value(deliveryKey{}).(Delivery)
	return d, ok
}

// SafeHandle invokes h and converts a panic into an error so a bad message
// cannot kill the consumer loop.
func SafeHandle(ctx context.Context, h Handler, env Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Handle(ctx, env)
}

// WithLogging logs every failed delivery with its routing and correlation ids.
func WithLogging(logger *zap.Logger, queue string, h Handler) Handler {
	return HandlerFunc(func(ctx context.Context, env Envelope) error {
		err := h.Handle(ctx, env)
		if err != nil {
			d, _ := DeliveryFrom(ctx)
			logger.Warn("Message handling failed",
				zap.String("queue", queue),
				zap.String("routing_key", env.RoutingKey),
				zap.String("correlation_id", env.CorrelationID),
				zap.Int("attempt", d.Attempt),
				zap.Bool("permanent", IsPermanent(err)),
				zap.Error(err),
			)
		}
		return err
	})
}

// CheckRoutingKey fills env.RoutingKey from routingKey when empty and rejects
// a mismatch.
func CheckRoutingKey(routingKey string, env *Envelope) error {
	if routingKey == "" {
		return ErrMissingRoutingKey
	}
	if env.RoutingKey == "" {
		env.RoutingKey = routingKey
	}
	if env.RoutingKey != routingKey {
		return fmt.Errorf("%w: %q vs %q", ErrRoutingKeyMismatch, env.RoutingKey, routingKey)
	}
	return env.Validate()
}
