package messaging

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// RetryPolicy bounds publish retries.
type RetryPolicy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// Breaker opens after this many consecutive failures and stays open for OpenTimeout.
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

// DefaultRetryPolicy is used when a zero RetryPolicy is supplied.
var DefaultRetryPolicy = RetryPolicy{
	MaxRetries:       5,
	InitialInterval:  100 * time.Millisecond,
	MaxInterval:      5 * time.Second,
	FailureThreshold: 5,
	OpenTimeout:      30 * time.Second,
}

// RetryingPublisher retries transient publish failures with exponential
// backoff behind a circuit breaker. While the breaker is open publishes fail
// fast with gobreaker.ErrOpenState.
type RetryingPublisher struct {
	next    Publisher
	policy  RetryPolicy
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

func NewRetryingPublisher(next Publisher, policy RetryPolicy, logger *zap.Logger) *RetryingPublisher {
	if policy == (RetryPolicy{}) {
		policy = DefaultRetryPolicy
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	threshold := policy.FailureThreshold
	if threshold == 0 {
		threshold = DefaultRetryPolicy.FailureThreshold
	}

	p := &RetryingPublisher{next: next, policy: policy, logger: logger}
	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "broker-publish",
		MaxRequests: 1,
		Timeout:     policy.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, ErrRoutingKeyMismatch) ||
				errors.Is(err, ErrMissingRoutingKey) || errors.Is(err, ErrMissingCorrelationID)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return p
}

// Publish delivers env through the wrapped publisher.
func (p *RetryingPublisher) Publish(ctx context.Context, routingKey string, env Envelope) error {
	if err := CheckRoutingKey(routingKey, &env); err != nil {
		return err
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.policy.InitialInterval
	exp.MaxInterval = p.policy.MaxInterval
	exp.MaxElapsedTime = 0

	op := func() error {
		_, err := p.breaker.Execute(func() (interface{}, error) {
			return nil, p.next.Publish(ctx, routingKey, env)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		p.logger.Warn("Publish failed; retrying",
			zap.String("routing_key", routingKey),
			zap.String("correlation_id", env.CorrelationID),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(exp, p.policy.MaxRetries), ctx)
	return backoff.RetryNotify(op, b, notify)
}

// State returns the breaker state: "closed", "open" or "half-open".
func (p *RetryingPublisher) State() string {
	return p.breaker.State().String()
}

// ErrConsumerStopped ends supervision without counting as a failure. Brokers
// return it from a session once they are closing.
var ErrConsumerStopped = errors.New("consumer stopped")

var errSessionEnded = errors.New("consumer session ended")

// ReconnectPolicy bounds how often a failed consumer session is restarted.
type ReconnectPolicy struct {
	MaxRestarts     uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

var DefaultReconnectPolicy = ReconnectPolicy{
	MaxRestarts:     10,
	InitialInterval: 200 * time.Millisecond,
	MaxInterval:     15 * time.Second,
}

// FailureHandler is told when a queue's consumer spent its restart budget.
type FailureHandler func(queue string, err error)

// Supervise runs session until ctx ends, restarting it with exponential
// backoff whenever it returns. A session that reported progress resets the
// budget. Once MaxRestarts consecutive sessions fail without progress the
// last error is returned.
func Supervise(ctx context.Context, queue string, policy ReconnectPolicy, logger *zap.Logger, session func(ctx context.Context, progress func()) error) error {
	if policy == (ReconnectPolicy{}) {
		policy = DefaultReconnectPolicy
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = policy.InitialInterval
	exp.MaxInterval = policy.MaxInterval
	exp.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(exp, policy.MaxRestarts), ctx)
	b.Reset()

	for {
		var progressed atomic.Bool
		err := session(ctx, func() { progressed.Store(true) })
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, ErrConsumerStopped) {
			return nil
		}
		if err == nil {
			err = errSessionEnded
		}
		if progressed.Load() {
			b.Reset()
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		logger.Warn("Consumer session ended; restarting",
			zap.String("queue", queue),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
