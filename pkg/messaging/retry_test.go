package messaging_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yashrajoria/marketplace/pkg/messaging"
)

type flakyPublisher struct {
	failures int
	calls    int
}

func (f *flakyPublisher) Publish(ctx context.Context, routingKey string, env messaging.Envelope) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("connection refused")
	}
	return nil
}

var fastPolicy = messaging.RetryPolicy{
	MaxRetries:       3,
	InitialInterval:  time.Millisecond,
	MaxInterval:      2 * time.Millisecond,
	FailureThreshold: 10,
	OpenTimeout:      time.Minute,
}

func TestRetryingPublisher_RetriesTransientFailures(t *testing.T) {
	next := &flakyPublisher{failures: 2}
	p := messaging.NewRetryingPublisher(next, fastPolicy, nil)

	require.NoError(t, p.Publish(context.Background(), messaging.OrderCreated, envelope(t, messaging.OrderCreated, "c")))
	assert.Equal(t, 3, next.calls)
}

func TestRetryingPublisher_BoundedRetries(t *testing.T) {
	next := &flakyPublisher{failures: 100}
	p := messaging.NewRetryingPublisher(next, fastPolicy, nil)

	err := p.Publish(context.Background(), messaging.OrderCreated, envelope(t, messaging.OrderCreated, "c"))
	require.Error(t, err)
	assert.Equal(t, 4, next.calls)
}

func TestRetryingPublisher_BreakerOpensAndFailsFast(t *testing.T) {
	next := &flakyPublisher{failures: 100}
	policy := fastPolicy
	policy.FailureThreshold = 2
	p := messaging.NewRetryingPublisher(next, policy, nil)

	err := p.Publish(context.Background(), messaging.OrderCreated, envelope(t, messaging.OrderCreated, "c"))
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 2, next.calls)
	assert.Equal(t, "open", p.State())

	err = p.Publish(context.Background(), messaging.OrderCreated, envelope(t, messaging.OrderCreated, "d"))
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 2, next.calls)
}

func TestRetryingPublisher_BreakerHalfOpenRecovers(t *testing.T) {
	next := &flakyPublisher{failures: 2}
	policy := fastPolicy
	policy.FailureThreshold = 2
	policy.OpenTimeout = 10 * time.Millisecond
	p := messaging.NewRetryingPublisher(next, policy, nil)

	_ = p.Publish(context.Background(), messaging.OrderCreated, envelope(t, messaging.OrderCreated, "c"))
	require.Equal(t, "open", p.State())

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, p.Publish(context.Background(), messaging.OrderCreated, envelope(t, messaging.OrderCreated, "c")))
	assert.Equal(t, "closed", p.State())
}

func TestRetryingPublisher_ValidationIsNotRetried(t *testing.T) {
	next := &flakyPublisher{}
	p := messaging.NewRetryingPublisher(next, fastPolicy, nil)

	err := p.Publish(context.Background(), messaging.OrderCreated, messaging.Envelope{})
	assert.ErrorIs(t, err, messaging.ErrMissingCorrelationID)
	assert.Equal(t, 0, next.calls)
}

var fastReconnect = messaging.ReconnectPolicy{MaxRestarts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}

func TestSupervise_RestartsFailedSessions(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sessions := 0
	err := messaging.Supervise(ctx, "q", fastReconnect, nil, func(ctx context.Context, progress func()) error {
		sessions++
		if sessions < 3 {
			return errors.New("commit: broken pipe")
		}
		cancel()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, sessions)
}

func TestSupervise_GivesUpAfterBudget(t *testing.T) {
	sessions := 0
	err := messaging.Supervise(context.Background(), "q", fastReconnect, nil, func(ctx context.Context, progress func()) error {
		sessions++
		return errors.New("dial tcp: connection refused")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, 4, sessions)
}

func TestSupervise_ProgressResetsBudget(t *testing.T) {
	sessions := 0
	err := messaging.Supervise(context.Background(), "q", fastReconnect, nil, func(ctx context.Context, progress func()) error {
		sessions++
		if sessions <= 6 {
			progress()
		}
		return errors.New("channel closed")
	})
	require.Error(t, err)
	assert.Equal(t, 9, sessions)
}

func TestSupervise_StopsQuietlyWhenBrokerCloses(t *testing.T) {
	sessions := 0
	err := messaging.Supervise(context.Background(), "q", fastReconnect, nil, func(ctx context.Context, progress func()) error {
		sessions++
		return messaging.ErrConsumerStopped
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, sessions)
}
