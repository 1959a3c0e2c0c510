package messaging_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yashrajoria/marketplace/pkg/messaging"
)

func newRedisStore(t *testing.T) (*messaging.RedisSeenStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return messaging.NewRedisSeenStore(client, time.Hour), mr
}

func TestIdempotent_DuplicateIsNoOp(t *testing.T) {
	stores := map[string]messaging.SeenStore{
		"memory": messaging.NewMemorySeenStore(time.Hour),
	}
	redisStore, _ := newRedisStore(t)
	stores["redis"] = redisStore

	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			applied := 0
			h := messaging.Idempotent(store, "order-service.payments", messaging.HandlerFunc(func(context.Context, messaging.Envelope) error {
				applied++
				return nil
			}), nil)

			env := envelope(t, messaging.PaymentCompleted, "payment.completed:p1")
			require.NoError(t, h.Handle(context.Background(), env))
			require.NoError(t, h.Handle(context.Background(), env))
			assert.Equal(t, 1, applied)
		})
	}
}

func TestIdempotent_FailureReleasesClaim(t *testing.T) {
	store, _ := newRedisStore(t)
	attempts := 0
	h := messaging.Idempotent(store, "q", messaging.HandlerFunc(func(context.Context, messaging.Envelope) error {
		attempts++
		if attempts == 1 {
			return errors.New("transient")
		}
		return nil
	}), nil)

	env := envelope(t, messaging.OrderCreated, "order.created:o1")
	assert.Error(t, h.Handle(context.Background(), env))
	require.NoError(t, h.Handle(context.Background(), env))
	require.NoError(t, h.Handle(context.Background(), env))
	assert.Equal(t, 2, attempts)

	seen, err := store.Seen(context.Background(), "q:order.created:o1")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestIdempotent_KeyedPerQueue(t *testing.T) {
	store := messaging.NewMemorySeenStore(time.Hour)
	count := 0
	inner := messaging.HandlerFunc(func(context.Context, messaging.Envelope) error { count++; return nil })

	env := envelope(t, messaging.OrderCancelled, "order.cancelled:o1")
	require.NoError(t, messaging.Idempotent(store, "inventory", inner, nil).Handle(context.Background(), env))
	require.NoError(t, messaging.Idempotent(store, "notifications", inner, nil).Handle(context.Background(), env))
	assert.Equal(t, 2, count)
}

func TestIdempotent_RetentionWindowExpires(t *testing.T) {
	store, mr := newRedisStore(t)
	count := 0
	h := messaging.Idempotent(store, "q", messaging.HandlerFunc(func(context.Context, messaging.Envelope) error { count++; return nil }), nil)

	env := envelope(t, messaging.InventoryLow, "inventory.low:p1:3")
	require.NoError(t, h.Handle(context.Background(), env))
	mr.FastForward(2 * time.Hour)
	require.NoError(t, h.Handle(context.Background(), env))
	assert.Equal(t, 2, count)
}

func TestIdempotent_MissingCorrelationIDIsPoison(t *testing.T) {
	h := messaging.Idempotent(messaging.NewMemorySeenStore(0), "q", messaging.HandlerFunc(func(context.Context, messaging.Envelope) error { return nil }), nil)
	err := h.Handle(context.Background(), messaging.Envelope{RoutingKey: "a.b"})
	assert.True(t, messaging.IsPermanent(err))
}

func TestIdempotent_StoreDownIsRetryable(t *testing.T) {
	store, mr := newRedisStore(t)
	mr.Close()

	h := messaging.Idempotent(store, "q", messaging.HandlerFunc(func(context.Context, messaging.Envelope) error { return nil }), nil)
	err := h.Handle(context.Background(), envelope(t, "a.b", "c"))
	require.Error(t, err)
	assert.False(t, messaging.IsPermanent(err))
}
