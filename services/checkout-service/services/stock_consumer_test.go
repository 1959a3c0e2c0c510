package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yashrajoria/marketplace/pkg/messaging"
	"github.com/yashrajoria/marketplace/services/checkout-service/clients"
	"github.com/yashrajoria/marketplace/services/checkout-service/services"
)

func subscribeStock(t *testing.T, f *fixture) *messaging.MemoryBroker {
	t.Helper()
	broker := messaging.NewMemoryBroker()
	t.Cleanup(func() { _ = broker.Close() })

	consumer := services.NewStockConsumer(f.svc, zap.NewNop())
	h := messaging.Idempotent(messaging.NewMemorySeenStore(time.Hour), services.StockFactsQueue, consumer, nil)
	require.NoError(t, broker.Subscribe(context.Background(), services.StockFactsQueue, services.StockFactRoutingKeys, h))
	return broker
}

func insufficient(t *testing.T, orderID string) messaging.Envelope {
	t.Helper()
	env, err := messaging.NewEnvelope(messaging.InventoryInsufficient,
		messaging.CorrelationID(messaging.InventoryInsufficient, orderID), "inventory-service",
		messaging.InventoryInsufficientFact{OrderID: orderID, ProductID: "p-1", Requested: 3})
	require.NoError(t, err)
	return env
}

func drain(t *testing.T, b *messaging.MemoryBroker) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, b.Flush(ctx))
}

func TestStockConsumer_CancelsAndRefundsOnce(t *testing.T) {
	f := newFixture(t, clients.PaymentCompleted)
	order := clients.Order{ID: uuid.New(), Status: clients.OrderConfirmed}
	f.orders.put(order)
	f.payments.seed(order.ID, clients.PaymentCompleted)
	broker := subscribeStock(t, f)

	env := insufficient(t, order.ID.String())
	require.NoError(t, broker.Publish(context.Background(), env.RoutingKey, env))
	require.NoError(t, broker.Publish(context.Background(), env.RoutingKey, env))
	drain(t, broker)

	got, _ := f.orders.Get(context.Background(), order.ID)
	assert.Equal(t, clients.OrderCancelled, got.Status)
	assert.Equal(t, []int64{orderTotal}, f.payments.refunds)
	assert.Empty(t, broker.DeadLetters(services.StockFactsQueue))
}

func TestStockConsumer_PoisonIsDeadLettered(t *testing.T) {
	f := newFixture(t, clients.PaymentCompleted)
	broker := subscribeStock(t, f)

	env := insufficient(t, "not-a-uuid")
	require.NoError(t, broker.Publish(context.Background(), env.RoutingKey, env))
	drain(t, broker)

	dead := broker.DeadLetters(services.StockFactsQueue)
	require.Len(t, dead, 1)
	assert.Equal(t, 1, dead[0].Attempts)
}
