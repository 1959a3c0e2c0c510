package consumer_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yashrajoria/marketplace/pkg/messaging"
	"github.com/yashrajoria/marketplace/services/notification-service/consumer"
	"github.com/yashrajoria/marketplace/services/notification-service/models"
	"github.com/yashrajoria/marketplace/services/notification-service/services"
)

type stubService struct {
	mu    sync.Mutex
	facts []string
	err   error
}

func (s *stubService) ProcessFact(ctx context.Context, env messaging.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.facts = append(s.facts, env.RoutingKey)
	return s.err
}

func (s *stubService) GetLogs(ctx context.Context, filter models.NotificationFilter) ([]models.NotificationLog, int64, error) {
	return nil, 0, nil
}

func (s *stubService) GetLog(ctx context.Context, id int64) (*models.NotificationLog, error) {
	return nil, nil
}

func (s *stubService) seen() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.facts...)
}

func subscribe(t *testing.T, svc services.NotificationService) *messaging.MemoryBroker {
	t.Helper()
	broker := messaging.NewMemoryBroker()
	t.Cleanup(func() { _ = broker.Close() })

	h := messaging.Idempotent(messaging.NewMemorySeenStore(time.Hour), consumer.FactsQueue, consumer.NewFactConsumer(svc, nil), nil)
	require.NoError(t, broker.Subscribe(context.Background(), consumer.FactsQueue, services.FactRoutingKeys(), h))
	return broker
}

func publish(t *testing.T, b *messaging.MemoryBroker, rk, cid string, payload any) {
	t.Helper()
	env, err := messaging.NewEnvelope(rk, cid, "test", payload)
	require.NoError(t, err)
	require.NoError(t, b.Publish(context.Background(), rk, env))
}

func flush(t *testing.T, b *messaging.MemoryBroker) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, b.Flush(ctx))
}

func TestFactConsumer_SubscribesToOrderPaymentAndLowStock(t *testing.T) {
	svc := &stubService{}
	b := subscribe(t, svc)

	publish(t, b, messaging.OrderCreated, "order.created:o-1", map[string]string{"orderId": "o-1"})
	publish(t, b, messaging.PaymentCompleted, "payment.completed:p-1", map[string]string{"orderId": "o-1"})
	publish(t, b, messaging.InventoryLow, "inventory.low:p-9:2", map[string]any{"productId": "p-9"})
	publish(t, b, messaging.InventoryInsufficient, "inventory.insufficient:o-1", map[string]string{"orderId": "o-1"})
	flush(t, b)

	assert.Equal(t, []string{messaging.OrderCreated, messaging.PaymentCompleted, messaging.InventoryLow}, svc.seen())
}

func TestFactConsumer_DuplicateProcessedOnce(t *testing.T) {
	svc := &stubService{}
	b := subscribe(t, svc)

	publish(t, b, messaging.OrderCreated, "order.created:o-1", map[string]string{"orderId": "o-1"})
	publish(t, b, messaging.OrderCreated, "order.created:o-1", map[string]string{"orderId": "o-1"})
	flush(t, b)

	assert.Len(t, svc.seen(), 1)
}

func TestFactConsumer_StoreFailureRedeliversThenDeadLetters(t *testing.T) {
	svc := &stubService{err: errors.New("save notification log: connection refused")}
	b := subscribe(t, svc)

	publish(t, b, messaging.OrderCancelled, "order.cancelled:o-1", map[string]string{"orderId": "o-1"})
	flush(t, b)

	assert.Len(t, svc.seen(), 2)
	dead := b.DeadLetters(consumer.FactsQueue)
	require.Len(t, dead, 1)
	assert.Equal(t, 2, dead[0].Attempts)
}
