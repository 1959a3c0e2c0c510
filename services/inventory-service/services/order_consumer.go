package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/yashrajoria/marketplace/pkg/messaging"
	"github.com/yashrajoria/marketplace/services/common/apperrors"
)

const OrderFactsQueue = "inventory-service.order-facts"

// OrderFactRoutingKeys are the facts that move stock.
var OrderFactRoutingKeys = []string{messaging.OrderCreated, messaging.OrderCancelled, messaging.PaymentFailed}

// OrderConsumer takes stock on order.created and gives it back on
// order.cancelled or payment.failed.
type OrderConsumer struct {
	inventory *InventoryService
	logger    *zap.Logger
}

func NewOrderConsumer(inventory *InventoryService, logger *zap.Logger) *OrderConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderConsumer{inventory: inventory, logger: logger}
}

func (oc *OrderConsumer) Handle(ctx context.Context, env messaging.Envelope) error {
	switch env.RoutingKey {
	case messaging.OrderCreated:
		var fact messaging.OrderCreatedFact
		if err := env.Decode(&fact); err != nil {
			return err
		}
		if fact.OrderID == "" {
			return messaging.Permanent(fmt.Errorf("order.created without orderId"))
		}
		return oc.permanentIfInvalid(oc.inventory.ReserveOrder(ctx, fact.OrderID, fact.Items))

	case messaging.OrderCancelled:
		var fact messaging.OrderCancelledFact
		if err := env.Decode(&fact); err != nil {
			return err
		}
		return oc.release(ctx, env, fact.OrderID, fact.Reason)

	case messaging.PaymentFailed:
		var fact messaging.PaymentFailedFact
		if err := env.Decode(&fact); err != nil {
			return err
		}
		return oc.release(ctx, env, fact.OrderID, "payment_failed")

	default:
		return messaging.Permanent(fmt.Errorf("unexpected routing key %q", env.RoutingKey))
	}
}

func (oc *OrderConsumer) release(ctx context.Context, env messaging.Envelope, orderID, reason string) error {
	if orderID == "" {
		return messaging.Permanent(fmt.Errorf("%s without orderId", env.RoutingKey))
	}
	credited, err := oc.inventory.ReleaseOrder(ctx, orderID, reason)
	if err != nil {
		return err
	}
	oc.logger.Info("Order stock released",
		zap.String("routing_key", env.RoutingKey),
		zap.String("correlation_id", env.CorrelationID),
		zap.String("order_id", orderID),
		zap.Int("credited_lines", credited),
	)
	return nil
}

func (oc *OrderConsumer) permanentIfInvalid(err error) error {
	if err != nil && apperrors.KindOf(err) == apperrors.KindValidation {
		return messaging.Permanent(err)
	}
	return err
}
