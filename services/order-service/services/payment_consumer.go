package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yashrajoria/marketplace/pkg/messaging"
	"github.com/yashrajoria/marketplace/services/common/apperrors"
)

const PaymentFactsQueue = "order-service.payment-facts"

// PaymentFactRoutingKeys are the only facts the order ledger consumes.
var PaymentFactRoutingKeys = []string{messaging.PaymentCompleted, messaging.PaymentFailed}

// PaymentConsumer applies payment.completed and payment.failed to orders.
type PaymentConsumer struct {
	orders *OrderService
	logger *zap.Logger
}

func NewPaymentConsumer(orders *OrderService, logger *zap.Logger) *PaymentConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaymentConsumer{orders: orders, logger: logger}
}

// Handle is a messaging.Handler. Malformed payloads and facts that contradict
// the order are poison; anything else that fails (a missing order included)
// is left for redelivery.
func (pc *PaymentConsumer) Handle(ctx context.Context, env messaging.Envelope) error {
	var orderID, paymentID string
	fact := PaymentFact{Type: env.RoutingKey}

	switch env.RoutingKey {
	case messaging.PaymentCompleted:
		var p messaging.PaymentCompletedFact
		if err := env.Decode(&p); err != nil {
			return err
		}
		orderID, paymentID, fact.Amount = p.OrderID, p.PaymentID, p.Amount
	case messaging.PaymentFailed:
		var p messaging.PaymentFailedFact
		if err := env.Decode(&p); err != nil {
			return err
		}
		orderID, paymentID, fact.Reason = p.OrderID, p.PaymentID, p.Reason
	default:
		return messaging.Permanent(fmt.Errorf("unexpected routing key %q", env.RoutingKey))
	}

	oid, err := uuid.Parse(orderID)
	if err != nil {
		return messaging.Permanent(fmt.Errorf("invalid orderId %q: %w", orderID, err))
	}
	pid, err := uuid.Parse(paymentID)
	if err != nil {
		return messaging.Permanent(fmt.Errorf("invalid paymentId %q: %w", paymentID, err))
	}
	fact.PaymentID = pid

	order, err := pc.orders.ApplyPaymentFact(ctx, oid, fact)
	if err != nil {
		switch apperrors.KindOf(err) {
		case apperrors.KindValidation, apperrors.KindConflict:
			return messaging.Permanent(err)
		}
		return err
	}
	pc.logger.Info("Payment fact applied",
		zap.String("routing_key", env.RoutingKey),
		zap.String("correlation_id", env.CorrelationID),
		zap.String("order_id", oid.String()),
		zap.String("status", string(order.Status)),
	)
	return nil
}
