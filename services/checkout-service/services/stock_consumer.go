package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yashrajoria/marketplace/pkg/messaging"
	"github.com/yashrajoria/marketplace/services/common/apperrors"
)

const StockFactsQueue = "checkout-service.stock-facts"

var StockFactRoutingKeys = []string{messaging.InventoryInsufficient}

// StockConsumer turns inventory.insufficient into an order cancellation.
type StockConsumer struct {
	checkout *CheckoutService
	logger   *zap.Logger
}

func NewStockConsumer(checkout *CheckoutService, logger *zap.Logger) *StockConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StockConsumer{checkout: checkout, logger: logger}
}

func (sc *StockConsumer) Handle(ctx context.Context, env messaging.Envelope) error {
	if env.RoutingKey != messaging.InventoryInsufficient {
		return messaging.Permanent(fmt.Errorf("unexpected routing key %q", env.RoutingKey))
	}
	var fact messaging.InventoryInsufficientFact
	if err := env.Decode(&fact); err != nil {
		return err
	}
	orderID, err := uuid.Parse(fact.OrderID)
	if err != nil {
		return messaging.Permanent(fmt.Errorf("invalid orderId %q: %w", fact.OrderID, err))
	}

	if err := sc.checkout.HandleInsufficientStock(ctx, orderID, fact.ProductID); err != nil {
		if apperrors.KindOf(err) == apperrors.KindValidation {
			return messaging.Permanent(err)
		}
		return err
	}
	sc.logger.Info("Insufficient stock handled",
		zap.String("correlation_id", env.CorrelationID),
		zap.String("order_id", fact.OrderID),
	)
	return nil
}
