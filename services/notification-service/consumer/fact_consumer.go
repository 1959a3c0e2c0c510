package consumer

import (
	"context"

	"go.uber.org/zap"

	"github.com/yashrajoria/marketplace/pkg/messaging"
	"github.com/yashrajoria/marketplace/services/notification-service/services"
)

const FactsQueue = "notification-service.facts"

// FactConsumer hands every subscribed fact to the notification service.
type FactConsumer struct {
	service services.NotificationService
	logger  *zap.Logger
}

func NewFactConsumer(svc services.NotificationService, logger *zap.Logger) *FactConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FactConsumer{service: svc, logger: logger}
}

// Handle is a messaging.Handler. Only malformed payloads and failures to
// write the log reach the broker; a failed delivery does not.
func (c *FactConsumer) Handle(ctx context.Context, env messaging.Envelope) error {
	if err := c.service.ProcessFact(ctx, env); err != nil {
		c.logger.Error("failed to process fact",
			zap.String("routing_key", env.RoutingKey),
			zap.String("correlation_id", env.CorrelationID),
			zap.Error(err),
		)
		return err
	}
	return nil
}
