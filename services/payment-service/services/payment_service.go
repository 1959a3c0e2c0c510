package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	awspkg "github.com/yashrajoria/marketplace/pkg/aws"
	"github.com/yashrajoria/marketplace/pkg/messaging"
	"github.com/yashrajoria/marketplace/services/common/apperrors"
	"github.com/yashrajoria/marketplace/services/payment-service/gateway"
	"github.com/yashrajoria/marketplace/services/payment-service/models"
	"github.com/yashrajoria/marketplace/services/payment-service/repository"
)

const SourceService = "payment-service"

type InitiateRequest struct {
	OrderID  uuid.UUID     `json:"order_id" binding:"required"`
	Amount   int64         `json:"amount" binding:"required"`
	Method   models.Method `json:"method" binding:"required"`
	Currency string        `json:"currency"`
}

type PaymentService struct {
	repo     repository.PaymentRepository
	gateway  gateway.Gateway
	orders   OrderReader
	currency string
	metrics  *awspkg.MetricsClient
	logger   *zap.Logger
	now      func() time.Time
}

// NewPaymentService wires the ledger. orders may be nil, in which case
// amounts are not checked against the order total.
func NewPaymentService(repo repository.PaymentRepository, gw gateway.Gateway, orders OrderReader, currency string, metrics *awspkg.MetricsClient, logger *zap.Logger) *PaymentService {
	if currency == "" {
		currency = "inr"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaymentService{
		repo:     repo,
		gateway:  gw,
		orders:   orders,
		currency: strings.ToLower(currency),
		metrics:  metrics,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Initiate creates the payment for an order, or returns the one that already
// exists. The bool reports whether a new payment was created.
func (s *PaymentService) Initiate(ctx context.Context, userID string, req InitiateRequest) (*models.Payment, bool, error) {
	if req.OrderID == uuid.Nil {
		return nil, false, apperrors.Validation(apperrors.CodeOrderNotFound, "order_id is required")
	}
	if req.Amount <= 0 {
		return nil, false, apperrors.Validation(apperrors.CodeInvalidAmount, "Amount must be positive")
	}
	if !req.Method.Valid() {
		return nil, false, apperrors.Validation(apperrors.CodeInvalidMethod, fmt.Sprintf("Unsupported payment method %q", req.Method))
	}

	if existing, err := s.repo.FindByOrderID(ctx, req.OrderID); err == nil {
		return s.reuse(existing)
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, false, apperrors.Transient("Failed to load payment", err)
	}

	currency := strings.ToLower(req.Currency)
	if currency == "" {
		currency = s.currency
	}
	if s.orders != nil {
		order, err := s.orders.GetOrder(ctx, req.OrderID)
		if err != nil {
			if apperrors.KindOf(err) == apperrors.KindNotFound {
				return nil, false, apperrors.Validation(apperrors.CodeOrderNotFound, "Order does not exist")
			}
			return nil, false, apperrors.Transient("order ledger unavailable", err)
		}
		if req.Amount > order.TotalAmount {
			return nil, false, apperrors.Validation(apperrors.CodeInvalidAmount,
				fmt.Sprintf("Amount %d exceeds order total %d", req.Amount, order.TotalAmount))
		}
		if order.Currency != "" {
			currency = strings.ToLower(order.Currency)
		}
	}

	payment := &models.Payment{
		ID:       uuid.New(),
		OrderID:  req.OrderID,
		UserID:   userID,
		Amount:   req.Amount,
		Currency: currency,
		Method:   req.Method,
		Status:   models.StatusInitiated,
	}
	intent, err := s.gateway.CreateIntent(ctx, gateway.IntentRequest{
		PaymentID: payment.ID,
		OrderID:   payment.OrderID,
		Amount:    payment.Amount,
		Currency:  payment.Currency,
		Method:    string(payment.Method),
	})
	if err != nil {
		s.logger.Error("Gateway intent creation failed", zap.String("order_id", req.OrderID.String()), zap.Error(err))
		return nil, false, apperrors.Transient("payment gateway unavailable", err)
	}
	payment.GatewayRef = &intent.Reference

	created, err := s.repo.Create(ctx, payment)
	if err != nil {
		return nil, false, apperrors.Internal("Failed to save payment", err)
	}
	if !created {
		// Lost a race with a concurrent initiate for the same order.
		if cancelErr := s.gateway.Cancel(ctx, intent.Reference); cancelErr != nil {
			s.logger.Warn("Failed to cancel orphaned intent", zap.String("gateway_ref", intent.Reference), zap.Error(cancelErr))
		}
		existing, err := s.repo.FindByOrderID(ctx, req.OrderID)
		if err != nil {
			return nil, false, apperrors.Transient("Failed to load payment", err)
		}
		return s.reuse(existing)
	}

	payment.ClientSecret = intent.ClientSecret
	s.logger.Info("Payment initiated",
		zap.String("payment_id", payment.ID.String()),
		zap.String("order_id", payment.OrderID.String()),
		zap.Int64("amount", payment.Amount),
	)
	return payment, true, nil
}

func (s *PaymentService) reuse(p *models.Payment) (*models.Payment, bool, error) {
	switch p.Status {
	case models.StatusFailed, models.StatusCancelled:
		return nil, false, apperrors.Conflict(apperrors.CodePaymentClosed,
			fmt.Sprintf("Payment for this order is already %s", p.Status))
	}
	return p, false, nil
}

// Confirm records the gateway's verdict for evidence. Confirming a settled
// payment with the same evidence returns it unchanged.
func (s *PaymentService) Confirm(ctx context.Context, id uuid.UUID, evidence models.Evidence) (*models.Payment, error) {
	if strings.TrimSpace(evidence.Reference) == "" {
		return nil, apperrors.Validation(apperrors.CodeEvidenceMismatch, "Gateway evidence is required")
	}
	p, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.GatewayRef == nil || *p.GatewayRef != evidence.Reference {
		return nil, apperrors.Conflict(apperrors.CodeEvidenceMismatch, "Evidence does not belong to this payment")
	}
	if p.Status == models.StatusCancelled {
		return s.recheckCancelled(ctx, p)
	}
	if !p.Status.Open() {
		return p, nil
	}

	if p.Status == models.StatusInitiated {
		if _, err := s.repo.Transition(ctx, p.ID, models.StatusInitiated, map[string]any{"status": models.StatusProcessing}); err != nil {
			return nil, apperrors.Internal("Failed to update payment", err)
		}
		if p, err = s.load(ctx, id); err != nil {
			return nil, err
		}
		if p.Status != models.StatusProcessing {
			return s.settled(p)
		}
	}

	outcome, err := s.gateway.Verify(ctx, evidence.Reference)
	if err != nil {
		if errors.Is(err, gateway.ErrUnknownReference) {
			return nil, apperrors.Conflict(apperrors.CodeEvidenceMismatch, "Gateway does not know this reference")
		}
		return nil, apperrors.Transient("payment gateway unavailable", err)
	}
	return s.apply(ctx, p, *outcome)
}

// HandleGatewayEvent applies an asynchronous gateway notification.
func (s *PaymentService) HandleGatewayEvent(ctx context.Context, ev gateway.Event) (*models.Payment, error) {
	p, err := s.repo.FindByGatewayRef(ctx, ev.Reference)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound(apperrors.CodePaymentNotFound, "No payment for gateway reference")
	}
	if err != nil {
		return nil, apperrors.Transient("Failed to load payment", err)
	}
	if p.Status == models.StatusCancelled && ev.Outcome.Status == gateway.OutcomeSucceeded {
		return s.captureAfterCancel(ctx, p)
	}
	if !p.Status.Open() {
		return p, nil
	}
	if p.Status == models.StatusInitiated && ev.Outcome.Status != gateway.OutcomePending {
		if _, err := s.repo.Transition(ctx, p.ID, models.StatusInitiated, map[string]any{"status": models.StatusProcessing}); err != nil {
			return nil, apperrors.Internal("Failed to update payment", err)
		}
		if p, err = s.load(ctx, p.ID); err != nil {
			return nil, err
		}
	}
	return s.apply(ctx, p, ev.Outcome)
}

func (s *PaymentService) apply(ctx context.Context, p *models.Payment, outcome gateway.Outcome) (*models.Payment, error) {
	if p.Status != models.StatusProcessing || outcome.Status == gateway.OutcomePending {
		return p, nil
	}

	now := s.now()
	var (
		to     models.Status
		fields map[string]any
		env    messaging.Envelope
		err    error
	)
	switch outcome.Status {
	case gateway.OutcomeSucceeded:
		to = models.StatusCompleted
		fields = models.StampTransition(to, now)
		env, err = s.completedFact(p)
	default:
		reason := outcome.Reason
		if reason == "" {
			reason = "declined"
		}
		to = models.StatusFailed
		fields = models.StampTransition(to, now)
		fields["failure_reason"] = reason
		env, err = s.fact(messaging.PaymentFailed, p.ID, messaging.PaymentFailedFact{
			OrderID:   p.OrderID.String(),
			PaymentID: p.ID.String(),
			Reason:    reason,
		})
	}
	if err != nil {
		return nil, err
	}

	applied, err := s.repo.Transition(ctx, p.ID, models.StatusProcessing, fields, env)
	if err != nil {
		return nil, apperrors.Internal("Failed to settle payment", err)
	}
	if applied {
		metric := awspkg.MetricPaymentSucceeded
		if to == models.StatusFailed {
			metric = awspkg.MetricPaymentFailed
		}
		_ = s.metrics.RecordCount(ctx, metric, map[string]string{"Method": string(p.Method)})
		s.logger.Info("Payment settled",
			zap.String("payment_id", p.ID.String()),
			zap.String("order_id", p.OrderID.String()),
			zap.String("status", string(to)),
		)
	}
	updated, err := s.load(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if !applied && updated.Status == models.StatusCancelled && outcome.Status == gateway.OutcomeSucceeded {
		return s.captureAfterCancel(ctx, updated)
	}
	return s.settled(updated)
}

// recheckCancelled asks the gateway about a cancelled payment. If the intent
// succeeded anyway the capture is recorded; otherwise the payment stays closed.
func (s *PaymentService) recheckCancelled(ctx context.Context, p *models.Payment) (*models.Payment, error) {
	outcome, err := s.gateway.Verify(ctx, *p.GatewayRef)
	if err != nil {
		return nil, apperrors.Transient("payment gateway unavailable", err)
	}
	if outcome.Status == gateway.OutcomeSucceeded {
		return s.captureAfterCancel(ctx, p)
	}
	return nil, apperrors.Conflict(apperrors.CodePaymentClosed, "Payment was cancelled")
}

// captureAfterCancel moves a cancelled payment whose intent succeeded at the
// gateway to Completed and publishes payment.completed. The order ledger
// flags the already-cancelled order for a manual refund.
func (s *PaymentService) captureAfterCancel(ctx context.Context, p *models.Payment) (*models.Payment, error) {
	fields := models.StampTransition(models.StatusCompleted, s.now())
	fields["captured_after_cancel"] = true
	env, err := s.completedFact(p)
	if err != nil {
		return nil, err
	}
	applied, err := s.repo.Transition(ctx, p.ID, models.StatusCancelled, fields, env)
	if err != nil {
		return nil, apperrors.Internal("Failed to record late capture", err)
	}
	if applied {
		_ = s.metrics.RecordCount(ctx, awspkg.MetricPaymentSucceeded, map[string]string{"Method": string(p.Method)})
		s.logger.Warn("Payment captured after cancel",
			zap.String("payment_id", p.ID.String()),
			zap.String("order_id", p.OrderID.String()),
			zap.Int64("amount", p.Amount),
		)
	}
	return s.load(ctx, p.ID)
}

func (s *PaymentService) settled(p *models.Payment) (*models.Payment, error) {
	if p.Status == models.StatusCancelled {
		return nil, apperrors.Conflict(apperrors.CodePaymentClosed, "Payment was cancelled")
	}
	return p, nil
}

// Refund returns amount (the full amount when zero) of a completed payment.
func (s *PaymentService) Refund(ctx context.Context, id uuid.UUID, amount int64, reason string) (*models.Payment, error) {
	p, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status != models.StatusCompleted {
		return nil, apperrors.Validation(apperrors.CodePaymentNotRefundable,
			fmt.Sprintf("Payment in status %s cannot be refunded", p.Status))
	}
	if amount == 0 {
		amount = p.Amount
	}
	if amount < 0 {
		return nil, apperrors.Validation(apperrors.CodeInvalidAmount, "Refund amount cannot be negative")
	}
	if amount > p.Amount {
		return nil, apperrors.Validation(apperrors.CodeRefundExceedsAmount,
			fmt.Sprintf("Refund %d exceeds payment amount %d", amount, p.Amount))
	}

	if p.GatewayRef != nil {
		if err := s.gateway.Refund(ctx, *p.GatewayRef, amount); err != nil {
			s.logger.Error("Gateway refund failed", zap.String("payment_id", p.ID.String()), zap.Error(err))
			return nil, apperrors.Transient("payment gateway unavailable", err)
		}
	}

	fields := models.StampTransition(models.StatusRefunded, s.now())
	fields["refund_amount"] = amount
	fields["refund_reason"] = reason
	env, err := s.fact(messaging.PaymentRefunded, p.ID, messaging.PaymentRefundedFact{
		OrderID:   p.OrderID.String(),
		PaymentID: p.ID.String(),
		Amount:    amount,
		Reason:    reason,
	})
	if err != nil {
		return nil, err
	}
	applied, err := s.repo.Transition(ctx, p.ID, models.StatusCompleted, fields, env)
	if err != nil {
		return nil, apperrors.Internal("Failed to record refund", err)
	}
	if !applied {
		return nil, apperrors.Validation(apperrors.CodePaymentNotRefundable, "Payment was refunded concurrently")
	}
	_ = s.metrics.RecordCount(ctx, awspkg.MetricPaymentRefunded, nil)
	s.logger.Info("Payment refunded", zap.String("payment_id", p.ID.String()), zap.Int64("amount", amount))
	return s.load(ctx, id)
}

// Cancel abandons a payment that has not completed. Cancelling twice is a
// no-op. The gateway intent is cancelled first; if the gateway refuses
// because the intent already succeeded, the completion is recorded and the
// cancel is rejected.
func (s *PaymentService) Cancel(ctx context.Context, id uuid.UUID, reason string) (*models.Payment, error) {
	released := false
	for attempt := 0; attempt < 3; attempt++ {
		p, err := s.load(ctx, id)
		if err != nil {
			return nil, err
		}
		if p.Status == models.StatusCancelled {
			return p, nil
		}
		if !p.Status.CanTransitionTo(models.StatusCancelled) {
			return nil, apperrors.Conflict(apperrors.CodePaymentClosed,
				fmt.Sprintf("Payment in status %s cannot be cancelled", p.Status))
		}
		if !released && p.GatewayRef != nil {
			if err := s.releaseIntent(ctx, p); err != nil {
				return nil, err
			}
			released = true
		}
		fields := models.StampTransition(models.StatusCancelled, s.now())
		fields["failure_reason"] = reason
		applied, err := s.repo.Transition(ctx, p.ID, p.Status, fields)
		if err != nil {
			return nil, apperrors.Internal("Failed to cancel payment", err)
		}
		if applied {
			return s.load(ctx, id)
		}
	}
	return nil, apperrors.Transient("payment changed concurrently", fmt.Errorf("payment %s", id))
}

// releaseIntent cancels the gateway intent behind p. A nil error means the
// intent can no longer collect money.
func (s *PaymentService) releaseIntent(ctx context.Context, p *models.Payment) error {
	cancelErr := s.gateway.Cancel(ctx, *p.GatewayRef)
	if cancelErr == nil {
		return nil
	}
	outcome, err := s.gateway.Verify(ctx, *p.GatewayRef)
	if err != nil {
		s.logger.Warn("Gateway cancel failed", zap.String("payment_id", p.ID.String()), zap.Error(cancelErr))
		return apperrors.Transient("payment gateway unavailable", errors.Join(cancelErr, err))
	}
	switch outcome.Status {
	case gateway.OutcomeFailed:
		return nil
	case gateway.OutcomePending:
		return apperrors.Transient("payment gateway refused cancel", cancelErr)
	}

	s.logger.Warn("Gateway refused cancel; intent already succeeded",
		zap.String("payment_id", p.ID.String()),
		zap.String("order_id", p.OrderID.String()),
	)
	if p.Status == models.StatusInitiated {
		if _, err := s.repo.Transition(ctx, p.ID, models.StatusInitiated, map[string]any{"status": models.StatusProcessing}); err != nil {
			return apperrors.Internal("Failed to update payment", err)
		}
		reloaded, err := s.load(ctx, p.ID)
		if err != nil {
			return err
		}
		p = reloaded
	}
	settled, err := s.apply(ctx, p, *outcome)
	if err != nil {
		return err
	}
	return apperrors.Conflict(apperrors.CodePaymentClosed,
		fmt.Sprintf("Payment in status %s cannot be cancelled", settled.Status))
}

// Get returns a payment. Unless privileged, only its owner may read it.
func (s *PaymentService) Get(ctx context.Context, id uuid.UUID, userID string, privileged bool) (*models.Payment, error) {
	p, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !privileged && p.UserID != userID {
		return nil, apperrors.NotFound(apperrors.CodePaymentNotFound, "Payment not found")
	}
	return p, nil
}

func (s *PaymentService) GetByOrder(ctx context.Context, orderID uuid.UUID, userID string, privileged bool) (*models.Payment, error) {
	p, err := s.repo.FindByOrderID(ctx, orderID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && !privileged && p.UserID != userID) {
		return nil, apperrors.NotFound(apperrors.CodePaymentNotFound, "Payment not found")
	}
	if err != nil {
		return nil, apperrors.Transient("Failed to load payment", err)
	}
	return p, nil
}

func (s *PaymentService) load(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	p, err := s.repo.FindByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound(apperrors.CodePaymentNotFound, "Payment not found")
	}
	if err != nil {
		return nil, apperrors.Transient("Failed to load payment", err)
	}
	return p, nil
}

func (s *PaymentService) completedFact(p *models.Payment) (messaging.Envelope, error) {
	return s.fact(messaging.PaymentCompleted, p.ID, messaging.PaymentCompletedFact{
		OrderID:   p.OrderID.String(),
		PaymentID: p.ID.String(),
		Amount:    p.Amount,
	})
}

// fact builds a payment fact. The correlation id is per payment, so the
// outbox holds at most one of each kind.
func (s *PaymentService) fact(routingKey string, paymentID uuid.UUID, payload any) (messaging.Envelope, error) {
	env, err := messaging.NewEnvelope(routingKey, messaging.CorrelationID(routingKey, paymentID.String()), SourceService, payload)
	if err != nil {
		return env, apperrors.Internal("Failed to build fact", err)
	}
	env.Timestamp = s.now()
	return env, nil
}
