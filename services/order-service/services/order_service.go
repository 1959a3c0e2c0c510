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
	"github.com/yashrajoria/marketplace/services/order-service/models"
	repositories "github.com/yashrajoria/marketplace/services/order-service/repository"
)

const (
	SourceService = "order-service"

	ActorSystem     = "system"
	ActorReconciler = "reconciler"

	ReasonPaymentFailed  = "payment_failed"
	ReasonPaymentTimeout = "payment_timeout"

	// casAttempts bounds how often a lost compare-and-set is re-evaluated.
	casAttempts = 3
)

type LineItem struct {
	ProductID string `json:"product_id" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required,min=1"`
}

type CreateOrderRequest struct {
	CartRef         string               `json:"cart_ref"`
	Items           []LineItem           `json:"items"`
	ShippingAddress models.Address       `json:"shipping_address"`
	BillingAddress  models.Address       `json:"billing_address"`
	PaymentMethod   models.PaymentMethod `json:"payment_method"`
	Discount        int64                `json:"discount"`
}

// PaymentFact is a payment outcome as the order ledger applies it.
type PaymentFact struct {
	Type      string    `json:"type" binding:"required"`
	PaymentID uuid.UUID `json:"payment_id"`
	Amount    int64     `json:"amount"`
	Reason    string    `json:"reason"`
}

type OrderResponse struct {
	Orders []models.Order `json:"orders"`
	Meta   MetaData       `json:"meta"`
}

type MetaData struct {
	Page        int   `json:"page"`
	Limit       int   `json:"limit"`
	TotalOrders int64 `json:"total_orders"`
	TotalPages  int64 `json:"total_pages"`
	HasMore     bool  `json:"has_more"`
}

type Config struct {
	Pricing               models.Pricing
	Currency              string
	PendingPaymentTimeout time.Duration
}

type OrderService struct {
	orderRepo repositories.OrderRepository
	catalog   CatalogClient
	payments  PaymentClient
	cfg       Config
	metrics   *awspkg.MetricsClient
	logger    *zap.Logger
	now       func() time.Time
}

func NewOrderService(orderRepo repositories.OrderRepository, catalog CatalogClient, payments PaymentClient, cfg Config, metrics *awspkg.MetricsClient, logger *zap.Logger) *OrderService {
	if cfg.Currency == "" {
		cfg.Currency = "INR"
	}
	if cfg.PendingPaymentTimeout <= 0 {
		cfg.PendingPaymentTimeout = 15 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderService{
		orderRepo: orderRepo,
		catalog:   catalog,
		payments:  payments,
		cfg:       cfg,
		metrics:   metrics,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source.
func (s *OrderService) SetClock(now func() time.Time) { s.now = now }

// CreateOrder prices the items from the catalog once, freezes the totals and
// records the order. Cash-on-delivery orders are confirmed immediately;
// online methods wait in PendingPayment.
func (s *OrderService) CreateOrder(ctx context.Context, customerID string, req *CreateOrderRequest) (*models.Order, error) {
	if len(req.Items) == 0 {
		return nil, apperrors.Validation(apperrors.CodeEmptyCart, "At least one item is required")
	}
	if !req.ShippingAddress.Valid() {
		return nil, apperrors.Validation(apperrors.CodeInvalidAddress, "Shipping address is incomplete")
	}
	billing := req.BillingAddress
	if billing.IsZero() {
		billing = req.ShippingAddress
	} else if !billing.Valid() {
		return nil, apperrors.Validation(apperrors.CodeInvalidAddress, "Billing address is incomplete")
	}
	if !req.PaymentMethod.Valid() {
		return nil, apperrors.Validation(apperrors.CodeInvalidMethod, fmt.Sprintf("Unsupported payment method %q", req.PaymentMethod))
	}
	if req.Discount < 0 {
		return nil, apperrors.Validation(apperrors.CodeInvalidAmount, "Discount cannot be negative")
	}

	orderID := uuid.New()
	items := make([]models.OrderItem, 0, len(req.Items))
	for _, it := range req.Items {
		if it.Quantity < 1 || strings.TrimSpace(it.ProductID) == "" {
			return nil, apperrors.Validation(apperrors.CodeInvalidQuantity, "Each item needs a product and a positive quantity")
		}
		prod, err := s.catalog.GetProduct(ctx, it.ProductID)
		if err != nil {
			if apperrors.KindOf(err) == apperrors.KindValidation {
				return nil, err
			}
			return nil, apperrors.Transient("catalog unavailable", err)
		}
		if prod.Price < 0 {
			return nil, apperrors.Validation(apperrors.CodeInvalidAmount, "Catalog price is invalid for "+it.ProductID)
		}
		items = append(items, models.OrderItem{
			ID:        uuid.New(),
			OrderID:   orderID,
			ProductID: it.ProductID,
			VendorID:  prod.VendorID,
			Name:      prod.Name,
			Quantity:  it.Quantity,
			UnitPrice: prod.Price,
			Subtotal:  prod.Price * int64(it.Quantity),
		})
	}

	totals := s.cfg.Pricing.Compute(items, req.Discount)
	now := s.now()
	order := &models.Order{
		ID:              orderID,
		OrderNumber:     orderNumber(now, orderID),
		CustomerID:      customerID,
		CartRef:         req.CartRef,
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  billing,
		PaymentMethod:   req.PaymentMethod,
		Currency:        s.cfg.Currency,
		Subtotal:        totals.Subtotal,
		ShippingFee:     totals.ShippingFee,
		Tax:             totals.Tax,
		Discount:        totals.Discount,
		TotalAmount:     totals.Total,
		Items:           items,
	}
	if req.PaymentMethod.Online() {
		order.Status = models.StatusPendingPayment
	} else {
		order.Status = models.StatusConfirmed
		order.ConfirmedAt = &now
	}

	facts, err := s.facts(
		created(order),
		statusChanged(order.ID, models.StatusPending, order.Status, ActorSystem),
	)
	if err != nil {
		return nil, err
	}
	if err := s.orderRepo.Create(ctx, order, facts...); err != nil {
		s.logger.Error("Failed to create order", zap.String("customer_id", customerID), zap.Error(err))
		return nil, apperrors.Internal("Failed to create order", err)
	}

	s.logger.Info("Order created",
		zap.String("order_id", order.ID.String()),
		zap.String("order_number", order.OrderNumber),
		zap.String("status", string(order.Status)),
		zap.Int64("total_amount", order.TotalAmount),
	)
	_ = s.metrics.RecordCount(ctx, awspkg.MetricOrdersCreated, map[string]string{"PaymentMethod": string(order.PaymentMethod)})
	return order, nil
}

// ApplyPaymentFact moves an order in reaction to a payment outcome. It is
// idempotent: a fact that no longer applies leaves the order untouched. A
// completion for an order that was already cancelled flags it for a manual
// refund instead of reviving it. A completion that names another payment or
// another amount than the order's is a conflict and confirms nothing.
func (s *OrderService) ApplyPaymentFact(ctx context.Context, orderID uuid.UUID, fact PaymentFact) (*models.Order, error) {
	switch fact.Type {
	case messaging.PaymentCompleted, messaging.PaymentFailed:
	default:
		return nil, apperrors.Validation(apperrors.CodeInvalidStatus, fmt.Sprintf("unknown payment fact %q", fact.Type))
	}

	for attempt := 0; attempt < casAttempts; attempt++ {
		order, err := s.load(ctx, orderID)
		if err != nil {
			return nil, err
		}

		if fact.Type == messaging.PaymentFailed {
			if !order.Status.AwaitingPayment() {
				return order, nil
			}
			applied, err := s.cancel(ctx, order, reasonWithDetail(ReasonPaymentFailed, fact.Reason), ActorSystem)
			if err != nil {
				return nil, err
			}
			if applied {
				return s.load(ctx, orderID)
			}
			continue
		}

		switch {
		case order.Status.AwaitingPayment():
			if err := s.checkPaymentMatches(order, fact); err != nil {
				return nil, err
			}
			now := s.now()
			fields := models.StampTransition(models.StatusConfirmed, now)
			fields["payment_id"] = fact.PaymentID
			facts, err := s.facts(statusChanged(order.ID, order.Status, models.StatusConfirmed, ActorSystem))
			if err != nil {
				return nil, err
			}
			applied, err := s.orderRepo.UpdateStatus(ctx, order.ID, order.Status, fields, facts...)
			if err != nil {
				return nil, apperrors.Internal("Failed to confirm order", err)
			}
			if applied {
				s.logger.Info("Order confirmed by payment",
					zap.String("order_id", order.ID.String()),
					zap.String("payment_id", fact.PaymentID.String()),
				)
				return s.load(ctx, orderID)
			}
		case order.Status == models.StatusCancelled:
			return s.flagManualRefund(ctx, order, fact)
		default:
			if err := s.checkPaymentMatches(order, fact); err != nil {
				return nil, err
			}
			return order, nil
		}
	}
	return nil, apperrors.Transient("order changed concurrently", fmt.Errorf("order %s: compare-and-set lost %d times", orderID, casAttempts))
}

// checkPaymentMatches refuses a completion from a payment other than the one
// already recorded, or for an amount other than the order total. A zero
// amount is not checked.
func (s *OrderService) checkPaymentMatches(order *models.Order, fact PaymentFact) error {
	var msg string
	switch {
	case order.PaymentID != nil && *order.PaymentID != fact.PaymentID:
		msg = fmt.Sprintf("order is paid by payment %s", *order.PaymentID)
	case fact.Amount != 0 && fact.Amount != order.TotalAmount:
		msg = fmt.Sprintf("payment amount %d does not match order total %d", fact.Amount, order.TotalAmount)
	default:
		return nil
	}
	s.logger.Warn("Payment completion does not match order",
		zap.String("order_id", order.ID.String()),
		zap.String("order_status", string(order.Status)),
		zap.String("payment_id", fact.PaymentID.String()),
		zap.Int64("amount", fact.Amount),
		zap.Int64("total_amount", order.TotalAmount),
	)
	return apperrors.Conflict(apperrors.CodePaymentMismatch, msg)
}

func (s *OrderService) flagManualRefund(ctx context.Context, order *models.Order, fact PaymentFact) (*models.Order, error) {
	if order.ManualRefundRequired {
		return order, nil
	}
	amount := fact.Amount
	if amount == 0 {
		amount = order.TotalAmount
	}
	facts, err := s.facts(factDraft{
		routingKey: messaging.OrderManualRefundRequired,
		cid:        messaging.CorrelationID(messaging.OrderManualRefundRequired, order.ID.String()),
		payload: messaging.OrderManualRefundFact{
			OrderID:   order.ID.String(),
			PaymentID: fact.PaymentID.String(),
			Amount:    amount,
		},
	})
	if err != nil {
		return nil, err
	}
	applied, err := s.orderRepo.FlagManualRefund(ctx, order.ID, fact.PaymentID, facts...)
	if err != nil {
		return nil, apperrors.Internal("Failed to flag manual refund", err)
	}
	if applied {
		s.logger.Warn("Payment completed for cancelled order; manual refund required",
			zap.String("order_id", order.ID.String()),
			zap.String("payment_id", fact.PaymentID.String()),
			zap.Int64("amount", amount),
		)
		_ = s.metrics.RecordCount(ctx, awspkg.MetricOrdersManualRefund, nil)
	}
	return s.load(ctx, order.ID)
}

// TransitionStatus performs an operator-driven move along the lifecycle.
// Cancellation goes through CancelOrder and refunds through RefundOrder.
func (s *OrderService) TransitionStatus(ctx context.Context, orderID uuid.UUID, to models.Status, actor, trackingNumber string) (*models.Order, error) {
	if !to.Valid() {
		return nil, apperrors.Validation(apperrors.CodeInvalidStatus, fmt.Sprintf("unknown status %q", to))
	}
	if to == models.StatusCancelled {
		return s.CancelOrder(ctx, orderID, "cancelled by "+actor, actor)
	}
	if to == models.StatusRefunded {
		return nil, apperrors.Conflict(apperrors.CodeIllegalTransition, "Refunds go through the refund action")
	}

	for attempt := 0; attempt < casAttempts; attempt++ {
		order, err := s.load(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if !order.Status.CanTransitionTo(to) {
			return nil, illegalTransition(order.Status, to)
		}

		fields := models.StampTransition(to, s.now())
		if trackingNumber != "" {
			fields["tracking_number"] = trackingNumber
		}
		facts, err := s.facts(statusChanged(order.ID, order.Status, to, actor))
		if err != nil {
			return nil, err
		}
		applied, err := s.orderRepo.UpdateStatus(ctx, order.ID, order.Status, fields, facts...)
		if err != nil {
			return nil, apperrors.Internal("Failed to update order", err)
		}
		if applied {
			s.logger.Info("Order status changed",
				zap.String("order_id", order.ID.String()),
				zap.String("from", string(order.Status)),
				zap.String("to", string(to)),
				zap.String("actor", actor),
			)
			return s.load(ctx, orderID)
		}
	}
	return nil, apperrors.Conflict(apperrors.CodeIllegalTransition, "order changed concurrently; retry")
}

// CancelOrder cancels an order that has not shipped. A cancel that races a
// ship update and loses is reported as not cancellable.
func (s *OrderService) CancelOrder(ctx context.Context, orderID uuid.UUID, reason, actor string) (*models.Order, error) {
	if reason == "" {
		reason = "cancelled"
	}
	for attempt := 0; attempt < casAttempts; attempt++ {
		order, err := s.load(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if !order.Status.Cancellable() {
			return nil, apperrors.Validation(apperrors.CodeOrderNotCancellable,
				fmt.Sprintf("Order in status %s can no longer be cancelled", order.Status))
		}
		applied, err := s.cancel(ctx, order, reason, actor)
		if err != nil {
			return nil, err
		}
		if applied {
			return s.load(ctx, orderID)
		}
	}
	return nil, apperrors.Conflict(apperrors.CodeOrderNotCancellable, "order changed concurrently; retry")
}

func (s *OrderService) cancel(ctx context.Context, order *models.Order, reason, actor string) (bool, error) {
	fields := models.StampTransition(models.StatusCancelled, s.now())
	fields["cancel_reason"] = reason
	facts, err := s.facts(
		statusChanged(order.ID, order.Status, models.StatusCancelled, actor),
		factDraft{
			routingKey: messaging.OrderCancelled,
			cid:        messaging.CorrelationID(messaging.OrderCancelled, order.ID.String()),
			payload: messaging.OrderCancelledFact{
				OrderID:        order.ID.String(),
				Reason:         reason,
				PreviousStatus: string(order.Status),
			},
		},
	)
	if err != nil {
		return false, err
	}
	applied, err := s.orderRepo.UpdateStatus(ctx, order.ID, order.Status, fields, facts...)
	if err != nil {
		return false, apperrors.Internal("Failed to cancel order", err)
	}
	if applied {
		s.logger.Info("Order cancelled",
			zap.String("order_id", order.ID.String()),
			zap.String("previous_status", string(order.Status)),
			zap.String("reason", reason),
			zap.String("actor", actor),
		)
		_ = s.metrics.RecordCount(ctx, awspkg.MetricOrdersCancelled, map[string]string{"Reason": strings.SplitN(reason, ":", 2)[0]})
	}
	return applied, nil
}

// RefundOrder refunds the payment of a delivered order and marks it Refunded.
func (s *OrderService) RefundOrder(ctx context.Context, orderID uuid.UUID, reason, actor string) (*models.Order, error) {
	order, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.Status.CanTransitionTo(models.StatusRefunded) {
		return nil, illegalTransition(order.Status, models.StatusRefunded)
	}

	if order.PaymentID != nil {
		if s.payments == nil {
			return nil, apperrors.Transient("payment ledger not configured", errors.New("no payment client"))
		}
		if _, err := s.payments.Refund(ctx, *order.PaymentID, order.TotalAmount, reason); err != nil {
			if apperrors.CodeOf(err) != apperrors.CodePaymentNotRefundable {
				return nil, err
			}
			// A previous attempt may have refunded the payment before failing here.
			p, getErr := s.payments.GetByOrder(ctx, order.ID)
			if getErr != nil || p.Status != "Refunded" {
				return nil, err
			}
		}
	}

	fields := models.StampTransition(models.StatusRefunded, s.now())
	facts, err := s.facts(statusChanged(order.ID, order.Status, models.StatusRefunded, actor))
	if err != nil {
		return nil, err
	}
	applied, err := s.orderRepo.UpdateStatus(ctx, order.ID, order.Status, fields, facts...)
	if err != nil {
		return nil, apperrors.Internal("Failed to refund order", err)
	}
	if !applied {
		return nil, apperrors.Conflict(apperrors.CodeIllegalTransition, "order changed concurrently; retry")
	}
	s.logger.Info("Order refunded", zap.String("order_id", order.ID.String()), zap.String("actor", actor))
	return s.load(ctx, orderID)
}

// ReconcileStale cancels orders that have waited in PendingPayment longer
// than the configured timeout. When the payment ledger reports the order's
// payment as completed the order is confirmed instead.
func (s *OrderService) ReconcileStale(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.cfg.PendingPaymentTimeout)
	stale, err := s.orderRepo.FindStale(ctx, models.StatusPendingPayment, cutoff, 100)
	if err != nil {
		return 0, apperrors.Internal("Failed to list stale orders", err)
	}

	resolved := 0
	for i := range stale {
		order := &stale[i]
		if s.payments != nil {
			p, err := s.payments.GetByOrder(ctx, order.ID)
			if err == nil && p.Status == "Completed" {
				if _, err := s.ApplyPaymentFact(ctx, order.ID, PaymentFact{Type: messaging.PaymentCompleted, PaymentID: p.ID, Amount: p.Amount}); err != nil {
					s.logger.Warn("Reconcile confirm failed", zap.String("order_id", order.ID.String()), zap.Error(err))
					continue
				}
				resolved++
				continue
			}
		}

		applied, err := s.cancel(ctx, order, ReasonPaymentTimeout, ActorReconciler)
		if err != nil {
			s.logger.Warn("Reconcile cancel failed", zap.String("order_id", order.ID.String()), zap.Error(err))
			continue
		}
		if applied {
			resolved++
		}
	}
	if resolved > 0 {
		s.logger.Info("Reconciliation sweep finished", zap.Int("resolved", resolved), zap.Int("examined", len(stale)))
	}
	return resolved, nil
}

// RunReconciler sweeps every interval until ctx is done.
func (s *OrderService) RunReconciler(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.ReconcileStale(ctx); err != nil {
				s.logger.Error("Reconciliation sweep failed", zap.Error(err))
			}
		}
	}
}

// GetOrder returns an order. Unless privileged, only the owner may read it.
func (s *OrderService) GetOrder(ctx context.Context, orderID uuid.UUID, customerID string, privileged bool) (*models.Order, error) {
	order, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !privileged && order.CustomerID != customerID {
		return nil, apperrors.NotFound(apperrors.CodeOrderNotFound, "Order not found")
	}
	return order, nil
}

// GetUserOrders retrieves paginated orders for a specific customer
func (s *OrderService) GetUserOrders(ctx context.Context, customerID string, page, limit int) (*OrderResponse, error) {
	orders, total, err := s.orderRepo.FindByCustomerID(ctx, customerID, page, limit)
	if err != nil {
		s.logger.Error("Failed to fetch orders", zap.String("customer_id", customerID), zap.Error(err))
		return nil, apperrors.Internal("Failed to fetch orders", err)
	}
	return pageOf(orders, total, page, limit), nil
}

// GetAllOrders retrieves paginated orders for all customers (admin only)
func (s *OrderService) GetAllOrders(ctx context.Context, status models.Status, page, limit int) (*OrderResponse, error) {
	orders, total, err := s.orderRepo.FindAll(ctx, status, page, limit)
	if err != nil {
		s.logger.Error("Failed to fetch all orders", zap.Error(err))
		return nil, apperrors.Internal("Failed to fetch orders", err)
	}
	return pageOf(orders, total, page, limit), nil
}

func (s *OrderService) load(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	order, err := s.orderRepo.FindByID(ctx, id)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, apperrors.NotFound(apperrors.CodeOrderNotFound, "Order not found")
	}
	if err != nil {
		return nil, apperrors.Transient("Failed to load order", err)
	}
	return order, nil
}

type factDraft struct {
	routingKey string
	cid        string
	payload    any
}

func (s *OrderService) facts(drafts ...factDraft) ([]messaging.Envelope, error) {
	envs := make([]messaging.Envelope, 0, len(drafts))
	for _, d := range drafts {
		env, err := messaging.NewEnvelope(d.routingKey, d.cid, SourceService, d.payload)
		if err != nil {
			return nil, apperrors.Internal("Failed to build fact", err)
		}
		env.Timestamp = s.now()
		envs = append(envs, env)
	}
	return envs, nil
}

func created(order *models.Order) factDraft {
	lines := make([]messaging.OrderLine, 0, len(order.Items))
	for _, it := range order.Items {
		lines = append(lines, messaging.OrderLine{ProductID: it.ProductID, VendorID: it.VendorID, Quantity: it.Quantity})
	}
	return factDraft{
		routingKey: messaging.OrderCreated,
		cid:        messaging.CorrelationID(messaging.OrderCreated, order.ID.String()),
		payload: messaging.OrderCreatedFact{
			OrderID:       order.ID.String(),
			OrderNumber:   order.OrderNumber,
			CustomerID:    order.CustomerID,
			PaymentMethod: string(order.PaymentMethod),
			Status:        string(order.Status),
			TotalAmount:   order.TotalAmount,
			Currency:      order.Currency,
			Items:         lines,
		},
	}
}

// statusChanged is keyed by the target status; the lifecycle never revisits one.
func statusChanged(id uuid.UUID, from, to models.Status, actor string) factDraft {
	return factDraft{
		routingKey: messaging.OrderStatusChanged,
		cid:        messaging.CorrelationID(messaging.OrderStatusChanged, id.String(), string(to)),
		payload: messaging.OrderStatusChangedFact{
			OrderID: id.String(),
			From:    string(from),
			To:      string(to),
			Actor:   actor,
		},
	}
}

func illegalTransition(from, to models.Status) error {
	return apperrors.Conflict(apperrors.CodeIllegalTransition, fmt.Sprintf("Cannot move order from %s to %s", from, to))
}

func reasonWithDetail(reason, detail string) string {
	if detail == "" {
		return reason
	}
	return reason + ": " + detail
}

func orderNumber(now time.Time, id uuid.UUID) string {
	return fmt.Sprintf("ORD-%s-%s", now.Format("20060102-150405"), strings.ToUpper(id.String()[:8]))
}

func pageOf(orders []models.Order, total int64, page, limit int) *OrderResponse {
	return &OrderResponse{
		Orders: orders,
		Meta: MetaData{
			Page:        page,
			Limit:       limit,
			TotalOrders: total,
			TotalPages:  calculateTotalPages(total, limit),
			HasMore:     total > int64(page*limit),
		},
	}
}

func calculateTotalPages(total int64, limit int) int64 {
	if limit == 0 {
		return 0
	}
	return (total + int64(limit) - 1) / int64(limit)
}
