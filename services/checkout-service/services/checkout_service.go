package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	awspkg "github.com/yashrajoria/marketplace/pkg/aws"
	"github.com/yashrajoria/marketplace/pkg/messaging"
	"github.com/yashrajoria/marketplace/services/checkout-service/clients"
	"github.com/yashrajoria/marketplace/services/common/apperrors"
)

// Cancel reasons checkout records on orders and payments it gives up on.
const (
	ReasonPaymentTimeout    = "payment_timeout"
	ReasonPaymentError      = "payment_error"
	ReasonInsufficientStock = "insufficient_stock"
)

const compensationTimeout = 10 * time.Second

type CartAPI interface {
	Snapshot(ctx context.Context, customerID string) (*clients.CartSnapshot, error)
	Clear(ctx context.Context, customerID string, version int64) error
}

type OrderAPI interface {
	Create(ctx context.Context, customerID string, req clients.CreateOrder) (*clients.Order, error)
	Get(ctx context.Context, orderID uuid.UUID) (*clients.Order, error)
	ApplyPaymentFact(ctx context.Context, orderID uuid.UUID, fact clients.PaymentFact) (*clients.Order, error)
	Cancel(ctx context.Context, orderID uuid.UUID, reason string) (*clients.Order, error)
}

type PaymentAPI interface {
	Initiate(ctx context.Context, customerID string, req clients.InitiatePayment) (*clients.Payment, error)
	Confirm(ctx context.Context, paymentID uuid.UUID, reference string) (*clients.Payment, error)
	Cancel(ctx context.Context, paymentID uuid.UUID, reason string) (*clients.Payment, error)
	GetByOrder(ctx context.Context, orderID uuid.UUID) (*clients.Payment, error)
	Refund(ctx context.Context, paymentID uuid.UUID, amount int64, reason string) (*clients.Payment, error)
}

type ReceiptAPI interface {
	Create(ctx context.Context, req clients.CreateReceipt) (string, error)
}

type Evidence struct {
	Reference string `json:"reference"`
}

type Request struct {
	ShippingAddress json.RawMessage `json:"shipping_address" binding:"required"`
	BillingAddress  json.RawMessage `json:"billing_address" binding:"required"`
	PaymentMethod   string          `json:"payment_method" binding:"required"`
	GatewayEvidence *Evidence       `json:"gateway_evidence,omitempty"`
}

type Result struct {
	Order     *clients.Order   `json:"order"`
	Payment   *clients.Payment `json:"payment,omitempty"`
	ReceiptID string           `json:"receipt_id,omitempty"`
}

type Config struct {
	ConfirmTimeout time.Duration
}

// CheckoutService drives one cart through order creation and payment,
// compensating whatever already committed when a later step fails.
type CheckoutService struct {
	cart     CartAPI
	orders   OrderAPI
	payments PaymentAPI
	receipts ReceiptAPI
	cfg      Config
	metrics  *awspkg.MetricsClient
	logger   *zap.Logger
}

func NewCheckoutService(cart CartAPI, orders OrderAPI, payments PaymentAPI, receipts ReceiptAPI, cfg Config, metrics *awspkg.MetricsClient, logger *zap.Logger) *CheckoutService {
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CheckoutService{
		cart:     cart,
		orders:   orders,
		payments: payments,
		receipts: receipts,
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger,
	}
}

// Checkout turns the customer's cart into an order and, for online methods,
// a completed payment. When the payment fails the cancelled order is
// returned together with a PaymentRequired error.
func (s *CheckoutService) Checkout(ctx context.Context, customerID string, req Request) (*Result, error) {
	snap, err := s.cart.Snapshot(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if len(snap.Items) == 0 {
		return nil, apperrors.Validation(apperrors.CodeEmptyCart, "Cart is empty")
	}

	lines := make([]clients.OrderLine, 0, len(snap.Items))
	for _, it := range snap.Items {
		lines = append(lines, clients.OrderLine{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	order, err := s.orders.Create(ctx, customerID, clients.CreateOrder{
		CartRef:         fmt.Sprintf("%s@%d", customerID, snap.Version),
		Items:           lines,
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  req.BillingAddress,
		PaymentMethod:   req.PaymentMethod,
	})
	if err != nil {
		s.record(ctx, awspkg.MetricCheckoutFailed, "create_order")
		return nil, err
	}
	log := s.logger.With(zap.String("customer_id", customerID), zap.String("order_id", order.ID.String()))
	log.Info("Order created", zap.String("status", order.Status), zap.Int64("total_amount", order.TotalAmount))

	switch order.Status {
	case clients.OrderConfirmed:
		s.clearCart(ctx, log, customerID, snap.Version)
		s.record(ctx, awspkg.MetricCheckoutCompleted, order.PaymentMethod)
		return &Result{Order: order}, nil
	case clients.OrderPendingPayment:
	default:
		s.abort(ctx, log, order, nil, ReasonPaymentError)
		return nil, apperrors.Internal(fmt.Sprintf("order created in unexpected status %s", order.Status), nil)
	}

	payment, err := s.payments.Initiate(ctx, customerID, clients.InitiatePayment{
		OrderID:  order.ID,
		Amount:   order.TotalAmount,
		Method:   order.PaymentMethod,
		Currency: order.Currency,
	})
	if err != nil {
		log.Warn("Payment initiation failed", zap.Error(err))
		s.abort(ctx, log, order, nil, ReasonPaymentError)
		return nil, err
	}
	log = log.With(zap.String("payment_id", payment.ID.String()))

	reference := payment.Reference()
	if req.GatewayEvidence != nil && req.GatewayEvidence.Reference != "" {
		reference = req.GatewayEvidence.Reference
	}

	confirmCtx, cancel := context.WithTimeout(ctx, s.cfg.ConfirmTimeout)
	confirmed, err := s.payments.Confirm(confirmCtx, payment.ID, reference)
	timedOut := errors.Is(confirmCtx.Err(), context.DeadlineExceeded)
	cancel()
	if err != nil {
		if timedOut || apperrors.KindOf(err) == apperrors.KindTimeout {
			log.Warn("Payment confirmation timed out", zap.Duration("timeout", s.cfg.ConfirmTimeout))
			s.abort(ctx, log, order, payment, ReasonPaymentTimeout)
			return nil, apperrors.Wrap(apperrors.KindTimeout, apperrors.CodePaymentTimeout, "Payment confirmation timed out", err)
		}
		log.Warn("Payment confirmation failed", zap.Error(err))
		s.abort(ctx, log, order, payment, ReasonPaymentError)
		return nil, err
	}

	switch confirmed.Status {
	case clients.PaymentCompleted:
		return s.complete(ctx, log, customerID, snap.Version, order, confirmed)
	case clients.PaymentFailed:
		return s.fail(ctx, log, order, confirmed)
	default:
		// Still pending at the gateway; the order must not wait on it.
		log.Warn("Payment not settled after confirm", zap.String("payment_status", confirmed.Status))
		s.abort(ctx, log, order, confirmed, ReasonPaymentTimeout)
		return nil, apperrors.New(apperrors.KindTimeout, apperrors.CodePaymentTimeout, "Payment did not settle in time")
	}
}

func (s *CheckoutService) complete(ctx context.Context, log *zap.Logger, customerID string, version int64, order *clients.Order, payment *clients.Payment) (*Result, error) {
	updated, err := s.orders.ApplyPaymentFact(ctx, order.ID, clients.PaymentFact{
		Type:      messaging.PaymentCompleted,
		PaymentID: payment.ID,
		Amount:    payment.Amount,
	})
	if err != nil {
		// payment.completed reaches the order ledger through the bus as well.
		log.Warn("Failed to confirm order synchronously", zap.Error(err))
		updated = order
	}
	if updated.Status == clients.OrderCancelled {
		log.Warn("Order cancelled while payment completed",
			zap.String("cancel_reason", updated.CancelReason),
			zap.Bool("manual_refund_required", updated.ManualRefundRequired),
		)
		s.record(ctx, awspkg.MetricCheckoutFailed, "order_cancelled")
		return &Result{Order: updated, Payment: payment},
			apperrors.Conflict(apperrors.CodeOrderCancelled, "Order was cancelled: "+updated.CancelReason)
	}

	receiptID, err := s.receipts.Create(ctx, clients.CreateReceipt{
		PaymentID:  payment.ID,
		OrderID:    order.ID,
		CustomerID: customerID,
		Amount:     payment.Amount,
		Currency:   payment.Currency,
	})
	if err != nil {
		log.Warn("Receipt creation failed", zap.Error(err))
	}

	s.clearCart(ctx, log, customerID, version)
	s.record(ctx, awspkg.MetricCheckoutCompleted, order.PaymentMethod)
	log.Info("Checkout completed", zap.String("receipt_id", receiptID))
	return &Result{Order: updated, Payment: payment, ReceiptID: receiptID}, nil
}

func (s *CheckoutService) fail(ctx context.Context, log *zap.Logger, order *clients.Order, payment *clients.Payment) (*Result, error) {
	reason := payment.FailureReason
	if reason == "" {
		reason = "declined"
	}
	updated, err := s.orders.ApplyPaymentFact(ctx, order.ID, clients.PaymentFact{
		Type:      messaging.PaymentFailed,
		PaymentID: payment.ID,
		Reason:    reason,
	})
	if err != nil {
		log.Warn("Failed to apply payment failure; cancelling directly", zap.Error(err))
		updated = s.cancelOrder(ctx, log, order, "payment_failed:"+reason)
	}
	s.record(ctx, awspkg.MetricCheckoutFailed, "payment_failed")
	log.Info("Checkout payment failed", zap.String("reason", reason))
	return &Result{Order: updated, Payment: payment},
		apperrors.New(apperrors.KindPaymentRequired, apperrors.CodePaymentFailed, "Payment failed: "+reason)
}

// abort leaves the order terminal. The order is cancelled before the
// payment, so a payment that completes anyway lands on a cancelled order
// and is flagged for a manual refund. Anything that cannot be undone here is
// left for the order ledger's reconciliation sweep.
func (s *CheckoutService) abort(ctx context.Context, log *zap.Logger, order *clients.Order, payment *clients.Payment, reason string) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	s.cancelOrder(cctx, log, order, reason)
	if payment != nil {
		if _, err := s.payments.Cancel(cctx, payment.ID, reason); err != nil {
			if apperrors.CodeOf(err) == apperrors.CodePaymentClosed {
				s.routeLateCompletion(cctx, log, order)
			} else {
				log.Warn("Failed to cancel payment", zap.Error(err))
			}
		}
	}
	s.record(ctx, awspkg.MetricCheckoutFailed, reason)
}

// routeLateCompletion hands a payment that completed after checkout gave up
// to the order ledger, which flags the cancelled order for a manual refund.
// The payment.completed fact does the same when this call fails.
func (s *CheckoutService) routeLateCompletion(ctx context.Context, log *zap.Logger, order *clients.Order) {
	payment, err := s.payments.GetByOrder(ctx, order.ID)
	if err != nil {
		log.Warn("Failed to load payment after refused cancel", zap.Error(err))
		return
	}
	if payment.Status != clients.PaymentCompleted {
		return
	}
	updated, err := s.orders.ApplyPaymentFact(ctx, order.ID, clients.PaymentFact{
		Type:      messaging.PaymentCompleted,
		PaymentID: payment.ID,
		Amount:    payment.Amount,
	})
	if err != nil {
		log.Warn("Failed to apply late payment completion", zap.Error(err))
		return
	}
	log.Warn("Payment completed after checkout gave up",
		zap.String("order_status", updated.Status),
		zap.Bool("manual_refund_required", updated.ManualRefundRequired),
	)
}

func (s *CheckoutService) cancelOrder(ctx context.Context, log *zap.Logger, order *clients.Order, reason string) *clients.Order {
	cancelled, err := s.orders.Cancel(ctx, order.ID, reason)
	if err != nil {
		log.Error("Failed to cancel order; left for reconciliation", zap.String("reason", reason), zap.Error(err))
		return order
	}
	return cancelled
}

func (s *CheckoutService) clearCart(ctx context.Context, log *zap.Logger, customerID string, version int64) {
	if err := s.cart.Clear(ctx, customerID, version); err != nil {
		if apperrors.KindOf(err) == apperrors.KindConflict {
			log.Info("Cart changed during checkout; kept", zap.Int64("version", version))
			return
		}
		log.Warn("Failed to clear cart", zap.Error(err))
	}
}

// Summary reads an order and its payment concurrently. A customer only sees
// their own orders.
func (s *CheckoutService) Summary(ctx context.Context, orderID uuid.UUID, customerID string, privileged bool) (*Result, error) {
	type orderResult struct {
		order *clients.Order
		err   error
	}
	type paymentResult struct {
		payment *clients.Payment
		err     error
	}

	orderCh := make(chan orderResult, 1)
	paymentCh := make(chan paymentResult, 1)
	go func() {
		o, err := s.orders.Get(ctx, orderID)
		orderCh <- orderResult{order: o, err: err}
	}()
	go func() {
		p, err := s.payments.GetByOrder(ctx, orderID)
		paymentCh <- paymentResult{payment: p, err: err}
	}()
	or, pr := <-orderCh, <-paymentCh

	if or.err != nil {
		return nil, or.err
	}
	if !privileged && or.order.CustomerID != customerID {
		return nil, apperrors.NotFound(apperrors.CodeOrderNotFound, "Order not found")
	}
	res := &Result{Order: or.order}
	switch {
	case pr.err == nil:
		res.Payment = pr.payment
	case apperrors.KindOf(pr.err) != apperrors.KindNotFound:
		s.logger.Warn("Payment lookup failed", zap.String("order_id", orderID.String()), zap.Error(pr.err))
	}
	return res, nil
}

// HandleInsufficientStock cancels an order the inventory ledger could not
// fill and returns any money already collected for it.
func (s *CheckoutService) HandleInsufficientStock(ctx context.Context, orderID uuid.UUID, productID string) error {
	log := s.logger.With(zap.String("order_id", orderID.String()), zap.String("product_id", productID))

	if _, err := s.orders.Cancel(ctx, orderID, ReasonInsufficientStock); err != nil {
		if apperrors.CodeOf(err) != apperrors.CodeOrderNotCancellable {
			return err
		}
		order, getErr := s.orders.Get(ctx, orderID)
		if getErr != nil {
			return getErr
		}
		if order.Status != clients.OrderCancelled {
			log.Warn("Order past cancellation; insufficient stock ignored", zap.String("status", order.Status))
			return nil
		}
	}

	// A payment can complete between the read and the cancel; re-read once.
	for attempt := 0; attempt < 2; attempt++ {
		payment, err := s.payments.GetByOrder(ctx, orderID)
		if apperrors.KindOf(err) == apperrors.KindNotFound {
			log.Info("Order cancelled for insufficient stock")
			return nil
		}
		if err != nil {
			return err
		}

		switch payment.Status {
		case clients.PaymentCompleted:
			if _, err := s.payments.Refund(ctx, payment.ID, payment.Amount, ReasonInsufficientStock); err != nil {
				return err
			}
			log.Info("Payment refunded for insufficient stock", zap.String("payment_id", payment.ID.String()), zap.Int64("amount", payment.Amount))
			return nil
		case clients.PaymentInitiated, clients.PaymentProcessing:
			_, err := s.payments.Cancel(ctx, payment.ID, ReasonInsufficientStock)
			if apperrors.CodeOf(err) == apperrors.CodePaymentClosed {
				continue
			}
			if err != nil {
				return err
			}
			log.Info("Open payment cancelled for insufficient stock", zap.String("payment_id", payment.ID.String()))
			return nil
		default:
			return nil
		}
	}
	return apperrors.Transient("payment changed concurrently", fmt.Errorf("order %s", orderID))
}

func (s *CheckoutService) record(ctx context.Context, metric, reason string) {
	_ = s.metrics.RecordCount(ctx, metric, map[string]string{"Reason": reason})
}
