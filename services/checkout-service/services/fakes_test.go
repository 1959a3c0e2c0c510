package services_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yashrajoria/marketplace/pkg/messaging"
	"github.com/yashrajoria/marketplace/services/checkout-service/clients"
	"github.com/yashrajoria/marketplace/services/checkout-service/services"
	"github.com/yashrajoria/marketplace/services/common/apperrors"
)

const orderTotal int64 = 5136

type fakeCart struct {
	mu       sync.Mutex
	snap     clients.CartSnapshot
	cleared  []int64
	clearErr error
}

func (c *fakeCart) Snapshot(ctx context.Context, customerID string) (*clients.CartSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := c.snap
	snap.UserID = customerID
	return &snap, nil
}

func (c *fakeCart) Clear(ctx context.Context, customerID string, version int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.clearErr != nil {
		return c.clearErr
	}
	c.cleared = append(c.cleared, version)
	return nil
}

type fakeOrders struct {
	mu        sync.Mutex
	orders    map[uuid.UUID]*clients.Order
	createErr error
	created   []clients.CreateOrder

	// cancelBeforeConfirm cancels the order as soon as a completion arrives.
	cancelBeforeConfirm string
}

func newFakeOrders() *fakeOrders {
	return &fakeOrders{orders: map[uuid.UUID]*clients.Order{}}
}

func (o *fakeOrders) Create(ctx context.Context, customerID string, req clients.CreateOrder) (*clients.Order, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.createErr != nil {
		return nil, o.createErr
	}
	o.created = append(o.created, req)
	order := &clients.Order{
		ID:            uuid.New(),
		CustomerID:    customerID,
		CartRef:       req.CartRef,
		PaymentMethod: req.PaymentMethod,
		Currency:      "INR",
		TotalAmount:   orderTotal,
		Status:        clients.OrderPendingPayment,
	}
	if req.PaymentMethod == clients.MethodCOD {
		order.Status = clients.OrderConfirmed
	}
	o.orders[order.ID] = order
	cp := *order
	return &cp, nil
}

func (o *fakeOrders) put(order clients.Order) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.orders[order.ID] = &order
}

func (o *fakeOrders) Get(ctx context.Context, orderID uuid.UUID) (*clients.Order, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	order, ok := o.orders[orderID]
	if !ok {
		return nil, apperrors.NotFound(apperrors.CodeOrderNotFound, "Order not found")
	}
	cp := *order
	return &cp, nil
}

func (o *fakeOrders) ApplyPaymentFact(ctx context.Context, orderID uuid.UUID, fact clients.PaymentFact) (*clients.Order, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	order, ok := o.orders[orderID]
	if !ok {
		return nil, apperrors.NotFound(apperrors.CodeOrderNotFound, "Order not found")
	}
	if o.cancelBeforeConfirm != "" && order.Status == clients.OrderPendingPayment {
		order.Status, order.CancelReason = clients.OrderCancelled, o.cancelBeforeConfirm
	}
	switch fact.Type {
	case messaging.PaymentCompleted:
		switch order.Status {
		case clients.OrderPendingPayment:
			order.Status = clients.OrderConfirmed
			order.PaymentID = &fact.PaymentID
		case clients.OrderCancelled:
			order.ManualRefundRequired = true
		}
	case messaging.PaymentFailed:
		if order.Status == clients.OrderPendingPayment {
			order.Status, order.CancelReason = clients.OrderCancelled, "payment_failed:"+fact.Reason
		}
	}
	cp := *order
	return &cp, nil
}

func (o *fakeOrders) Cancel(ctx context.Context, orderID uuid.UUID, reason string) (*clients.Order, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	order, ok := o.orders[orderID]
	if !ok {
		return nil, apperrors.NotFound(apperrors.CodeOrderNotFound, "Order not found")
	}
	switch order.Status {
	case clients.OrderCancelled, "Shipped", "Delivered":
		return nil, apperrors.Validation(apperrors.CodeOrderNotCancellable, "Order can no longer be cancelled")
	}
	order.Status, order.CancelReason = clients.OrderCancelled, reason
	cp := *order
	return &cp, nil
}

type fakePayments struct {
	mu       sync.Mutex
	payments map[uuid.UUID]*clients.Payment
	byOrder  map[uuid.UUID]uuid.UUID
	outcome  string
	block    bool
	initErr  error
	cancels  []string
	refunds  []int64

	// capturedAtGateway makes Cancel find the intent already succeeded.
	capturedAtGateway bool
}

func newFakePayments(outcome string) *fakePayments {
	return &fakePayments{
		payments: map[uuid.UUID]*clients.Payment{},
		byOrder:  map[uuid.UUID]uuid.UUID{},
		outcome:  outcome,
	}
}

func (p *fakePayments) Initiate(ctx context.Context, customerID string, req clients.InitiatePayment) (*clients.Payment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.initErr != nil {
		return nil, p.initErr
	}
	if id, ok := p.byOrder[req.OrderID]; ok {
		cp := *p.payments[id]
		return &cp, nil
	}
	id := uuid.New()
	ref := "pi_" + id.String()[:8]
	pay := &clients.Payment{
		ID:         id,
		OrderID:    req.OrderID,
		UserID:     customerID,
		Amount:     req.Amount,
		Currency:   req.Currency,
		Method:     req.Method,
		Status:     clients.PaymentInitiated,
		GatewayRef: &ref,
	}
	p.payments[id] = pay
	p.byOrder[req.OrderID] = id
	cp := *pay
	return &cp, nil
}

// seed records an existing payment for an order in the given status.
func (p *fakePayments) seed(orderID uuid.UUID, status string) *clients.Payment {
	p.mu.Lock()
	defer p.mu.Unlock()
	pay := &clients.Payment{ID: uuid.New(), OrderID: orderID, Amount: orderTotal, Currency: "INR", Status: status}
	p.payments[pay.ID] = pay
	p.byOrder[orderID] = pay.ID
	return pay
}

func (p *fakePayments) Confirm(ctx context.Context, paymentID uuid.UUID, reference string) (*clients.Payment, error) {
	if p.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	pay, ok := p.payments[paymentID]
	if !ok {
		return nil, apperrors.NotFound(apperrors.CodePaymentNotFound, "Payment not found")
	}
	if reference != pay.Reference() {
		return nil, apperrors.Validation(apperrors.CodeEvidenceMismatch, "Gateway evidence does not match payment")
	}
	pay.Status = p.outcome
	if p.outcome == clients.PaymentFailed {
		pay.FailureReason = "card_declined"
	}
	cp := *pay
	return &cp, nil
}

func (p *fakePayments) Cancel(ctx context.Context, paymentID uuid.UUID, reason string) (*clients.Payment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pay, ok := p.payments[paymentID]
	if !ok {
		return nil, apperrors.NotFound(apperrors.CodePaymentNotFound, "Payment not found")
	}
	if p.capturedAtGateway && pay.Status != clients.PaymentCancelled {
		pay.Status = clients.PaymentCompleted
	}
	if pay.Status == clients.PaymentCompleted || pay.Status == clients.PaymentRefunded {
		return nil, apperrors.Conflict(apperrors.CodePaymentClosed, "Payment cannot be cancelled")
	}
	pay.Status = clients.PaymentCancelled
	p.cancels = append(p.cancels, reason)
	cp := *pay
	return &cp, nil
}

func (p *fakePayments) GetByOrder(ctx context.Context, orderID uuid.UUID) (*clients.Payment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, ok := p.byOrder[orderID]
	if !ok {
		return nil, apperrors.NotFound(apperrors.CodePaymentNotFound, "Payment not found")
	}
	cp := *p.payments[id]
	return &cp, nil
}

func (p *fakePayments) Refund(ctx context.Context, paymentID uuid.UUID, amount int64, reason string) (*clients.Payment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pay := p.payments[paymentID]
	if pay == nil || pay.Status != clients.PaymentCompleted {
		return nil, apperrors.Validation(apperrors.CodePaymentNotRefundable, "Payment is not refundable")
	}
	pay.Status, pay.RefundAmount = clients.PaymentRefunded, amount
	p.refunds = append(p.refunds, amount)
	cp := *pay
	return &cp, nil
}

type fakeReceipts struct {
	mu      sync.Mutex
	created map[uuid.UUID]string
	err     error
}

func (r *fakeReceipts) Create(ctx context.Context, req clients.CreateReceipt) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return "", r.err
	}
	if r.created == nil {
		r.created = map[uuid.UUID]string{}
	}
	id := "rcpt-" + req.PaymentID.String()[:8]
	r.created[req.PaymentID] = id
	return id, nil
}

type fixture struct {
	cart     *fakeCart
	orders   *fakeOrders
	payments *fakePayments
	receipts *fakeReceipts
	svc      *services.CheckoutService
}

func newFixture(t *testing.T, outcome string) *fixture {
	t.Helper()
	f := &fixture{
		cart: &fakeCart{snap: clients.CartSnapshot{
			Items:       []clients.CartItem{{ProductID: "p-1", Quantity: 2, UnitPrice: 10000}},
			TotalAmount: 20000,
			Version:     3,
		}},
		orders:   newFakeOrders(),
		payments: newFakePayments(outcome),
		receipts: &fakeReceipts{},
	}
	f.svc = services.NewCheckoutService(f.cart, f.orders, f.payments, f.receipts,
		services.Config{ConfirmTimeout: 50 * time.Millisecond}, nil, zap.NewNop())
	return f
}

func request(method string) services.Request {
	return services.Request{
		ShippingAddress: []byte(`{"name":"A","line1":"1 Main","city":"Pune","postal_code":"411001","country":"IN"}`),
		BillingAddress:  []byte(`{"name":"A","line1":"1 Main","city":"Pune","postal_code":"411001","country":"IN"}`),
		PaymentMethod:   method,
	}
}
