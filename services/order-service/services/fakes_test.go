package services_test

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yashrajoria/marketplace/pkg/messaging"
	"github.com/yashrajoria/marketplace/services/common/apperrors"
	"github.com/yashrajoria/marketplace/services/order-service/models"
	repositories "github.com/yashrajoria/marketplace/services/order-service/repository"
	"github.com/yashrajoria/marketplace/services/order-service/services"
)

// fakeRepo keeps orders in memory and records facts the way the outbox
// does: once per correlation id, only when the write lands.
type fakeRepo struct {
	mu     sync.Mutex
	orders map[uuid.UUID]*models.Order
	facts  []messaging.Envelope
	seen   map[string]bool
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{orders: map[uuid.UUID]*models.Order{}, seen: map[string]bool{}}
}

func (r *fakeRepo) record(facts []messaging.Envelope) {
	for _, f := range facts {
		if !r.seen[f.CorrelationID] {
			r.seen[f.CorrelationID] = true
			r.facts = append(r.facts, f)
		}
	}
}

func (r *fakeRepo) Create(ctx context.Context, order *models.Order, facts ...messaging.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *order
	r.orders[order.ID] = &cp
	r.record(facts)
	return nil
}

func (r *fakeRepo) seed(order models.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders[order.ID] = &order
}

func (r *fakeRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (r *fakeRepo) FindByCustomerID(ctx context.Context, customerID string, page, limit int) ([]models.Order, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Order
	for _, o := range r.orders {
		if o.CustomerID == customerID {
			out = append(out, *o)
		}
	}
	return out, int64(len(out)), nil
}

func (r *fakeRepo) FindAll(ctx context.Context, status models.Status, page, limit int) ([]models.Order, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Order
	for _, o := range r.orders {
		if status == "" || o.Status == status {
			out = append(out, *o)
		}
	}
	return out, int64(len(out)), nil
}

func (r *fakeRepo) UpdateStatus(ctx context.Context, id uuid.UUID, from models.Status, fields map[string]any, facts ...messaging.Envelope) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok || o.Status != from {
		return false, nil
	}
	for k, v := range fields {
		switch k {
		case "status":
			o.Status = v.(models.Status)
		case "payment_id":
			pid := v.(uuid.UUID)
			o.PaymentID = &pid
		case "tracking_number":
			o.TrackingNumber = v.(string)
		case "cancel_reason":
			o.CancelReason = v.(string)
		case "confirmed_at":
			t := v.(time.Time)
			o.ConfirmedAt = &t
		case "cancelled_at":
			t := v.(time.Time)
			o.CancelledAt = &t
		case "shipped_at":
			t := v.(time.Time)
			o.ShippedAt = &t
		case "delivered_at":
			t := v.(time.Time)
			o.DeliveredAt = &t
		case "refunded_at":
			t := v.(time.Time)
			o.RefundedAt = &t
		}
	}
	o.UpdatedAt = time.Now()
	r.record(facts)
	return true, nil
}

func (r *fakeRepo) FlagManualRefund(ctx context.Context, id uuid.UUID, paymentID uuid.UUID, facts ...messaging.Envelope) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok || o.ManualRefundRequired {
		return false, nil
	}
	o.ManualRefundRequired = true
	o.PaymentID = &paymentID
	r.record(facts)
	return true, nil
}

func (r *fakeRepo) FindStale(ctx context.Context, status models.Status, updatedBefore time.Time, limit int) ([]models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Order
	for _, o := range r.orders {
		if o.Status == status && o.UpdatedAt.Before(updatedBefore) {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

func (r *fakeRepo) factsFor(routingKey string) []messaging.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []messaging.Envelope
	for _, f := range r.facts {
		if f.RoutingKey == routingKey {
			out = append(out, f)
		}
	}
	return out
}

type fakeCatalog struct {
	mu       sync.Mutex
	products map[string]services.Product
	err      error
}

func (c *fakeCatalog) GetProduct(ctx context.Context, id string) (*services.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	p, ok := c.products[id]
	if !ok {
		return nil, apperrors.Validation(apperrors.CodeUnknownProduct, "unknown product "+id)
	}
	return &p, nil
}

func (c *fakeCatalog) setPrice(id string, price int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.products[id]
	p.Price = price
	c.products[id] = p
}

type fakePayments struct {
	byOrder   map[uuid.UUID]*services.PaymentInfo
	refunded  []uuid.UUID
	refundErr error
}

func (p *fakePayments) GetByOrder(ctx context.Context, orderID uuid.UUID) (*services.PaymentInfo, error) {
	info, ok := p.byOrder[orderID]
	if !ok {
		return nil, apperrors.NotFound(apperrors.CodePaymentNotFound, "no payment")
	}
	return info, nil
}

func (p *fakePayments) Refund(ctx context.Context, paymentID uuid.UUID, amount int64, reason string) (*services.PaymentInfo, error) {
	if p.refundErr != nil {
		return nil, p.refundErr
	}
	p.refunded = append(p.refunded, paymentID)
	return &services.PaymentInfo{ID: paymentID, Status: "Refunded", Amount: amount}, nil
}
