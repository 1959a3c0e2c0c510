package services_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yashrajoria/marketplace/pkg/messaging"
	"github.com/yashrajoria/marketplace/services/common/apperrors"
	"github.com/yashrajoria/marketplace/services/order-service/models"
	"github.com/yashrajoria/marketplace/services/order-service/services"
)

var addr = models.Address{Name: "Asha", Line1: "12 MG Road", City: "Pune", PostalCode: "411001", Country: "IN"}

type fixture struct {
	svc      *services.OrderService
	repo     *fakeRepo
	catalog  *fakeCatalog
	payments *fakePayments
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:     newFakeRepo(),
		catalog:  &fakeCatalog{products: map[string]services.Product{"sku-1": {ID: "sku-1", VendorID: "v-1", Price: 100}}},
		payments: &fakePayments{byOrder: map[uuid.UUID]*services.PaymentInfo{}},
	}
	f.svc = services.NewOrderService(f.repo, f.catalog, f.payments, services.Config{
		Pricing:               models.Pricing{TaxRateBPS: 1800, FreeShippingThreshold: 50000, ShippingFee: 4900},
		Currency:              "INR",
		PendingPaymentTimeout: 15 * time.Minute,
	}, nil, zap.NewNop())
	return f
}

func (f *fixture) create(t *testing.T, method models.PaymentMethod) *models.Order {
	t.Helper()
	order, err := f.svc.CreateOrder(context.Background(), "cust-1", &services.CreateOrderRequest{
		Items:           []services.LineItem{{ProductID: "sku-1", Quantity: 2}},
		ShippingAddress: addr,
		PaymentMethod:   method,
	})
	require.NoError(t, err)
	return order
}

func (f *fixture) seedAt(t *testing.T, status models.Status) *models.Order {
	t.Helper()
	o := models.Order{ID: uuid.New(), CustomerID: "cust-1", Status: status, TotalAmount: 5136, UpdatedAt: time.Now()}
	f.repo.seed(o)
	return &o
}

func TestCreateOrder_CODConfirmedImmediately(t *testing.T) {
	f := newFixture(t)
	order := f.create(t, models.MethodCOD)

	assert.Equal(t, models.StatusConfirmed, order.Status)
	assert.NotNil(t, order.ConfirmedAt)
	assert.Equal(t, int64(200), order.Subtotal)
	assert.Equal(t, int64(36), order.Tax)
	assert.Equal(t, int64(4900), order.ShippingFee)
	assert.Equal(t, order.Subtotal-order.Discount+order.Tax+order.ShippingFee, order.TotalAmount)
	assert.Equal(t, addr, order.BillingAddress)
	assert.Regexp(t, `^ORD-\d{8}-\d{6}-[0-9A-F]{8}$`, order.OrderNumber)

	created := f.repo.factsFor(messaging.OrderCreated)
	require.Len(t, created, 1)
	var fact messaging.OrderCreatedFact
	require.NoError(t, created[0].Decode(&fact))
	assert.Equal(t, order.ID.String(), fact.OrderID)
	assert.Equal(t, []messaging.OrderLine{{ProductID: "sku-1", VendorID: "v-1", Quantity: 2}}, fact.Items)
	assert.Len(t, f.repo.factsFor(messaging.OrderStatusChanged), 1)
}

func TestCreateOrder_OnlineWaitsForPayment(t *testing.T) {
	f := newFixture(t)
	order := f.create(t, models.MethodCard)
	assert.Equal(t, models.StatusPendingPayment, order.Status)
	assert.Nil(t, order.ConfirmedAt)
}

func TestCreateOrder_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateOrder(ctx, "c", &services.CreateOrderRequest{ShippingAddress: addr, PaymentMethod: models.MethodCOD})
	assert.Equal(t, apperrors.CodeEmptyCart, apperrors.CodeOf(err))

	items := []services.LineItem{{ProductID: "sku-1", Quantity: 1}}
	_, err = f.svc.CreateOrder(ctx, "c", &services.CreateOrderRequest{Items: items, ShippingAddress: models.Address{City: "Pune"}, PaymentMethod: models.MethodCOD})
	assert.Equal(t, apperrors.CodeInvalidAddress, apperrors.CodeOf(err))

	_, err = f.svc.CreateOrder(ctx, "c", &services.CreateOrderRequest{Items: items, ShippingAddress: addr, PaymentMethod: "cheque"})
	assert.Equal(t, apperrors.CodeInvalidMethod, apperrors.CodeOf(err))

	_, err = f.svc.CreateOrder(ctx, "c", &services.CreateOrderRequest{Items: []services.LineItem{{ProductID: "nope", Quantity: 1}}, ShippingAddress: addr, PaymentMethod: models.MethodCOD})
	assert.Equal(t, apperrors.CodeUnknownProduct, apperrors.CodeOf(err))
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))

	f.catalog.err = errors.New("connection refused")
	_, err = f.svc.CreateOrder(ctx, "c", &services.CreateOrderRequest{Items: items, ShippingAddress: addr, PaymentMethod: models.MethodCOD})
	assert.True(t, apperrors.IsTransient(err))

	assert.Empty(t, f.repo.facts)
}

func TestTotalsFrozenAgainstCatalogChanges(t *testing.T) {
	f := newFixture(t)
	order := f.create(t, models.MethodCard)
	f.catalog.setPrice("sku-1", 999)

	got, err := f.svc.ApplyPaymentFact(context.Background(), order.ID, services.PaymentFact{Type: messaging.PaymentCompleted, PaymentID: uuid.New()})
	require.NoError(t, err)
	assert.Equal(t, order.TotalAmount, got.TotalAmount)
	assert.Equal(t, int64(100), got.Items[0].UnitPrice)
}

func TestApplyPaymentFact_CompletedIsIdempotent(t *testing.T) {
	f := newFixture(t)
	order := f.create(t, models.MethodCard)
	pid := uuid.New()
	fact := services.PaymentFact{Type: messaging.PaymentCompleted, PaymentID: pid, Amount: order.TotalAmount}

	first, err := f.svc.ApplyPaymentFact(context.Background(), order.ID, fact)
	require.NoError(t, err)
	second, err := f.svc.ApplyPaymentFact(context.Background(), order.ID, fact)
	require.NoError(t, err)

	assert.Equal(t, models.StatusConfirmed, first.Status)
	assert.Equal(t, models.StatusConfirmed, second.Status)
	assert.Equal(t, pid, *second.PaymentID)
	assert.Len(t, f.repo.factsFor(messaging.OrderStatusChanged), 2) // created, confirmed
}

func TestApplyPaymentFact_MismatchedCompletionIsConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.create(t, models.MethodCard)

	_, err := f.svc.ApplyPaymentFact(ctx, order.ID, services.PaymentFact{Type: messaging.PaymentCompleted, PaymentID: uuid.New(), Amount: order.TotalAmount - 1})
	assert.Equal(t, apperrors.KindConflict, apperrors.KindOf(err))
	assert.Equal(t, apperrors.CodePaymentMismatch, apperrors.CodeOf(err))
	got, err := f.svc.GetOrder(ctx, order.ID, "", true)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPendingPayment, got.Status)
	assert.Nil(t, got.PaymentID)

	pid := uuid.New()
	_, err = f.svc.ApplyPaymentFact(ctx, order.ID, services.PaymentFact{Type: messaging.PaymentCompleted, PaymentID: pid, Amount: order.TotalAmount})
	require.NoError(t, err)

	_, err = f.svc.ApplyPaymentFact(ctx, order.ID, services.PaymentFact{Type: messaging.PaymentCompleted, PaymentID: uuid.New(), Amount: order.TotalAmount})
	assert.Equal(t, apperrors.CodePaymentMismatch, apperrors.CodeOf(err))
	got, err = f.svc.GetOrder(ctx, order.ID, "", true)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, got.Status)
	assert.Equal(t, pid, *got.PaymentID)
	assert.Len(t, f.repo.factsFor(messaging.OrderStatusChanged), 2)
}

func TestApplyPaymentFact_FailedCancels(t *testing.T) {
	f := newFixture(t)
	order := f.create(t, models.MethodCard)

	got, err := f.svc.ApplyPaymentFact(context.Background(), order.ID, services.PaymentFact{Type: messaging.PaymentFailed, PaymentID: uuid.New(), Reason: "card_declined"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got.Status)
	assert.Equal(t, "payment_failed: card_declined", got.CancelReason)

	cancelled := f.repo.factsFor(messaging.OrderCancelled)
	require.Len(t, cancelled, 1)
	var fact messaging.OrderCancelledFact
	require.NoError(t, cancelled[0].Decode(&fact))
	assert.Equal(t, string(models.StatusPendingPayment), fact.PreviousStatus)

	// A late failure for a confirmed order changes nothing.
	confirmed := f.create(t, models.MethodCOD)
	got, err = f.svc.ApplyPaymentFact(context.Background(), confirmed.ID, services.PaymentFact{Type: messaging.PaymentFailed, PaymentID: uuid.New()})
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, got.Status)
}

func TestApplyPaymentFact_CompletedAfterCancelNeedsManualRefund(t *testing.T) {
	f := newFixture(t)
	order := f.create(t, models.MethodCard)
	_, err := f.svc.CancelOrder(context.Background(), order.ID, services.ReasonPaymentTimeout, "checkout")
	require.NoError(t, err)

	fact := services.PaymentFact{Type: messaging.PaymentCompleted, PaymentID: uuid.New(), Amount: order.TotalAmount}
	for i := 0; i < 2; i++ {
		got, err := f.svc.ApplyPaymentFact(context.Background(), order.ID, fact)
		require.NoError(t, err)
		assert.Equal(t, models.StatusCancelled, got.Status)
		assert.True(t, got.ManualRefundRequired)
	}
	refunds := f.repo.factsFor(messaging.OrderManualRefundRequired)
	require.Len(t, refunds, 1)
	var mr messaging.OrderManualRefundFact
	require.NoError(t, refunds[0].Decode(&mr))
	assert.Equal(t, order.TotalAmount, mr.Amount)
}

func TestApplyPaymentFact_UnknownOrder(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ApplyPaymentFact(context.Background(), uuid.New(), services.PaymentFact{Type: messaging.PaymentCompleted, PaymentID: uuid.New()})
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
}

func TestTransitionStatus_ForwardOnly(t *testing.T) {
	f := newFixture(t)
	order := f.create(t, models.MethodCOD)
	ctx := context.Background()

	_, err := f.svc.TransitionStatus(ctx, order.ID, models.StatusDelivered, "ops", "")
	assert.Equal(t, apperrors.CodeIllegalTransition, apperrors.CodeOf(err))
	assert.Equal(t, apperrors.KindConflict, apperrors.KindOf(err))

	for _, s := range []models.Status{models.StatusProcessing, models.StatusShipped, models.StatusOutForDelivery, models.StatusDelivered} {
		got, err := f.svc.TransitionStatus(ctx, order.ID, s, "ops", "TRK-1")
		require.NoError(t, err)
		assert.Equal(t, s, got.Status)
	}

	_, err = f.svc.TransitionStatus(ctx, order.ID, models.StatusRefunded, "ops", "")
	assert.Equal(t, apperrors.CodeIllegalTransition, apperrors.CodeOf(err))

	_, err = f.svc.TransitionStatus(ctx, order.ID, models.Status("Lost"), "ops", "")
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))

	got, err := f.svc.GetOrder(ctx, order.ID, "cust-1", false)
	require.NoError(t, err)
	assert.Equal(t, "TRK-1", got.TrackingNumber)
	assert.NotNil(t, got.DeliveredAt)
}

func TestCancelOrder_RejectedOnceShipped(t *testing.T) {
	f := newFixture(t)
	order := f.seedAt(t, models.StatusShipped)

	_, err := f.svc.CancelOrder(context.Background(), order.ID, "changed my mind", "cust-1")
	assert.Equal(t, apperrors.CodeOrderNotCancellable, apperrors.CodeOf(err))
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))

	got, err := f.svc.GetOrder(context.Background(), order.ID, "", true)
	require.NoError(t, err)
	assert.Equal(t, models.StatusShipped, got.Status)
	assert.Empty(t, f.repo.factsFor(messaging.OrderCancelled))
}

func TestCancelRacesShipOneWinner(t *testing.T) {
	for i := 0; i < 20; i++ {
		f := newFixture(t)
		order := f.seedAt(t, models.StatusProcessing)

		var wg sync.WaitGroup
		var cancelErr, shipErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, cancelErr = f.svc.CancelOrder(context.Background(), order.ID, "customer", "cust-1")
		}()
		go func() {
			defer wg.Done()
			_, shipErr = f.svc.TransitionStatus(context.Background(), order.ID, models.StatusShipped, "ops", "TRK")
		}()
		wg.Wait()

		got, err := f.svc.GetOrder(context.Background(), order.ID, "", true)
		require.NoError(t, err)
		switch got.Status {
		case models.StatusCancelled:
			assert.NoError(t, cancelErr)
			assert.Equal(t, apperrors.CodeIllegalTransition, apperrors.CodeOf(shipErr))
		case models.StatusShipped:
			assert.NoError(t, shipErr)
			assert.Equal(t, apperrors.CodeOrderNotCancellable, apperrors.CodeOf(cancelErr))
		default:
			t.Fatalf("unexpected status %s", got.Status)
		}
	}
}

func TestRefundOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	notDelivered := f.seedAt(t, models.StatusShipped)
	_, err := f.svc.RefundOrder(ctx, notDelivered.ID, "damaged", "ops")
	assert.Equal(t, apperrors.CodeIllegalTransition, apperrors.CodeOf(err))

	pid := uuid.New()
	delivered := models.Order{ID: uuid.New(), Status: models.StatusDelivered, PaymentID: &pid, TotalAmount: 5136, UpdatedAt: time.Now()}
	f.repo.seed(delivered)

	got, err := f.svc.RefundOrder(ctx, delivered.ID, "damaged", "ops")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRefunded, got.Status)
	assert.Equal(t, []uuid.UUID{pid}, f.payments.refunded)
}

func TestRefundOrder_PaymentRejectsLeavesOrderDelivered(t *testing.T) {
	f := newFixture(t)
	pid := uuid.New()
	delivered := models.Order{ID: uuid.New(), Status: models.StatusDelivered, PaymentID: &pid, UpdatedAt: time.Now()}
	f.repo.seed(delivered)
	f.payments.refundErr = apperrors.Validation(apperrors.CodePaymentNotRefundable, "payment is not completed")

	_, err := f.svc.RefundOrder(context.Background(), delivered.ID, "damaged", "ops")
	assert.Equal(t, apperrors.CodePaymentNotRefundable, apperrors.CodeOf(err))
	got, _ := f.svc.GetOrder(context.Background(), delivered.ID, "", true)
	assert.Equal(t, models.StatusDelivered, got.Status)
}

func TestReconcileStale(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC()
	f.svc.SetClock(func() time.Time { return now })

	stale := models.Order{ID: uuid.New(), Status: models.StatusPendingPayment, UpdatedAt: now.Add(-20 * time.Minute)}
	paid := models.Order{ID: uuid.New(), Status: models.StatusPendingPayment, UpdatedAt: now.Add(-30 * time.Minute)}
	fresh := models.Order{ID: uuid.New(), Status: models.StatusPendingPayment, UpdatedAt: now.Add(-time.Minute)}
	for _, o := range []models.Order{stale, paid, fresh} {
		f.repo.seed(o)
	}
	pid := uuid.New()
	f.payments.byOrder[paid.ID] = &services.PaymentInfo{ID: pid, Status: "Completed", Amount: 100}

	n, err := f.svc.ReconcileStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, _ := f.svc.GetOrder(context.Background(), stale.ID, "", true)
	assert.Equal(t, models.StatusCancelled, got.Status)
	assert.Equal(t, services.ReasonPaymentTimeout, got.CancelReason)

	got, _ = f.svc.GetOrder(context.Background(), paid.ID, "", true)
	assert.Equal(t, models.StatusConfirmed, got.Status)

	got, _ = f.svc.GetOrder(context.Background(), fresh.ID, "", true)
	assert.Equal(t, models.StatusPendingPayment, got.Status)
}

func TestGetOrder_HidesOtherCustomers(t *testing.T) {
	f := newFixture(t)
	order := f.create(t, models.MethodCOD)

	_, err := f.svc.GetOrder(context.Background(), order.ID, "someone-else", false)
	assert.Equal(t, apperrors.CodeOrderNotFound, apperrors.CodeOf(err))

	resp, err := f.svc.GetUserOrders(context.Background(), "cust-1", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), resp.Meta.TotalOrders)
	assert.Equal(t, int64(1), resp.Meta.TotalPages)
	assert.False(t, resp.Meta.HasMore)
}
