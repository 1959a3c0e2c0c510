package controllers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yashrajoria/marketplace/pkg/messaging"
	"github.com/yashrajoria/marketplace/services/common/apperrors"
	"github.com/yashrajoria/marketplace/services/common/auth"
	"github.com/yashrajoria/marketplace/services/order-service/controllers"
	"github.com/yashrajoria/marketplace/services/order-service/models"
	repositories "github.com/yashrajoria/marketplace/services/order-service/repository"
	"github.com/yashrajoria/marketplace/services/order-service/routes"
	"github.com/yashrajoria/marketplace/services/order-service/services"
)

func init() { gin.SetMode(gin.TestMode) }

type memRepo struct {
	mu     sync.Mutex
	orders map[uuid.UUID]models.Order
}

func (r *memRepo) Create(ctx context.Context, o *models.Order, _ ...messaging.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders[o.ID] = *o
	return nil
}

func (r *memRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &o, nil
}

func (r *memRepo) FindByCustomerID(ctx context.Context, cid string, page, limit int) ([]models.Order, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Order
	for _, o := range r.orders {
		if o.CustomerID == cid {
			out = append(out, o)
		}
	}
	return out, int64(len(out)), nil
}

func (r *memRepo) FindAll(ctx context.Context, status models.Status, page, limit int) ([]models.Order, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Order
	for _, o := range r.orders {
		out = append(out, o)
	}
	return out, int64(len(out)), nil
}

func (r *memRepo) UpdateStatus(ctx context.Context, id uuid.UUID, from models.Status, fields map[string]any, _ ...messaging.Envelope) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok || o.Status != from {
		return false, nil
	}
	o.Status = fields["status"].(models.Status)
	if tn, ok := fields["tracking_number"].(string); ok {
		o.TrackingNumber = tn
	}
	r.orders[id] = o
	return true, nil
}

func (r *memRepo) FlagManualRefund(ctx context.Context, id, paymentID uuid.UUID, _ ...messaging.Envelope) (bool, error) {
	return false, nil
}

func (r *memRepo) FindStale(ctx context.Context, status models.Status, before time.Time, limit int) ([]models.Order, error) {
	return nil, nil
}

type staticCatalog struct{}

func (staticCatalog) GetProduct(ctx context.Context, id string) (*services.Product, error) {
	if id != "sku-1" {
		return nil, apperrors.Validation(apperrors.CodeUnknownProduct, "unknown product")
	}
	return &services.Product{ID: id, VendorID: "v-1", Price: 100}, nil
}

func setupRouter(t *testing.T) (*gin.Engine, *memRepo) {
	t.Helper()
	repo := &memRepo{orders: map[uuid.UUID]models.Order{}}
	svc := services.NewOrderService(repo, staticCatalog{}, nil, services.Config{
		Pricing: models.Pricing{TaxRateBPS: 1800, FreeShippingThreshold: 50000, ShippingFee: 4900},
	}, nil, zap.NewNop())

	r := gin.New()
	routes.RegisterOrderRoutes(r, controllers.NewOrderController(svc), auth.MiddlewareWithSecret(nil))
	return r, repo
}

func do(r *gin.Engine, method, path, userID, role string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	if role != "" {
		req.Header.Set("X-User-Role", role)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

var checkoutBody = map[string]any{
	"items":            []map[string]any{{"product_id": "sku-1", "quantity": 2}},
	"shipping_address": map[string]any{"name": "Asha", "line1": "12 MG Road", "city": "Pune", "postal_code": "411001", "country": "IN"},
	"payment_method":   "cod",
}

func decodeOrder(t *testing.T, w *httptest.ResponseRecorder) models.Order {
	t.Helper()
	var resp struct {
		Order models.Order `json:"order"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Order
}

func TestCreateOrder(t *testing.T) {
	r, _ := setupRouter(t)

	w := do(r, http.MethodPost, "/orders", "cust-1", "", checkoutBody)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	order := decodeOrder(t, w)
	assert.Equal(t, models.StatusConfirmed, order.Status)
	assert.Equal(t, int64(5136), order.TotalAmount)

	w = do(r, http.MethodPost, "/orders", "cust-1", "", map[string]any{"payment_method": "cod"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), apperrors.CodeEmptyCart)

	w = do(r, http.MethodPost, "/orders", "", "", checkoutBody)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestUpdateStatus_IllegalIs409(t *testing.T) {
	r, repo := setupRouter(t)
	id := uuid.New()
	repo.orders[id] = models.Order{ID: id, CustomerID: "cust-1", Status: models.StatusConfirmed}

	w := do(r, http.MethodPut, "/orders/"+id.String()+"/status", "ops", auth.AdminRole, map[string]any{"status": "Delivered"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), apperrors.CodeIllegalTransition)

	w = do(r, http.MethodPut, "/orders/"+id.String()+"/status", "ops", auth.AdminRole, map[string]any{"status": "Processing"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.StatusProcessing, decodeOrder(t, w).Status)

	w = do(r, http.MethodPut, "/orders/"+id.String()+"/status", "cust-1", "", map[string]any{"status": "Shipped"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestCancelOrder_ShippedIs400(t *testing.T) {
	r, repo := setupRouter(t)
	id := uuid.New()
	repo.orders[id] = models.Order{ID: id, CustomerID: "cust-1", Status: models.StatusShipped}

	w := do(r, http.MethodPost, "/orders/"+id.String()+"/cancel", "cust-1", "", map[string]any{"reason": "late"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), apperrors.CodeOrderNotCancellable)
	assert.Equal(t, models.StatusShipped, repo.orders[id].Status)

	w = do(r, http.MethodPost, "/orders/"+id.String()+"/cancel", "someone-else", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetOrder(t *testing.T) {
	r, repo := setupRouter(t)
	id := uuid.New()
	repo.orders[id] = models.Order{ID: id, CustomerID: "cust-1", Status: models.StatusConfirmed}

	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/orders/"+id.String(), "cust-1", "", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/orders/"+id.String(), "cust-2", "", nil).Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/orders/"+id.String(), "checkout", auth.ServiceRole, nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/orders/not-a-uuid", "cust-1", "", nil).Code)
}

func TestPaymentFactsRequireServiceRole(t *testing.T) {
	r, repo := setupRouter(t)
	id := uuid.New()
	repo.orders[id] = models.Order{ID: id, CustomerID: "cust-1", Status: models.StatusPendingPayment}
	body := map[string]any{"type": messaging.PaymentCompleted, "payment_id": uuid.NewString(), "amount": 5136}

	assert.Equal(t, http.StatusForbidden, do(r, http.MethodPost, "/internal/orders/"+id.String()+"/payment-facts", "cust-1", "", body).Code)

	w := do(r, http.MethodPost, "/internal/orders/"+id.String()+"/payment-facts", "checkout", auth.ServiceRole, body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.StatusConfirmed, decodeOrder(t, w).Status)
}

func TestAdminListing(t *testing.T) {
	r, _ := setupRouter(t)
	assert.Equal(t, http.StatusForbidden, do(r, http.MethodGet, "/admin/orders", "cust-1", "", nil).Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/admin/orders?page=1&limit=5", "ops", auth.AdminRole, nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/admin/orders?status=Lost", "ops", auth.AdminRole, nil).Code)
}
