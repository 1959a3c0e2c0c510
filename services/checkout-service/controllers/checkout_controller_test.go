package controllers_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yashrajoria/marketplace/pkg/messaging"
	"github.com/yashrajoria/marketplace/services/checkout-service/clients"
	"github.com/yashrajoria/marketplace/services/checkout-service/controllers"
	"github.com/yashrajoria/marketplace/services/checkout-service/routes"
	"github.com/yashrajoria/marketplace/services/checkout-service/services"
	"github.com/yashrajoria/marketplace/services/common/apperrors"
	"github.com/yashrajoria/marketplace/services/common/auth"
)

func init() { gin.SetMode(gin.TestMode) }

// upstream stands in for the cart, order, payment and receipt services.
type upstream struct {
	mu           sync.Mutex
	items        []clients.CartItem
	cleared      []string
	orders       map[uuid.UUID]*clients.Order
	payments     map[uuid.UUID]*clients.Payment
	outcome      string
	confirmDelay time.Duration
	receipts     int
}

func newUpstream(t *testing.T) (*upstream, string) {
	t.Helper()
	up := &upstream{
		items:    []clients.CartItem{{ProductID: "p-1", Quantity: 2, UnitPrice: 10000}},
		orders:   map[uuid.UUID]*clients.Order{},
		payments: map[uuid.UUID]*clients.Payment{},
		outcome:  clients.PaymentCompleted,
	}
	r := gin.New()

	r.GET("/internal/carts/:userId/snapshot", func(c *gin.Context) {
		up.mu.Lock()
		defer up.mu.Unlock()
		c.JSON(http.StatusOK, clients.CartSnapshot{UserID: c.Param("userId"), Items: up.items, Version: 7})
	})
	r.DELETE("/internal/carts/:userId", func(c *gin.Context) {
		up.mu.Lock()
		defer up.mu.Unlock()
		up.cleared = append(up.cleared, c.Param("userId")+"@"+c.Query("version"))
		c.Status(http.StatusNoContent)
	})

	r.POST("/orders", func(c *gin.Context) {
		var req clients.CreateOrder
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		up.mu.Lock()
		defer up.mu.Unlock()
		order := &clients.Order{
			ID:            uuid.New(),
			CustomerID:    c.GetHeader("X-User-ID"),
			CartRef:       req.CartRef,
			PaymentMethod: req.PaymentMethod,
			Currency:      "INR",
			TotalAmount:   27500,
			Status:        clients.OrderPendingPayment,
		}
		if req.PaymentMethod == clients.MethodCOD {
			order.Status = clients.OrderConfirmed
		}
		up.orders[order.ID] = order
		c.JSON(http.StatusCreated, gin.H{"order": order})
	})
	r.POST("/internal/orders/:id/payment-facts", func(c *gin.Context) {
		var fact clients.PaymentFact
		if err := c.ShouldBindJSON(&fact); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		up.mu.Lock()
		defer up.mu.Unlock()
		order := up.orders[uuid.MustParse(c.Param("id"))]
		if fact.Type == messaging.PaymentCompleted {
			order.Status, order.PaymentID = clients.OrderConfirmed, &fact.PaymentID
		} else {
			order.Status, order.CancelReason = clients.OrderCancelled, "payment_failed:"+fact.Reason
		}
		c.JSON(http.StatusOK, gin.H{"order": order})
	})
	r.POST("/orders/:id/cancel", func(c *gin.Context) {
		var body struct {
			Reason string `json:"reason"`
		}
		_ = c.ShouldBindJSON(&body)
		up.mu.Lock()
		defer up.mu.Unlock()
		order := up.orders[uuid.MustParse(c.Param("id"))]
		order.Status, order.CancelReason = clients.OrderCancelled, body.Reason
		c.JSON(http.StatusOK, gin.H{"order": order})
	})

	r.POST("/payments/initiate", func(c *gin.Context) {
		var req clients.InitiatePayment
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		up.mu.Lock()
		defer up.mu.Unlock()
		ref := "pi_" + req.OrderID.String()[:8]
		p := &clients.Payment{
			ID:         uuid.New(),
			OrderID:    req.OrderID,
			UserID:     c.GetHeader("X-On-Behalf-Of"),
			Amount:     req.Amount,
			Currency:   req.Currency,
			Method:     req.Method,
			Status:     clients.PaymentInitiated,
			GatewayRef: &ref,
		}
		up.payments[p.ID] = p
		c.JSON(http.StatusCreated, gin.H{"payment": p})
	})
	r.POST("/payments/:id/confirm", func(c *gin.Context) {
		up.mu.Lock()
		delay := up.confirmDelay
		up.mu.Unlock()
		time.Sleep(delay)

		up.mu.Lock()
		defer up.mu.Unlock()
		p := up.payments[uuid.MustParse(c.Param("id"))]
		if p.Status == clients.PaymentInitiated {
			p.Status = up.outcome
			if up.outcome == clients.PaymentFailed {
				p.FailureReason = "card_declined"
			}
		}
		c.JSON(http.StatusOK, gin.H{"payment": p})
	})
	r.POST("/payments/:id/cancel", func(c *gin.Context) {
		up.mu.Lock()
		defer up.mu.Unlock()
		p := up.payments[uuid.MustParse(c.Param("id"))]
		if p.Status == clients.PaymentInitiated {
			p.Status = clients.PaymentCancelled
		}
		c.JSON(http.StatusOK, gin.H{"payment": p})
	})
	r.GET("/payments/order/:orderId", func(c *gin.Context) {
		up.mu.Lock()
		defer up.mu.Unlock()
		for _, p := range up.payments {
			if p.OrderID.String() == c.Param("orderId") {
				c.JSON(http.StatusOK, gin.H{"payment": p})
				return
			}
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "Payment not found", "code": apperrors.CodePaymentNotFound})
	})
	r.GET("/orders/:id", func(c *gin.Context) {
		up.mu.Lock()
		defer up.mu.Unlock()
		order, ok := up.orders[uuid.MustParse(c.Param("id"))]
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Order not found", "code": apperrors.CodeOrderNotFound})
			return
		}
		c.JSON(http.StatusOK, gin.H{"order": order})
	})

	r.POST("/receipts", func(c *gin.Context) {
		var req clients.CreateReceipt
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		up.mu.Lock()
		defer up.mu.Unlock()
		up.receipts++
		c.JSON(http.StatusCreated, gin.H{"receipt": gin.H{"id": "rcpt-" + req.PaymentID.String()[:8]}})
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return up, srv.URL
}

func setup(t *testing.T, withIdem bool) (*gin.Engine, *upstream) {
	t.Helper()
	up, url := newUpstream(t)
	svc := services.NewCheckoutService(
		clients.NewCartClient(url),
		clients.NewOrderClient(url),
		clients.NewPaymentClient(url),
		clients.NewReceiptClient(url),
		services.Config{ConfirmTimeout: 200 * time.Millisecond},
		nil, nil,
	)

	var idem services.IdempotencyStore
	if withIdem {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		idem = services.NewRedisIdempotencyStore(client, time.Hour)
	}

	r := gin.New()
	routes.RegisterRoutes(r, controllers.NewCheckoutController(svc, idem, nil), auth.MiddlewareWithSecret(nil), 600, 100)
	return r, up
}

func checkoutBody(method string) map[string]any {
	addr := map[string]string{"name": "A", "line1": "1 Main", "city": "Pune", "postal_code": "411001", "country": "IN"}
	return map[string]any{"shipping_address": addr, "billing_address": addr, "payment_method": method}
}

func do(r *gin.Engine, method, path, userID string, body any, header http.Header) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", userID)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

type checkoutResponse struct {
	Order     clients.Order    `json:"order"`
	Payment   *clients.Payment `json:"payment"`
	ReceiptID string           `json:"receipt_id"`
	Code      string           `json:"code"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) checkoutResponse {
	t.Helper()
	var resp checkoutResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

func TestCheckout_CardSuccess(t *testing.T) {
	r, up := setup(t, false)

	w := do(r, http.MethodPost, "/checkout", "cust-1", checkoutBody("card"), nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	resp := decode(t, w)
	assert.Equal(t, clients.OrderConfirmed, resp.Order.Status)
	assert.Equal(t, "cust-1", resp.Order.CustomerID)
	require.NotNil(t, resp.Payment)
	assert.Equal(t, clients.PaymentCompleted, resp.Payment.Status)
	assert.Equal(t, "cust-1", resp.Payment.UserID)
	assert.Equal(t, "rcpt-"+resp.Payment.ID.String()[:8], resp.ReceiptID)
	assert.Equal(t, []string{"cust-1@7"}, up.cleared)
}

func TestCheckout_CashOnDelivery(t *testing.T) {
	r, up := setup(t, false)

	w := do(r, http.MethodPost, "/checkout", "cust-1", checkoutBody("cod"), nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	resp := decode(t, w)
	assert.Equal(t, clients.OrderConfirmed, resp.Order.Status)
	assert.Nil(t, resp.Payment)
	assert.Empty(t, up.payments)
	assert.Equal(t, 0, up.receipts)
}

func TestCheckout_PaymentFailedIs402(t *testing.T) {
	r, up := setup(t, false)
	up.outcome = clients.PaymentFailed

	w := do(r, http.MethodPost, "/checkout", "cust-1", checkoutBody("card"), nil)
	require.Equal(t, http.StatusPaymentRequired, w.Code, w.Body.String())
	resp := decode(t, w)
	assert.Equal(t, apperrors.CodePaymentFailed, resp.Code)
	assert.Equal(t, clients.OrderCancelled, resp.Order.Status)
	assert.Empty(t, up.cleared)
}

func TestCheckout_ConfirmTimeoutIs504(t *testing.T) {
	r, up := setup(t, false)
	up.confirmDelay = 500 * time.Millisecond

	w := do(r, http.MethodPost, "/checkout", "cust-1", checkoutBody("card"), nil)
	require.Equal(t, http.StatusGatewayTimeout, w.Code, w.Body.String())
	assert.Equal(t, apperrors.CodePaymentTimeout, decode(t, w).Code)

	up.mu.Lock()
	defer up.mu.Unlock()
	for _, o := range up.orders {
		assert.Equal(t, clients.OrderCancelled, o.Status)
		assert.Equal(t, services.ReasonPaymentTimeout, o.CancelReason)
	}
	assert.Empty(t, up.cleared)
}

func TestCheckout_EmptyCartIs400(t *testing.T) {
	r, up := setup(t, false)
	up.items = nil

	w := do(r, http.MethodPost, "/checkout", "cust-1", checkoutBody("card"), nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, apperrors.CodeEmptyCart, decode(t, w).Code)
	assert.Empty(t, up.orders)
}

func TestCheckout_MissingAddressIs400(t *testing.T) {
	r, _ := setup(t, false)

	w := do(r, http.MethodPost, "/checkout", "cust-1", map[string]any{"payment_method": "card"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCheckout_IdempotencyKeyReplaysResponse(t *testing.T) {
	r, up := setup(t, true)
	hdr := http.Header{controllers.IdempotencyHeader: []string{"attempt-1"}}

	first := do(r, http.MethodPost, "/checkout", "cust-1", checkoutBody("card"), hdr)
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	second := do(r, http.MethodPost, "/checkout", "cust-1", checkoutBody("card"), hdr)
	require.Equal(t, http.StatusCreated, second.Code)

	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Len(t, up.orders, 1)

	// Keys are scoped per customer.
	other := do(r, http.MethodPost, "/checkout", "cust-2", checkoutBody("card"), hdr)
	require.Equal(t, http.StatusCreated, other.Code)
	assert.Len(t, up.orders, 2)
}

func TestGetSummary(t *testing.T) {
	r, _ := setup(t, false)
	w := do(r, http.MethodPost, "/checkout", "cust-1", checkoutBody("card"), nil)
	require.Equal(t, http.StatusCreated, w.Code)
	created := decode(t, w)

	path := fmt.Sprintf("/checkout/orders/%s", created.Order.ID)
	got := do(r, http.MethodGet, path, "cust-1", nil, nil)
	require.Equal(t, http.StatusOK, got.Code, got.Body.String())
	resp := decode(t, got)
	assert.Equal(t, created.Order.ID, resp.Order.ID)
	require.NotNil(t, resp.Payment)
	assert.Equal(t, created.Payment.ID, resp.Payment.ID)

	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, path, "cust-2", nil, nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/checkout/orders/nope", "cust-1", nil, nil).Code)
}
