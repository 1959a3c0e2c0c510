package controllers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yashrajoria/marketplace/services/checkout-service/services"
	"github.com/yashrajoria/marketplace/services/common/apperrors"
	"github.com/yashrajoria/marketplace/services/common/auth"
)

const IdempotencyHeader = "Idempotency-Key"

type CheckoutController struct {
	Service *services.CheckoutService
	// Idem is optional; without it Idempotency-Key is ignored.
	Idem   services.IdempotencyStore
	Logger *zap.Logger
}

func NewCheckoutController(svc *services.CheckoutService, idem services.IdempotencyStore, logger *zap.Logger) *CheckoutController {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CheckoutController{Service: svc, Idem: idem, Logger: logger}
}

// Checkout runs the checkout sequence for the caller's cart.
// POST /checkout
func (cc *CheckoutController) Checkout(c *gin.Context) {
	var req services.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}
	customerID := auth.GetUserID(c)
	ctx := c.Request.Context()

	key := c.GetHeader(IdempotencyHeader)
	if key == "" || cc.Idem == nil {
		status, body := cc.run(c, customerID, req)
		c.JSON(status, body)
		return
	}

	scoped := customerID + ":" + key
	claimed, stored, err := cc.Idem.Claim(ctx, scoped)
	if err != nil {
		cc.Logger.Warn("Idempotency store unavailable; running unguarded", zap.Error(err))
		status, body := cc.run(c, customerID, req)
		c.JSON(status, body)
		return
	}
	if !claimed {
		if stored != nil {
			c.Data(stored.Status, "application/json; charset=utf-8", stored.Body)
			return
		}
		c.JSON(http.StatusConflict, gin.H{"error": "A checkout with this Idempotency-Key is in progress", "code": apperrors.CodeCheckoutInProgress})
		return
	}

	status, body := cc.run(c, customerID, req)
	raw, err := json.Marshal(body)
	switch {
	case err != nil, status >= http.StatusInternalServerError && status != http.StatusGatewayTimeout:
		// Nothing terminal to replay; let the client retry with the same key.
		if relErr := cc.Idem.Release(ctx, scoped); relErr != nil {
			cc.Logger.Warn("Failed to release idempotency key", zap.Error(relErr))
		}
	default:
		if saveErr := cc.Idem.Save(ctx, scoped, services.StoredResponse{Status: status, Body: raw}); saveErr != nil {
			cc.Logger.Warn("Failed to store checkout response", zap.Error(saveErr))
		}
	}
	c.JSON(status, body)
}

func (cc *CheckoutController) run(c *gin.Context, customerID string, req services.Request) (int, gin.H) {
	result, err := cc.Service.Checkout(c.Request.Context(), customerID, req)
	if err != nil {
		status, body := http.StatusInternalServerError, gin.H{"error": "internal server error", "code": apperrors.CodeInternal}
		var e *apperrors.Error
		if errors.As(err, &e) {
			status, body = e.Kind.HTTPStatus(), gin.H{"error": e.Message, "code": e.Code}
		}
		if result != nil {
			body["order"] = result.Order
			if result.Payment != nil {
				body["payment"] = result.Payment
			}
		}
		return status, body
	}

	body := gin.H{"order": result.Order}
	if result.Payment != nil {
		body["payment"] = result.Payment
	}
	if result.ReceiptID != "" {
		body["receipt_id"] = result.ReceiptID
	}
	return http.StatusCreated, body
}

// GetSummary returns an order with its payment.
// GET /checkout/orders/:id
func (cc *CheckoutController) GetSummary(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID format", "code": apperrors.CodeOrderNotFound})
		return
	}
	privileged := auth.IsAdmin(c) || auth.GetRole(c) == auth.ServiceRole
	res, err := cc.Service.Summary(c.Request.Context(), orderID, auth.GetUserID(c), privileged)
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
