package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yashrajoria/marketplace/services/common/apperrors"
	"github.com/yashrajoria/marketplace/services/common/auth"
	"github.com/yashrajoria/marketplace/services/payment-service/gateway"
	"github.com/yashrajoria/marketplace/services/payment-service/models"
	"github.com/yashrajoria/marketplace/services/payment-service/services"
)

// WebhookParser verifies and decodes gateway webhooks.
type WebhookParser interface {
	ParseWebhook(r *http.Request) (*gateway.Event, error)
}

type PaymentController struct {
	Service *services.PaymentService
	Webhook WebhookParser
	Logger  *zap.Logger
}

type refundRequest struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

type confirmRequest struct {
	GatewayEvidence models.Evidence `json:"gateway_evidence" binding:"required"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// InitiatePayment creates the order's payment or returns the existing one.
func (pc *PaymentController) InitiatePayment(c *gin.Context) {
	var req services.InitiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": apperrors.CodeInvalidAmount})
		return
	}

	payment, created, err := pc.Service.Initiate(c.Request.Context(), ownerFor(c), req)
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"payment": payment})
}

func (pc *PaymentController) ConfirmPayment(c *gin.Context) {
	id, ok := paymentIDParam(c)
	if !ok {
		return
	}
	var req confirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": apperrors.CodeEvidenceMismatch})
		return
	}
	payment, err := pc.Service.Confirm(c.Request.Context(), id, req.GatewayEvidence)
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payment": payment})
}

func (pc *PaymentController) RefundPayment(c *gin.Context) {
	id, ok := paymentIDParam(c)
	if !ok {
		return
	}
	var req refundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": apperrors.CodeInvalidAmount})
		return
	}
	payment, err := pc.Service.Refund(c.Request.Context(), id, req.Amount, req.Reason)
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payment": payment})
}

func (pc *PaymentController) CancelPayment(c *gin.Context) {
	id, ok := paymentIDParam(c)
	if !ok {
		return
	}
	var req cancelRequest
	_ = c.ShouldBindJSON(&req)
	payment, err := pc.Service.Cancel(c.Request.Context(), id, req.Reason)
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payment": payment})
}

func (pc *PaymentController) GetPayment(c *gin.Context) {
	id, ok := paymentIDParam(c)
	if !ok {
		return
	}
	payment, err := pc.Service.Get(c.Request.Context(), id, auth.GetUserID(c), privileged(c))
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payment": payment})
}

func (pc *PaymentController) GetPaymentByOrder(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("orderId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID format", "code": apperrors.CodeOrderNotFound})
		return
	}
	payment, err := pc.Service.GetByOrder(c.Request.Context(), orderID, auth.GetUserID(c), privileged(c))
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payment": payment})
}

// StripeWebhook receives and dispatches Stripe webhook events.
func (pc *PaymentController) StripeWebhook(c *gin.Context) {
	if pc.Webhook == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "webhooks are not configured"})
		return
	}
	event, err := pc.Webhook.ParseWebhook(c.Request)
	if err != nil {
		pc.Logger.Warn("Stripe webhook signature verification failed", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid webhook"})
		return
	}
	if event == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	pc.Logger.Info("Processing Stripe webhook",
		zap.String("event_type", event.Type),
		zap.String("event_id", event.ID),
		zap.String("gateway_ref", event.Reference),
	)
	if _, err := pc.Service.HandleGatewayEvent(c.Request.Context(), *event); err != nil {
		if apperrors.KindOf(err) == apperrors.KindNotFound {
			// Not ours; acknowledge so Stripe stops retrying.
			c.JSON(http.StatusOK, gin.H{"status": "ignored"})
			return
		}
		apperrors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "received"})
}

// ownerFor is the user a new payment belongs to. Services initiating on a
// customer's behalf pass the customer in X-On-Behalf-Of.
func ownerFor(c *gin.Context) string {
	if auth.GetRole(c) == auth.ServiceRole {
		if onBehalf := c.GetHeader("X-On-Behalf-Of"); onBehalf != "" {
			return onBehalf
		}
	}
	return auth.GetUserID(c)
}

func privileged(c *gin.Context) bool {
	role := auth.GetRole(c)
	return role == auth.AdminRole || role == auth.ServiceRole
}

func paymentIDParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payment ID format", "code": apperrors.CodePaymentNotFound})
		return uuid.Nil, false
	}
	return id, true
}
