package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yashrajoria/marketplace/services/common/apperrors"
	"github.com/yashrajoria/marketplace/services/common/auth"
	"github.com/yashrajoria/marketplace/services/receipt-service/models"
	"github.com/yashrajoria/marketplace/services/receipt-service/repository"
	"github.com/yashrajoria/marketplace/services/receipt-service/services"
)

// Presigner returns a time-limited download URL for an object key.
type Presigner func(ctx context.Context, key string, expiry time.Duration) (string, error)

const downloadExpiry = 15 * time.Minute

type ReceiptController struct {
	Service *services.ReceiptService
	Presign Presigner
}

// CreateReceipt issues or returns the receipt for a payment.
// POST /receipts
func (rc *ReceiptController) CreateReceipt(c *gin.Context) {
	var req models.CreateReceiptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}
	receipt, created, err := rc.Service.Create(c.Request.Context(), req)
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"receipt": receipt})
}

// GET /receipts/:paymentId
func (rc *ReceiptController) GetReceipt(c *gin.Context) {
	receipt, ok := rc.load(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"receipt": receipt})
}

// GET /receipts/:paymentId/download
func (rc *ReceiptController) DownloadURL(c *gin.Context) {
	receipt, ok := rc.load(c)
	if !ok {
		return
	}
	if rc.Presign == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "Downloads are not available for this store"})
		return
	}
	url, err := rc.Presign(c.Request.Context(), repository.Key(receipt.PaymentID), downloadExpiry)
	if err != nil {
		apperrors.Respond(c, apperrors.Transient("Failed to sign download", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url, "expires_in": int(downloadExpiry.Seconds())})
}

func (rc *ReceiptController) load(c *gin.Context) (*models.Receipt, bool) {
	paymentID, err := uuid.Parse(c.Param("paymentId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payment ID format", "code": apperrors.CodeReceiptNotFound})
		return nil, false
	}
	role := auth.GetRole(c)
	privileged := role == auth.AdminRole || role == auth.ServiceRole
	receipt, err := rc.Service.Get(c.Request.Context(), paymentID, auth.GetUserID(c), privileged)
	if err != nil {
		apperrors.Respond(c, err)
		return nil, false
	}
	return receipt, true
}
