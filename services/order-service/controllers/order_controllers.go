package controllers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yashrajoria/marketplace/services/common/apperrors"
	"github.com/yashrajoria/marketplace/services/common/auth"
	"github.com/yashrajoria/marketplace/services/order-service/models"
	"github.com/yashrajoria/marketplace/services/order-service/services"
)

type OrderController struct {
	orderService *services.OrderService
}

func NewOrderController(orderService *services.OrderService) *OrderController {
	return &OrderController{
		orderService: orderService,
	}
}

type statusRequest struct {
	Status         string `json:"status" binding:"required"`
	TrackingNumber string `json:"tracking_number"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

// CreateOrder handles order creation requests
func (oc *OrderController) CreateOrder(ctx *gin.Context) {
	var req services.CreateOrderRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	order, err := oc.orderService.CreateOrder(ctx.Request.Context(), auth.GetUserID(ctx), &req)
	if err != nil {
		apperrors.Respond(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"order": order})
}

// GetOrders returns paginated orders for the authenticated user
func (oc *OrderController) GetOrders(ctx *gin.Context) {
	page, limit := parsePaginationParams(ctx)
	result, err := oc.orderService.GetUserOrders(ctx.Request.Context(), auth.GetUserID(ctx), page, limit)
	if err != nil {
		apperrors.Respond(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, result)
}

// GetAllOrders returns paginated orders for all users (admin only)
func (oc *OrderController) GetAllOrders(ctx *gin.Context) {
	var status models.Status
	if s := ctx.Query("status"); s != "" {
		parsed, err := models.ParseStatus(s)
		if err != nil {
			apperrors.Respond(ctx, apperrors.Validation(apperrors.CodeInvalidStatus, err.Error()))
			return
		}
		status = parsed
	}

	page, limit := parsePaginationParams(ctx)
	result, err := oc.orderService.GetAllOrders(ctx.Request.Context(), status, page, limit)
	if err != nil {
		apperrors.Respond(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, result)
}

// GetOrderByID returns a specific order for the authenticated user
func (oc *OrderController) GetOrderByID(ctx *gin.Context) {
	orderID, ok := orderIDParam(ctx)
	if !ok {
		return
	}
	privileged := auth.IsAdmin(ctx) || auth.GetRole(ctx) == auth.ServiceRole
	order, err := oc.orderService.GetOrder(ctx.Request.Context(), orderID, auth.GetUserID(ctx), privileged)
	if err != nil {
		apperrors.Respond(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"order": order})
}

// UpdateStatus moves an order forward along its lifecycle (admin only).
func (oc *OrderController) UpdateStatus(ctx *gin.Context) {
	orderID, ok := orderIDParam(ctx)
	if !ok {
		return
	}
	var req statusRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}
	to, err := models.ParseStatus(req.Status)
	if err != nil {
		apperrors.Respond(ctx, apperrors.Validation(apperrors.CodeInvalidStatus, err.Error()))
		return
	}

	order, err := oc.orderService.TransitionStatus(ctx.Request.Context(), orderID, to, auth.GetUserID(ctx), req.TrackingNumber)
	if err != nil {
		apperrors.Respond(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"order": order})
}

// CancelOrder lets the owner (or an admin) cancel an order that has not shipped.
func (oc *OrderController) CancelOrder(ctx *gin.Context) {
	orderID, ok := orderIDParam(ctx)
	if !ok {
		return
	}
	var req reasonRequest
	_ = ctx.ShouldBindJSON(&req)

	userID := auth.GetUserID(ctx)
	if _, err := oc.orderService.GetOrder(ctx.Request.Context(), orderID, userID, auth.IsAdmin(ctx) || auth.GetRole(ctx) == auth.ServiceRole); err != nil {
		apperrors.Respond(ctx, err)
		return
	}
	order, err := oc.orderService.CancelOrder(ctx.Request.Context(), orderID, req.Reason, userID)
	if err != nil {
		apperrors.Respond(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"order": order})
}

// RefundOrder refunds a delivered order (admin only).
func (oc *OrderController) RefundOrder(ctx *gin.Context) {
	orderID, ok := orderIDParam(ctx)
	if !ok {
		return
	}
	var req reasonRequest
	_ = ctx.ShouldBindJSON(&req)

	order, err := oc.orderService.RefundOrder(ctx.Request.Context(), orderID, req.Reason, auth.GetUserID(ctx))
	if err != nil {
		apperrors.Respond(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"order": order})
}

// ApplyPaymentFact is the synchronous path for payment outcomes, used by
// the checkout orchestrator alongside the broker consumer.
func (oc *OrderController) ApplyPaymentFact(ctx *gin.Context) {
	orderID, ok := orderIDParam(ctx)
	if !ok {
		return
	}
	var fact services.PaymentFact
	if err := ctx.ShouldBindJSON(&fact); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}
	order, err := oc.orderService.ApplyPaymentFact(ctx.Request.Context(), orderID, fact)
	if err != nil {
		apperrors.Respond(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"order": order})
}

// Reconcile runs one stale-order sweep on demand (admin only).
func (oc *OrderController) Reconcile(ctx *gin.Context) {
	n, err := oc.orderService.ReconcileStale(ctx.Request.Context())
	if err != nil {
		apperrors.Respond(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"resolved": n})
}

func orderIDParam(ctx *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID format", "code": apperrors.CodeOrderNotFound})
		return uuid.Nil, false
	}
	return id, true
}

// parsePaginationParams extracts and validates pagination parameters
func parsePaginationParams(ctx *gin.Context) (int, int) {
	const MaxLimit = 100
	const DefaultPage = 1
	const DefaultLimit = 10

	page := ctx.DefaultQuery("page", "1")
	limit := ctx.DefaultQuery("limit", "10")

	pageInt := DefaultPage
	limitInt := DefaultLimit

	if p, err := strconv.Atoi(page); err == nil && p > 0 {
		pageInt = p
	}

	if l, err := strconv.Atoi(limit); err == nil && l > 0 {
		limitInt = l
		if limitInt > MaxLimit {
			limitInt = MaxLimit
		}
	}

	return pageInt, limitInt
}
