package controllers

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/yashrajoria/marketplace/services/common/auth"
	"github.com/yashrajoria/marketplace/services/notification-service/models"
	"github.com/yashrajoria/marketplace/services/notification-service/services"
)

type NotificationController struct {
	notificationService services.NotificationService
	logger              *zap.Logger
}

func NewNotificationController(svc services.NotificationService, logger *zap.Logger) *NotificationController {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationController{notificationService: svc, logger: logger}
}

const (
	maxPageSize     = 100
	defaultPage     = 1
	defaultPageSize = 20
)

func parsePaginationParams(ctx *gin.Context) (int, int) {
	page := defaultPage
	pageSize := defaultPageSize

	if p, err := strconv.Atoi(ctx.DefaultQuery("page", "1")); err == nil && p > 0 {
		page = p
	}
	if l, err := strconv.Atoi(ctx.DefaultQuery("page_size", "20")); err == nil && l > 0 {
		pageSize = l
		if pageSize > maxPageSize {
			pageSize = maxPageSize
		}
	}
	return page, pageSize
}

// GET /notifications/log
func (cc *NotificationController) GetNotificationLogs(ctx *gin.Context) {
	page, pageSize := parsePaginationParams(ctx)

	filter := models.NotificationFilter{
		CustomerID: ctx.Query("customer_id"),
		OrderID:    ctx.Query("order_id"),
		RoutingKey: ctx.Query("routing_key"),
		Status:     ctx.Query("status"),
		Channel:    ctx.Query("channel"),
		Page:       page,
		PageSize:   pageSize,
	}

	logs, total, err := cc.notificationService.GetLogs(ctx.Request.Context(), filter)
	if err != nil {
		cc.logger.Error("failed to get notification logs",
			zap.Error(err),
			zap.String("requested_by", auth.GetUserID(ctx)),
		)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	totalPages := int(math.Ceil(float64(total) / float64(pageSize)))

	ctx.JSON(http.StatusOK, gin.H{
		"data":        logs,
		"total":       total,
		"page":        page,
		"page_size":   pageSize,
		"total_pages": totalPages,
	})
}

// GET /notifications/log/:id
func (cc *NotificationController) GetNotificationLog(ctx *gin.Context) {
	id, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	entry, err := cc.notificationService.GetLog(ctx.Request.Context(), id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		ctx.JSON(http.StatusNotFound, gin.H{"error": "notification log not found"})
		return
	}
	if err != nil {
		cc.logger.Error("failed to get notification log", zap.Int64("id", id), zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"data": entry})
}
