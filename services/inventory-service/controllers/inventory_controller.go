package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yashrajoria/marketplace/services/common/apperrors"
	"github.com/yashrajoria/marketplace/services/inventory-service/models"
	"github.com/yashrajoria/marketplace/services/inventory-service/services"
)

// InventoryController handles HTTP requests for inventory
type InventoryController struct {
	service *services.InventoryService
}

// NewInventoryController creates a new InventoryController
func NewInventoryController(service *services.InventoryService) *InventoryController {
	return &InventoryController{service: service}
}

// GetStock returns the inventory for a product
// GET /inventory/:productId
func (ic *InventoryController) GetStock(c *gin.Context) {
	inv, err := ic.service.GetStock(c.Request.Context(), c.Param("productId"))
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"inventory": inv})
}

// CreateStock initializes inventory for a product
// POST /inventory
func (ic *InventoryController) CreateStock(c *gin.Context) {
	var req models.SetStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error(), "code": apperrors.CodeInvalidQuantity})
		return
	}

	inv, err := ic.service.CreateStock(c.Request.Context(), &req)
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"inventory": inv})
}

// UpdateStock is an operator edit of quantity or threshold
// PUT /inventory/:productId
func (ic *InventoryController) UpdateStock(c *gin.Context) {
	var req models.UpdateStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error(), "code": apperrors.CodeInvalidQuantity})
		return
	}
	if req.Quantity == nil && req.Threshold == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "quantity or low_stock_threshold is required", "code": apperrors.CodeInvalidQuantity})
		return
	}

	inv, err := ic.service.UpdateStock(c.Request.Context(), c.Param("productId"), &req)
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"inventory": inv})
}

// CheckStock checks stock availability for multiple items
// POST /inventory/check
func (ic *InventoryController) CheckStock(c *gin.Context) {
	var req struct {
		Items []models.StockItem `json:"items" binding:"required,dive"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error(), "code": apperrors.CodeInvalidQuantity})
		return
	}

	results, err := ic.service.CheckStock(c.Request.Context(), req.Items)
	if err != nil {
		apperrors.Respond(c, err)
		return
	}

	allSufficient := true
	for _, r := range results {
		if !r.IsSufficient {
			allSufficient = false
			break
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"all_sufficient": allSufficient,
		"results":        results,
	})
}

// GetAdjustments lists the stock movements of an order
// GET /inventory/orders/:orderId/adjustments
func (ic *InventoryController) GetAdjustments(c *gin.Context) {
	adjs, err := ic.service.Adjustments(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_id": c.Param("orderId"), "adjustments": adjs})
}
