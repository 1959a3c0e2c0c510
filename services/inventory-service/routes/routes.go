package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/yashrajoria/marketplace/services/common/auth"
	"github.com/yashrajoria/marketplace/services/inventory-service/controllers"
)

// RegisterRoutes registers all inventory service routes
func RegisterRoutes(r *gin.Engine, ctrl *controllers.InventoryController, authn gin.HandlerFunc) {
	operator := auth.RequireRole(auth.AdminRole, auth.ServiceRole)

	inventory := r.Group("/inventory", authn)
	{
		inventory.GET("/:productId", ctrl.GetStock)
		inventory.POST("/check", ctrl.CheckStock)

		inventory.POST("", auth.AdminOnly(), ctrl.CreateStock)
		inventory.PUT("/:productId", auth.AdminOnly(), ctrl.UpdateStock)

		inventory.GET("/orders/:orderId/adjustments", operator, ctrl.GetAdjustments)
	}
}
