package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/yashrajoria/marketplace/services/cart-service/controllers"
	"github.com/yashrajoria/marketplace/services/common/auth"
)

func RegisterCartRoutes(r *gin.Engine, controller *controllers.CartController, authn gin.HandlerFunc) {
	// Protected cart routes (require authentication)
	api := r.Group("/cart", authn)
	{
		api.GET("/", controller.GetCart)
		api.POST("/add", controller.AddItem)
		api.DELETE("/remove/:product_id", controller.RemoveItem)
		api.DELETE("/clear", controller.ClearCart)
	}

	internal := r.Group("/internal/carts", authn, auth.RequireRole(auth.ServiceRole, auth.AdminRole))
	{
		internal.GET("/:userId/snapshot", controller.GetSnapshot)
		internal.DELETE("/:userId", controller.ClearSnapshot)
	}
}
