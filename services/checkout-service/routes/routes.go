package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/yashrajoria/marketplace/services/checkout-service/controllers"
	"github.com/yashrajoria/marketplace/services/common/middleware"
)

// RegisterRoutes wires the checkout endpoints. The checkout call itself is
// rate limited per caller.
func RegisterRoutes(r *gin.Engine, ctrl *controllers.CheckoutController, authn gin.HandlerFunc, perMinute, burst int) {
	checkout := r.Group("/checkout")
	checkout.Use(authn)
	{
		checkout.POST("", middleware.RateLimitMiddleware(perMinute, burst), ctrl.Checkout)
		checkout.GET("/orders/:id", ctrl.GetSummary)
	}
}
