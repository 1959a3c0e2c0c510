package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/yashrajoria/marketplace/services/common/auth"
	"github.com/yashrajoria/marketplace/services/order-service/controllers"
)

func RegisterOrderRoutes(r *gin.Engine, oc *controllers.OrderController, authn gin.HandlerFunc) {
	orderRoutes := r.Group("/orders")
	orderRoutes.Use(authn)
	orderRoutes.POST("", oc.CreateOrder)
	orderRoutes.GET("", oc.GetOrders) // User's own orders
	orderRoutes.GET("/:id", oc.GetOrderByID)
	orderRoutes.POST("/:id/cancel", oc.CancelOrder)
	orderRoutes.PUT("/:id/status", auth.AdminOnly(), oc.UpdateStatus)
	orderRoutes.POST("/:id/refund", auth.AdminOnly(), oc.RefundOrder)

	internal := r.Group("/internal/orders")
	internal.Use(authn, auth.RequireRole(auth.ServiceRole, auth.AdminRole))
	internal.POST("/:id/payment-facts", oc.ApplyPaymentFact)

	adminRoutes := r.Group("/admin")
	adminRoutes.Use(authn, auth.AdminOnly())
	adminRoutes.GET("/orders", oc.GetAllOrders) // All orders
	adminRoutes.POST("/orders/reconcile", oc.Reconcile)
}
