package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/yashrajoria/marketplace/services/common/auth"
	"github.com/yashrajoria/marketplace/services/payment-service/controllers"
)

func RegisterPaymentRoutes(r *gin.Engine, pc *controllers.PaymentController, authn gin.HandlerFunc) {
	payments := r.Group("/payments")
	payments.Use(authn)
	payments.POST("/initiate", pc.InitiatePayment)
	payments.GET("/order/:orderId", pc.GetPaymentByOrder)
	payments.GET("/:id", pc.GetPayment)
	payments.POST("/:id/confirm", pc.ConfirmPayment)
	payments.POST("/:id/cancel", pc.CancelPayment)
	payments.POST("/:id/refund", auth.RequireRole(auth.AdminRole, auth.ServiceRole), pc.RefundPayment)

	// Stripe webhook (no auth)
	r.POST("/stripe/webhook", pc.StripeWebhook)
}
