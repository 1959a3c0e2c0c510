package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/yashrajoria/marketplace/services/common/auth"
	"github.com/yashrajoria/marketplace/services/receipt-service/controllers"
)

func RegisterRoutes(r *gin.Engine, rc *controllers.ReceiptController, authn gin.HandlerFunc) {
	receipts := r.Group("/receipts")
	receipts.Use(authn)
	receipts.POST("", auth.RequireRole(auth.ServiceRole, auth.AdminRole), rc.CreateReceipt)
	receipts.GET("/:paymentId", rc.GetReceipt)
	receipts.GET("/:paymentId/download", rc.DownloadURL)
}
