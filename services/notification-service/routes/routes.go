package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/yashrajoria/marketplace/services/common/auth"
	"github.com/yashrajoria/marketplace/services/notification-service/controllers"
)

func RegisterRoutes(router *gin.Engine, controller *controllers.NotificationController, authn gin.HandlerFunc) {
	// Admin only
	admin := router.Group("/notifications", authn, auth.AdminOnly())
	{
		admin.GET("/log", controller.GetNotificationLogs)
		admin.GET("/log/:id", controller.GetNotificationLog)
	}
}
