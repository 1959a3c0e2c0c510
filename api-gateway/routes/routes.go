package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/yashrajoria/marketplace/api-gateway/config"
	"github.com/yashrajoria/marketplace/api-gateway/middlewares"
	"github.com/yashrajoria/marketplace/api-gateway/proxy"
)

// RegisterAllRoutes exposes the customer and operator surfaces. Internal
// service routes (/internal/...) are never reachable through the gateway.
func RegisterAllRoutes(r *gin.Engine, up config.Upstreams, fwd *proxy.Forwarder, jwtSecret []byte) {
	// ===== PUBLIC ROUTES =====
	r.POST("/stripe/webhook", fwd.To(up.Payment+"/stripe/webhook"))

	// ===== PROTECTED ROUTES (JWT Required) =====
	protected := r.Group("/")
	protected.Use(middlewares.JWTMiddleware(jwtSecret))

	cart := fwd.To(up.Cart + "/cart")
	protected.GET("/cart", fwd.To(up.Cart+"/cart/"))
	protected.GET("/cart/*any", cart)
	protected.POST("/cart/*any", cart)
	protected.DELETE("/cart/*any", cart)

	checkout := fwd.To(up.Checkout + "/checkout")
	protected.POST("/checkout", checkout)
	protected.GET("/checkout/*any", checkout)

	orders := fwd.To(up.Order + "/orders")
	protected.GET("/orders", orders)
	protected.POST("/orders", orders)
	protected.GET("/orders/*any", orders)
	protected.POST("/orders/*any", orders)

	payments := fwd.To(up.Payment + "/payments")
	protected.GET("/payments/*any", payments)
	protected.POST("/payments/*any", payments)

	inventory := fwd.To(up.Inventory + "/inventory")
	protected.GET("/inventory/*any", inventory)
	protected.POST("/inventory/*any", inventory)

	protected.GET("/receipts/*any", fwd.To(up.Receipt+"/receipts"))

	// ===== ADMIN ROUTES (JWT + Admin Role Required) =====
	admin := protected.Group("/")
	admin.Use(middlewares.AdminRoleMiddleware())

	admin.PUT("/orders/*any", orders)
	admin.POST("/inventory", inventory)
	admin.PUT("/inventory/*any", inventory)

	adminAPI := fwd.To(up.Order + "/admin")
	admin.GET("/admin/*any", adminAPI)
	admin.POST("/admin/*any", adminAPI)

	admin.GET("/notifications/*any", fwd.To(up.Notification+"/notifications"))
}
