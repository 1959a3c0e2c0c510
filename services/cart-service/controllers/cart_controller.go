package controllers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yashrajoria/marketplace/services/cart-service/models"
	"github.com/yashrajoria/marketplace/services/cart-service/services"
	"github.com/yashrajoria/marketplace/services/common/apperrors"
	"github.com/yashrajoria/marketplace/services/common/auth"
)

type CartController struct {
	Service *services.CartService
}

func NewCartController(service *services.CartService) *CartController {
	return &CartController{Service: service}
}

func cartView(cart *models.Cart) gin.H {
	return gin.H{"cart": cart, "total_amount": cart.TotalAmount()}
}

// GetCart returns the current cart for a user
func (cc *CartController) GetCart(c *gin.Context) {
	cart, err := cc.Service.Get(c.Request.Context(), auth.GetUserID(c))
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, cartView(cart))
}

// AddItem adds or updates an item in the cart
func (cc *CartController) AddItem(c *gin.Context) {
	var item models.CartItem
	if err := c.ShouldBindJSON(&item); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload", "code": apperrors.CodeInvalidQuantity})
		return
	}

	cart, err := cc.Service.AddItem(c.Request.Context(), auth.GetUserID(c), item)
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, cartView(cart))
}

// RemoveItem removes a specific item from the cart
func (cc *CartController) RemoveItem(c *gin.Context) {
	cart, err := cc.Service.RemoveItem(c.Request.Context(), auth.GetUserID(c), c.Param("product_id"))
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, cartView(cart))
}

// ClearCart removes all items from the cart
func (cc *CartController) ClearCart(c *gin.Context) {
	if err := cc.Service.Clear(c.Request.Context(), auth.GetUserID(c), 0); err != nil {
		apperrors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "cart cleared"})
}

// GetSnapshot is the internal read used by checkout.
// GET /internal/carts/:userId/snapshot
func (cc *CartController) GetSnapshot(c *gin.Context) {
	snap, err := cc.Service.Snapshot(c.Request.Context(), c.Param("userId"))
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// ClearSnapshot clears a cart after checkout.
// DELETE /internal/carts/:userId?version=N
func (cc *CartController) ClearSnapshot(c *gin.Context) {
	var version int64
	if v := c.Query("version"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid version", "code": apperrors.CodeCartChanged})
			return
		}
		version = parsed
	}
	if err := cc.Service.Clear(c.Request.Context(), c.Param("userId"), version); err != nil {
		apperrors.Respond(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
