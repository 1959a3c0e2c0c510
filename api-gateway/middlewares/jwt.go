package middlewares

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yashrajoria/marketplace/services/common/auth"
)

// StripIdentity drops identity headers sent by the client. Only the
// gateway sets them, after verifying a token.
func StripIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Header.Del("X-User-ID")
		c.Request.Header.Del("X-User-Role")
		c.Next()
	}
}

// JWTMiddleware verifies the bearer access token and stores its subject and
// role on the context.
func JWTMiddleware(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := c.GetHeader("Authorization")
		if tokenString == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Token is required"})
			c.Abort()
			return
		}
		if !strings.HasPrefix(tokenString, "Bearer ") {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token format"})
			c.Abort()
			return
		}

		claims, err := auth.ParseAndValidateToken(secret, strings.TrimPrefix(tokenString, "Bearer "), "access")
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			c.Abort()
			return
		}
		sub, _ := claims["sub"].(string)
		if sub == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			c.Abort()
			return
		}
		role, _ := claims["role"].(string)
		// Internal roles are minted by services, not by the identity provider.
		if role == auth.ServiceRole {
			role = ""
		}

		c.Set(auth.UserContextKey, sub)
		c.Set(auth.RoleContextKey, role)
		c.Next()
	}
}

func AdminRoleMiddleware() gin.HandlerFunc { return auth.AdminOnly() }
