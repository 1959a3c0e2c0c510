// Package auth resolves the caller's identity. The gateway forwards
// X-User-ID and X-User-Role; a bearer token signed with JWT_SECRET is
// accepted when a service is called directly.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
)

const (
	UserContextKey = "userID"
	RoleContextKey = "role"
	AdminRole      = "admin"
	// ServiceRole identifies internal callers such as checkout-service.
	ServiceRole = "service"
)

var ErrNoIdentity = errors.New("no caller identity")

// ParseAndValidateToken parses an HMAC-signed JWT and returns its claims.
// If expectedType is non-empty, the claim "typ" must match it.
func ParseAndValidateToken(secret []byte, tokenStr, expectedType string) (jwt.MapClaims, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("JWT secret not configured")
	}

	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil || token == nil || !token.Valid {
		return nil, fmt.Errorf("invalid or expired token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}
	if expectedType != "" {
		if typ, ok := claims["typ"].(string); !ok || typ != expectedType {
			return nil, fmt.Errorf("invalid token type")
		}
	}
	return claims, nil
}

// Resolve returns the user id and role carried by r.
func Resolve(r *http.Request, secret []byte) (userID, role string, err error) {
	userID = r.Header.Get("X-User-ID")
	role = r.Header.Get("X-User-Role")
	if userID != "" {
		return userID, role, nil
	}

	authz := r.Header.Get("Authorization")
	if !strings.HasPrefix(authz, "Bearer ") {
		return "", "", ErrNoIdentity
	}
	claims, err := ParseAndValidateToken(secret, strings.TrimPrefix(authz, "Bearer "), "access")
	if err != nil {
		return "", "", err
	}
	userID, _ = claims["sub"].(string)
	role, _ = claims["role"].(string)
	if userID == "" {
		return "", "", ErrNoIdentity
	}
	return userID, role, nil
}

// Middleware rejects requests without an identity.
func Middleware() gin.HandlerFunc {
	secret := []byte(strings.TrimSpace(os.Getenv("JWT_SECRET")))
	return MiddlewareWithSecret(secret)
}

func MiddlewareWithSecret(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, role, err := Resolve(c.Request, secret)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		c.Set(UserContextKey, userID)
		c.Set(RoleContextKey, role)
		c.Next()
	}
}

// RequireRole allows only callers whose role is one of roles.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := GetRole(c)
		for _, r := range roles {
			if role == r {
				c.Next()
				return
			}
		}
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		c.Abort()
	}
}

func AdminOnly() gin.HandlerFunc { return RequireRole(AdminRole) }

func GetUserID(c *gin.Context) string { return c.GetString(UserContextKey) }

func GetRole(c *gin.Context) string { return c.GetString(RoleContextKey) }

func IsAdmin(c *gin.Context) bool { return GetRole(c) == AdminRole }
