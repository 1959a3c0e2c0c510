package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("test-secret")

func signed(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)
	return tok
}

func router() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(MiddlewareWithSecret(secret))
	r.GET("/me", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user": GetUserID(c), "role": GetRole(c)})
	})
	r.GET("/admin", AdminOnly(), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return r
}

func TestHeaderIdentity(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("X-User-ID", "u-1")
	req.Header.Set("X-User-Role", "customer")
	w := httptest.NewRecorder()
	router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user":"u-1","role":"customer"}`, w.Body.String())
}

func TestBearerIdentity(t *testing.T) {
	tok := signed(t, jwt.MapClaims{"sub": "u-2", "role": "admin", "typ": "access", "exp": time.Now().Add(time.Hour).Unix()})
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	w := httptest.NewRecorder()
	router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestRejectsExpiredAndWrongType(t *testing.T) {
	for _, claims := range []jwt.MapClaims{
		{"sub": "u", "typ": "access", "exp": time.Now().Add(-time.Minute).Unix()},
		{"sub": "u", "typ": "refresh", "exp": time.Now().Add(time.Hour).Unix()},
	} {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer "+signed(t, claims))
		w := httptest.NewRecorder()
		router().ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	}
}

func TestAdminOnlyForbidsCustomers(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("X-User-ID", "u-1")
	req.Header.Set("X-User-Role", "customer")
	w := httptest.NewRecorder()
	router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestMissingIdentity(t *testing.T) {
	w := httptest.NewRecorder()
	router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
