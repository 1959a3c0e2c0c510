package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestKindStatus(t *testing.T) {
	cases := map[Kind]int{
		KindValidation:      http.StatusBadRequest,
		KindConflict:        http.StatusConflict,
		KindNotFound:        http.StatusNotFound,
		KindTransient:       http.StatusServiceUnavailable,
		KindPaymentRequired: http.StatusPaymentRequired,
		KindTimeout:         http.StatusGatewayTimeout,
		KindInternal:        http.StatusInternalServerError,
	}
	for k, want := range cases {
		assert.Equal(t, want, k.HTTPStatus(), k.String())
	}
}

func TestIsMatchesByCode(t *testing.T) {
	sentinel := Conflict(CodeIllegalTransition, "illegal transition")
	err := fmt.Errorf("update: %w", Conflict(CodeIllegalTransition, "Shipped -> Confirmed"))

	assert.True(t, errors.Is(err, sentinel))
	assert.False(t, errors.Is(err, NotFound(CodeOrderNotFound, "")))
	assert.Equal(t, KindConflict, KindOf(err))
	assert.Equal(t, CodeIllegalTransition, CodeOf(err))
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
}

func TestTransientUnwraps(t *testing.T) {
	cause := errors.New("connection refused")
	err := Transient("database unavailable", cause)
	assert.True(t, IsTransient(err))
	assert.ErrorIs(t, err, cause)
}

func TestRespond(t *testing.T) {
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	Respond(c, Validation(CodeEmptyCart, "cart is empty"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"cart is empty","code":"EMPTY_CART"}`, w.Body.String())

	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	Respond(c, errors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
