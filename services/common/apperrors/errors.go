// Package apperrors is the error taxonomy shared by every service. A Kind
// decides the HTTP status; a Code names the business condition.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindConflict
	KindNotFound
	KindTransient
	KindPaymentRequired
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindTransient:
		return "transient"
	case KindPaymentRequired:
		return "payment_required"
	case KindTimeout:
		return "timeout"
	default:
		return "internal"
	}
}

// HTTPStatus maps a kind to its response status.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindTransient:
		return http.StatusServiceUnavailable
	case KindPaymentRequired:
		return http.StatusPaymentRequired
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

const (
	CodeEmptyCart            = "EMPTY_CART"
	CodeInvalidAddress       = "INVALID_ADDRESS"
	CodeInvalidAmount        = "INVALID_AMOUNT"
	CodeInvalidQuantity      = "INVALID_QUANTITY"
	CodeInvalidMethod        = "INVALID_PAYMENT_METHOD"
	CodeInvalidStatus        = "INVALID_STATUS"
	CodeUnknownProduct       = "UNKNOWN_PRODUCT"
	CodeIllegalTransition    = "ILLEGAL_TRANSITION"
	CodeOrderNotCancellable  = "ORDER_NOT_CANCELLABLE"
	CodeOrderNotFound        = "ORDER_NOT_FOUND"
	CodePaymentNotFound      = "PAYMENT_NOT_FOUND"
	CodePaymentNotRefundable = "PAYMENT_NOT_REFUNDABLE"
	CodeRefundExceedsAmount  = "REFUND_EXCEEDS_AMOUNT"
	CodeEvidenceMismatch     = "EVIDENCE_MISMATCH"
	CodePaymentClosed        = "PAYMENT_CLOSED"
	CodePaymentMismatch      = "PAYMENT_MISMATCH"
	CodeInsufficientStock    = "INSUFFICIENT_STOCK"
	CodePaymentFailed        = "PAYMENT_FAILED"
	CodePaymentTimeout       = "PAYMENT_TIMEOUT"
	CodeProductNotFound      = "PRODUCT_NOT_FOUND"
	CodeInventoryExists      = "INVENTORY_EXISTS"
	CodeCartChanged          = "CART_CHANGED"
	CodeOrderCancelled       = "ORDER_CANCELLED"
	CodeCheckoutInProgress   = "CHECKOUT_IN_PROGRESS"
	CodePaymentNotCompleted  = "PAYMENT_NOT_COMPLETED"
	CodeReceiptNotFound      = "RECEIPT_NOT_FOUND"
	CodeUnavailable          = "UNAVAILABLE"
	CodeInternal             = "INTERNAL"
)

// Error represents an application error
type Error struct {
	Kind    Kind   `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by Code, so sentinel values work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap attaches cause to a new error of the given kind.
func Wrap(kind Kind, code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: cause}
}

func Validation(code, message string) *Error { return New(KindValidation, code, message) }
func Conflict(code, message string) *Error   { return New(KindConflict, code, message) }
func NotFound(code, message string) *Error   { return New(KindNotFound, code, message) }

// Transient marks cause as retryable.
func Transient(message string, cause error) *Error {
	return Wrap(KindTransient, CodeUnavailable, message, cause)
}

func Internal(message string, cause error) *Error {
	return Wrap(KindInternal, CodeInternal, message, cause)
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsTransient reports whether retrying err may succeed.
func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}

// Respond writes err as {"error": message, "code": code} with the mapped status.
func Respond(c *gin.Context, err error) {
	var e *Error
	if !errors.As(err, &e) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error", "code": CodeInternal})
		return
	}
	c.JSON(e.Kind.HTTPStatus(), gin.H{"error": e.Message, "code": e.Code})
}

// ErrorMiddleware renders the last error attached with c.Error.
func ErrorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) > 0 && !c.Writer.Written() {
			Respond(c, c.Errors.Last().Err)
			c.Abort()
		}
	}
}
