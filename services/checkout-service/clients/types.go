package clients

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Payment statuses checkout reacts to.
const (
	PaymentInitiated  = "Initiated"
	PaymentProcessing = "Processing"
	PaymentCompleted  = "Completed"
	PaymentFailed     = "Failed"
	PaymentRefunded   = "Refunded"
	PaymentCancelled  = "Cancelled"
)

// Order statuses checkout reacts to.
const (
	OrderPendingPayment = "PendingPayment"
	OrderConfirmed      = "Confirmed"
	OrderCancelled      = "Cancelled"

	MethodCOD = "cod"
)

type CartItem struct {
	ProductID string `json:"product_id"`
	VendorID  string `json:"vendor_id,omitempty"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

type CartSnapshot struct {
	UserID      string     `json:"user_id"`
	Items       []CartItem `json:"items"`
	TotalAmount int64      `json:"total_amount"`
	Version     int64      `json:"version"`
}

type OrderLine struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// CreateOrder is the order-service create body. Addresses pass through
// untouched; the order ledger validates them.
type CreateOrder struct {
	CartRef         string          `json:"cart_ref"`
	Items           []OrderLine     `json:"items"`
	ShippingAddress json.RawMessage `json:"shipping_address"`
	BillingAddress  json.RawMessage `json:"billing_address"`
	PaymentMethod   string          `json:"payment_method"`
}

type Order struct {
	ID                   uuid.UUID       `json:"id"`
	OrderNumber          string          `json:"order_number"`
	CustomerID           string          `json:"customer_id"`
	CartRef              string          `json:"cart_ref,omitempty"`
	PaymentMethod        string          `json:"payment_method"`
	Currency             string          `json:"currency"`
	Subtotal             int64           `json:"subtotal"`
	ShippingFee          int64           `json:"shipping_fee"`
	Tax                  int64           `json:"tax"`
	Discount             int64           `json:"discount"`
	TotalAmount          int64           `json:"total_amount"`
	Status               string          `json:"status"`
	PaymentID            *uuid.UUID      `json:"payment_id,omitempty"`
	CancelReason         string          `json:"cancel_reason,omitempty"`
	ManualRefundRequired bool            `json:"manual_refund_required"`
	Items                json.RawMessage `json:"items,omitempty"`
}

// PaymentFact is posted to the order ledger once checkout learns the
// payment outcome.
type PaymentFact struct {
	Type      string    `json:"type"`
	PaymentID uuid.UUID `json:"payment_id"`
	Amount    int64     `json:"amount,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

type InitiatePayment struct {
	OrderID  uuid.UUID `json:"order_id"`
	Amount   int64     `json:"amount"`
	Method   string    `json:"method"`
	Currency string    `json:"currency,omitempty"`
}

type Payment struct {
	ID            uuid.UUID `json:"id"`
	OrderID       uuid.UUID `json:"order_id"`
	UserID        string    `json:"user_id"`
	Amount        int64     `json:"amount"`
	Currency      string    `json:"currency"`
	Method        string    `json:"method"`
	Status        string    `json:"status"`
	GatewayRef    *string   `json:"gateway_ref,omitempty"`
	ClientSecret  string    `json:"client_secret,omitempty"`
	FailureReason string    `json:"failure_reason,omitempty"`
	RefundAmount  int64     `json:"refund_amount,omitempty"`
}

// Reference is the gateway reference the payment was created with.
func (p *Payment) Reference() string {
	if p.GatewayRef == nil {
		return ""
	}
	return *p.GatewayRef
}

type CreateReceipt struct {
	PaymentID  uuid.UUID `json:"payment_id"`
	OrderID    uuid.UUID `json:"order_id"`
	CustomerID string    `json:"customer_id"`
	Amount     int64     `json:"amount"`
	Currency   string    `json:"currency"`
}
