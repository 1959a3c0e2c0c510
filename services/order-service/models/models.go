package models

import (
	"time"

	"github.com/google/uuid"
)

type Order struct {
	ID                   uuid.UUID     `gorm:"type:uuid;primaryKey" json:"id"`
	OrderNumber          string        `gorm:"uniqueIndex;not null" json:"order_number"`
	CustomerID           string        `gorm:"not null;index" json:"customer_id"`
	CartRef              string        `json:"cart_ref,omitempty"`
	ShippingAddress      Address       `gorm:"serializer:json;type:jsonb;not null" json:"shipping_address"`
	BillingAddress       Address       `gorm:"serializer:json;type:jsonb;not null" json:"billing_address"`
	PaymentMethod        PaymentMethod `gorm:"type:varchar(16);not null" json:"payment_method"`
	Currency             string        `gorm:"type:varchar(3);not null" json:"currency"`
	Subtotal             int64         `gorm:"not null" json:"subtotal"`
	ShippingFee          int64         `gorm:"not null" json:"shipping_fee"`
	Tax                  int64         `gorm:"not null" json:"tax"`
	Discount             int64         `gorm:"not null" json:"discount"`
	TotalAmount          int64         `gorm:"not null" json:"total_amount"`
	Status               Status        `gorm:"type:varchar(20);not null;index" json:"status"`
	PaymentID            *uuid.UUID    `gorm:"type:uuid" json:"payment_id,omitempty"`
	TrackingNumber       string        `json:"tracking_number,omitempty"`
	CancelReason         string        `json:"cancel_reason,omitempty"`
	ManualRefundRequired bool          `gorm:"not null;default:false" json:"manual_refund_required"`
	ConfirmedAt          *time.Time    `json:"confirmed_at,omitempty"`
	ProcessingAt         *time.Time    `json:"processing_at,omitempty"`
	ShippedAt            *time.Time    `json:"shipped_at,omitempty"`
	OutForDeliveryAt     *time.Time    `json:"out_for_delivery_at,omitempty"`
	DeliveredAt          *time.Time    `json:"delivered_at,omitempty"`
	CancelledAt          *time.Time    `json:"cancelled_at,omitempty"`
	RefundedAt           *time.Time    `json:"refunded_at,omitempty"`
	CreatedAt            time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
	Items                []OrderItem   `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE" json:"items"`
}

type OrderItem struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	OrderID   uuid.UUID `gorm:"type:uuid;not null;index" json:"order_id"`
	ProductID string    `gorm:"not null" json:"product_id"`
	VendorID  string    `gorm:"index" json:"vendor_id,omitempty"`
	Name      string    `json:"name,omitempty"`
	Quantity  int       `gorm:"not null" json:"quantity"`
	UnitPrice int64     `gorm:"not null" json:"unit_price"`
	Subtotal  int64     `gorm:"not null" json:"subtotal"`
}

// Address is stored as a frozen JSON snapshot on the order.
type Address struct {
	Name       string `json:"name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

func (a Address) Valid() bool {
	return a.Name != "" && a.Line1 != "" && a.City != "" && a.PostalCode != "" && len(a.Country) == 2
}

func (a Address) IsZero() bool { return a == Address{} }

// StampTransition sets the per-status timestamp column for to.
func StampTransition(to Status, at time.Time) map[string]any {
	col := map[Status]string{
		StatusConfirmed:      "confirmed_at",
		StatusProcessing:     "processing_at",
		StatusShipped:        "shipped_at",
		StatusOutForDelivery: "out_for_delivery_at",
		StatusDelivered:      "delivered_at",
		StatusCancelled:      "cancelled_at",
		StatusRefunded:       "refunded_at",
	}[to]
	fields := map[string]any{"status": to}
	if col != "" {
		fields[col] = at
	}
	return fields
}
