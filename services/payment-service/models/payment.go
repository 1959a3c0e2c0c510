package models

import (
	"time"

	"github.com/google/uuid"
)

// Payment is one attempt to collect an order's total. There is at most one
// per order.
type Payment struct {
	ID                  uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	OrderID             uuid.UUID  `gorm:"type:uuid;uniqueIndex;not null" json:"order_id"`
	UserID              string     `gorm:"index;not null" json:"user_id"`
	Amount              int64      `gorm:"not null" json:"amount"` // in cents/paise
	Currency            string     `gorm:"type:varchar(10);not null" json:"currency"`
	Method              Method     `gorm:"type:varchar(16);not null" json:"method"`
	Status              Status     `gorm:"type:varchar(20);not null;index" json:"status"`
	GatewayRef          *string    `gorm:"uniqueIndex" json:"gateway_ref,omitempty"`
	ClientSecret        string     `gorm:"-" json:"client_secret,omitempty"`
	FailureReason       string     `json:"failure_reason,omitempty"`
	RefundAmount        int64      `json:"refund_amount,omitempty"`
	RefundReason        string     `json:"refund_reason,omitempty"`
	CapturedAfterCancel bool       `json:"captured_after_cancel,omitempty"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
	FailedAt            *time.Time `json:"failed_at,omitempty"`
	RefundedAt          *time.Time `json:"refunded_at,omitempty"`
	CancelledAt         *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt           time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// Evidence is what the customer's client brings back from the gateway.
type Evidence struct {
	Reference string `json:"reference" binding:"required"`
}

// StampTransition sets the per-status timestamp column for to.
func StampTransition(to Status, at time.Time) map[string]any {
	col := map[Status]string{
		StatusCompleted: "completed_at",
		StatusFailed:    "failed_at",
		StatusRefunded:  "refunded_at",
		StatusCancelled: "cancelled_at",
	}[to]
	fields := map[string]any{"status": to}
	if col != "" {
		fields[col] = at
	}
	return fields
}
