package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// receiptNamespace derives receipt ids from payment ids, so every attempt to
// receipt the same payment names the same receipt.
var receiptNamespace = uuid.MustParse("6f1c2a4e-3b7d-4e8a-9c0f-5d2b1a7e9c31")

type Receipt struct {
	ID         uuid.UUID `json:"id"`
	Number     string    `json:"number"`
	PaymentID  uuid.UUID `json:"payment_id"`
	OrderID    uuid.UUID `json:"order_id"`
	CustomerID string    `json:"customer_id"`
	Amount     int64     `json:"amount"`
	Currency   string    `json:"currency"`
	IssuedAt   time.Time `json:"issued_at"`
}

func ReceiptID(paymentID uuid.UUID) uuid.UUID {
	return uuid.NewSHA1(receiptNamespace, paymentID[:])
}

// ReceiptNumber is the human-facing form, e.g. RCPT-20261014-1A2B3C4D.
func ReceiptNumber(id uuid.UUID, issued time.Time) string {
	return fmt.Sprintf("RCPT-%s-%s", issued.UTC().Format("20060102"), strings.ToUpper(id.String()[:8]))
}

type CreateReceiptRequest struct {
	PaymentID  uuid.UUID `json:"payment_id" binding:"required"`
	OrderID    uuid.UUID `json:"order_id" binding:"required"`
	CustomerID string    `json:"customer_id"`
	Amount     int64     `json:"amount"`
	Currency   string    `json:"currency"`
}
