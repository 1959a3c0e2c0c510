package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/yashrajoria/marketplace/services/common/auth"
	"github.com/yashrajoria/marketplace/services/common/httpclient"
)

// PaymentInfo is the part of a payment a receipt is cut from.
type PaymentInfo struct {
	ID       uuid.UUID `json:"id"`
	OrderID  uuid.UUID `json:"order_id"`
	UserID   string    `json:"user_id"`
	Amount   int64     `json:"amount"`
	Currency string    `json:"currency"`
	Status   string    `json:"status"`
}

type PaymentReader interface {
	Get(ctx context.Context, paymentID uuid.UUID) (*PaymentInfo, error)
}

type HTTPPaymentReader struct {
	client *httpclient.Client
}

func NewHTTPPaymentReader(baseURL string) *HTTPPaymentReader {
	return &HTTPPaymentReader{client: httpclient.New(baseURL, httpclient.Identity{UserID: "receipt-service", Role: auth.ServiceRole})}
}

func (r *HTTPPaymentReader) Get(ctx context.Context, paymentID uuid.UUID) (*PaymentInfo, error) {
	var resp struct {
		Payment PaymentInfo `json:"payment"`
	}
	if err := r.client.Get(ctx, fmt.Sprintf("/payments/%s", paymentID), &resp); err != nil {
		return nil, err
	}
	return &resp.Payment, nil
}
