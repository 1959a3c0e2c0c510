package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/yashrajoria/marketplace/services/common/httpclient"
)

// PaymentInfo is the part of a payment the order ledger reads.
type PaymentInfo struct {
	ID     uuid.UUID `json:"id"`
	Status string    `json:"status"`
	Amount int64     `json:"amount"`
}

// PaymentClient is the order ledger's view of the payment ledger.
type PaymentClient interface {
	GetByOrder(ctx context.Context, orderID uuid.UUID) (*PaymentInfo, error)
	Refund(ctx context.Context, paymentID uuid.UUID, amount int64, reason string) (*PaymentInfo, error)
}

type HTTPPaymentClient struct {
	client *httpclient.Client
}

func NewHTTPPaymentClient(baseURL string) *HTTPPaymentClient {
	return &HTTPPaymentClient{client: httpclient.New(baseURL, httpclient.Identity{UserID: "order-service", Role: "service"})}
}

func (c *HTTPPaymentClient) GetByOrder(ctx context.Context, orderID uuid.UUID) (*PaymentInfo, error) {
	var resp struct {
		Payment PaymentInfo `json:"payment"`
	}
	if err := c.client.Get(ctx, fmt.Sprintf("/payments/order/%s", orderID), &resp); err != nil {
		return nil, err
	}
	return &resp.Payment, nil
}

func (c *HTTPPaymentClient) Refund(ctx context.Context, paymentID uuid.UUID, amount int64, reason string) (*PaymentInfo, error) {
	var resp struct {
		Payment PaymentInfo `json:"payment"`
	}
	body := map[string]any{"amount": amount, "reason": reason}
	if err := c.client.Post(ctx, fmt.Sprintf("/payments/%s/refund", paymentID), body, &resp); err != nil {
		return nil, err
	}
	return &resp.Payment, nil
}
