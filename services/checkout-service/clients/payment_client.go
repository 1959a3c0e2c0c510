package clients

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/yashrajoria/marketplace/services/common/httpclient"
)

type paymentEnvelope struct {
	Payment Payment `json:"payment"`
}

type PaymentClient struct {
	client *httpclient.Client
}

func NewPaymentClient(baseURL string) *PaymentClient {
	return &PaymentClient{client: httpclient.New(baseURL, serviceIdentity)}
}

// Initiate creates the order's payment on behalf of customerID. A repeat call
// returns the existing payment.
func (c *PaymentClient) Initiate(ctx context.Context, customerID string, req InitiatePayment) (*Payment, error) {
	var resp paymentEnvelope
	err := c.client.DoWithHeaders(ctx, http.MethodPost, "/payments/initiate",
		http.Header{"X-On-Behalf-Of": []string{customerID}}, req, &resp)
	if err != nil {
		return nil, err
	}
	return &resp.Payment, nil
}

func (c *PaymentClient) Confirm(ctx context.Context, paymentID uuid.UUID, reference string) (*Payment, error) {
	var resp paymentEnvelope
	body := map[string]any{"gateway_evidence": map[string]string{"reference": reference}}
	if err := c.client.Post(ctx, fmt.Sprintf("/payments/%s/confirm", paymentID), body, &resp); err != nil {
		return nil, err
	}
	return &resp.Payment, nil
}

func (c *PaymentClient) Cancel(ctx context.Context, paymentID uuid.UUID, reason string) (*Payment, error) {
	var resp paymentEnvelope
	if err := c.client.Post(ctx, fmt.Sprintf("/payments/%s/cancel", paymentID), map[string]string{"reason": reason}, &resp); err != nil {
		return nil, err
	}
	return &resp.Payment, nil
}

func (c *PaymentClient) GetByOrder(ctx context.Context, orderID uuid.UUID) (*Payment, error) {
	var resp paymentEnvelope
	if err := c.client.Get(ctx, fmt.Sprintf("/payments/order/%s", orderID), &resp); err != nil {
		return nil, err
	}
	return &resp.Payment, nil
}

func (c *PaymentClient) Refund(ctx context.Context, paymentID uuid.UUID, amount int64, reason string) (*Payment, error) {
	var resp paymentEnvelope
	body := map[string]any{"amount": amount, "reason": reason}
	if err := c.client.Post(ctx, fmt.Sprintf("/payments/%s/refund", paymentID), body, &resp); err != nil {
		return nil, err
	}
	return &resp.Payment, nil
}
