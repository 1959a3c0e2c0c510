package clients

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/yashrajoria/marketplace/services/common/auth"
	"github.com/yashrajoria/marketplace/services/common/httpclient"
)

var serviceIdentity = httpclient.Identity{UserID: "checkout-service", Role: auth.ServiceRole}

type orderEnvelope struct {
	Order Order `json:"order"`
}

type OrderClient struct {
	client *httpclient.Client
}

func NewOrderClient(baseURL string) *OrderClient {
	return &OrderClient{client: httpclient.New(baseURL, serviceIdentity)}
}

// Create places the order as the customer so it is owned by them.
func (c *OrderClient) Create(ctx context.Context, customerID string, req CreateOrder) (*Order, error) {
	var resp orderEnvelope
	as := c.client.As(httpclient.Identity{UserID: customerID, Role: auth.ServiceRole})
	if err := as.Post(ctx, "/orders", req, &resp); err != nil {
		return nil, err
	}
	return &resp.Order, nil
}

func (c *OrderClient) Get(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	var resp orderEnvelope
	if err := c.client.Get(ctx, fmt.Sprintf("/orders/%s", orderID), &resp); err != nil {
		return nil, err
	}
	return &resp.Order, nil
}

func (c *OrderClient) ApplyPaymentFact(ctx context.Context, orderID uuid.UUID, fact PaymentFact) (*Order, error) {
	var resp orderEnvelope
	if err := c.client.Post(ctx, fmt.Sprintf("/internal/orders/%s/payment-facts", orderID), fact, &resp); err != nil {
		return nil, err
	}
	return &resp.Order, nil
}

func (c *OrderClient) Cancel(ctx context.Context, orderID uuid.UUID, reason string) (*Order, error) {
	var resp orderEnvelope
	body := map[string]string{"reason": reason}
	if err := c.client.Post(ctx, fmt.Sprintf("/orders/%s/cancel", orderID), body, &resp); err != nil {
		return nil, err
	}
	return &resp.Order, nil
}
