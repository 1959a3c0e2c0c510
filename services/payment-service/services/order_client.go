package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/yashrajoria/marketplace/services/common/httpclient"
)

// OrderSummary is the part of an order the payment ledger checks.
type OrderSummary struct {
	ID          uuid.UUID `json:"id"`
	CustomerID  string    `json:"customer_id"`
	Status      string    `json:"status"`
	TotalAmount int64     `json:"total_amount"`
	Currency    string    `json:"currency"`
}

type OrderReader interface {
	GetOrder(ctx context.Context, orderID uuid.UUID) (*OrderSummary, error)
}

type HTTPOrderReader struct {
	client *httpclient.Client
}

func NewHTTPOrderReader(baseURL string) *HTTPOrderReader {
	return &HTTPOrderReader{client: httpclient.New(baseURL, httpclient.Identity{UserID: SourceService, Role: "service"})}
}

func (r *HTTPOrderReader) GetOrder(ctx context.Context, orderID uuid.UUID) (*OrderSummary, error) {
	var resp struct {
		Order OrderSummary `json:"order"`
	}
	if err := r.client.Get(ctx, fmt.Sprintf("/orders/%s", orderID), &resp); err != nil {
		return nil, err
	}
	return &resp.Order, nil
}
