package clients

import (
	"context"
	"fmt"
	"net/url"

	"github.com/yashrajoria/marketplace/services/common/httpclient"
)

type CartClient struct {
	client *httpclient.Client
}

func NewCartClient(baseURL string) *CartClient {
	return &CartClient{client: httpclient.New(baseURL, serviceIdentity)}
}

func (c *CartClient) Snapshot(ctx context.Context, customerID string) (*CartSnapshot, error) {
	var snap CartSnapshot
	if err := c.client.Get(ctx, "/internal/carts/"+url.PathEscape(customerID)+"/snapshot", &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Clear empties the cart if it is still at version; a newer cart is kept.
func (c *CartClient) Clear(ctx context.Context, customerID string, version int64) error {
	return c.client.Delete(ctx, fmt.Sprintf("/internal/carts/%s?version=%d", url.PathEscape(customerID), version))
}
