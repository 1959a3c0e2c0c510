package clients

import (
	"context"

	"github.com/yashrajoria/marketplace/services/common/httpclient"
)

type ReceiptClient struct {
	client *httpclient.Client
}

func NewReceiptClient(baseURL string) *ReceiptClient {
	return &ReceiptClient{client: httpclient.New(baseURL, serviceIdentity)}
}

// Create returns the receipt id for the payment, creating it only once.
func (c *ReceiptClient) Create(ctx context.Context, req CreateReceipt) (string, error) {
	var resp struct {
		Receipt struct {
			ID string `json:"id"`
		} `json:"receipt"`
	}
	if err := c.client.Post(ctx, "/receipts", req, &resp); err != nil {
		return "", err
	}
	return resp.Receipt.ID, nil
}
