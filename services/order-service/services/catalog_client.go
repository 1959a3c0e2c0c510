package services

import (
	"context"
	"fmt"
	"net/url"

	"github.com/yashrajoria/marketplace/services/common/apperrors"
	"github.com/yashrajoria/marketplace/services/common/httpclient"
)

// Product is the catalog view read once when an order is priced.
type Product struct {
	ID       string `json:"id"`
	VendorID string `json:"vendor_id"`
	Name     string `json:"name"`
	Price    int64  `json:"price"`
	Currency string `json:"currency"`
}

type CatalogClient interface {
	GetProduct(ctx context.Context, productID string) (*Product, error)
}

type HTTPCatalogClient struct {
	client *httpclient.Client
}

func NewHTTPCatalogClient(baseURL string) *HTTPCatalogClient {
	return &HTTPCatalogClient{client: httpclient.New(baseURL, httpclient.Identity{UserID: "order-service", Role: "service"})}
}

func (c *HTTPCatalogClient) GetProduct(ctx context.Context, productID string) (*Product, error) {
	var prod Product
	err := c.client.Get(ctx, fmt.Sprintf("/products/internal/%s", url.PathEscape(productID)), &prod)
	if apperrors.KindOf(err) == apperrors.KindNotFound {
		return nil, apperrors.Validation(apperrors.CodeUnknownProduct, "unknown product "+productID)
	}
	if err != nil {
		return nil, err
	}
	return &prod, nil
}
