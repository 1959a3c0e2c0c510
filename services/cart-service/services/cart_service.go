package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"github.com/yashrajoria/marketplace/services/cart-service/database"
	"github.com/yashrajoria/marketplace/services/cart-service/models"
	"github.com/yashrajoria/marketplace/services/common/apperrors"
	"github.com/yashrajoria/marketplace/services/common/httpclient"
)

// Product is the catalog data the cart captures when an item is added.
type Product struct {
	ID       string `json:"id"`
	VendorID string `json:"vendor_id"`
	Price    int64  `json:"price"`
}

type Catalog interface {
	GetProduct(ctx context.Context, productID string) (*Product, error)
}

type HTTPCatalog struct {
	client *httpclient.Client
}

func NewHTTPCatalog(baseURL string) *HTTPCatalog {
	return &HTTPCatalog{client: httpclient.New(baseURL, httpclient.Identity{UserID: "cart-service", Role: "service"})}
}

func (c *HTTPCatalog) GetProduct(ctx context.Context, productID string) (*Product, error) {
	var p Product
	err := c.client.Get(ctx, "/products/internal/"+url.PathEscape(productID), &p)
	if apperrors.KindOf(err) == apperrors.KindNotFound {
		return nil, apperrors.Validation(apperrors.CodeUnknownProduct, "unknown product "+productID)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

type CartService struct {
	repo    *database.CartRepository
	catalog Catalog
	logger  *zap.Logger
}

func NewCartService(repo *database.CartRepository, catalog Catalog, logger *zap.Logger) *CartService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CartService{repo: repo, catalog: catalog, logger: logger}
}

func (s *CartService) Get(ctx context.Context, userID string) (*models.Cart, error) {
	cart, err := s.repo.GetCart(ctx, userID)
	if err != nil {
		s.logger.Error("Get cart failed", zap.String("user_id", userID), zap.Error(err))
		return nil, apperrors.Transient("cart store unavailable", err)
	}
	return cart, nil
}

// Snapshot is what checkout reads before creating an order.
func (s *CartService) Snapshot(ctx context.Context, userID string) (models.Snapshot, error) {
	cart, err := s.Get(ctx, userID)
	if err != nil {
		return models.Snapshot{}, err
	}
	return cart.Snapshot(), nil
}

// AddItem adds quantity of a product, capturing its current catalog price.
func (s *CartService) AddItem(ctx context.Context, userID string, item models.CartItem) (*models.Cart, error) {
	if item.Quantity <= 0 {
		return nil, apperrors.Validation(apperrors.CodeInvalidQuantity, "quantity must be positive")
	}
	product, err := s.catalog.GetProduct(ctx, item.ProductID)
	if err != nil {
		return nil, err
	}

	cart, err := s.repo.Update(ctx, userID, func(c *models.Cart) error {
		for i, existing := range c.Items {
			if existing.ProductID == item.ProductID {
				c.Items[i].Quantity += item.Quantity
				c.Items[i].UnitPrice = product.Price
				return nil
			}
		}
		c.Items = append(c.Items, models.CartItem{
			ProductID: item.ProductID,
			VendorID:  product.VendorID,
			Quantity:  item.Quantity,
			UnitPrice: product.Price,
		})
		return nil
	})
	if err != nil {
		s.logger.Error("Add item failed", zap.String("user_id", userID), zap.Error(err))
		return nil, apperrors.Transient("cart store unavailable", err)
	}
	return cart, nil
}

func (s *CartService) RemoveItem(ctx context.Context, userID, productID string) (*models.Cart, error) {
	errMissing := errors.New("missing")
	cart, err := s.repo.Update(ctx, userID, func(c *models.Cart) error {
		kept := c.Items[:0]
		for _, it := range c.Items {
			if it.ProductID != productID {
				kept = append(kept, it)
			}
		}
		if len(kept) == len(c.Items) {
			return errMissing
		}
		c.Items = kept
		return nil
	})
	if errors.Is(err, errMissing) {
		return nil, apperrors.NotFound(apperrors.CodeProductNotFound, fmt.Sprintf("product %s is not in the cart", productID))
	}
	if err != nil {
		return nil, apperrors.Transient("cart store unavailable", err)
	}
	return cart, nil
}

// Clear empties the cart. A positive version clears only that exact cart.
func (s *CartService) Clear(ctx context.Context, userID string, version int64) error {
	err := s.repo.DeleteCart(ctx, userID, version)
	if errors.Is(err, database.ErrVersionMismatch) {
		return apperrors.Conflict(apperrors.CodeCartChanged, "cart changed since it was read")
	}
	if err != nil {
		s.logger.Error("Clear cart failed", zap.String("user_id", userID), zap.Error(err))
		return apperrors.Transient("cart store unavailable", err)
	}
	s.logger.Info("Cart cleared", zap.String("user_id", userID), zap.Int64("version", version))
	return nil
}
