package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	awspkg "github.com/yashrajoria/marketplace/pkg/aws"
	"github.com/yashrajoria/marketplace/pkg/messaging"
	"github.com/yashrajoria/marketplace/services/common/apperrors"
	"github.com/yashrajoria/marketplace/services/inventory-service/models"
	"github.com/yashrajoria/marketplace/services/inventory-service/repository"
)

const SourceService = "inventory-service"

// ReasonInsufficientStock is recorded on orders whose stock could not be taken.
const ReasonInsufficientStock = "insufficient_stock"

// InventoryService handles business logic for inventory operations
type InventoryService struct {
	repo    repository.InventoryRepository
	pub     messaging.Publisher
	metrics *awspkg.MetricsClient
	logger  *zap.Logger
}

// NewInventoryService creates a new InventoryService
func NewInventoryService(repo repository.InventoryRepository, pub messaging.Publisher, metrics *awspkg.MetricsClient, logger *zap.Logger) *InventoryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InventoryService{repo: repo, pub: pub, metrics: metrics, logger: logger}
}

// GetStock returns the current inventory for a product
func (s *InventoryService) GetStock(ctx context.Context, productID string) (*models.Inventory, error) {
	inv, err := s.repo.Get(ctx, productID)
	if err != nil {
		return nil, s.storeError(err)
	}
	return inv, nil
}

// CreateStock initializes inventory for a product that has none.
func (s *InventoryService) CreateStock(ctx context.Context, req *models.SetStockRequest) (*models.Inventory, error) {
	inv := &models.Inventory{
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
		Threshold: req.Threshold,
		UpdatedAt: time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, inv); err != nil {
		return nil, s.storeError(err)
	}
	s.logger.Info("Stock created",
		zap.String("product_id", inv.ProductID),
		zap.Int("quantity", inv.Quantity),
		zap.Int("threshold", inv.Threshold),
	)
	return inv, nil
}

// UpdateStock is an operator edit of quantity and/or threshold
func (s *InventoryService) UpdateStock(ctx context.Context, productID string, req *models.UpdateStockRequest) (*models.Inventory, error) {
	if req.Quantity != nil && *req.Quantity < 0 {
		return nil, apperrors.Validation(apperrors.CodeInvalidQuantity, "quantity cannot be negative")
	}
	inv, err := s.repo.Update(ctx, productID, req.Quantity, req.Threshold)
	if err != nil {
		return nil, s.storeError(err)
	}
	s.logger.Info("Stock updated",
		zap.String("product_id", productID),
		zap.Int("quantity", inv.Quantity),
		zap.Int("threshold", inv.Threshold),
	)
	return inv, nil
}

// CheckStock checks stock availability for multiple items
func (s *InventoryService) CheckStock(ctx context.Context, items []models.StockItem) ([]models.StockCheckResult, error) {
	results := make([]models.StockCheckResult, 0, len(items))
	for _, item := range items {
		res := models.StockCheckResult{ProductID: item.ProductID, Requested: item.Quantity}
		inv, err := s.repo.Get(ctx, item.ProductID)
		switch {
		case errors.Is(err, repository.ErrNotFound):
		case err != nil:
			return nil, s.storeError(err)
		default:
			res.Available = inv.Quantity
			res.IsSufficient = inv.Quantity >= item.Quantity
		}
		results = append(results, res)
	}
	return results, nil
}

// Adjustments lists the stock movements recorded for an order.
func (s *InventoryService) Adjustments(ctx context.Context, orderID string) ([]models.Adjustment, error) {
	adjs, err := s.repo.Adjustments(ctx, orderID)
	if err != nil {
		return nil, s.storeError(err)
	}
	return adjs, nil
}

// ReserveOrder takes stock for every line of a new order. A line that cannot
// be covered publishes inventory.insufficient and gives back whatever this
// order already took. Safe to repeat for the same order.
func (s *InventoryService) ReserveOrder(ctx context.Context, orderID string, lines []messaging.OrderLine) error {
	merged, err := mergeLines(lines)
	if err != nil {
		return err
	}

	for _, line := range merged {
		err := s.repo.Decrement(ctx, orderID, line.ProductID, line.Quantity)
		switch {
		case err == nil:
			s.logger.Info("Stock decremented",
				zap.String("order_id", orderID),
				zap.String("product_id", line.ProductID),
				zap.Int("quantity", line.Quantity),
			)
			s.count(ctx, awspkg.MetricInventoryDecremented)
		case errors.Is(err, repository.ErrAlreadyApplied):
		case errors.Is(err, repository.ErrOrderCancelled):
			s.logger.Info("Order cancelled before stock was taken", zap.String("order_id", orderID))
			_, err := s.ReleaseOrder(ctx, orderID, "")
			return err
		case errors.Is(err, repository.ErrInsufficientStock):
			return s.rejectOrder(ctx, orderID, line)
		default:
			return apperrors.Transient("decrement stock", err)
		}

		if err := s.checkLow(ctx, orderID, line.ProductID); err != nil {
			return err
		}
	}
	return nil
}

// ReleaseOrder tombstones the order and credits every line still decremented.
// An existing tombstone keeps its original reason. It returns how many lines were credited by this call.
func (s *InventoryService) ReleaseOrder(ctx context.Context, orderID, reason string) (int, error) {
	if reason == "" {
		reason = "cancelled"
	}
	if err := s.repo.MarkCancelled(ctx, orderID, reason); err != nil {
		return 0, apperrors.Transient("mark order cancelled", err)
	}
	adjs, err := s.repo.Adjustments(ctx, orderID)
	if err != nil {
		return 0, apperrors.Transient("list adjustments", err)
	}

	credited := 0
	for _, adj := range adjs {
		if adj.State != models.AdjustmentDecremented {
			continue
		}
		ok, err := s.repo.Credit(ctx, orderID, adj.ProductID, adj.Quantity)
		if err != nil {
			return credited, apperrors.Transient("credit stock", err)
		}
		if !ok {
			continue
		}
		credited++
		s.count(ctx, awspkg.MetricInventoryCredited)
		s.logger.Info("Stock credited",
			zap.String("order_id", orderID),
			zap.String("product_id", adj.ProductID),
			zap.Int("quantity", adj.Quantity),
		)
	}
	return credited, nil
}

func (s *InventoryService) rejectOrder(ctx context.Context, orderID string, line messaging.OrderLine) error {
	s.logger.Warn("Insufficient stock",
		zap.String("order_id", orderID),
		zap.String("product_id", line.ProductID),
		zap.Int("requested", line.Quantity),
	)
	fact := messaging.InventoryInsufficientFact{OrderID: orderID, ProductID: line.ProductID, Requested: line.Quantity}
	if err := s.publish(ctx, messaging.InventoryInsufficient, messaging.CorrelationID(messaging.InventoryInsufficient, orderID), fact); err != nil {
		return err
	}
	s.count(ctx, awspkg.MetricInventoryInsufficient)

	_, err := s.ReleaseOrder(ctx, orderID, ReasonInsufficientStock)
	return err
}

func (s *InventoryService) checkLow(ctx context.Context, orderID, productID string) error {
	inv, err := s.repo.Get(ctx, productID)
	if err != nil {
		return apperrors.Transient("read stock", err)
	}
	if !inv.Low() {
		return nil
	}
	fact := messaging.InventoryLowFact{ProductID: productID, Quantity: inv.Quantity}
	if err := s.publish(ctx, messaging.InventoryLow, messaging.CorrelationID(messaging.InventoryLow, productID, orderID), fact); err != nil {
		return err
	}
	s.count(ctx, awspkg.MetricInventoryLow)
	return nil
}

func (s *InventoryService) publish(ctx context.Context, routingKey, correlationID string, payload any) error {
	env, err := messaging.NewEnvelope(routingKey, correlationID, SourceService, payload)
	if err != nil {
		return err
	}
	if err := s.pub.Publish(ctx, routingKey, env); err != nil {
		return apperrors.Transient("publish "+routingKey, err)
	}
	return nil
}

func (s *InventoryService) count(ctx context.Context, metric string) {
	_ = s.metrics.RecordCount(ctx, metric, map[string]string{"Service": SourceService})
}

func (s *InventoryService) storeError(err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return apperrors.NotFound(apperrors.CodeProductNotFound, "inventory not found for product")
	case errors.Is(err, repository.ErrExists):
		return apperrors.Conflict(apperrors.CodeInventoryExists, "inventory already exists for product")
	default:
		s.logger.Error("Inventory store error", zap.Error(err))
		return apperrors.Transient("inventory store unavailable", err)
	}
}

// mergeLines sums quantities per product so each product is one adjustment.
// The result is ordered by product id.
func mergeLines(lines []messaging.OrderLine) ([]messaging.OrderLine, error) {
	totals := map[string]int{}
	for _, l := range lines {
		if l.ProductID == "" || l.Quantity <= 0 {
			return nil, apperrors.Validation(apperrors.CodeInvalidQuantity, fmt.Sprintf("invalid line %q x%d", l.ProductID, l.Quantity))
		}
		totals[l.ProductID] += l.Quantity
	}
	merged := make([]messaging.OrderLine, 0, len(totals))
	for id, qty := range totals {
		merged = append(merged, messaging.OrderLine{ProductID: id, Quantity: qty})
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].ProductID < merged[j].ProductID })
	return merged, nil
}
