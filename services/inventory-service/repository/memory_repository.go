package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/yashrajoria/marketplace/services/inventory-service/models"
)

// MemoryInventoryRepository keeps inventory in process. It backs
// INVENTORY_STORE=memory and tests.
type MemoryInventoryRepository struct {
	mu          sync.Mutex
	stock       map[string]models.Inventory
	adjustments map[string]map[string]models.Adjustment
	cancelled   map[string]string
}

func NewMemoryInventoryRepository() *MemoryInventoryRepository {
	return &MemoryInventoryRepository{
		stock:       map[string]models.Inventory{},
		adjustments: map[string]map[string]models.Adjustment{},
		cancelled:   map[string]string{},
	}
}

func (r *MemoryInventoryRepository) Get(ctx context.Context, productID string) (*models.Inventory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.stock[productID]
	if !ok {
		return nil, ErrNotFound
	}
	return &inv, nil
}

func (r *MemoryInventoryRepository) Create(ctx context.Context, inv *models.Inventory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.stock[inv.ProductID]; ok {
		return ErrExists
	}
	r.stock[inv.ProductID] = *inv
	return nil
}

func (r *MemoryInventoryRepository) Update(ctx context.Context, productID string, quantity, threshold *int) (*models.Inventory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.stock[productID]
	if !ok {
		return nil, ErrNotFound
	}
	if quantity != nil {
		inv.Quantity = *quantity
	}
	if threshold != nil {
		inv.Threshold = *threshold
	}
	inv.UpdatedAt = time.Now().UTC()
	r.stock[productID] = inv
	return &inv, nil
}

func (r *MemoryInventoryRepository) Decrement(ctx context.Context, orderID, productID string, qty int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.cancelled[orderID]; ok {
		return ErrOrderCancelled
	}
	if _, ok := r.adjustments[orderID][productID]; ok {
		return ErrAlreadyApplied
	}
	inv, ok := r.stock[productID]
	if !ok || inv.Quantity < qty {
		return ErrInsufficientStock
	}

	now := time.Now().UTC()
	inv.Quantity -= qty
	inv.UpdatedAt = now
	r.stock[productID] = inv
	if r.adjustments[orderID] == nil {
		r.adjustments[orderID] = map[string]models.Adjustment{}
	}
	r.adjustments[orderID][productID] = models.Adjustment{
		OrderID:   orderID,
		ProductID: productID,
		Quantity:  qty,
		State:     models.AdjustmentDecremented,
		CreatedAt: now,
	}
	return nil
}

func (r *MemoryInventoryRepository) Credit(ctx context.Context, orderID, productID string, qty int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	adj, ok := r.adjustments[orderID][productID]
	if !ok || adj.State != models.AdjustmentDecremented || adj.Quantity != qty {
		return false, nil
	}

	now := time.Now().UTC()
	adj.State = models.AdjustmentCredited
	adj.CreditedAt = &now
	r.adjustments[orderID][productID] = adj

	inv := r.stock[productID]
	inv.ProductID = productID
	inv.Quantity += qty
	inv.UpdatedAt = now
	r.stock[productID] = inv
	return true, nil
}

func (r *MemoryInventoryRepository) MarkCancelled(ctx context.Context, orderID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.cancelled[orderID]; !ok {
		r.cancelled[orderID] = reason
	}
	return nil
}

func (r *MemoryInventoryRepository) Adjustments(ctx context.Context, orderID string) ([]models.Adjustment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]models.Adjustment, 0, len(r.adjustments[orderID]))
	for _, adj := range r.adjustments[orderID] {
		result = append(result, adj)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ProductID < result[j].ProductID })
	return result, nil
}
