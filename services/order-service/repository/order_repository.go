package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yashrajoria/marketplace/pkg/messaging"
	"github.com/yashrajoria/marketplace/pkg/outbox"
	"github.com/yashrajoria/marketplace/services/order-service/models"
)

var ErrNotFound = errors.New("order not found")

// OrderRepository defines the interface for order data access. Every
// mutating call records its facts in the outbox in the same transaction.
type OrderRepository interface {
	Create(ctx context.Context, order *models.Order, facts ...messaging.Envelope) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByCustomerID(ctx context.Context, customerID string, page, limit int) ([]models.Order, int64, error)
	FindAll(ctx context.Context, status models.Status, page, limit int) ([]models.Order, int64, error)
	// UpdateStatus applies fields only while the order is still in from.
	// It returns false, with nothing written, when another writer got there first.
	UpdateStatus(ctx context.Context, id uuid.UUID, from models.Status, fields map[string]any, facts ...messaging.Envelope) (bool, error)
	// FlagManualRefund sets manual_refund_required once per order.
	FlagManualRefund(ctx context.Context, id uuid.UUID, paymentID uuid.UUID, facts ...messaging.Envelope) (bool, error)
	FindStale(ctx context.Context, status models.Status, updatedBefore time.Time, limit int) ([]models.Order, error)
}

// GormOrderRepository implements OrderRepository using GORM
type GormOrderRepository struct {
	db *gorm.DB
}

func NewGormOrderRepository(db *gorm.DB) OrderRepository {
	return &GormOrderRepository{db: db}
}

func (r *GormOrderRepository) Create(ctx context.Context, order *models.Order, facts ...messaging.Envelope) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(order).Error; err != nil {
			return err
		}
		return outbox.Add(tx, facts...)
	})
}

func (r *GormOrderRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("id = ?", id).
		First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// FindByCustomerID retrieves orders for a specific customer with pagination
func (r *GormOrderRepository) FindByCustomerID(ctx context.Context, customerID string, page, limit int) ([]models.Order, int64, error) {
	query := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("customer_id = ?", customerID)
	return r.paginate(query, page, limit)
}

// FindAll retrieves all orders with pagination, optionally filtered by status.
func (r *GormOrderRepository) FindAll(ctx context.Context, status models.Status, page, limit int) ([]models.Order, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Order{})
	if status != "" {
		query = query.Where("status = ?", status)
	}
	return r.paginate(query, page, limit)
}

func (r *GormOrderRepository) paginate(query *gorm.DB, page, limit int) ([]models.Order, int64, error) {
	var orders []models.Order
	var total int64

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	if err := query.
		Preload("Items").
		Offset(offset).
		Limit(limit).
		Order("created_at DESC").
		Find(&orders).Error; err != nil {
		return nil, 0, err
	}

	return orders, total, nil
}

func (r *GormOrderRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from models.Status, fields map[string]any, facts ...messaging.Envelope) (bool, error) {
	applied := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Order{}).
			Where("id = ? AND status = ?", id, from).
			Updates(fields)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		applied = true
		return outbox.Add(tx, facts...)
	})
	return applied, err
}

func (r *GormOrderRepository) FlagManualRefund(ctx context.Context, id uuid.UUID, paymentID uuid.UUID, facts ...messaging.Envelope) (bool, error) {
	applied := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Order{}).
			Where("id = ? AND manual_refund_required = ?", id, false).
			Updates(map[string]any{"manual_refund_required": true, "payment_id": paymentID})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		applied = true
		return outbox.Add(tx, facts...)
	})
	return applied, err
}

func (r *GormOrderRepository) FindStale(ctx context.Context, status models.Status, updatedBefore time.Time, limit int) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", status, updatedBefore).
		Order("updated_at").
		Limit(limit).
		Find(&orders).Error
	return orders, err
}
