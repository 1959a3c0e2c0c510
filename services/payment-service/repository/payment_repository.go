package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yashrajoria/marketplace/pkg/messaging"
	"github.com/yashrajoria/marketplace/pkg/outbox"
	"github.com/yashrajoria/marketplace/services/payment-service/models"
)

var ErrNotFound = errors.New("payment not found")

type PaymentRepository interface {
	// Create inserts payment unless the order already has one; it reports
	// whether the row was inserted.
	Create(ctx context.Context, payment *models.Payment) (bool, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Payment, error)
	FindByGatewayRef(ctx context.Context, ref string) (*models.Payment, error)
	// Transition applies fields only while the payment is still in from and
	// records facts in the outbox in the same transaction.
	Transition(ctx context.Context, id uuid.UUID, from models.Status, fields map[string]any, facts ...messaging.Envelope) (bool, error)
}

type gormPaymentRepo struct {
	db *gorm.DB
}

func NewGormPaymentRepo(db *gorm.DB) PaymentRepository {
	return &gormPaymentRepo{db: db}
}

func (r *gormPaymentRepo) Create(ctx context.Context, payment *models.Payment) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "order_id"}}, DoNothing: true}).
		Create(payment)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *gormPaymentRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *gormPaymentRepo) FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Payment, error) {
	return r.first(ctx, "order_id = ?", orderID)
}

func (r *gormPaymentRepo) FindByGatewayRef(ctx context.Context, ref string) (*models.Payment, error) {
	return r.first(ctx, "gateway_ref = ?", ref)
}

func (r *gormPaymentRepo) first(ctx context.Context, query string, arg any) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).Where(query, arg).First(&payment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *gormPaymentRepo) Transition(ctx context.Context, id uuid.UUID, from models.Status, fields map[string]any, facts ...messaging.Envelope) (bool, error) {
	applied := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Payment{}).
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
