package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yashrajoria/marketplace/services/notification-service/models"
)

type NotificationRepository interface {
	// SaveLog inserts log unless a row for the same fact and channel exists.
	// It reports whether a row was written.
	SaveLog(ctx context.Context, log *models.NotificationLog) (bool, error)
	GetLogs(ctx context.Context, filter models.NotificationFilter) ([]models.NotificationLog, int64, error)
	GetLogByID(ctx context.Context, id int64) (*models.NotificationLog, error)
	// CustomerForOrder returns the customer recorded against an order by an
	// earlier fact, or "".
	CustomerForOrder(ctx context.Context, orderID string) (string, error)
}

type notificationRepository struct {
	db *gorm.DB
}

func NewNotificationRepository(db *gorm.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

func (r *notificationRepository) SaveLog(ctx context.Context, log *models.NotificationLog) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "correlation_id"}, {Name: "channel"}},
			DoNothing: true,
		}).
		Create(log)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *notificationRepository) GetLogs(ctx context.Context, filter models.NotificationFilter) ([]models.NotificationLog, int64, error) {
	var logs []models.NotificationLog
	var total int64

	if filter.PageSize < 1 {
		filter.PageSize = 10
	}
	if filter.PageSize > 100 {
		filter.PageSize = 100
	}
	if filter.Page < 1 {
		filter.Page = 1
	}

	query := r.db.WithContext(ctx).Model(&models.NotificationLog{})

	if filter.CustomerID != "" {
		query = query.Where("customer_id = ?", filter.CustomerID)
	}
	if filter.OrderID != "" {
		query = query.Where("order_id = ?", filter.OrderID)
	}
	if filter.RoutingKey != "" {
		query = query.Where("routing_key = ?", filter.RoutingKey)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Channel != "" {
		query = query.Where("channel = ?", filter.Channel)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (filter.Page - 1) * filter.PageSize
	err := query.Order("created_at DESC").
		Limit(filter.PageSize).
		Offset(offset).
		Find(&logs).Error

	return logs, total, err
}

func (r *notificationRepository) GetLogByID(ctx context.Context, id int64) (*models.NotificationLog, error) {
	var log models.NotificationLog
	err := r.db.WithContext(ctx).First(&log, id).Error
	if err != nil {
		return nil, err
	}
	return &log, nil
}

func (r *notificationRepository) CustomerForOrder(ctx context.Context, orderID string) (string, error) {
	var log models.NotificationLog
	err := r.db.WithContext(ctx).
		Select("customer_id").
		Where("order_id = ? AND customer_id <> ''", orderID).
		Order("id").
		Take(&log).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return log.CustomerID, nil
}
