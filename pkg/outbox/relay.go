package outbox

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	awspkg "github.com/yashrajoria/marketplace/pkg/aws"
	"github.com/yashrajoria/marketplace/pkg/messaging"
)

const (
	DefaultBatchSize   = 50
	DefaultMaxAttempts = 10
)

// Relay publishes pending outbox rows. Rows are locked with SKIP LOCKED so
// several replicas can run a relay against the same table.
type Relay struct {
	db          *gorm.DB
	publisher   messaging.Publisher
	logger      *zap.Logger
	metrics     *awspkg.MetricsClient
	batchSize   int
	maxAttempts int
}

type Option func(*Relay)

func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithMaxAttempts sets how many failed publishes mark a row failed.
func WithMaxAttempts(n int) Option { return func(r *Relay) { r.maxAttempts = n } }

func WithMetrics(m *awspkg.MetricsClient) Option { return func(r *Relay) { r.metrics = m } }

func NewRelay(db *gorm.DB, publisher messaging.Publisher, logger *zap.Logger, opts ...Option) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Relay{
		db:          db,
		publisher:   publisher,
		logger:      logger,
		batchSize:   DefaultBatchSize,
		maxAttempts: DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run flushes every interval until ctx is done.
func (r *Relay) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := r.Flush(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Error("Outbox flush failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Flush publishes one batch of pending rows and returns how many were published.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	published := 0
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var batch []Message
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ?", StatusPending).
			Order("created_at").
			Limit(r.batchSize).
			Find(&batch).Error; err != nil {
			return err
		}

		for _, m := range batch {
			pubErr := r.publisher.Publish(ctx, m.RoutingKey, m.Envelope())
			updates := map[string]any{"attempts": m.Attempts + 1}
			switch {
			case pubErr == nil:
				now := time.Now().UTC()
				updates["status"] = StatusPublished
				updates["published_at"] = now
				updates["last_error"] = ""
				published++
			case errors.Is(pubErr, context.Canceled):
				return pubErr
			default:
				updates["last_error"] = pubErr.Error()
				if m.Attempts+1 >= r.maxAttempts || messaging.IsPermanent(pubErr) {
					updates["status"] = StatusFailed
					r.logger.Error("Outbox message failed permanently",
						zap.String("routing_key", m.RoutingKey),
						zap.String("correlation_id", m.CorrelationID),
						zap.Error(pubErr),
					)
				} else {
					r.logger.Warn("Outbox publish failed; will retry",
						zap.String("routing_key", m.RoutingKey),
						zap.String("correlation_id", m.CorrelationID),
						zap.Int("attempt", m.Attempts+1),
						zap.Error(pubErr),
					)
				}
				r.metrics.RecordCount(ctx, awspkg.MetricOutboxPublishFailed, map[string]string{"RoutingKey": m.RoutingKey})
			}
			if err := tx.Model(&Message{}).Where("id = ?", m.ID).Updates(updates).Error; err != nil {
				return err
			}
		}
		return nil
	})
	return published, err
}

// Pending counts rows not yet published.
func (r *Relay) Pending(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&Message{}).Where("status = ?", StatusPending).Count(&n).Error
	return n, err
}

// Retry moves failed rows back to pending and returns how many were reset.
func (r *Relay) Retry(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).Model(&Message{}).
		Where("status = ?", StatusFailed).
		Updates(map[string]any{"status": StatusPending, "attempts": 0})
	return res.RowsAffected, res.Error
}
