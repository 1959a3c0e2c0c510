// Package outbox stores facts in the same transaction as the state change
// that produced them and relays them to the broker afterwards.
package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yashrajoria/marketplace/pkg/messaging"
)

const (
	StatusPending   = "pending"
	StatusPublished = "published"
	StatusFailed    = "failed"
)

type Message struct {
	ID            uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	RoutingKey    string     `gorm:"not null;index" json:"routing_key"`
	CorrelationID string     `gorm:"not null;uniqueIndex" json:"correlation_id"`
	SourceService string     `gorm:"not null" json:"source_service"`
	Payload       []byte     `gorm:"type:jsonb;not null" json:"payload"`
	OccurredAt    time.Time  `gorm:"not null" json:"occurred_at"`
	Status        string     `gorm:"not null;index" json:"status"`
	Attempts      int        `gorm:"not null" json:"attempts"`
	LastError     string     `json:"last_error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	PublishedAt   *time.Time `json:"published_at,omitempty"`
}

func (Message) TableName() string { return "outbox_messages" }

// Envelope rebuilds the envelope recorded by Add.
func (m Message) Envelope() messaging.Envelope {
	return messaging.Envelope{
		RoutingKey:    m.RoutingKey,
		Payload:       json.RawMessage(m.Payload),
		CorrelationID: m.CorrelationID,
		Timestamp:     m.OccurredAt,
		SourceService: m.SourceService,
	}
}

// Add records envs inside tx. A correlation id that is already stored is
// ignored, so re-running the same transition never emits twice.
func Add(tx *gorm.DB, envs ...messaging.Envelope) error {
	if len(envs) == 0 {
		return nil
	}
	rows := make([]Message, 0, len(envs))
	for _, env := range envs {
		if err := env.Validate(); err != nil {
			return err
		}
		rows = append(rows, Message{
			ID:            uuid.New(),
			RoutingKey:    env.RoutingKey,
			CorrelationID: env.CorrelationID,
			SourceService: env.SourceService,
			Payload:       []byte(env.Payload),
			OccurredAt:    env.Timestamp,
			Status:        StatusPending,
		})
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "correlation_id"}},
		DoNothing: true,
	}).Create(&rows).Error
}
