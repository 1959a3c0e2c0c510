package models

import "time"

const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"

	StatusSent    = "sent"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// NotificationLog records one delivery attempt for one consumed fact on one
// channel. (correlation_id, channel) is unique, so a redelivered fact never
// produces a second row.
type NotificationLog struct {
	ID            int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	CorrelationID string    `json:"correlation_id" gorm:"size:255;not null;uniqueIndex:idx_notification_fact_channel"`
	RoutingKey    string    `json:"routing_key" gorm:"size:128;not null;index"`
	OrderID       string    `json:"order_id,omitempty" gorm:"size:64;index"`
	PaymentID     string    `json:"payment_id,omitempty" gorm:"size:64"`
	CustomerID    string    `json:"customer_id,omitempty" gorm:"size:255;index"`
	Recipient     string    `json:"recipient"`
	Channel       string    `json:"channel" gorm:"size:16;not null;uniqueIndex:idx_notification_fact_channel"`
	Subject       string    `json:"subject"`
	Status        string    `json:"status" gorm:"size:16;not null;index"`
	Error         string    `json:"error,omitempty"`
	RetryCount    int       `json:"retry_count"`
	CreatedAt     time.Time `json:"created_at" gorm:"autoCreateTime"`
}

func (NotificationLog) TableName() string { return "notification_logs" }

type NotificationFilter struct {
	CustomerID string
	OrderID    string
	RoutingKey string
	Status     string
	Channel    string
	Page       int
	PageSize   int
}

// Message is a rendered notification ready for a sender.
type Message struct {
	RoutingKey string
	CustomerID string
	OrderID    string
	PaymentID  string
	Recipient  string
	Subject    string
	Body       string
}
