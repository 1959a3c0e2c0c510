package services

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"strings"
	"text/template"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	awspkg "github.com/yashrajoria/marketplace/pkg/aws"
	"github.com/yashrajoria/marketplace/pkg/messaging"
	"github.com/yashrajoria/marketplace/services/notification-service/models"
	"github.com/yashrajoria/marketplace/services/notification-service/repository"
	"github.com/yashrajoria/marketplace/services/notification-service/sender"
)

//go:embed templates/*
var templateFS embed.FS

type NotificationService interface {
	// ProcessFact notifies the audience of one consumed fact and logs every
	// channel's outcome. Delivery failures are logged, never returned.
	ProcessFact(ctx context.Context, env messaging.Envelope) error
	GetLogs(ctx context.Context, filter models.NotificationFilter) ([]models.NotificationLog, int64, error)
	GetLog(ctx context.Context, id int64) (*models.NotificationLog, error)
}

type audience int

const (
	toCustomer audience = iota
	toOperators
)

type eventConfig struct {
	name     string
	subject  string
	audience audience
	channels []string

	// notify filters facts of this kind; nil notifies every one.
	notify func(data map[string]any) bool
}

// notifiedStatuses are the order transitions a customer hears about through
// order.status.changed; cancellation has its own fact.
var notifiedStatuses = map[string]bool{
	"Confirmed":      true,
	"Shipped":        true,
	"OutForDelivery": true,
	"Delivered":      true,
	"Refunded":       true,
}

func statusIsNotified(data map[string]any) bool {
	to, _ := data["to"].(string)
	return notifiedStatuses[to]
}

var eventConfigs = map[string]eventConfig{
	messaging.OrderCreated: {
		name:     "order_created",
		subject:  "Order placed",
		channels: []string{models.ChannelEmail, models.ChannelSMS},
	},
	messaging.OrderCancelled: {
		name:     "order_cancelled",
		subject:  "Your order was cancelled",
		channels: []string{models.ChannelEmail},
	},
	messaging.OrderStatusChanged: {
		name:     "order_status_changed",
		subject:  "Order update",
		channels: []string{models.ChannelEmail},
		notify:   statusIsNotified,
	},
	messaging.OrderManualRefundRequired: {
		name:     "order_manual_refund",
		subject:  "Manual refund required",
		audience: toOperators,
		channels: []string{models.ChannelEmail},
	},
	messaging.PaymentCompleted: {
		name:     "payment_completed",
		subject:  "Payment received",
		channels: []string{models.ChannelEmail},
	},
	messaging.PaymentFailed: {
		name:     "payment_failed",
		subject:  "Payment failed",
		channels: []string{models.ChannelEmail, models.ChannelSMS},
	},
	messaging.PaymentRefunded: {
		name:     "payment_refunded",
		subject:  "Refund issued",
		channels: []string{models.ChannelEmail},
	},
	messaging.InventoryLow: {
		name:     "inventory_low",
		subject:  "Low stock",
		audience: toOperators,
		channels: []string{models.ChannelEmail},
	},
}

// FactRoutingKeys lists every fact with a notification.
func FactRoutingKeys() []string {
	return []string{
		messaging.OrderCreated,
		messaging.OrderCancelled,
		messaging.OrderStatusChanged,
		messaging.OrderManualRefundRequired,
		messaging.PaymentCompleted,
		messaging.PaymentFailed,
		messaging.PaymentRefunded,
		messaging.InventoryLow,
	}
}

var templateFuncs = map[string]any{
	"money": func(amount any, currency any) string {
		minor, _ := amount.(float64)
		cur, _ := currency.(string)
		s := fmt.Sprintf("%.2f", minor/100)
		if cur != "" {
			s = cur + " " + s
		}
		return s
	},
	"reason": func(v any) string {
		s, _ := v.(string)
		s = strings.ReplaceAll(s, ":", ": ")
		return strings.ReplaceAll(s, "_", " ")
	},
}

// Directory resolves where a customer is reached on each channel. An empty
// result skips the channel.
type Directory interface {
	Email(ctx context.Context, customerID string) string
	Phone(ctx context.Context, customerID string) string
}

// StaticDirectory treats customer ids as addresses: an id containing "@" is
// an email, one starting with "+" is a phone number. Otherwise EmailDomain,
// when set, is appended to form an address.
type StaticDirectory struct {
	EmailDomain string
}

func (d StaticDirectory) Email(ctx context.Context, customerID string) string {
	switch {
	case strings.Contains(customerID, "@"):
		return customerID
	case customerID != "" && d.EmailDomain != "":
		return customerID + "@" + d.EmailDomain
	}
	return ""
}

func (d StaticDirectory) Phone(ctx context.Context, customerID string) string {
	if strings.HasPrefix(customerID, "+") {
		return customerID
	}
	return ""
}

type Config struct {
	// OpsEmail receives operator-facing facts.
	OpsEmail      string
	MaxRetries    uint64
	RetryInterval time.Duration
}

type notificationService struct {
	repo          repository.NotificationRepository
	emailSender   sender.EmailSender
	smsSender     sender.SMSSender
	directory     Directory
	cfg           Config
	htmlTemplates map[string]*htmltemplate.Template
	textTemplates map[string]*template.Template
	metrics       *awspkg.MetricsClient
	logger        *zap.Logger
}

func NewNotificationService(
	repo repository.NotificationRepository,
	emailSender sender.EmailSender,
	smsSender sender.SMSSender,
	directory Directory,
	cfg Config,
	metrics *awspkg.MetricsClient,
	logger *zap.Logger,
) (NotificationService, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = time.Second
	}
	s := &notificationService{
		repo:          repo,
		emailSender:   emailSender,
		smsSender:     smsSender,
		directory:     directory,
		cfg:           cfg,
		htmlTemplates: map[string]*htmltemplate.Template{},
		textTemplates: map[string]*template.Template{},
		metrics:       metrics,
		logger:        logger,
	}
	for rk, ec := range eventConfigs {
		for _, ch := range ec.channels {
			var err error
			switch ch {
			case models.ChannelEmail:
				s.htmlTemplates[rk], err = htmltemplate.New(ec.name + ".html").
					Funcs(templateFuncs).ParseFS(templateFS, "templates/"+ec.name+".html")
			case models.ChannelSMS:
				s.textTemplates[rk], err = template.New(ec.name + ".txt").
					Funcs(templateFuncs).ParseFS(templateFS, "templates/"+ec.name+".txt")
			}
			if err != nil {
				return nil, fmt.Errorf("failed to parse %s template for %s: %w", ch, rk, err)
			}
		}
	}
	return s, nil
}

func (s *notificationService) ProcessFact(ctx context.Context, env messaging.Envelope) error {
	ec, ok := eventConfigs[env.RoutingKey]
	if !ok {
		s.logger.Debug("No notification for fact", zap.String("routing_key", env.RoutingKey))
		return nil
	}

	var data map[string]any
	if err := env.Decode(&data); err != nil {
		return err
	}
	if ec.notify != nil && !ec.notify(data) {
		return nil
	}

	msg := models.Message{RoutingKey: env.RoutingKey, Subject: ec.subject}
	msg.OrderID, _ = data["orderId"].(string)
	msg.PaymentID, _ = data["paymentId"].(string)
	msg.CustomerID, _ = data["customerId"].(string)
	if msg.CustomerID == "" && msg.OrderID != "" {
		customer, err := s.repo.CustomerForOrder(ctx, msg.OrderID)
		if err != nil {
			return fmt.Errorf("resolve customer for order %s: %w", msg.OrderID, err)
		}
		msg.CustomerID = customer
	}

	for _, channel := range ec.channels {
		m := msg
		m.Recipient = s.recipient(ctx, ec.audience, channel, msg.CustomerID)
		entry := &models.NotificationLog{
			CorrelationID: env.CorrelationID,
			RoutingKey:    env.RoutingKey,
			OrderID:       m.OrderID,
			PaymentID:     m.PaymentID,
			CustomerID:    m.CustomerID,
			Recipient:     m.Recipient,
			Channel:       channel,
			Subject:       m.Subject,
		}

		body, err := s.render(env.RoutingKey, channel, data)
		switch {
		case err != nil:
			entry.Status, entry.Error = models.StatusFailed, err.Error()
		case m.Recipient == "":
			entry.Status = models.StatusSkipped
		default:
			m.Body = body
			entry.RetryCount, err = s.sendWithRetry(ctx, channel, m)
			entry.Status = models.StatusSent
			if err != nil {
				entry.Status, entry.Error = models.StatusFailed, err.Error()
			}
		}
		s.record(ctx, entry)

		if _, err := s.repo.SaveLog(ctx, entry); err != nil {
			return fmt.Errorf("save notification log: %w", err)
		}
	}
	return nil
}

func (s *notificationService) recipient(ctx context.Context, a audience, channel, customerID string) string {
	if a == toOperators {
		if channel == models.ChannelEmail {
			return s.cfg.OpsEmail
		}
		return ""
	}
	if s.directory == nil || customerID == "" {
		return ""
	}
	switch channel {
	case models.ChannelEmail:
		return s.directory.Email(ctx, customerID)
	case models.ChannelSMS:
		return s.directory.Phone(ctx, customerID)
	}
	return ""
}

func (s *notificationService) render(routingKey, channel string, data map[string]any) (string, error) {
	var buf bytes.Buffer
	var err error
	switch channel {
	case models.ChannelEmail:
		err = s.htmlTemplates[routingKey].Execute(&buf, data)
	case models.ChannelSMS:
		err = s.textTemplates[routingKey].Execute(&buf, data)
	default:
		return "", fmt.Errorf("unsupported channel %q", channel)
	}
	if err != nil {
		return "", fmt.Errorf("template render failed: %w", err)
	}
	return buf.String(), nil
}

// sendWithRetry returns how many retries were made and the last error.
func (s *notificationService) sendWithRetry(ctx context.Context, channel string, m models.Message) (int, error) {
	retries := -1
	var messageID string

	op := func() error {
		retries++
		var result sender.SendResult
		var err error
		switch channel {
		case models.ChannelEmail:
			if s.emailSender == nil {
				return backoff.Permanent(fmt.Errorf("email sender not configured"))
			}
			result, err = s.emailSender.SendEmail(ctx, m.Recipient, m.Subject, m.Body)
		case models.ChannelSMS:
			if s.smsSender == nil {
				return backoff.Permanent(fmt.Errorf("sms sender not configured"))
			}
			result, err = s.smsSender.SendSMS(ctx, m.Recipient, m.Body)
		}
		if err == nil {
			messageID = result.MessageID
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		s.logger.Warn("send attempt failed",
			zap.String("channel", channel),
			zap.String("routing_key", m.RoutingKey),
			zap.Int("attempt", retries+1),
			zap.Error(err),
		)
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = s.cfg.RetryInterval
	exp.MaxElapsedTime = 0
	err := backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(exp, s.cfg.MaxRetries), ctx), notify)

	status := models.StatusSent
	if err != nil {
		status = models.StatusFailed
	}
	s.logger.Info("notification delivered",
		zap.String("routing_key", m.RoutingKey),
		zap.String("channel", channel),
		zap.String("status", status),
		zap.String("message_id", messageID),
	)
	return retries, err
}

func (s *notificationService) record(ctx context.Context, entry *models.NotificationLog) {
	if entry.Status == models.StatusSkipped {
		return
	}
	metric := awspkg.MetricNotificationsSent
	if entry.Status == models.StatusFailed {
		metric = awspkg.MetricNotificationsFailed
	}
	_ = s.metrics.RecordCount(ctx, metric, map[string]string{
		"Service": "notification-service",
		"Channel": entry.Channel,
		"Fact":    entry.RoutingKey,
	})
}

func (s *notificationService) GetLogs(ctx context.Context, filter models.NotificationFilter) ([]models.NotificationLog, int64, error) {
	return s.repo.GetLogs(ctx, filter)
}

func (s *notificationService) GetLog(ctx context.Context, id int64) (*models.NotificationLog, error) {
	return s.repo.GetLogByID(ctx, id)
}
