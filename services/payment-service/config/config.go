package config

import (
	"context"
	"fmt"
	"time"

	"github.com/yashrajoria/marketplace/services/common/config"
)

const (
	GatewayStripe = "stripe"
	GatewayFake   = "fake"
)

type Config struct {
	Port             string
	Env              string
	Postgres         config.Postgres
	Gateway          string
	StripeSecretKey  string
	StripeWebhookKey string
	Currency         string
	OrderServiceURL  string
	OutboxInterval   time.Duration
	OutboxBatchSize  int
}

func LoadConfig() (*Config, error) {
	config.LoadDotEnv()

	cfg := &Config{
		Port:             config.GetEnv("PORT", "8087"),
		Env:              config.GetEnv("ENV", "development"),
		Postgres:         config.PostgresFromEnv(),
		Gateway:          config.GetEnv("PAYMENT_GATEWAY", GatewayStripe),
		StripeSecretKey:  config.GetEnv("STRIPE_API_KEY", ""),
		StripeWebhookKey: config.GetEnv("STRIPE_WEBHOOK_SECRET", ""),
		Currency:         config.GetEnv("PAYMENT_CURRENCY", "inr"),
		OrderServiceURL:  config.GetEnv("ORDER_SERVICE_URL", ""),
		OutboxInterval:   config.GetEnvDuration("OUTBOX_INTERVAL", time.Second),
		OutboxBatchSize:  config.GetEnvInt("OUTBOX_BATCH_SIZE", 50),
	}

	targets := cfg.Postgres.Targets()
	targets["STRIPE_API_KEY"] = &cfg.StripeSecretKey
	targets["STRIPE_WEBHOOK_SECRET"] = &cfg.StripeWebhookKey
	if err := config.OverlaySecrets(context.Background(), "payment/CREDENTIALS", targets); err != nil {
		return nil, fmt.Errorf("load payment secret: %w", err)
	}

	if cfg.Postgres.User == "" || cfg.Postgres.Password == "" || cfg.Postgres.DB == "" || cfg.Postgres.Host == "" {
		return nil, fmt.Errorf("database config incomplete")
	}
	switch cfg.Gateway {
	case GatewayStripe:
		if cfg.StripeSecretKey == "" || cfg.StripeWebhookKey == "" {
			return nil, fmt.Errorf("STRIPE_API_KEY and STRIPE_WEBHOOK_SECRET are required for the stripe gateway")
		}
	case GatewayFake:
	default:
		return nil, fmt.Errorf("unknown PAYMENT_GATEWAY %q", cfg.Gateway)
	}
	return cfg, nil
}
