package main

import (
	"context"
	"fmt"
	"time"

	"github.com/yashrajoria/marketplace/services/common/config"
	"github.com/yashrajoria/marketplace/services/order-service/models"
)

type Config struct {
	Port                  string
	Env                   string
	Postgres              config.Postgres
	CatalogServiceURL     string
	PaymentServiceURL     string
	Currency              string
	Pricing               models.Pricing
	PendingPaymentTimeout time.Duration
	ReconcileInterval     time.Duration
	OutboxInterval        time.Duration
	OutboxBatchSize       int
}

func LoadConfig() (*Config, error) {
	config.LoadDotEnv()

	cfg := &Config{
		Port:              config.GetEnv("PORT", "8083"),
		Env:               config.GetEnv("ENV", "development"),
		Postgres:          config.PostgresFromEnv(),
		CatalogServiceURL: config.GetEnv("CATALOG_SERVICE_URL", "http://product-service:8082"),
		PaymentServiceURL: config.GetEnv("PAYMENT_SERVICE_URL", "http://payment-service:8087"),
		Currency:          config.GetEnv("ORDER_CURRENCY", "INR"),
		Pricing: models.Pricing{
			TaxRateBPS:            config.GetEnvInt64("TAX_RATE_BPS", 1800),
			FreeShippingThreshold: config.GetEnvInt64("FREE_SHIPPING_THRESHOLD", 50000),
			ShippingFee:           config.GetEnvInt64("SHIPPING_FEE", 4900),
		},
		PendingPaymentTimeout: config.GetEnvDuration("PENDING_PAYMENT_TIMEOUT", 15*time.Minute),
		ReconcileInterval:     config.GetEnvDuration("RECONCILE_INTERVAL", time.Minute),
		OutboxInterval:        config.GetEnvDuration("OUTBOX_INTERVAL", time.Second),
		OutboxBatchSize:       config.GetEnvInt("OUTBOX_BATCH_SIZE", 50),
	}

	if err := config.OverlaySecrets(context.Background(), "order/DB_CREDENTIALS", cfg.Postgres.Targets()); err != nil {
		return nil, fmt.Errorf("load db secret: %w", err)
	}

	if cfg.Postgres.User == "" || cfg.Postgres.Password == "" || cfg.Postgres.DB == "" || cfg.Postgres.Host == "" {
		return nil, fmt.Errorf("database config incomplete")
	}
	if cfg.CatalogServiceURL == "" {
		return nil, fmt.Errorf("CATALOG_SERVICE_URL is required")
	}
	return cfg, nil
}
