package main

import (
	"context"
	"fmt"
	"time"

	"github.com/yashrajoria/marketplace/services/common/config"
	"github.com/yashrajoria/marketplace/services/notification-service/sender"
)

type Config struct {
	Port          string
	Env           string
	Postgres      config.Postgres
	SMTP          sender.SMTPConfig
	Twilio        sender.TwilioConfig
	OpsEmail      string
	EmailDomain   string
	MaxRetries    uint64
	RetryInterval time.Duration
}

func LoadConfig() (*Config, error) {
	config.LoadDotEnv()

	cfg := &Config{
		Port:     config.GetEnv("PORT", "8090"),
		Env:      config.GetEnv("ENV", "development"),
		Postgres: config.PostgresFromEnv(),
		SMTP: sender.SMTPConfig{
			Host:     config.GetEnv("SMTP_HOST", ""),
			Port:     config.GetEnv("SMTP_PORT", "587"),
			Username: config.GetEnv("SMTP_USER", ""),
			Password: config.GetEnv("SMTP_PASS", ""),
			From:     config.GetEnv("SMTP_FROM", ""),
		},
		Twilio: sender.TwilioConfig{
			AccountSID: config.GetEnv("TWILIO_ACCOUNT_SID", ""),
			AuthToken:  config.GetEnv("TWILIO_AUTH_TOKEN", ""),
			FromNumber: config.GetEnv("TWILIO_FROM_NUMBER", ""),
		},
		OpsEmail:      config.GetEnv("OPS_EMAIL", ""),
		EmailDomain:   config.GetEnv("CUSTOMER_EMAIL_DOMAIN", ""),
		MaxRetries:    uint64(config.GetEnvInt("NOTIFY_MAX_RETRIES", 2)),
		RetryInterval: config.GetEnvDuration("NOTIFY_RETRY_INTERVAL", time.Second),
	}

	if err := config.OverlaySecrets(context.Background(), "notification/DB_CREDENTIALS", cfg.Postgres.Targets()); err != nil {
		return nil, fmt.Errorf("load db secret: %w", err)
	}
	if cfg.Postgres.User == "" || cfg.Postgres.Password == "" || cfg.Postgres.DB == "" || cfg.Postgres.Host == "" {
		return nil, fmt.Errorf("database config incomplete")
	}
	return cfg, nil
}
