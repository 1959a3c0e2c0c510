package main

import (
	"fmt"

	"github.com/yashrajoria/marketplace/services/common/config"
)

const (
	StoreS3     = "s3"
	StoreMemory = "memory"
)

type Config struct {
	Port              string
	Env               string
	Store             string // s3 or memory
	Bucket            string
	PaymentServiceURL string // empty trusts the caller's amounts
}

func LoadConfig() (*Config, error) {
	config.LoadDotEnv()

	cfg := &Config{
		Port:              config.GetEnv("PORT", "8089"),
		Env:               config.GetEnv("ENV", "development"),
		Store:             config.GetEnv("RECEIPT_STORE", StoreS3),
		Bucket:            config.GetEnv("RECEIPT_BUCKET", ""),
		PaymentServiceURL: config.GetEnv("PAYMENT_SERVICE_URL", "http://payment-service:8087"),
	}

	switch cfg.Store {
	case StoreS3:
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("RECEIPT_BUCKET is required for the s3 store")
		}
	case StoreMemory:
	default:
		return nil, fmt.Errorf("unknown RECEIPT_STORE %q", cfg.Store)
	}
	return cfg, nil
}
