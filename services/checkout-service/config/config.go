package config

import (
	"time"

	"github.com/yashrajoria/marketplace/services/common/config"
)

type Config struct {
	Port              string
	Env               string
	CartServiceURL    string
	OrderServiceURL   string
	PaymentServiceURL string
	ReceiptServiceURL string
	ConfirmTimeout    time.Duration

	// RedisURL enables Idempotency-Key handling when set.
	RedisURL        string
	IdempotencyTTL  time.Duration
	RateLimitPerMin int
	RateLimitBurst  int
}

func Load() Config {
	config.LoadDotEnv()
	return Config{
		Port:              config.GetEnv("PORT", "8088"),
		Env:               config.GetEnv("ENV", "development"),
		CartServiceURL:    config.GetEnv("CART_SERVICE_URL", "http://cart-service:8086"),
		OrderServiceURL:   config.GetEnv("ORDER_SERVICE_URL", "http://order-service:8083"),
		PaymentServiceURL: config.GetEnv("PAYMENT_SERVICE_URL", "http://payment-service:8087"),
		ReceiptServiceURL: config.GetEnv("RECEIPT_SERVICE_URL", "http://receipt-service:8089"),
		ConfirmTimeout:    config.GetEnvDuration("CONFIRM_TIMEOUT", 10*time.Second),
		RedisURL:          config.GetEnv("REDIS_URL", ""),
		IdempotencyTTL:    config.GetEnvDuration("IDEMPOTENCY_TTL", 24*time.Hour),
		RateLimitPerMin:   config.GetEnvInt("CHECKOUT_RATE_PER_MIN", 30),
		RateLimitBurst:    config.GetEnvInt("CHECKOUT_RATE_BURST", 5),
	}
}
