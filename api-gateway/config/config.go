package config

import (
	"strings"
	"time"

	"github.com/yashrajoria/marketplace/services/common/config"
)

type Config struct {
	Port           string
	Env            string
	JWTSecret      string
	AllowedOrigins []string

	// Upstreams maps a service name to its base URL.
	Upstreams       Upstreams
	UpstreamTimeout time.Duration
	RateLimitPerMin int
	RateLimitBurst  int
}

type Upstreams struct {
	Cart         string
	Checkout     string
	Order        string
	Payment      string
	Inventory    string
	Receipt      string
	Notification string
}

func Load() Config {
	config.LoadDotEnv()
	return Config{
		Port:           config.GetEnv("PORT", "8080"),
		Env:            config.GetEnv("ENV", "development"),
		JWTSecret:      strings.TrimSpace(config.GetEnv("JWT_SECRET", "")),
		AllowedOrigins: splitOrigins(config.GetEnv("ALLOWED_ORIGINS", "http://localhost:3000")),
		Upstreams: Upstreams{
			Cart:         config.GetEnv("CART_SERVICE_URL", "http://cart-service:8086"),
			Checkout:     config.GetEnv("CHECKOUT_SERVICE_URL", "http://checkout-service:8088"),
			Order:        config.GetEnv("ORDER_SERVICE_URL", "http://order-service:8083"),
			Payment:      config.GetEnv("PAYMENT_SERVICE_URL", "http://payment-service:8087"),
			Inventory:    config.GetEnv("INVENTORY_SERVICE_URL", "http://inventory-service:8084"),
			Receipt:      config.GetEnv("RECEIPT_SERVICE_URL", "http://receipt-service:8089"),
			Notification: config.GetEnv("NOTIFICATION_SERVICE_URL", "http://notification-service:8090"),
		},
		UpstreamTimeout: config.GetEnvDuration("UPSTREAM_TIMEOUT", 30*time.Second),
		RateLimitPerMin: config.GetEnvInt("RATE_LIMIT_PER_MIN", 600),
		RateLimitBurst:  config.GetEnvInt("RATE_LIMIT_BURST", 50),
	}
}

func splitOrigins(raw string) []string {
	var out []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSuffix(strings.TrimSpace(o), "/"); o != "" {
			out = append(out, o)
		}
	}
	return out
}
