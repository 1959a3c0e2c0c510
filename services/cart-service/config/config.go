package config

import (
	"time"

	"github.com/yashrajoria/marketplace/services/common/config"
)

type Config struct {
	Port       string
	Env        string
	RedisURL   string
	CatalogURL string
	CartTTL    time.Duration
}

func Load() Config {
	config.LoadDotEnv()
	return Config{
		Port:       config.GetEnv("PORT", "8086"),
		Env:        config.GetEnv("ENV", "development"),
		RedisURL:   config.GetEnv("REDIS_URL", "redis://redis:6379"),
		CatalogURL: config.GetEnv("CATALOG_SERVICE_URL", "http://product-service:8082"),
		CartTTL:    config.GetEnvDuration("CART_TTL", 7*24*time.Hour),
	}
}
