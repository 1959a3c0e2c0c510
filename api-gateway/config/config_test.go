package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "  s3cret ")
	t.Setenv("ALLOWED_ORIGINS", "https://shop.example/, https://ops.example,,")
	t.Setenv("UPSTREAM_TIMEOUT", "5s")

	cfg := Load()
	assert.Equal(t, "s3cret", cfg.JWTSecret)
	assert.Equal(t, []string{"https://shop.example", "https://ops.example"}, cfg.AllowedOrigins)
	assert.Equal(t, 5*time.Second, cfg.UpstreamTimeout)
	assert.Equal(t, "http://checkout-service:8088", cfg.Upstreams.Checkout)
}
