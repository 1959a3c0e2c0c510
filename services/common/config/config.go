// Package config holds the environment helpers every service's LoadConfig uses.
package config

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	awspkg "github.com/yashrajoria/marketplace/pkg/aws"
)

// LoadDotEnv reads .env when present. A missing file is not an error.
func LoadDotEnv() bool {
	return godotenv.Load() == nil
}

func GetEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func GetEnvInt(key string, fallback int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return fallback
}

func GetEnvInt64(key string, fallback int64) int64 {
	if n, err := strconv.ParseInt(os.Getenv(key), 10, 64); err == nil {
		return n
	}
	return fallback
}

func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil && d > 0 {
		return d
	}
	return fallback
}

func GetEnvBool(key string, fallback bool) bool {
	if b, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return b
	}
	return fallback
}

type Postgres struct {
	User     string
	Password string
	DB       string
	Host     string
	Port     string
	SSLMode  string
	TimeZone string
}

func PostgresFromEnv() Postgres {
	return Postgres{
		User:     os.Getenv("POSTGRES_USER"),
		Password: os.Getenv("POSTGRES_PASSWORD"),
		DB:       os.Getenv("POSTGRES_DB"),
		Host:     GetEnv("POSTGRES_HOST", "localhost"),
		Port:     GetEnv("POSTGRES_PORT", "5432"),
		SSLMode:  GetEnv("POSTGRES_SSLMODE", "disable"),
		TimeZone: GetEnv("POSTGRES_TIMEZONE", "UTC"),
	}
}

// Targets exposes the fields a Secrets Manager overlay may replace.
func (p *Postgres) Targets() map[string]*string {
	return map[string]*string{
		"POSTGRES_USER":     &p.User,
		"POSTGRES_PASSWORD": &p.Password,
		"POSTGRES_DB":       &p.DB,
		"POSTGRES_HOST":     &p.Host,
		"POSTGRES_PORT":     &p.Port,
	}
}

// Secrets is the subset of awspkg.SecretsClient the overlay needs.
type Secrets interface {
	Overlay(ctx context.Context, name string, targets map[string]*string) error
}

// OverlaySecrets copies secret name over targets when AWS_USE_SECRETS=true.
// It is a no-op otherwise.
func OverlaySecrets(ctx context.Context, name string, targets map[string]*string) error {
	if os.Getenv("AWS_USE_SECRETS") != "true" {
		return nil
	}
	awsCfg, err := awspkg.LoadAWSConfig(ctx)
	if err != nil {
		return err
	}
	return OverlayWith(ctx, awspkg.NewSecretsClient(awsCfg), name, targets)
}

func OverlayWith(ctx context.Context, s Secrets, name string, targets map[string]*string) error {
	return s.Overlay(ctx, name, targets)
}
