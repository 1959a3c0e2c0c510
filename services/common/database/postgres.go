package database

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/yashrajoria/marketplace/services/common/config"
)

// DSN renders cfg as a libpq keyword string.
func DSN(cfg config.Postgres) string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s",
		cfg.Host, cfg.User, cfg.Password, cfg.DB, cfg.Port, cfg.SSLMode, cfg.TimeZone,
	)
}

// ConnectPostgres opens the pool with retries and migrates autoMigrateModels.
func ConnectPostgres(logger *zap.Logger, cfg config.Postgres, autoMigrateModels ...interface{}) (*gorm.DB, error) {
	if cfg.User == "" {
		return nil, fmt.Errorf("POSTGRES_USER not set")
	}
	if cfg.Password == "" {
		return nil, fmt.Errorf("POSTGRES_PASSWORD not set")
	}
	if cfg.DB == "" {
		return nil, fmt.Errorf("POSTGRES_DB not set")
	}

	var db *gorm.DB
	var err error

	for i := 0; i < 10; i++ {
		db, err = gorm.Open(postgres.Open(DSN(cfg)), &gorm.Config{})
		if err == nil {
			sqlDB, poolErr := db.DB()
			if poolErr == nil {
				sqlDB.SetMaxOpenConns(25)
				sqlDB.SetMaxIdleConns(5)
				sqlDB.SetConnMaxLifetime(5 * time.Minute)
			}

			logger.Info("Connected to PostgreSQL successfully", zap.String("db", cfg.DB))

			if len(autoMigrateModels) > 0 {
				if err := db.AutoMigrate(autoMigrateModels...); err != nil {
					return nil, fmt.Errorf("AutoMigrate failed: %w", err)
				}
			}
			return db, nil
		}

		logger.Warn("DB connection failed, retrying",
			zap.Int("attempt", i+1),
			zap.Error(err),
		)
		time.Sleep(time.Duration(i+1) * 2 * time.Second)
	}

	return nil, fmt.Errorf("failed to connect to PostgreSQL after retries: %w", err)
}

func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	return sqlDB.Close()
}
