package main

import (
	"fmt"

	"github.com/yashrajoria/marketplace/services/common/config"
)

const (
	StoreDynamo = "dynamodb"
	StoreMemory = "memory"
)

// Config holds all configuration for the inventory-service.
type Config struct {
	Port            string // Service port (default: 8084)
	Env             string
	Store           string // dynamodb or memory
	DDBTable        string // DynamoDB table name for inventory
	DDBAdjustments  string // DynamoDB table name for per-order adjustments
	DDBCreateTables bool
}

// LoadConfig loads environment variables into Config struct.
func LoadConfig() (*Config, error) {
	config.LoadDotEnv()

	cfg := &Config{
		Port:            config.GetEnv("PORT", "8084"),
		Env:             config.GetEnv("ENV", "development"),
		Store:           config.GetEnv("INVENTORY_STORE", StoreDynamo),
		DDBTable:        config.GetEnv("DDB_TABLE_INVENTORY", "Inventory"),
		DDBAdjustments:  config.GetEnv("DDB_TABLE_ADJUSTMENTS", "InventoryAdjustments"),
		DDBCreateTables: config.GetEnvBool("DDB_CREATE_TABLES", false),
	}

	switch cfg.Store {
	case StoreDynamo, StoreMemory:
	default:
		return nil, fmt.Errorf("unknown INVENTORY_STORE %q", cfg.Store)
	}
	return cfg, nil
}
