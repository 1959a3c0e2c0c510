package models

import (
	"time"
)

// Inventory is the committable stock of a product in DynamoDB
type Inventory struct {
	ProductID string    `json:"product_id" dynamodbav:"product_id"`
	Quantity  int       `json:"quantity" dynamodbav:"quantity"`
	Threshold int       `json:"low_stock_threshold" dynamodbav:"threshold"`
	UpdatedAt time.Time `json:"updated_at" dynamodbav:"updated_at"`
}

// Low reports whether stock has fallen to the alert threshold.
func (i *Inventory) Low() bool { return i.Quantity <= i.Threshold }

type AdjustmentState string

const (
	AdjustmentDecremented AdjustmentState = "decremented"
	AdjustmentCredited    AdjustmentState = "credited"
)

// Adjustment records stock taken for one order line and whether it was given back.
type Adjustment struct {
	OrderID    string          `json:"order_id" dynamodbav:"order_id"`
	ProductID  string          `json:"product_id" dynamodbav:"product_id"`
	Quantity   int             `json:"quantity" dynamodbav:"quantity"`
	State      AdjustmentState `json:"state" dynamodbav:"state"`
	CreatedAt  time.Time       `json:"created_at" dynamodbav:"created_at"`
	CreditedAt *time.Time      `json:"credited_at,omitempty" dynamodbav:"credited_at,omitempty"`
}

// SetStockRequest creates inventory for a product
type SetStockRequest struct {
	ProductID string `json:"product_id" binding:"required"`
	Quantity  int    `json:"quantity" binding:"gte=0"`
	Threshold int    `json:"low_stock_threshold" binding:"gte=0"`
}

// UpdateStockRequest is an operator edit of quantity or threshold
type UpdateStockRequest struct {
	Quantity  *int `json:"quantity" binding:"omitempty,gte=0"`
	Threshold *int `json:"low_stock_threshold" binding:"omitempty,gte=0"`
}

// StockItem is a single product + quantity
type StockItem struct {
	ProductID string `json:"product_id" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required,min=1"`
}

// StockCheckResult represents availability info for a single product
type StockCheckResult struct {
	ProductID    string `json:"product_id"`
	Available    int    `json:"available"`
	Requested    int    `json:"requested"`
	IsSufficient bool   `json:"is_sufficient"`
}
