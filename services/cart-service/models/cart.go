package models

import "time"

type CartItem struct {
	ProductID string `json:"product_id" binding:"required"`
	VendorID  string `json:"vendor_id,omitempty"`
	Quantity  int    `json:"quantity" binding:"required,min=1"`
	UnitPrice int64  `json:"unit_price"`
}

// Cart is stored as one JSON document per user. Version grows with every change.
type Cart struct {
	UserID    string     `json:"user_id"`
	Items     []CartItem `json:"items"`
	Version   int64      `json:"version"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// TotalAmount is the indicative cart value at the prices captured when items
// were added. Orders reprice from the catalog.
func (c *Cart) TotalAmount() int64 {
	var total int64
	for _, it := range c.Items {
		total += it.UnitPrice * int64(it.Quantity)
	}
	return total
}

// Snapshot is the read-only view checkout turns into an order.
type Snapshot struct {
	UserID      string     `json:"user_id"`
	Items       []CartItem `json:"items"`
	TotalAmount int64      `json:"total_amount"`
	Version     int64      `json:"version"`
}

func (c *Cart) Snapshot() Snapshot {
	items := c.Items
	if items == nil {
		items = []CartItem{}
	}
	return Snapshot{UserID: c.UserID, Items: items, TotalAmount: c.TotalAmount(), Version: c.Version}
}
