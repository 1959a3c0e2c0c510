package messaging

// Routing keys for every fact published between services.
const (
	OrderCreated              = "order.created"
	OrderCancelled            = "order.cancelled"
	OrderStatusChanged        = "order.status.changed"
	OrderManualRefundRequired = "order.manual_refund.required"

	PaymentCompleted = "payment.completed"
	PaymentFailed    = "payment.failed"
	PaymentRefunded  = "payment.refunded"

	InventoryLow          = "inventory.low"
	InventoryInsufficient = "inventory.insufficient"
)

// OrderLine is the part of an order line the inventory ledger needs.
type OrderLine struct {
	ProductID string `json:"productId"`
	VendorID  string `json:"vendorId,omitempty"`
	Quantity  int    `json:"quantity"`
}

type OrderCreatedFact struct {
	OrderID       string      `json:"orderId"`
	OrderNumber   string      `json:"orderNumber"`
	CustomerID    string      `json:"customerId"`
	PaymentMethod string      `json:"paymentMethod"`
	Status        string      `json:"status"`
	TotalAmount   int64       `json:"totalAmount"`
	Currency      string      `json:"currency"`
	Items         []OrderLine `json:"items"`
}

type OrderCancelledFact struct {
	OrderID        string `json:"orderId"`
	Reason         string `json:"reason"`
	PreviousStatus string `json:"previousStatus"`
}

type OrderStatusChangedFact struct {
	OrderID string `json:"orderId"`
	From    string `json:"from"`
	To      string `json:"to"`
	Actor   string `json:"actor"`
}

type OrderManualRefundFact struct {
	OrderID   string `json:"orderId"`
	PaymentID string `json:"paymentId"`
	Amount    int64  `json:"amount"`
}

type PaymentCompletedFact struct {
	OrderID   string `json:"orderId"`
	PaymentID string `json:"paymentId"`
	Amount    int64  `json:"amount"`
}

type PaymentFailedFact struct {
	OrderID   string `json:"orderId"`
	PaymentID string `json:"paymentId"`
	Reason    string `json:"reason"`
}

type PaymentRefundedFact struct {
	OrderID   string `json:"orderId"`
	PaymentID string `json:"paymentId"`
	Amount    int64  `json:"amount"`
	Reason    string `json:"reason"`
}

type InventoryLowFact struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type InventoryInsufficientFact struct {
	OrderID   string `json:"orderId"`
	ProductID string `json:"productId"`
	Requested int    `json:"requested"`
}
