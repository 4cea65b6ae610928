package contracts

import "time"

type Event struct {
	EventID   string         `json:"event_id"`
	OrderID   int64          `json:"order_id"`
	CreatedAt time.Time      `json:"created_at"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload"`
}

const (
	EventOrderCreated       = "order.created"
	EventGatewayOrderLinked = "order.gateway_linked"
	EventOrderRolledBack    = "order.rolled_back"
	EventPaymentCaptured    = "payment.captured"
	EventInventoryDeducted  = "inventory.deducted"
	EventOrderConfirmed     = "order.confirmed"
	EventOrderCompleted     = "order.completed"
)
