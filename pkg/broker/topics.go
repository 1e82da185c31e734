package broker

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-backend/pkg/enums"
)

// OrderTopic is the topic carrying status changes for one order.
func OrderTopic(orderID uuid.UUID) string {
	return "order:" + orderID.String()
}

// OrderStatusEvent is published after a committed status change.
type OrderStatusEvent struct {
	OrderID       uuid.UUID             `json:"orderId"`
	OrderStatus   enums.OrderStatus     `json:"orderStatus"`
	PaymentStatus enums.PaymentStatus   `json:"paymentStatus,omitempty"`
	Source        enums.ReconcileSource `json:"source"`
}

// Terminal reports whether watchers can stop listening.
func (e OrderStatusEvent) Terminal() bool {
	return e.PaymentStatus.IsTerminal() || e.OrderStatus.IsFinal()
}
