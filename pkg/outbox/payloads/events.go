package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-backend/pkg/enums"
)

// OrderPaidEvent is emitted once when a payment settles and the order moves to PAID.
type OrderPaidEvent struct {
	OrderID       uuid.UUID             `json:"order_id"`
	OrderNumber   string                `json:"order_number"`
	BuyerID       uuid.UUID             `json:"buyer_id"`
	SellerID      uuid.UUID             `json:"seller_id"`
	PaymentID     uuid.UUID             `json:"payment_id"`
	Amount        int64                 `json:"amount"`
	PaymentMethod string                `json:"payment_method,omitempty"`
	PaidAt        time.Time             `json:"paid_at"`
	Source        enums.ReconcileSource `json:"source"`
}

// PaymentFailedEvent is emitted once when a payment expires or fails and the order is cancelled.
type PaymentFailedEvent struct {
	OrderID       uuid.UUID             `json:"order_id"`
	OrderNumber   string                `json:"order_number"`
	BuyerID       uuid.UUID             `json:"buyer_id"`
	SellerID      uuid.UUID             `json:"seller_id"`
	PaymentID     uuid.UUID             `json:"payment_id"`
	PaymentStatus enums.PaymentStatus   `json:"payment_status"`
	CancelledAt   time.Time             `json:"cancelled_at"`
	Restocked     bool                  `json:"restocked"`
	Source        enums.ReconcileSource `json:"source"`
}
