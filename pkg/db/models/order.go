package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-backend/pkg/enums"
)

// Order is a single-seller purchase produced from one cart group.
type Order struct {
	ID           uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	OrderNumber  string            `gorm:"column:order_number;not null;uniqueIndex" json:"orderNumber"`
	BuyerID      uuid.UUID         `gorm:"column:buyer_id;type:uuid;not null" json:"buyerId"`
	SellerID     uuid.UUID         `gorm:"column:seller_id;type:uuid;not null" json:"sellerId"`
	Status       enums.OrderStatus `gorm:"column:status;type:order_status;not null;default:'PENDING_PAYMENT'" json:"status"`
	Subtotal     int64             `gorm:"column:subtotal;not null" json:"subtotal"`
	ShippingCost int64             `gorm:"column:shipping_cost;not null" json:"shippingCost"`
	ServiceFee   int64             `gorm:"column:service_fee;not null" json:"serviceFee"`
	Total        int64             `gorm:"column:total;not null" json:"total"`
	PaidAt       *time.Time        `gorm:"column:paid_at" json:"paidAt,omitempty"`
	CancelledAt  *time.Time        `gorm:"column:cancelled_at" json:"cancelledAt,omitempty"`
	CreatedAt    time.Time         `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt    time.Time         `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`

	Items []OrderItem `gorm:"foreignKey:OrderID" json:"items,omitempty"`
}

// ExpectedTotal recomputes the immutable total from its parts.
func (o Order) ExpectedTotal() int64 {
	return o.Subtotal + o.ShippingCost + o.ServiceFee
}
