package models

import (
	"time"

	"github.com/google/uuid"
)

// OrderItem snapshots the product price and quantity at order creation.
type OrderItem struct {
	ID          uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	OrderID     uuid.UUID `gorm:"column:order_id;type:uuid;not null" json:"orderId"`
	ProductID   uuid.UUID `gorm:"column:product_id;type:uuid;not null" json:"productId"`
	ProductName string    `gorm:"column:product_name;not null" json:"productName"`
	UnitPrice   int64     `gorm:"column:unit_price;not null" json:"unitPrice"`
	Quantity    int       `gorm:"column:quantity;not null" json:"quantity"`
	Subtotal    int64     `gorm:"column:subtotal;not null" json:"subtotal"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}
