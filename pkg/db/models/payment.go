package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-backend/pkg/enums"
)

// Payment is the single gateway invoice attached to an order.
type Payment struct {
	ID                uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	OrderID           uuid.UUID           `gorm:"column:order_id;type:uuid;not null;uniqueIndex" json:"orderId"`
	ExternalInvoiceID string              `gorm:"column:external_invoice_id;not null" json:"externalInvoiceId"`
	InvoiceURL        string              `gorm:"column:invoice_url;not null" json:"invoiceUrl"`
	Status            enums.PaymentStatus `gorm:"column:status;type:payment_status;not null;default:'PENDING'" json:"status"`
	Amount            int64               `gorm:"column:amount;not null" json:"amount"`
	PaymentMethod     *string             `gorm:"column:payment_method" json:"paymentMethod,omitempty"`
	PaidAt            *time.Time          `gorm:"column:paid_at" json:"paidAt,omitempty"`
	ExpiresAt         time.Time           `gorm:"column:expires_at;not null" json:"expiresAt"`
	CreatedAt         time.Time           `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt         time.Time           `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}
