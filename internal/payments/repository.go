package payments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx binds the repository to a transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

func (r *Repository) FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *Repository) Create(ctx context.Context, payment *models.Payment) error {
	if payment.ID == uuid.Nil {
		payment.ID = uuid.New()
	}
	if payment.Status == "" {
		payment.Status = enums.PaymentStatusPending
	}
	return r.db.WithContext(ctx).Create(payment).Error
}

// InvoiceFields are the gateway-issued columns of a payment.
type InvoiceFields struct {
	ExternalInvoiceID string
	InvoiceURL        string
	Amount            int64
	ExpiresAt         time.Time
}

// ReplaceExpired swaps in a fresh invoice on a payment that is still EXPIRED
// and resets it to PENDING. It reports false when the row moved on.
func (r *Repository) ReplaceExpired(ctx context.Context, id uuid.UUID, inv InvoiceFields, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ? AND status = ?", id, enums.PaymentStatusExpired).
		Updates(map[string]any{
			"external_invoice_id": inv.ExternalInvoiceID,
			"invoice_url":         inv.InvoiceURL,
			"amount":              inv.Amount,
			"expires_at":          inv.ExpiresAt,
			"status":              enums.PaymentStatusPending,
			"payment_method":      nil,
			"paid_at":             nil,
			"updated_at":          at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Settlement is what a terminal observation writes onto the payment.
type Settlement struct {
	Status        enums.PaymentStatus
	PaymentMethod *string
	PaidAt        *time.Time
}

// SettleFromPending applies a terminal status only while the payment is
// still PENDING. It reports false when another writer settled it first.
func (r *Repository) SettleFromPending(ctx context.Context, id uuid.UUID, s Settlement, at time.Time) (bool, error) {
	updates := map[string]any{
		"status":     s.Status,
		"updated_at": at,
	}
	if s.Status == enums.PaymentStatusPaid {
		paidAt := at
		if s.PaidAt != nil {
			paidAt = s.PaidAt.UTC()
		}
		updates["paid_at"] = paidAt
		if s.PaymentMethod != nil {
			updates["payment_method"] = *s.PaymentMethod
		}
	}
	res := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ? AND status = ?", id, enums.PaymentStatusPending).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ListPendingCreatedBefore returns PENDING payments old enough to have
// expected a webhook by now.
func (r *Repository) ListPendingCreatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Payment, error) {
	var rows []models.Payment
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", enums.PaymentStatusPending, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// ListPendingExpiredBefore returns PENDING payments whose invoice window closed.
func (r *Repository) ListPendingExpiredBefore(ctx context.Context, now time.Time, limit int) ([]models.Payment, error) {
	var rows []models.Payment
	err := r.db.WithContext(ctx).
		Where("status = ? AND expires_at < ?", enums.PaymentStatusPending, now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
