// Package payments owns the Payment row of an order: opening a gateway
// invoice once and handing the same intent back on every retry.
package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-backend/pkg/db"
	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
	"github.com/angelmondragon/marketplace-backend/pkg/gateway"
	"github.com/angelmondragon/marketplace-backend/pkg/logger"
)

const defaultInvoiceDuration = 24 * time.Hour

// Intent is what the checkout page needs to redirect the buyer.
type Intent struct {
	PaymentID  uuid.UUID           `json:"paymentId"`
	InvoiceID  string              `json:"invoiceId"`
	InvoiceURL string              `json:"invoiceUrl"`
	ExpiresAt  time.Time           `json:"expiresAt"`
	Status     enums.PaymentStatus `json:"status"`
	Reused     bool                `json:"reused"`
}

func intentFrom(p *models.Payment, reused bool) *Intent {
	return &Intent{
		PaymentID:  p.ID,
		InvoiceID:  p.ExternalInvoiceID,
		InvoiceURL: p.InvoiceURL,
		ExpiresAt:  p.ExpiresAt,
		Status:     p.Status,
		Reused:     reused,
	}
}

type invoiceCreator interface {
	CreateInvoice(ctx context.Context, req gateway.CreateInvoiceRequest) (*gateway.Invoice, error)
}

type orderFinder interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
}

type paymentStore interface {
	FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Payment, error)
	Create(ctx context.Context, payment *models.Payment) error
	ReplaceExpired(ctx context.Context, id uuid.UUID, inv InvoiceFields, at time.Time) (bool, error)
}

type ManagerConfig struct {
	InvoiceDuration    time.Duration
	SuccessRedirectURL string
	FailureRedirectURL string
}

type Manager struct {
	cfg      ManagerConfig
	orders   orderFinder
	payments paymentStore
	gateway  invoiceCreator
	logg     *logger.Logger
	clock    func() time.Time
}

func NewManager(cfg ManagerConfig, orders orderFinder, payments paymentStore, gw invoiceCreator, logg *logger.Logger) (*Manager, error) {
	if orders == nil {
		return nil, fmt.Errorf("order finder required")
	}
	if payments == nil {
		return nil, fmt.Errorf("payment store required")
	}
	if gw == nil {
		return nil, fmt.Errorf("gateway client required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	if cfg.InvoiceDuration <= 0 {
		cfg.InvoiceDuration = defaultInvoiceDuration
	}
	return &Manager{
		cfg:      cfg,
		orders:   orders,
		payments: payments,
		gateway:  gw,
		logg:     logg,
		clock:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// CreateOrGetPaymentIntent returns the order's live intent, opening a new
// gateway invoice only when there is none or the previous one expired.
// Gateway failures persist nothing and are safe to retry.
func (m *Manager) CreateOrGetPaymentIntent(ctx context.Context, buyerID, orderID uuid.UUID) (*Intent, error) {
	ctx = m.logg.WithOrderID(ctx, orderID.String())

	order, err := m.orders.FindByID(ctx, orderID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if order.BuyerID != buyerID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	if order.Status != enums.OrderStatusPendingPayment {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidOrderState, "order is not awaiting payment").
			WithDetails(map[string]any{"status": order.Status})
	}

	existing, err := m.findPayment(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Status != enums.PaymentStatusExpired {
		return intentFrom(existing, true), nil
	}

	invoice, err := m.gateway.CreateInvoice(ctx, gateway.CreateInvoiceRequest{
		ExternalID:         order.OrderNumber,
		Amount:             order.Total,
		Description:        fmt.Sprintf("Order %s", order.OrderNumber),
		Duration:           m.cfg.InvoiceDuration,
		SuccessRedirectURL: m.cfg.SuccessRedirectURL,
		FailureRedirectURL: m.cfg.FailureRedirectURL,
	})
	if err != nil {
		m.logg.Warn(m.logg.WithField(ctx, "error", err.Error()), "gateway invoice creation failed")
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeGateway, err, "create invoice")
	}

	now := m.clock()
	fields := InvoiceFields{
		ExternalInvoiceID: invoice.ID,
		InvoiceURL:        invoice.InvoiceURL,
		Amount:            order.Total,
		ExpiresAt:         invoice.ExpiresAt.UTC(),
	}
	if fields.ExpiresAt.IsZero() {
		fields.ExpiresAt = now.Add(m.cfg.InvoiceDuration)
	}

	if existing == nil {
		payment := &models.Payment{
			OrderID:           order.ID,
			ExternalInvoiceID: fields.ExternalInvoiceID,
			InvoiceURL:        fields.InvoiceURL,
			Status:            enums.PaymentStatusPending,
			Amount:            fields.Amount,
			ExpiresAt:         fields.ExpiresAt,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := m.payments.Create(ctx, payment); err != nil {
			if isOrderPaymentViolation(err) {
				return m.loserIntent(ctx, order.ID, invoice.ID)
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert payment")
		}
		m.logg.Info(m.logg.WithField(ctx, "invoice_id", invoice.ID), "payment intent created")
		return intentFrom(payment, false), nil
	}

	// The reconciler cancels the order in the same tx that expires its
	// payment, so this only runs for rows expired outside it (manual ops,
	// backfills). One payment row per order still holds.
	replaced, err := m.payments.ReplaceExpired(ctx, existing.ID, fields, now)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "replace expired payment")
	}
	if !replaced {
		return m.loserIntent(ctx, order.ID, invoice.ID)
	}
	m.logg.Info(m.logg.WithField(ctx, "invoice_id", invoice.ID), "expired payment intent reopened")
	return &Intent{
		PaymentID:  existing.ID,
		InvoiceID:  fields.ExternalInvoiceID,
		InvoiceURL: fields.InvoiceURL,
		ExpiresAt:  fields.ExpiresAt,
		Status:     enums.PaymentStatusPending,
	}, nil
}

func (m *Manager) findPayment(ctx context.Context, orderID uuid.UUID) (*models.Payment, error) {
	payment, err := m.payments.FindByOrderID(ctx, orderID)
	if err == nil {
		return payment, nil
	}
	if db.IsNotFound(err) {
		return nil, nil
	}
	return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
}

// loserIntent resolves a lost race against a concurrent request for the same
// order by returning the winner's row. The invoice opened by this request is
// left to expire at the gateway.
func (m *Manager) loserIntent(ctx context.Context, orderID uuid.UUID, orphanInvoiceID string) (*Intent, error) {
	m.logg.Warn(m.logg.WithField(ctx, "orphan_invoice_id", orphanInvoiceID), "concurrent payment intent detected, returning winner")
	winner, err := m.findPayment(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if winner == nil || winner.Status == enums.PaymentStatusExpired {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "payment intent changed concurrently, retry")
	}
	return intentFrom(winner, true), nil
}

func isOrderPaymentViolation(err error) bool {
	return db.IsUniqueViolation(err, "ux_payments_order_id") || db.IsUniqueViolation(err, "payments.order_id")
}
