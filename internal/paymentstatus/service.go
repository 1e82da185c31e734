// Package paymentstatus answers "where is my payment" for the buyer,
// optionally pulling the gateway first so a missed webhook self-heals.
package paymentstatus

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-backend/internal/reconcile"
	"github.com/angelmondragon/marketplace-backend/pkg/db"
	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
	"github.com/angelmondragon/marketplace-backend/pkg/gateway"
	"github.com/angelmondragon/marketplace-backend/pkg/logger"
)

// OrderView is the order half of the projection.
type OrderView struct {
	ID          uuid.UUID         `json:"id"`
	OrderNumber string            `json:"orderNumber"`
	Status      enums.OrderStatus `json:"status"`
	Total       int64             `json:"total"`
}

// PaymentView is the payment half; nil until an intent was created.
type PaymentView struct {
	Status     enums.PaymentStatus `json:"status"`
	InvoiceID  string              `json:"invoiceId"`
	InvoiceURL string              `json:"invoiceUrl"`
	ExpiresAt  time.Time           `json:"expiresAt"`
	PaidAt     *time.Time          `json:"paidAt,omitempty"`
}

type Projection struct {
	Order   OrderView    `json:"order"`
	Payment *PaymentView `json:"payment"`
}

type orderFinder interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
}

type paymentFinder interface {
	FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Payment, error)
}

type invoiceGetter interface {
	GetInvoice(ctx context.Context, invoiceID string) (*gateway.Invoice, error)
}

type reconciler interface {
	Reconcile(ctx context.Context, in reconcile.Input) (reconcile.Result, error)
}

type Service struct {
	orders     orderFinder
	payments   paymentFinder
	gateway    invoiceGetter
	reconciler reconciler
	logg       *logger.Logger
}

func NewService(orders orderFinder, payments paymentFinder, gw invoiceGetter, rec reconciler, logg *logger.Logger) (*Service, error) {
	switch {
	case orders == nil:
		return nil, fmt.Errorf("order finder required")
	case payments == nil:
		return nil, fmt.Errorf("payment finder required")
	case gw == nil:
		return nil, fmt.Errorf("gateway client required")
	case rec == nil:
		return nil, fmt.Errorf("reconciler required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Service{orders: orders, payments: payments, gateway: gw, reconciler: rec, logg: logg}, nil
}

// Get returns the buyer's order and payment. With refresh set and the
// payment still PENDING, the gateway is asked first and whatever it reports
// is reconciled. Refresh failures never fail the read.
func (s *Service) Get(ctx context.Context, buyerID, orderID uuid.UUID, refresh bool) (*Projection, error) {
	ctx = s.logg.WithOrderID(ctx, orderID.String())

	order, payment, err := s.load(ctx, buyerID, orderID)
	if err != nil {
		return nil, err
	}

	if refresh && payment != nil && payment.Status == enums.PaymentStatusPending {
		if s.refresh(ctx, order.ID, payment) {
			order, payment, err = s.load(ctx, buyerID, orderID)
			if err != nil {
				return nil, err
			}
		}
	}
	return project(order, payment), nil
}

func (s *Service) refresh(ctx context.Context, orderID uuid.UUID, payment *models.Payment) bool {
	ctx = s.logg.WithField(ctx, "invoice_id", payment.ExternalInvoiceID)

	inv, err := s.gateway.GetInvoice(ctx, payment.ExternalInvoiceID)
	if err != nil {
		s.logg.Warn(s.logg.WithFields(ctx, pkgerrors.Dump(err).Fields()), "payment status pull failed")
		return false
	}
	in, err := reconcile.InputFromInvoice(orderID, inv, enums.SourcePoller)
	if err != nil {
		s.logg.Warn(s.logg.WithFields(ctx, pkgerrors.Dump(err).Fields()), "payment status pull returned unknown status")
		return false
	}
	res, err := s.reconciler.Reconcile(ctx, in)
	if err != nil {
		s.logg.Warn(s.logg.WithFields(ctx, pkgerrors.Dump(err).Fields()), "payment status reconcile failed")
		return false
	}
	return res.Outcome == reconcile.OutcomeApplied || res.Outcome == reconcile.OutcomeNoop
}

func (s *Service) load(ctx context.Context, buyerID, orderID uuid.UUID) (*models.Order, *models.Payment, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if order.BuyerID != buyerID {
		return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}

	payment, err := s.payments.FindByOrderID(ctx, orderID)
	if err != nil {
		if db.IsNotFound(err) {
			return order, nil, nil
		}
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	return order, payment, nil
}

func project(order *models.Order, payment *models.Payment) *Projection {
	p := &Projection{Order: OrderView{
		ID:          order.ID,
		OrderNumber: order.OrderNumber,
		Status:      order.Status,
		Total:       order.Total,
	}}
	if payment == nil {
		return p
	}
	p.Payment = &PaymentView{
		Status:     payment.Status,
		InvoiceID:  payment.ExternalInvoiceID,
		InvoiceURL: payment.InvoiceURL,
		ExpiresAt:  payment.ExpiresAt,
		PaidAt:     payment.PaidAt,
	}
	return p
}
