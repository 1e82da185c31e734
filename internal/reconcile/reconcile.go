// Package reconcile is the only writer of order and payment status. Every
// trigger (webhook, poller, sync, expiry sweep, seller fulfilment) funnels
// through conditional updates here, so concurrent callers converge on one
// state and side effects are queued exactly once.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-backend/internal/orders"
	"github.com/angelmondragon/marketplace-backend/internal/payments"
	"github.com/angelmondragon/marketplace-backend/internal/products"
	"github.com/angelmondragon/marketplace-backend/pkg/broker"
	"github.com/angelmondragon/marketplace-backend/pkg/db"
	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
	"github.com/angelmondragon/marketplace-backend/pkg/logger"
	"github.com/angelmondragon/marketplace-backend/pkg/metrics"
	"github.com/angelmondragon/marketplace-backend/pkg/outbox"
	"github.com/angelmondragon/marketplace-backend/pkg/outbox/payloads"
)

type Outcome string

const (
	OutcomeApplied  Outcome = "applied"
	OutcomeNoop     Outcome = "noop"
	OutcomeIgnored  Outcome = "ignored"
	OutcomeConflict Outcome = "conflict"
	outcomeError            = "error"
)

// Meta is the context that came with an observation.
type Meta struct {
	InvoiceID     string
	PaymentMethod string
	PaidAt        *time.Time
	Source        enums.ReconcileSource
}

type Input struct {
	OrderID  uuid.UUID
	Observed enums.PaymentStatus
	Meta     Meta
}

// Result reports what happened and the state the rows ended in.
type Result struct {
	Outcome       Outcome             `json:"outcome"`
	OrderStatus   enums.OrderStatus   `json:"orderStatus"`
	PaymentStatus enums.PaymentStatus `json:"paymentStatus"`
	Restocked     bool                `json:"restocked,omitempty"`
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type eventEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type statusPublisher interface {
	Publish(topic string, data any) int
}

type Config struct {
	RestockOnCancel bool
}

type Deps struct {
	Tx       txRunner
	Orders   *orders.Repository
	Payments *payments.Repository
	Products *products.Repository
	Outbox   eventEmitter
	Broker   statusPublisher
	Metrics  *metrics.ReconcileMetrics
	Logger   *logger.Logger
	Clock    func() time.Time
}

type Service struct {
	cfg      Config
	tx       txRunner
	orders   *orders.Repository
	payments *payments.Repository
	products *products.Repository
	outbox   eventEmitter
	broker   statusPublisher
	metrics  *metrics.ReconcileMetrics
	logg     *logger.Logger
	clock    func() time.Time
}

func NewService(cfg Config, deps Deps) (*Service, error) {
	switch {
	case deps.Tx == nil:
		return nil, fmt.Errorf("tx runner required")
	case deps.Orders == nil:
		return nil, fmt.Errorf("orders repository required")
	case deps.Payments == nil:
		return nil, fmt.Errorf("payments repository required")
	case deps.Products == nil:
		return nil, fmt.Errorf("products repository required")
	case deps.Outbox == nil:
		return nil, fmt.Errorf("outbox emitter required")
	}
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	if deps.Clock == nil {
		deps.Clock = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		cfg:      cfg,
		tx:       deps.Tx,
		orders:   deps.Orders,
		payments: deps.Payments,
		products: deps.Products,
		outbox:   deps.Outbox,
		broker:   deps.Broker,
		metrics:  deps.Metrics,
		logg:     deps.Logger,
		clock:    deps.Clock,
	}, nil
}

// errOrderMoved rolls back a payment settlement whose order already left
// PENDING_PAYMENT through some other path.
var errOrderMoved = errors.New("order no longer pending payment")

// Reconcile applies an observed gateway status to the order's payment. It is
// safe to call any number of times with stale or repeated observations.
func (s *Service) Reconcile(ctx context.Context, in Input) (Result, error) {
	ctx = s.logg.WithFields(ctx, map[string]any{
		"order_id": in.OrderID.String(),
		"observed": string(in.Observed),
		"source":   string(in.Meta.Source),
	})

	res, err := s.reconcile(ctx, in)
	if err != nil {
		s.metrics.Observe(string(in.Meta.Source), outcomeError)
		s.logg.Error(s.logg.WithFields(ctx, pkgerrors.Dump(err).Fields()), "reconcile failed", err)
		return res, err
	}
	s.metrics.Observe(string(in.Meta.Source), string(res.Outcome))

	ctx = s.logg.WithField(ctx, "outcome", string(res.Outcome))
	switch res.Outcome {
	case OutcomeApplied:
		s.logg.Info(ctx, "payment status reconciled")
		s.publish(in.OrderID, res, in.Meta.Source)
	case OutcomeConflict:
		s.logg.Warn(s.logg.WithField(ctx, "error_code", string(pkgerrors.CodeConflictingEvent)), "conflicting payment event discarded")
	default:
		s.logg.Debug(ctx, "payment status unchanged")
	}
	return res, nil
}

func (s *Service) reconcile(ctx context.Context, in Input) (Result, error) {
	if in.OrderID == uuid.Nil {
		return Result{}, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if !in.Observed.IsValid() {
		return Result{}, pkgerrors.New(pkgerrors.CodeValidation, "unknown payment status").
			WithDetails(map[string]any{"status": in.Observed})
	}

	var res Result
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		orderRepo := s.orders.WithTx(tx)
		paymentRepo := s.payments.WithTx(tx)

		order, err := orderRepo.FindByID(ctx, in.OrderID)
		if err != nil {
			return notFoundOr(err, "order")
		}
		payment, err := paymentRepo.FindByOrderID(ctx, in.OrderID)
		if err != nil {
			return notFoundOr(err, "payment")
		}
		res = Result{OrderStatus: order.Status, PaymentStatus: payment.Status}

		switch {
		case in.Meta.InvoiceID != "" && in.Meta.InvoiceID != payment.ExternalInvoiceID:
			res.Outcome = OutcomeConflict
			return nil
		case in.Observed == enums.PaymentStatusPending:
			res.Outcome = OutcomeIgnored
			return nil
		case in.Observed == payment.Status:
			res.Outcome = OutcomeNoop
			return nil
		case payment.Status.IsTerminal():
			res.Outcome = OutcomeConflict
			return nil
		}

		now := s.clock()
		settled, err := paymentRepo.SettleFromPending(ctx, payment.ID, settlementFor(in), now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "settle payment")
		}
		if !settled {
			res.Outcome = OutcomeNoop
			return nil
		}

		target, _ := in.Observed.OrderOutcome()
		moved, err := orderRepo.TransitionStatus(ctx, order.ID, enums.OrderStatusPendingPayment, target, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "advance order")
		}
		if !moved {
			return errOrderMoved
		}

		restocked := false
		if target == enums.OrderStatusCancelled && s.cfg.RestockOnCancel {
			productRepo := s.products.WithTx(tx)
			for _, item := range order.Items {
				if err := productRepo.IncrementStock(ctx, item.ProductID, item.Quantity); err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "restock cancelled order")
				}
			}
			restocked = len(order.Items) > 0
		}

		if err := s.outbox.Emit(ctx, tx, domainEvent(order, payment, in, now, restocked)); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "queue side effects")
		}

		res = Result{Outcome: OutcomeApplied, OrderStatus: target, PaymentStatus: in.Observed, Restocked: restocked}
		return nil
	})
	if errors.Is(err, errOrderMoved) {
		return s.currentState(ctx, in.OrderID, OutcomeConflict)
	}
	if err != nil {
		return Result{}, err
	}

	if res.Outcome == OutcomeNoop && res.PaymentStatus == enums.PaymentStatusPending {
		// Lost the conditional update; report what the winner wrote.
		return s.currentState(ctx, in.OrderID, OutcomeNoop)
	}
	return res, nil
}

func (s *Service) currentState(ctx context.Context, orderID uuid.UUID, outcome Outcome) (Result, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Result{}, notFoundOr(err, "order")
	}
	payment, err := s.payments.FindByOrderID(ctx, orderID)
	if err != nil {
		return Result{}, notFoundOr(err, "payment")
	}
	return Result{Outcome: outcome, OrderStatus: order.Status, PaymentStatus: payment.Status}, nil
}

func (s *Service) publish(orderID uuid.UUID, res Result, source enums.ReconcileSource) {
	if s.broker == nil {
		return
	}
	s.broker.Publish(broker.OrderTopic(orderID), broker.OrderStatusEvent{
		OrderID:       orderID,
		OrderStatus:   res.OrderStatus,
		PaymentStatus: res.PaymentStatus,
		Source:        source,
	})
}

func settlementFor(in Input) payments.Settlement {
	s := payments.Settlement{Status: in.Observed, PaidAt: in.Meta.PaidAt}
	if in.Meta.PaymentMethod != "" {
		method := in.Meta.PaymentMethod
		s.PaymentMethod = &method
	}
	return s
}

func domainEvent(order *models.Order, payment *models.Payment, in Input, now time.Time, restocked bool) outbox.DomainEvent {
	event := outbox.DomainEvent{
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         &outbox.ActorRef{Source: in.Meta.Source},
		OccurredAt:    now,
	}
	if in.Observed == enums.PaymentStatusPaid {
		paidAt := now
		if in.Meta.PaidAt != nil {
			paidAt = in.Meta.PaidAt.UTC()
		}
		event.EventType = enums.EventOrderPaid
		event.Data = payloads.OrderPaidEvent{
			OrderID:       order.ID,
			OrderNumber:   order.OrderNumber,
			BuyerID:       order.BuyerID,
			SellerID:      order.SellerID,
			PaymentID:     payment.ID,
			Amount:        payment.Amount,
			PaymentMethod: in.Meta.PaymentMethod,
			PaidAt:        paidAt,
			Source:        in.Meta.Source,
		}
		return event
	}
	event.EventType = enums.EventPaymentFailed
	event.Data = payloads.PaymentFailedEvent{
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		BuyerID:       order.BuyerID,
		SellerID:      order.SellerID,
		PaymentID:     payment.ID,
		PaymentStatus: in.Observed,
		CancelledAt:   now,
		Restocked:     restocked,
		Source:        in.Meta.Source,
	}
	return event
}

func notFoundOr(err error, what string) error {
	if db.IsNotFound(err) {
		return pkgerrors.New(pkgerrors.CodeNotFound, what+" not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load "+what)
}
