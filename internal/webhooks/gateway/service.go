// Package gatewaywebhook verifies and applies payment gateway callbacks.
package gatewaywebhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/angelmondragon/marketplace-backend/internal/reconcile"
	"github.com/angelmondragon/marketplace-backend/pkg/db"
	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
	"github.com/angelmondragon/marketplace-backend/pkg/gateway"
	"github.com/angelmondragon/marketplace-backend/pkg/logger"
)

// Payload is the callback body the gateway signs.
type Payload struct {
	ID            string     `json:"id"`
	ExternalID    string     `json:"external_id"`
	Status        string     `json:"status"`
	PaymentMethod string     `json:"payment_method"`
	PaidAt        *time.Time `json:"paid_at"`
}

// Event is a verified, translated callback.
type Event struct {
	Payload
	Observed enums.PaymentStatus
}

// DedupKey identifies one delivery; the same invoice legitimately reports
// several statuses over its life.
func (e Event) DedupKey() string {
	return e.ID + ":" + string(e.Observed)
}

type orderLookup interface {
	FindByOrderNumber(ctx context.Context, orderNumber string) (*models.Order, error)
}

type reconciler interface {
	Reconcile(ctx context.Context, in reconcile.Input) (reconcile.Result, error)
}

type guard interface {
	CheckAndMark(ctx context.Context, id string) (bool, error)
	Release(ctx context.Context, id string) error
}

type ServiceParams struct {
	Secret     string
	Orders     orderLookup
	Reconciler reconciler
	Guard      guard
	Logger     *logger.Logger
}

type Service struct {
	secret     string
	orders     orderLookup
	reconciler reconciler
	guard      guard
	logg       *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if strings.TrimSpace(params.Secret) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "webhook secret required")
	}
	if params.Orders == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "order lookup required")
	}
	if params.Reconciler == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "reconciler required")
	}
	if params.Guard == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "idempotency guard required")
	}
	if params.Logger == nil {
		params.Logger = logger.Nop()
	}
	return &Service{
		secret:     params.Secret,
		orders:     params.Orders,
		reconciler: params.Reconciler,
		guard:      params.Guard,
		logg:       params.Logger,
	}, nil
}

// Outcome summarizes a handled delivery.
type Outcome struct {
	Duplicate bool
	Result    reconcile.Result
}

// Handle verifies the signature over the raw body before anything else is
// parsed, then reconciles the order. Any failure after the idempotency mark
// releases it so the gateway's retry is processed.
func (s *Service) Handle(ctx context.Context, body []byte, signature string) (Outcome, error) {
	if !gateway.VerifySignature(body, s.secret, signature) {
		s.logg.Warn(s.logg.WithField(ctx, "signature_present", signature != ""), "webhook signature rejected")
		return Outcome{}, pkgerrors.New(pkgerrors.CodeInvalidSignature, "invalid webhook signature")
	}

	event, err := Decode(body)
	if err != nil {
		return Outcome{}, err
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"invoice_id":   event.ID,
		"order_number": event.ExternalID,
		"observed":     string(event.Observed),
	})

	dup, err := s.guard.CheckAndMark(ctx, event.DedupKey())
	if err != nil {
		return Outcome{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check webhook idempotency")
	}
	if dup {
		s.logg.Info(ctx, "duplicate webhook delivery skipped")
		return Outcome{Duplicate: true}, nil
	}

	res, err := s.apply(ctx, event)
	if err != nil {
		if releaseErr := s.guard.Release(ctx, event.DedupKey()); releaseErr != nil {
			s.logg.Error(ctx, "failed to release webhook idempotency key", releaseErr)
		}
		return Outcome{}, err
	}
	return Outcome{Result: res}, nil
}

func (s *Service) apply(ctx context.Context, event Event) (reconcile.Result, error) {
	order, err := s.orders.FindByOrderNumber(ctx, event.ExternalID)
	if err != nil {
		if db.IsNotFound(err) {
			return reconcile.Result{}, pkgerrors.New(pkgerrors.CodeValidation, "unknown order").
				WithDetails(map[string]any{"external_id": event.ExternalID})
		}
		return reconcile.Result{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}

	res, err := s.reconciler.Reconcile(ctx, reconcile.Input{
		OrderID:  order.ID,
		Observed: event.Observed,
		Meta: reconcile.Meta{
			InvoiceID:     event.ID,
			PaymentMethod: event.PaymentMethod,
			PaidAt:        event.PaidAt,
			Source:        enums.SourceWebhook,
		},
	})
	if err != nil {
		if pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
			return res, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "order has no payment").
				WithDetails(map[string]any{"order_id": order.ID})
		}
		return res, err
	}
	return res, nil
}

// Decode parses and validates a callback body, translating the gateway
// status through the fixed table.
func Decode(body []byte) (Event, error) {
	var p Payload
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&p); err != nil {
		return Event{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed webhook body")
	}
	p.ID = strings.TrimSpace(p.ID)
	p.ExternalID = strings.TrimSpace(p.ExternalID)

	missing := []string{}
	if p.ID == "" {
		missing = append(missing, "id")
	}
	if p.ExternalID == "" {
		missing = append(missing, "external_id")
	}
	if strings.TrimSpace(p.Status) == "" {
		missing = append(missing, "status")
	}
	if len(missing) > 0 {
		return Event{}, pkgerrors.New(pkgerrors.CodeValidation, "webhook body missing fields").
			WithDetails(map[string]any{"missing": missing})
	}

	observed, err := gateway.Translate(p.Status)
	if err != nil {
		if errors.Is(err, gateway.ErrUnknownStatus) {
			return Event{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unsupported payment status").
				WithDetails(map[string]any{"status": p.Status})
		}
		return Event{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "translate status")
	}
	return Event{Payload: p, Observed: observed}, nil
}
