package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/marketplace-backend/internal/reconcile"
	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	"github.com/angelmondragon/marketplace-backend/pkg/gateway"
	"github.com/angelmondragon/marketplace-backend/pkg/logger"
	"github.com/angelmondragon/marketplace-backend/pkg/metrics"
)

const (
	PaymentSyncJobName   = "payment-sync"
	PaymentExpiryJobName = "payment-expiry"

	defaultSyncMinAge  = 2 * time.Minute
	defaultSyncBatch   = 100
	defaultExpiryBatch = 200
)

type pendingPayments interface {
	ListPendingCreatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Payment, error)
	ListPendingExpiredBefore(ctx context.Context, now time.Time, limit int) ([]models.Payment, error)
}

type invoiceGetter interface {
	GetInvoice(ctx context.Context, invoiceID string) (*gateway.Invoice, error)
}

type reconciler interface {
	Reconcile(ctx context.Context, in reconcile.Input) (reconcile.Result, error)
}

type PaymentSyncJobParams struct {
	Logger     *logger.Logger
	Payments   pendingPayments
	Gateway    invoiceGetter
	Reconciler reconciler
	Metrics    *metrics.CronJobMetrics
	MinAge     time.Duration
	BatchSize  int
}

// NewPaymentSyncJob pulls the gateway for payments that stayed PENDING past
// MinAge, covering webhooks that never arrived.
func NewPaymentSyncJob(params PaymentSyncJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	case params.Payments == nil:
		return nil, fmt.Errorf("payments repository required")
	case params.Gateway == nil:
		return nil, fmt.Errorf("gateway client required")
	case params.Reconciler == nil:
		return nil, fmt.Errorf("reconciler required")
	}
	if params.MinAge <= 0 {
		params.MinAge = defaultSyncMinAge
	}
	if params.BatchSize <= 0 {
		params.BatchSize = defaultSyncBatch
	}
	return &paymentSyncJob{
		logg:       params.Logger,
		payments:   params.Payments,
		gateway:    params.Gateway,
		reconciler: params.Reconciler,
		metrics:    params.Metrics,
		minAge:     params.MinAge,
		batch:      params.BatchSize,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

type paymentSyncJob struct {
	logg       *logger.Logger
	payments   pendingPayments
	gateway    invoiceGetter
	reconciler reconciler
	metrics    *metrics.CronJobMetrics
	minAge     time.Duration
	batch      int
	now        func() time.Time
}

func (j *paymentSyncJob) Name() string { return PaymentSyncJobName }

func (j *paymentSyncJob) Run(ctx context.Context) error {
	cutoff := j.now().Add(-j.minAge)
	rows, err := j.payments.ListPendingCreatedBefore(ctx, cutoff, j.batch)
	if err != nil {
		return fmt.Errorf("list pending payments: %w", err)
	}

	tally := outcomeTally{}
	var errs error
	for _, p := range rows {
		if ctx.Err() != nil {
			return multierr.Append(errs, ctx.Err())
		}
		inv, err := j.gateway.GetInvoice(ctx, p.ExternalInvoiceID)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("order %s: get invoice: %w", p.OrderID, err))
			continue
		}
		in, err := reconcile.InputFromInvoice(p.OrderID, inv, enums.SourceSync)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("order %s: %w", p.OrderID, err))
			continue
		}
		res, err := j.reconciler.Reconcile(ctx, in)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("order %s: reconcile: %w", p.OrderID, err))
			continue
		}
		tally.add(res.Outcome)
	}

	j.metrics.AddProcessed(PaymentSyncJobName, tally[reconcile.OutcomeApplied])
	j.logg.Info(j.logg.WithFields(ctx, tally.fields(len(rows), errs)), "payment sync complete")
	return errs
}

type PaymentExpiryJobParams struct {
	Logger     *logger.Logger
	Payments   pendingPayments
	Gateway    invoiceGetter
	Reconciler reconciler
	Metrics    *metrics.CronJobMetrics
	Grace      time.Duration
	BatchSize  int
}

// NewPaymentExpiryJob cancels orders whose invoice window closed more than
// Grace ago. When a gateway client is set the invoice is checked first so a
// late PAID wins over local expiry.
func NewPaymentExpiryJob(params PaymentExpiryJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	case params.Payments == nil:
		return nil, fmt.Errorf("payments repository required")
	case params.Reconciler == nil:
		return nil, fmt.Errorf("reconciler required")
	}
	if params.Grace < 0 {
		params.Grace = 0
	}
	if params.BatchSize <= 0 {
		params.BatchSize = defaultExpiryBatch
	}
	return &paymentExpiryJob{
		logg:       params.Logger,
		payments:   params.Payments,
		gateway:    params.Gateway,
		reconciler: params.Reconciler,
		metrics:    params.Metrics,
		grace:      params.Grace,
		batch:      params.BatchSize,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

type paymentExpiryJob struct {
	logg       *logger.Logger
	payments   pendingPayments
	gateway    invoiceGetter
	reconciler reconciler
	metrics    *metrics.CronJobMetrics
	grace      time.Duration
	batch      int
	now        func() time.Time
}

func (j *paymentExpiryJob) Name() string { return PaymentExpiryJobName }

func (j *paymentExpiryJob) Run(ctx context.Context) error {
	rows, err := j.payments.ListPendingExpiredBefore(ctx, j.now().Add(-j.grace), j.batch)
	if err != nil {
		return fmt.Errorf("list expired payments: %w", err)
	}

	tally := outcomeTally{}
	var errs error
	for _, p := range rows {
		if ctx.Err() != nil {
			return multierr.Append(errs, ctx.Err())
		}
		in, err := j.expiryInput(ctx, p)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("order %s: %w", p.OrderID, err))
			continue
		}
		res, err := j.reconciler.Reconcile(ctx, in)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("order %s: reconcile: %w", p.OrderID, err))
			continue
		}
		tally.add(res.Outcome)
	}

	j.metrics.AddProcessed(PaymentExpiryJobName, tally[reconcile.OutcomeApplied])
	j.logg.Info(j.logg.WithFields(ctx, tally.fields(len(rows), errs)), "payment expiry complete")
	return errs
}

// expiryInput prefers a terminal status reported by the gateway and falls
// back to EXPIRED while the gateway still says PENDING.
func (j *paymentExpiryJob) expiryInput(ctx context.Context, p models.Payment) (reconcile.Input, error) {
	expired := reconcile.Input{
		OrderID:  p.OrderID,
		Observed: enums.PaymentStatusExpired,
		Meta:     reconcile.Meta{InvoiceID: p.ExternalInvoiceID, Source: enums.SourceExpiry},
	}
	if j.gateway == nil {
		return expired, nil
	}
	inv, err := j.gateway.GetInvoice(ctx, p.ExternalInvoiceID)
	if err != nil {
		return reconcile.Input{}, fmt.Errorf("get invoice: %w", err)
	}
	in, err := reconcile.InputFromInvoice(p.OrderID, inv, enums.SourceExpiry)
	if err != nil {
		return reconcile.Input{}, err
	}
	if !in.Observed.IsTerminal() {
		return expired, nil
	}
	return in, nil
}

type outcomeTally map[reconcile.Outcome]int

func (t outcomeTally) add(o reconcile.Outcome) { t[o]++ }

func (t outcomeTally) fields(scanned int, errs error) map[string]any {
	fields := map[string]any{
		"scanned":  scanned,
		"applied":  t[reconcile.OutcomeApplied],
		"noop":     t[reconcile.OutcomeNoop],
		"ignored":  t[reconcile.OutcomeIgnored],
		"conflict": t[reconcile.OutcomeConflict],
	}
	if n := len(multierr.Errors(errs)); n > 0 {
		fields["failed"] = n
	}
	return fields
}
