// Package poller drives the client-side payment status fallback: it asks the
// status endpoint on a fixed interval until the payment reaches a terminal state.
package poller

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	"github.com/angelmondragon/marketplace-backend/pkg/logger"
)

// DefaultInterval matches the browser payment page.
const DefaultInterval = 5 * time.Second

// Snapshot is one observation of the order/payment projection.
type Snapshot struct {
	OrderStatus   enums.OrderStatus
	PaymentStatus enums.PaymentStatus
	InvoiceURL    string
}

// Terminal reports whether polling can stop.
func (s Snapshot) Terminal() bool {
	return s.PaymentStatus.IsTerminal()
}

// Fetcher returns the current projection.
type Fetcher interface {
	Fetch(ctx context.Context) (Snapshot, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context) (Snapshot, error)

func (f FetcherFunc) Fetch(ctx context.Context) (Snapshot, error) {
	return f(ctx)
}

type Options struct {
	Interval   time.Duration
	OnSnapshot func(Snapshot)
	OnError    func(error)
	Logger     *logger.Logger
}

type Poller struct {
	fetcher    Fetcher
	interval   time.Duration
	onSnapshot func(Snapshot)
	onError    func(error)
	logg       *logger.Logger
}

func New(fetcher Fetcher, opts Options) (*Poller, error) {
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	logg := opts.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &Poller{
		fetcher:    fetcher,
		interval:   interval,
		onSnapshot: opts.OnSnapshot,
		onError:    opts.OnError,
		logg:       logg,
	}, nil
}

// Run fetches immediately and then once per interval. It returns the terminal
// snapshot, or the last one seen together with ctx.Err() when cancelled. Fetch
// errors are reported to OnError and retried on the next tick.
func (p *Poller) Run(ctx context.Context) (Snapshot, error) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var last Snapshot
	for {
		snap, err := p.fetcher.Fetch(ctx)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return last, ctx.Err()
			}
			p.logg.Warn(p.logg.WithField(ctx, "error", err.Error()), "payment status poll failed")
			if p.onError != nil {
				p.onError(err)
			}
		default:
			last = snap
			if p.onSnapshot != nil {
				p.onSnapshot(snap)
			}
			if snap.Terminal() {
				return snap, nil
			}
		}

		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-ticker.C:
		}
	}
}
