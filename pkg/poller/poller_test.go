package poller

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-backend/pkg/enums"
)

func TestRunStopsOnTerminalStatus(t *testing.T) {
	var calls int32
	fetcher := FetcherFunc(func(context.Context) (Snapshot, error) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			return Snapshot{OrderStatus: enums.OrderStatusPendingPayment, PaymentStatus: enums.PaymentStatusPending}, nil
		}
		return Snapshot{OrderStatus: enums.OrderStatusPaid, PaymentStatus: enums.PaymentStatusPaid}, nil
	})

	var seen []Snapshot
	p, err := New(fetcher, Options{Interval: 5 * time.Millisecond, OnSnapshot: func(s Snapshot) { seen = append(seen, s) }})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	final, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if final.PaymentStatus != enums.PaymentStatusPaid {
		t.Fatalf("unexpected final snapshot %+v", final)
	}
	if atomic.LoadInt32(&calls) != 3 || len(seen) != 3 {
		t.Fatalf("expected 3 polls, got %d calls / %d snapshots", calls, len(seen))
	}
}

func TestRunSwallowsTransientErrors(t *testing.T) {
	var calls int32
	var errs int32
	fetcher := FetcherFunc(func(context.Context) (Snapshot, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return Snapshot{}, errors.New("gateway timeout")
		}
		return Snapshot{PaymentStatus: enums.PaymentStatusExpired, OrderStatus: enums.OrderStatusCancelled}, nil
	})
	p, _ := New(fetcher, Options{Interval: time.Millisecond, OnError: func(error) { atomic.AddInt32(&errs, 1) }})

	final, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if final.PaymentStatus != enums.PaymentStatusExpired || errs != 1 {
		t.Fatalf("expected recovery after one error, final=%+v errs=%d", final, errs)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	fetcher := FetcherFunc(func(context.Context) (Snapshot, error) {
		return Snapshot{PaymentStatus: enums.PaymentStatusPending}, nil
	})
	p, _ := New(fetcher, Options{Interval: time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	last, err := p.Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if last.PaymentStatus != enums.PaymentStatusPending {
		t.Fatalf("expected last pending snapshot, got %+v", last)
	}
}

func TestNewDefaults(t *testing.T) {
	if _, err := New(nil, Options{}); err == nil {
		t.Fatalf("expected fetcher error")
	}
	p, _ := New(FetcherFunc(func(context.Context) (Snapshot, error) { return Snapshot{}, nil }), Options{})
	if p.interval != DefaultInterval {
		t.Fatalf("expected default interval, got %s", p.interval)
	}
}

func TestHTTPFetcherDecodesProjection(t *testing.T) {
	orderID := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/orders/"+orderID.String()+"/payment-status" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("missing bearer token")
		}
		_, _ = w.Write([]byte(`{"data":{"order":{"status":"PAID"},"payment":{"status":"PAID","invoiceUrl":"https://pay.example/i"}}}`))
	}))
	defer srv.Close()

	f := &HTTPFetcher{BaseURL: srv.URL + "/", AccessToken: "tok", OrderID: orderID}
	snap, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if snap.OrderStatus != enums.OrderStatusPaid || snap.PaymentStatus != enums.PaymentStatusPaid || snap.InvoiceURL == "" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestHTTPFetcherSurfacesHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := &HTTPFetcher{BaseURL: srv.URL, OrderID: uuid.New()}
	if _, err := f.Fetch(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
}
