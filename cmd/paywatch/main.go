// Command paywatch follows one order's payment from the buyer's side by
// polling the payment-status endpoint until the payment settles.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/angelmondragon/marketplace-backend/pkg/auth"
	"github.com/angelmondragon/marketplace-backend/pkg/config"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	"github.com/angelmondragon/marketplace-backend/pkg/logger"
	"github.com/angelmondragon/marketplace-backend/pkg/poller"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "paywatch"})
	_ = godotenv.Load()

	baseURL := flag.String("base-url", "http://localhost:8080", "api base url")
	orderFlag := flag.String("order", "", "order id to watch")
	userFlag := flag.String("user", "", "buyer id the token is minted for")
	timeout := flag.Duration("timeout", 30*time.Minute, "give up after this long")
	flag.Parse()

	orderID, err := uuid.Parse(*orderFlag)
	if err != nil {
		logg.Error(context.Background(), "invalid -order", err)
		os.Exit(2)
	}
	userID, err := uuid.Parse(*userFlag)
	if err != nil {
		logg.Error(context.Background(), "invalid -user", err)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	token, err := auth.MintAccessToken(cfg.JWT, time.Now(), auth.AccessTokenPayload{UserID: userID, Role: enums.RoleBuyer})
	if err != nil {
		logg.Error(context.Background(), "failed to mint access token", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()
	ctx = logg.WithOrderID(ctx, orderID.String())

	var last poller.Snapshot
	p, err := poller.New(&poller.HTTPFetcher{
		BaseURL:     *baseURL,
		AccessToken: token,
		OrderID:     orderID,
		Client:      &http.Client{Timeout: 10 * time.Second},
	}, poller.Options{
		Interval: cfg.Poller.Interval,
		Logger:   logg,
		OnSnapshot: func(s poller.Snapshot) {
			if s != last {
				logg.Info(logg.WithFields(ctx, snapshotFields(s)), "payment status")
				last = s
			}
		},
	})
	if err != nil {
		logg.Error(ctx, "failed to create poller", err)
		os.Exit(1)
	}

	final, err := p.Run(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			logg.Warn(logg.WithFields(ctx, snapshotFields(final)), "gave up waiting for payment")
		}
		os.Exit(1)
	}
	fmt.Println(final.PaymentStatus)
	if final.PaymentStatus != enums.PaymentStatusPaid {
		os.Exit(3)
	}
}

func snapshotFields(s poller.Snapshot) map[string]any {
	return map[string]any{
		"order_status":   s.OrderStatus,
		"payment_status": s.PaymentStatus,
		"invoice_url":    s.InvoiceURL,
	}
}
