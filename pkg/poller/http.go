package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-backend/pkg/enums"
)

// HTTPFetcher reads the payment-status endpoint of the API.
type HTTPFetcher struct {
	BaseURL     string
	AccessToken string
	OrderID     uuid.UUID
	Client      *http.Client
}

type statusEnvelope struct {
	Data struct {
		Order struct {
			Status enums.OrderStatus `json:"status"`
		} `json:"order"`
		Payment *struct {
			Status     enums.PaymentStatus `json:"status"`
			InvoiceURL string              `json:"invoiceUrl"`
		} `json:"payment"`
	} `json:"data"`
}

func (f *HTTPFetcher) Fetch(ctx context.Context) (Snapshot, error) {
	client := f.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	url := fmt.Sprintf("%s/api/v1/orders/%s/payment-status", strings.TrimRight(f.BaseURL, "/"), f.OrderID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Snapshot{}, err
	}
	req.Header.Set("Accept", "application/json")
	if f.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+f.AccessToken)
	}

	resp, err := client.Do(req)
	if err != nil {
		return Snapshot{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Snapshot{}, fmt.Errorf("status endpoint responded %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var env statusEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return Snapshot{}, fmt.Errorf("decode status response: %w", err)
	}
	snap := Snapshot{OrderStatus: env.Data.Order.Status}
	if env.Data.Payment != nil {
		snap.PaymentStatus = env.Data.Payment.Status
		snap.InvoiceURL = env.Data.Payment.InvoiceURL
	}
	return snap, nil
}
