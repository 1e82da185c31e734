package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marketplace-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
	"github.com/angelmondragon/marketplace-backend/pkg/metrics"
)

const (
	defaultTimeout        = 15 * time.Second
	errorBodyReadLimit    = 4096
	operationCreate       = "create_invoice"
	operationGet          = "get_invoice"
	outcomeOK             = "ok"
	outcomeError          = "error"
	invoicesPath          = "/v2/invoices"
	defaultInvoiceTimeout = 24 * time.Hour
)

var errSecretKeyRequired = errors.New("gateway secret key is required")

// CreateInvoiceRequest opens a hosted invoice for one order.
type CreateInvoiceRequest struct {
	ExternalID         string
	Amount             int64
	Description        string
	Duration           time.Duration
	SuccessRedirectURL string
	FailureRedirectURL string
}

// Invoice is the normalized gateway invoice.
type Invoice struct {
	ID            string
	ExternalID    string
	Status        Status
	Amount        int64
	InvoiceURL    string
	ExpiresAt     time.Time
	PaidAt        *time.Time
	PaymentMethod string
}

// APIError is a non-2xx gateway response.
type APIError struct {
	StatusCode int
	ErrorCode  string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway responded %d %s: %s", e.StatusCode, e.ErrorCode, e.Message)
}

// Retryable reports whether the request may succeed if repeated.
func (e *APIError) Retryable() bool {
	return e.StatusCode >= http.StatusInternalServerError || e.StatusCode == http.StatusTooManyRequests
}

// Client talks to the hosted-invoice payment gateway.
type Client struct {
	httpClient *http.Client
	baseURL    string
	secretKey  string
	metrics    *metrics.GatewayMetrics
	now        func() time.Time
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the configured base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/"); trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// WithMetrics records request latency.
func WithMetrics(m *metrics.GatewayMetrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// NewClient builds a gateway client from configuration.
func NewClient(cfg config.GatewayConfig, opts ...Option) (*Client, error) {
	secret := strings.TrimSpace(cfg.SecretKey)
	if secret == "" {
		return nil, errSecretKeyRequired
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		secretKey:  secret,
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	if client.baseURL == "" {
		return nil, errors.New("gateway base url is required")
	}
	if _, err := url.ParseRequestURI(client.baseURL); err != nil {
		return nil, fmt.Errorf("gateway base url: %w", err)
	}
	return client, nil
}

type createInvoicePayload struct {
	ExternalID         string      `json:"external_id"`
	Amount             json.Number `json:"amount"`
	Description        string      `json:"description,omitempty"`
	InvoiceDuration    int64       `json:"invoice_duration"`
	SuccessRedirectURL string      `json:"success_redirect_url,omitempty"`
	FailureRedirectURL string      `json:"failure_redirect_url,omitempty"`
}

type invoiceResponse struct {
	ID            string          `json:"id"`
	ExternalID    string          `json:"external_id"`
	Status        string          `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	InvoiceURL    string          `json:"invoice_url"`
	ExpiryDate    time.Time       `json:"expiry_date"`
	PaidAt        *time.Time      `json:"paid_at"`
	PaymentMethod string          `json:"payment_method"`
}

type errorResponse struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

// CreateInvoice opens an invoice. Errors carry pkgerrors.CodeGateway.
func (c *Client) CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (*Invoice, error) {
	if strings.TrimSpace(req.ExternalID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invoice external id is required")
	}
	if req.Amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invoice amount must be positive")
	}
	duration := req.Duration
	if duration <= 0 {
		duration = defaultInvoiceTimeout
	}
	payload := createInvoicePayload{
		ExternalID:         req.ExternalID,
		Amount:             json.Number(decimal.NewFromInt(req.Amount).String()),
		Description:        req.Description,
		InvoiceDuration:    int64(duration / time.Second),
		SuccessRedirectURL: req.SuccessRedirectURL,
		FailureRedirectURL: req.FailureRedirectURL,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeGateway, err, "marshal invoice request")
	}

	invoice, err := c.do(ctx, operationCreate, http.MethodPost, invoicesPath, body)
	if err != nil {
		return nil, err
	}
	if invoice.ExpiresAt.IsZero() {
		invoice.ExpiresAt = c.now().UTC().Add(duration)
	}
	return invoice, nil
}

// GetInvoice fetches the gateway's current view of an invoice.
func (c *Client) GetInvoice(ctx context.Context, invoiceID string) (*Invoice, error) {
	invoiceID = strings.TrimSpace(invoiceID)
	if invoiceID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invoice id is required")
	}
	return c.do(ctx, operationGet, http.MethodGet, invoicesPath+"/"+url.PathEscape(invoiceID), nil)
}

func (c *Client) do(ctx context.Context, operation, method, path string, body []byte) (*Invoice, error) {
	started := time.Now()
	invoice, err := c.roundTrip(ctx, method, path, body)
	outcome := outcomeOK
	if err != nil {
		outcome = outcomeError
	}
	c.metrics.Observe(operation, outcome, time.Since(started))
	return invoice, err
}

func (c *Client) roundTrip(ctx context.Context, method, path string, body []byte) (*Invoice, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeGateway, err, "build gateway request")
	}
	httpReq.SetBasicAuth(c.secretKey, "")
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeGateway, err, "execute gateway request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, decodeAPIError(resp)
	}

	var decoded invoiceResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeGateway, err, "decode gateway response")
	}
	if decoded.ID == "" || decoded.InvoiceURL == "" {
		return nil, pkgerrors.New(pkgerrors.CodeGateway, "gateway response missing invoice id or url")
	}

	invoice := &Invoice{
		ID:            decoded.ID,
		ExternalID:    decoded.ExternalID,
		Status:        Status(strings.ToUpper(decoded.Status)),
		Amount:        decoded.Amount.IntPart(),
		InvoiceURL:    decoded.InvoiceURL,
		ExpiresAt:     decoded.ExpiryDate.UTC(),
		PaymentMethod: decoded.PaymentMethod,
	}
	if decoded.PaidAt != nil {
		paidAt := decoded.PaidAt.UTC()
		invoice.PaidAt = &paidAt
	}
	return invoice, nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyReadLimit))
	var decoded errorResponse
	if err := json.Unmarshal(raw, &decoded); err == nil {
		apiErr.ErrorCode = decoded.ErrorCode
		apiErr.Message = decoded.Message
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	if resp.StatusCode == http.StatusNotFound {
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, apiErr, "invoice not found at gateway")
	}
	return pkgerrors.Wrap(pkgerrors.CodeGateway, apiErr, "gateway request failed")
}
