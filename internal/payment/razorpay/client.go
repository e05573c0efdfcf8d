// Package razorpay is a minimal client for the Razorpay Orders API.
package razorpay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	// DefaultBaseURL is the production API endpoint.
	DefaultBaseURL = "https://api.razorpay.com"
	// CurrencyINR is the only currency the storefront charges in.
	CurrencyINR = "INR"
	// DirectPurchase is the cartId note sent when no cart is attached.
	DirectPurchase = "direct_purchase"
)

// ErrCreateOrder is returned when the gateway refuses or cannot be reached.
var ErrCreateOrder = errors.New("failed to create payment order")

// Config holds the gateway credentials.
type Config struct {
	KeyID     string        `yaml:"key_id"`
	KeySecret string        `yaml:"key_secret"`
	BaseURL   string        `yaml:"base_url" default:"https://api.razorpay.com"`
	Currency  string        `yaml:"currency" default:"INR"`
	Timeout   time.Duration `yaml:"timeout" default:"10s"`
}

// Notes is the free-form key/value map attached to an order. The API sends
// an empty JSON array instead of an empty object.
type Notes map[string]string

// UnmarshalJSON accepts both an object and an empty array.
func (n *Notes) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("[]")) || bytes.Equal(trimmed, []byte("null")) {
		*n = Notes{}
		return nil
	}
	m := map[string]string{}
	if err := json.Unmarshal(trimmed, &m); err != nil {
		return err
	}
	*n = m
	return nil
}

// Order is a gateway order.
type Order struct {
	ID         string `json:"id"`
	Entity     string `json:"entity"`
	Amount     int64  `json:"amount"`
	AmountPaid int64  `json:"amount_paid"`
	AmountDue  int64  `json:"amount_due"`
	Currency   string `json:"currency"`
	Receipt    string `json:"receipt,omitempty"`
	Status     string `json:"status"`
	Attempts   int    `json:"attempts"`
	Notes      Notes  `json:"notes"`
	CreatedAt  int64  `json:"created_at"`
}

type createOrderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Notes    map[string]string `json:"notes,omitempty"`
}

type apiError struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// Client talks to the Orders API.
type Client struct {
	cfg  Config
	http *http.Client
}

// NewClient creates a client. Requests are traced through otelhttp with the
// given options.
func NewClient(cfg Config, opts ...otelhttp.Option) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Currency == "" {
		cfg.Currency = CurrencyINR
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport, opts...),
		},
	}
}

// KeyID is the public key the payment widget is opened with.
func (c *Client) KeyID() string { return c.cfg.KeyID }

// Currency is the charge currency.
func (c *Client) Currency() string { return c.cfg.Currency }

// VerifySignature checks a payment callback against the client's secret.
func (c *Client) VerifySignature(orderID, paymentID, signature string) bool {
	return VerifySignature(c.cfg.KeySecret, orderID, paymentID, signature)
}

// CreateOrder registers an order for amount minor units (paise). Failures
// are not retried.
func (c *Client) CreateOrder(ctx context.Context, amount int64, notes map[string]string) (*Order, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive, got %d", ErrCreateOrder, amount)
	}

	body, err := json.Marshal(createOrderRequest{
		Amount:   amount,
		Currency: c.cfg.Currency,
		Notes:    notes,
	})
	if err != nil {
		return nil, errors.Wrap(err, "encode order request")
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/v1/orders"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build order request")
	}
	req.SetBasicAuth(c.cfg.KeyID, c.cfg.KeySecret)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCreateOrder, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", ErrCreateOrder, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr apiError
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error.Description != "" {
			return nil, fmt.Errorf("%w: status %d: %s: %s",
				ErrCreateOrder, resp.StatusCode, apiErr.Error.Code, apiErr.Error.Description)
		}
		return nil, fmt.Errorf("%w: status %d", ErrCreateOrder, resp.StatusCode)
	}

	var o Order
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", ErrCreateOrder, err)
	}
	if o.ID == "" {
		return nil, fmt.Errorf("%w: response without order id", ErrCreateOrder)
	}
	return &o, nil
}
