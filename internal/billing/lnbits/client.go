// Package lnbits is the payment gateway client for an LNbits wallet.
package lnbits

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"nip05d/internal/billing/models"
	"nip05d/pkg/platform/circuit"
)

var (
	// ErrCircuitOpen is returned without calling LNbits while the breaker is open.
	ErrCircuitOpen = errors.New("lnbits: circuit open")
	// ErrDisabled is returned by Disabled for every call.
	ErrDisabled = errors.New("lnbits: payments disabled")
)

const maxResponseBytes = 1 << 20

// Client talks to the LNbits payments API with an invoice/read key.
type Client struct {
	endpoint   string
	apiKey     string
	webhookURL string
	expiry     time.Duration
	http       *http.Client
	breaker    *circuit.Breaker
	logger     *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

// WithWebhookURL makes LNbits call back on settlement.
func WithWebhookURL(u string) Option {
	return func(c *Client) { c.webhookURL = u }
}

// WithInvoiceExpiry sets the expiry requested from LNbits.
func WithInvoiceExpiry(d time.Duration) Option {
	return func(c *Client) { c.expiry = d }
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(c *Client) { c.breaker = b }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func New(endpoint, apiKey string, opts ...Option) *Client {
	c := &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		expiry:   30 * time.Minute,
		http:     &http.Client{Timeout: 30 * time.Second},
		breaker:  circuit.New("lnbits"),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type createRequest struct {
	Out     bool   `json:"out"`
	Amount  int64  `json:"amount"`
	Memo    string `json:"memo"`
	Expiry  int64  `json:"expiry,omitempty"`
	Webhook string `json:"webhook,omitempty"`
}

type createResponse struct {
	PaymentHash    string `json:"payment_hash"`
	PaymentRequest string `json:"payment_request"`
	Bolt11         string `json:"bolt11"`
}

type statusResponse struct {
	Paid    bool  `json:"paid"`
	Amount  int64 `json:"amount"`
	Details *struct {
		Amount int64 `json:"amount"` // millisatoshis
	} `json:"details"`
}

// CreateInvoice creates an incoming invoice for amount satoshis.
func (c *Client) CreateInvoice(ctx context.Context, amount int64, memo string) (*models.GatewayInvoice, error) {
	body := createRequest{
		Out:     false,
		Amount:  amount,
		Memo:    memo,
		Expiry:  int64(c.expiry / time.Second),
		Webhook: c.webhookURL,
	}
	var resp createResponse
	status, err := c.do(ctx, http.MethodPost, "/api/v1/payments", body, &resp)
	if err != nil {
		return nil, err
	}
	if status != http.StatusCreated && status != http.StatusOK {
		return nil, c.fail(fmt.Errorf("lnbits: create invoice: unexpected status %d", status))
	}
	c.succeed()

	request := resp.PaymentRequest
	if request == "" {
		request = resp.Bolt11
	}
	if resp.PaymentHash == "" || request == "" {
		return nil, errors.New("lnbits: create invoice: incomplete response")
	}
	return &models.GatewayInvoice{PaymentHash: resp.PaymentHash, PaymentRequest: request, Amount: amount}, nil
}

// CheckSettlement reports whether paymentHash has been paid. LNbits answers 404
// for hashes it does not know, which is reported as unpaid.
func (c *Client) CheckSettlement(ctx context.Context, paymentHash string) (*models.Settlement, error) {
	var resp statusResponse
	status, err := c.do(ctx, http.MethodGet, "/api/v1/payments/"+url.PathEscape(paymentHash), nil, &resp)
	if err != nil {
		return nil, err
	}
	switch {
	case status == http.StatusNotFound:
		c.succeed()
		return &models.Settlement{Paid: false}, nil
	case status != http.StatusOK:
		return nil, c.fail(fmt.Errorf("lnbits: check payment: unexpected status %d", status))
	}
	c.succeed()

	amount := resp.Amount
	if resp.Details != nil && resp.Details.Amount != 0 {
		amount = resp.Details.Amount / 1000
	}
	if amount < 0 {
		amount = -amount
	}
	return &models.Settlement{Paid: resp.Paid, Amount: amount, AmountReported: amount != 0}, nil
}

// do sends one request. Transport failures are recorded on the breaker; the
// caller records the outcome for any status it receives.
func (c *Client) do(ctx context.Context, method, path string, in, out any) (int, error) {
	if !c.breaker.Allow() {
		return 0, ErrCircuitOpen
	}

	var reader io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("lnbits: marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reader)
	if err != nil {
		return 0, fmt.Errorf("lnbits: build request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, c.fail(fmt.Errorf("lnbits: %s %s: %w", method, path, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 && out != nil {
		if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
			return 0, c.fail(fmt.Errorf("lnbits: decode response: %w", err))
		}
		return resp.StatusCode, nil
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
	return resp.StatusCode, nil
}

func (c *Client) fail(err error) error {
	if _, change := c.breaker.RecordFailure(); change.Opened {
		c.logger.Warn("lnbits circuit opened", "error", err)
	}
	return err
}

func (c *Client) succeed() {
	if _, change := c.breaker.RecordSuccess(); change.Closed {
		c.logger.Info("lnbits circuit closed")
	}
}

// Disabled is the gateway used when payments are switched off.
type Disabled struct{}

func (Disabled) CreateInvoice(context.Context, int64, string) (*models.GatewayInvoice, error) {
	return nil, ErrDisabled
}

func (Disabled) CheckSettlement(context.Context, string) (*models.Settlement, error) {
	return nil, ErrDisabled
}
