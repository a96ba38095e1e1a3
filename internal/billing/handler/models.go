package handler

import (
	"strings"
	"time"

	"nip05d/internal/billing/models"
	billingservice "nip05d/internal/billing/service"
	dErrors "nip05d/pkg/domain-errors"
)

// CreateInvoiceRequest accepts both the current field names and the legacy
// npub / subscription_type pair.
type CreateInvoiceRequest struct {
	Pubkey           string `json:"pubkey"`
	Npub             string `json:"npub"`
	Username         string `json:"username"`
	Plan             string `json:"plan"`
	SubscriptionType string `json:"subscription_type"`
}

func (r *CreateInvoiceRequest) Prepare() error {
	if r.Pubkey == "" {
		r.Pubkey = r.Npub
	}
	if r.Plan == "" {
		r.Plan = r.SubscriptionType
	}
	if strings.TrimSpace(r.Pubkey) == "" {
		return dErrors.New(dErrors.CodeValidation, "pubkey is required")
	}
	if strings.TrimSpace(r.Username) == "" {
		return dErrors.New(dErrors.CodeValidation, "username is required")
	}
	return nil
}

type InvoiceResponse struct {
	PaymentHash    string    `json:"payment_hash"`
	PaymentRequest string    `json:"payment_request"`
	AmountSats     int64     `json:"amount_sats"`
	Username       string    `json:"username"`
	Plan           string    `json:"plan"`
	ExpiresAt      time.Time `json:"expires_at"`
}

func toInvoiceResponse(p *billingservice.Payable) *InvoiceResponse {
	return &InvoiceResponse{
		PaymentHash:    p.PaymentHash,
		PaymentRequest: p.PaymentRequest,
		AmountSats:     p.Amount,
		Username:       p.Name,
		Plan:           string(p.Plan),
		ExpiresAt:      p.ExpiresAt,
	}
}

type InvoiceStatusResponse struct {
	PaymentHash string     `json:"payment_hash"`
	Status      string     `json:"status"`
	Username    string     `json:"username"`
	AmountSats  int64      `json:"amount_sats"`
	ExpiresAt   time.Time  `json:"expires_at"`
	PaidAt      *time.Time `json:"paid_at,omitempty"`
}

func toStatusResponse(inv *models.Invoice) *InvoiceStatusResponse {
	return &InvoiceStatusResponse{
		PaymentHash: inv.PaymentHash,
		Status:      string(inv.Status),
		Username:    inv.Name,
		AmountSats:  inv.Amount,
		ExpiresAt:   inv.ExpiresAt,
		PaidAt:      inv.PaidAt,
	}
}

type WebhookRequest struct {
	PaymentHash string `json:"payment_hash"`
	Paid        bool   `json:"paid"`
	Amount      int64  `json:"amount"`
}

type WebhookResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}
