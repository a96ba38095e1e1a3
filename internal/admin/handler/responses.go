package handler

import (
	"time"

	billingservice "nip05d/internal/billing/service"
	identity "nip05d/internal/identity/models"
)

// UserResponse is the operator view of one registration.
type UserResponse struct {
	ID           string     `json:"id"`
	Pubkey       string     `json:"pubkey"`
	Npub         string     `json:"npub"`
	Username     string     `json:"username"`
	Status       string     `json:"status"`
	Active       bool       `json:"active"`
	Plan         string     `json:"plan"`
	ExpiresAt    *time.Time `json:"expires_at"`
	ManualName   bool       `json:"manual_name"`
	Note         string     `json:"note,omitempty"`
	LastSyncedAt *time.Time `json:"last_synced_at"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

type UsersListResponse struct {
	Users []*UserResponse `json:"users"`
	Total int             `json:"total"`
}

type InvoiceResponse struct {
	PaymentHash string `json:"payment_hash"`
	Status      string `json:"status"`
	Changed     bool   `json:"changed"`
}

func toUserResponse(reg *identity.Registration) *UserResponse {
	return &UserResponse{
		ID:           reg.ID.String(),
		Pubkey:       reg.IdentityKey.String(),
		Npub:         reg.IdentityKey.Npub(),
		Username:     reg.Name,
		Status:       string(reg.Status),
		Active:       reg.IsActive(),
		Plan:         string(reg.Plan),
		ExpiresAt:    reg.ExpiresAt,
		ManualName:   reg.ManualName,
		Note:         reg.Note,
		LastSyncedAt: reg.LastSyncedAt,
		CreatedAt:    reg.CreatedAt,
		UpdatedAt:    reg.UpdatedAt,
	}
}

func toUsersList(regs []*identity.Registration) *UsersListResponse {
	users := make([]*UserResponse, 0, len(regs))
	for _, reg := range regs {
		users = append(users, toUserResponse(reg))
	}
	return &UsersListResponse{Users: users, Total: len(users)}
}

func toInvoiceResponse(o *billingservice.Outcome) *InvoiceResponse {
	return &InvoiceResponse{
		PaymentHash: o.PaymentHash,
		Status:      string(o.Status),
		Changed:     o.Changed,
	}
}
