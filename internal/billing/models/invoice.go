package models

import (
	"time"

	"github.com/google/uuid"

	identity "nip05d/internal/identity/models"
)

type InvoiceStatus string

const (
	InvoiceUnpaid    InvoiceStatus = "unpaid"
	InvoicePaid      InvoiceStatus = "paid"
	InvoiceExpired   InvoiceStatus = "expired"
	InvoiceCancelled InvoiceStatus = "cancelled"
)

// IsTerminal reports whether no further transition is allowed.
func (s InvoiceStatus) IsTerminal() bool {
	return s == InvoicePaid || s == InvoiceExpired || s == InvoiceCancelled
}

// Invoice is one payment attempt for a pending registration.
//
// Invariants:
//   - Status moves only from unpaid to one terminal status.
//   - NextPollAt is nil once terminal.
//   - Invoices are never deleted.
type Invoice struct {
	PaymentHash    string
	RegistrationID uuid.UUID
	IdentityKey    identity.IdentityKey
	Name           string
	Plan           identity.Plan
	Amount         int64
	PaymentRequest string
	Status         InvoiceStatus
	CreatedAt      time.Time
	ExpiresAt      time.Time
	PaidAt         *time.Time
	PollAttempts   int
	NextPollAt     *time.Time
}

// IsOpen reports whether the invoice still reserves its name at now.
func (i *Invoice) IsOpen(now time.Time) bool {
	return i.Status == InvoiceUnpaid && now.Before(i.ExpiresAt)
}

// MarkPaid settles the invoice. Callers check IsTerminal first.
func (i *Invoice) MarkPaid(now time.Time) {
	i.Status = InvoicePaid
	t := now
	i.PaidAt = &t
	i.NextPollAt = nil
}

func (i *Invoice) MarkExpired() {
	i.Status = InvoiceExpired
	i.NextPollAt = nil
}

func (i *Invoice) MarkCancelled() {
	i.Status = InvoiceCancelled
	i.NextPollAt = nil
}

// Reschedule records a poll that found no settlement.
func (i *Invoice) Reschedule(next time.Time, countAttempt bool) {
	if countAttempt {
		i.PollAttempts++
	}
	t := next
	i.NextPollAt = &t
}

// Satisfies reports whether a reported settlement covers this invoice.
func (i *Invoice) Satisfies(paid bool, amount int64) bool {
	return paid && amount >= i.Amount
}

// SettledBy reports whether a gateway status check covers this invoice.
func (i *Invoice) SettledBy(st *Settlement) bool {
	if st == nil || !st.Paid {
		return false
	}
	if !st.AmountReported {
		return true
	}
	return i.Satisfies(st.Paid, st.Amount)
}
