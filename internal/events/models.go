// Package events carries identity lifecycle events from the engines to their
// consumers: the notification dispatcher, the nostr.json projection and the
// Kafka stream. Emission never blocks the engine that committed the change.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Type names a lifecycle event. Values are stable; they are the Kafka record key
// prefix and the notification template selector.
type Type string

const (
	PaymentConfirmed     Type = "payment_confirmed"
	InvoiceExpired       Type = "invoice_expired"
	UsernameUpdated      Type = "username_updated"
	UserWhitelisted      Type = "user_whitelisted"
	UserRemoved          Type = "user_removed"
	UserActivated        Type = "user_activated"
	UserDeactivated      Type = "user_deactivated"
	ActivationConflict   Type = "activation_conflict"
	SubscriptionExpiring Type = "subscription_expiring"
	SubscriptionExpired  Type = "subscription_expired"
)

// ChangesDirectory reports whether the published name set may differ after
// this event.
func (t Type) ChangesDirectory() bool {
	switch t {
	case PaymentConfirmed, UsernameUpdated, UserWhitelisted, UserRemoved,
		UserActivated, UserDeactivated, SubscriptionExpired:
		return true
	default:
		return false
	}
}

// Notifies reports whether the party should receive a direct message.
func (t Type) Notifies() bool {
	switch t {
	case PaymentConfirmed, InvoiceExpired, UsernameUpdated, UserWhitelisted, UserRemoved,
		SubscriptionExpiring, SubscriptionExpired:
		return true
	default:
		return false
	}
}

// Event is one committed state change. IdentityKey is always set.
type Event struct {
	ID          uuid.UUID  `json:"id"`
	Type        Type       `json:"type"`
	OccurredAt  time.Time  `json:"occurred_at"`
	IdentityKey string     `json:"identity_key"`
	Name        string     `json:"name,omitempty"`
	OldName     string     `json:"old_name,omitempty"`
	NewName     string     `json:"new_name,omitempty"`
	PaymentHash string     `json:"payment_hash,omitempty"`
	Amount      int64      `json:"amount,omitempty"`
	Plan        string     `json:"plan,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	RequestID   string     `json:"request_id,omitempty"`
}
