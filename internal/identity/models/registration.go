package models

import (
	"time"

	"github.com/google/uuid"

	dErrors "nip05d/pkg/domain-errors"
)

type Status string

const (
	StatusPending     Status = "pending"
	StatusActive      Status = "active"
	StatusDeactivated Status = "deactivated"
)

// Plan determines price and expiry of a registration.
type Plan string

const (
	PlanYearly   Plan = "yearly"
	PlanLifetime Plan = "lifetime"
	// PlanWhitelist is granted by operators and never sold.
	PlanWhitelist Plan = "whitelist"
)

const yearlyTerm = 365 * 24 * time.Hour

// ParsePlan validates a plan that a party may purchase.
func ParsePlan(raw string) (Plan, error) {
	switch p := Plan(raw); p {
	case PlanYearly, PlanLifetime:
		return p, nil
	case "":
		return PlanYearly, nil
	default:
		return "", dErrors.New(dErrors.CodeValidation, "plan must be yearly or lifetime")
	}
}

// ExpiryFrom returns when a grant of this plan activated at now expires; nil
// means never.
func (p Plan) ExpiryFrom(now time.Time) *time.Time {
	if p != PlanYearly {
		return nil
	}
	exp := now.Add(yearlyTerm)
	return &exp
}

// Registration binds an identity key to a claimed name.
//
// Invariants:
//   - One registration per identity key.
//   - At most one active registration holds a given name; pending and
//     deactivated registrations do not reserve it.
//   - A manual name is never overwritten by profile sync.
type Registration struct {
	ID           uuid.UUID
	IdentityKey  IdentityKey
	Name         string
	Status       Status
	Plan         Plan
	ExpiresAt    *time.Time
	ManualName   bool
	LastSyncedAt *time.Time
	Note         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewPendingRegistration starts a registration awaiting payment.
func NewPendingRegistration(key IdentityKey, name string, plan Plan, now time.Time) *Registration {
	return &Registration{
		ID:          uuid.New(),
		IdentityKey: key,
		Name:        name,
		Status:      StatusPending,
		Plan:        plan,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (r *Registration) IsActive() bool { return r.Status == StatusActive }

// Activate makes the registration hold name under plan. The name comes back
// under profile sync; whitelist grants set ManualName again afterwards.
func (r *Registration) Activate(name string, plan Plan, now time.Time) {
	r.Name = name
	r.Plan = plan
	r.Status = StatusActive
	r.ManualName = false
	r.ExpiresAt = plan.ExpiryFrom(now)
	r.UpdatedAt = now
}

// Reactivate restores an operator-deactivated registration without touching its
// plan or expiry.
func (r *Registration) Reactivate(now time.Time) {
	r.Status = StatusActive
	r.UpdatedAt = now
}

func (r *Registration) Deactivate(now time.Time) {
	r.Status = StatusDeactivated
	r.UpdatedAt = now
}

// Rename applies a synced profile name.
func (r *Registration) Rename(name string, now time.Time) {
	r.Name = name
	r.UpdatedAt = now
}

func (r *Registration) TouchSynced(now time.Time) {
	t := now
	r.LastSyncedAt = &t
}

// SyncDue reports whether profile sync should look at this registration.
func (r *Registration) SyncDue(now time.Time, maxAge time.Duration) bool {
	if !r.IsActive() || r.ManualName {
		return false
	}
	return r.LastSyncedAt == nil || r.LastSyncedAt.Before(now.Add(-maxAge))
}

// Expired reports whether a time-limited grant has lapsed at now.
func (r *Registration) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && !r.ExpiresAt.After(now)
}

// ExpiresWithin reports whether a time-limited grant lapses in (now, now+window].
func (r *Registration) ExpiresWithin(now time.Time, window time.Duration) bool {
	return r.ExpiresAt != nil && r.ExpiresAt.After(now) && !r.ExpiresAt.After(now.Add(window))
}
