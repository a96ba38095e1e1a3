package service

import (
	"context"
	"errors"
	"time"

	"nip05d/internal/events"
	identity "nip05d/internal/identity/models"
	dErrors "nip05d/pkg/domain-errors"
	"nip05d/pkg/platform/sentinel"
	"nip05d/pkg/requestcontext"
)

// ListExpiring returns active time-limited registrations expiring at or
// before horizon.
func (s *Service) ListExpiring(ctx context.Context, horizon time.Time) ([]*identity.Registration, error) {
	regs, err := s.store.ListExpiringBefore(ctx, horizon)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list expiring registrations")
	}
	return regs, nil
}

// ExpireSubscription deactivates reg if its grant has lapsed. It reports
// whether this call made the change.
func (s *Service) ExpireSubscription(ctx context.Context, reg *identity.Registration) (bool, error) {
	now := requestcontext.Now(ctx)
	var expired *identity.Registration
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		expired = nil
		current, err := s.store.FindByID(txCtx, reg.ID)
		if err != nil {
			return err
		}
		if !current.IsActive() || !current.Expired(now) {
			return nil
		}
		current.Deactivate(now)
		if err := s.store.Update(txCtx, current); err != nil {
			return err
		}
		expired = current
		return nil
	})
	if errors.Is(err, sentinel.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to expire subscription")
	}
	if expired == nil {
		return false, nil
	}

	s.logger.InfoContext(ctx, "subscription expired",
		"name", expired.Name,
		"identity_key", expired.IdentityKey.Short(),
	)
	s.emitter.Emit(ctx, events.Event{
		Type:        events.SubscriptionExpired,
		IdentityKey: expired.IdentityKey.String(),
		Name:        expired.Name,
		Plan:        string(expired.Plan),
		ExpiresAt:   expired.ExpiresAt,
	})
	return true, nil
}

// WarnExpiring emits a reminder for a registration about to lapse.
func (s *Service) WarnExpiring(ctx context.Context, reg *identity.Registration) {
	s.emitter.Emit(ctx, events.Event{
		Type:        events.SubscriptionExpiring,
		IdentityKey: reg.IdentityKey.String(),
		Name:        reg.Name,
		Plan:        string(reg.Plan),
		ExpiresAt:   reg.ExpiresAt,
	})
}
