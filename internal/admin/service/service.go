// Package service holds operator actions on registrations: manual grants,
// activation toggles, whitelist file reconciliation and the subscription
// lifecycle driven by the scheduler.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	billingservice "nip05d/internal/billing/service"
	"nip05d/internal/events"
	identity "nip05d/internal/identity/models"
	namesync "nip05d/internal/namesync/service"
	dErrors "nip05d/pkg/domain-errors"
	"nip05d/pkg/platform/sentinel"
	txcontext "nip05d/pkg/platform/tx"
	"nip05d/pkg/requestcontext"
)

type Store interface {
	Create(ctx context.Context, reg *identity.Registration) error
	Update(ctx context.Context, reg *identity.Registration) error
	FindByID(ctx context.Context, id uuid.UUID) (*identity.Registration, error)
	FindByIdentityKey(ctx context.Context, key identity.IdentityKey) (*identity.Registration, error)
	FindActiveByName(ctx context.Context, name string) (*identity.Registration, error)
	FindByName(ctx context.Context, name string) (*identity.Registration, error)
	List(ctx context.Context, activeOnly bool) ([]*identity.Registration, error)
	ListByPlan(ctx context.Context, plan identity.Plan) ([]*identity.Registration, error)
	ListExpiringBefore(ctx context.Context, t time.Time) ([]*identity.Registration, error)
}

// InvoiceCanceller withdraws unpaid invoices.
type InvoiceCanceller interface {
	Cancel(ctx context.Context, paymentHash string) (*billingservice.Outcome, error)
}

// NameSyncer runs an on-demand profile sync sweep.
type NameSyncer interface {
	SyncAll(ctx context.Context, force bool) (*namesync.Summary, error)
}

type Service struct {
	store    Store
	tx       txcontext.Runner
	emitter  events.Emitter
	invoices InvoiceCanceller
	syncer   NameSyncer
	loader   *WhitelistLoader
	logger   *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithInvoiceCanceller(c InvoiceCanceller) Option {
	return func(s *Service) { s.invoices = c }
}

// WithNameSyncer enables SyncUsernames; without it the operation reports that
// sync is disabled.
func WithNameSyncer(n NameSyncer) Option {
	return func(s *Service) { s.syncer = n }
}

// WithWhitelist sets the file ReloadWhitelist reconciles against.
func WithWhitelist(loader *WhitelistLoader) Option {
	return func(s *Service) { s.loader = loader }
}

func New(store Store, tx txcontext.Runner, emitter events.Emitter, opts ...Option) (*Service, error) {
	if store == nil || tx == nil || emitter == nil {
		return nil, errors.New("admin: store, tx runner and emitter are required")
	}
	s := &Service{
		store:   store,
		tx:      tx,
		emitter: emitter,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// AddUserRequest grants a name to a key outside the payment flow.
type AddUserRequest struct {
	PublicKey string
	Username  string
	Note      string
}

// AddUser grants a whitelist registration with a manual name. The name must be
// free or already held by the same key.
func (s *Service) AddUser(ctx context.Context, req AddUserRequest) (*identity.Registration, error) {
	key, err := identity.ParseIdentityKey(req.PublicKey)
	if err != nil {
		return nil, err
	}
	name, err := identity.NormalizeName(req.Username)
	if err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)

	var (
		out     *identity.Registration
		created bool
	)
	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		holder, err := s.store.FindActiveByName(txCtx, name)
		switch {
		case err == nil && holder.IdentityKey != key:
			return dErrors.New(dErrors.CodeConflict, "username already taken")
		case err != nil && !errors.Is(err, sentinel.ErrNotFound):
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check username")
		}

		reg, err := s.store.FindByIdentityKey(txCtx, key)
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			reg = identity.NewPendingRegistration(key, name, identity.PlanWhitelist, now)
			grant(reg, name, req.Note, true, now)
			created = true
			err = s.store.Create(txCtx, reg)
		case err != nil:
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load registration")
		default:
			grant(reg, name, req.Note, true, now)
			err = s.store.Update(txCtx, reg)
		}
		if err != nil {
			return storeErr(err, "failed to save registration")
		}
		out = reg
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "user whitelisted",
		"name", name,
		"identity_key", key.Short(),
		"created", created,
		"actor", requestcontext.Actor(ctx),
	)
	s.emitter.Emit(ctx, events.Event{
		Type:        events.UserWhitelisted,
		IdentityKey: key.String(),
		Name:        name,
		Plan:        string(identity.PlanWhitelist),
	})
	return out, nil
}

// RemoveUser withdraws a name. Registrations are kept for their invoice
// history, so removal deactivates.
func (s *Service) RemoveUser(ctx context.Context, username string) (*identity.Registration, error) {
	reg, err := s.setActive(ctx, username, false)
	if err != nil {
		return nil, err
	}
	s.emitter.Emit(ctx, events.Event{
		Type:        events.UserRemoved,
		IdentityKey: reg.IdentityKey.String(),
		Name:        reg.Name,
	})
	return reg, nil
}

func (s *Service) ListUsers(ctx context.Context, activeOnly bool) ([]*identity.Registration, error) {
	regs, err := s.store.List(ctx, activeOnly)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list registrations")
	}
	return regs, nil
}

// Activate re-enables a deactivated registration under its current name.
func (s *Service) Activate(ctx context.Context, username string) (*identity.Registration, error) {
	reg, err := s.setActive(ctx, username, true)
	if err != nil {
		return nil, err
	}
	s.emitter.Emit(ctx, events.Event{
		Type:        events.UserActivated,
		IdentityKey: reg.IdentityKey.String(),
		Name:        reg.Name,
	})
	return reg, nil
}

func (s *Service) Deactivate(ctx context.Context, username string) (*identity.Registration, error) {
	reg, err := s.setActive(ctx, username, false)
	if err != nil {
		return nil, err
	}
	s.emitter.Emit(ctx, events.Event{
		Type:        events.UserDeactivated,
		IdentityKey: reg.IdentityKey.String(),
		Name:        reg.Name,
	})
	return reg, nil
}

func (s *Service) setActive(ctx context.Context, username string, active bool) (*identity.Registration, error) {
	name, err := identity.NormalizeName(username)
	if err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)

	var out *identity.Registration
	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		reg, err := s.store.FindByName(txCtx, name)
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "user not found")
		}
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load registration")
		}
		if active {
			reg.Reactivate(now)
		} else {
			reg.Deactivate(now)
		}
		if err := s.store.Update(txCtx, reg); err != nil {
			return storeErr(err, "failed to update registration")
		}
		out = reg
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "registration status changed",
		"name", out.Name,
		"status", string(out.Status),
		"actor", requestcontext.Actor(ctx),
	)
	return out, nil
}

// SyncUsernames runs a profile sync sweep now.
func (s *Service) SyncUsernames(ctx context.Context, force bool) (*namesync.Summary, error) {
	if s.syncer == nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, "username sync is disabled")
	}
	return s.syncer.SyncAll(ctx, force)
}

// CancelInvoice withdraws an unpaid invoice.
func (s *Service) CancelInvoice(ctx context.Context, paymentHash string) (*billingservice.Outcome, error) {
	if s.invoices == nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, "payments are disabled")
	}
	if paymentHash == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "payment hash is required")
	}
	return s.invoices.Cancel(ctx, paymentHash)
}

func grant(reg *identity.Registration, name, note string, active bool, now time.Time) {
	reg.Activate(name, identity.PlanWhitelist, now)
	reg.ManualName = true
	reg.Note = note
	if !active {
		reg.Deactivate(now)
	}
}

func storeErr(err error, msg string) error {
	if errors.Is(err, sentinel.ErrConflict) {
		return dErrors.Wrap(err, dErrors.CodeConflict, "username already taken")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}
