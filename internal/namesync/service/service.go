// Package service keeps the published name of each active registration in step
// with the name in the party's own relay profile.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"nip05d/internal/events"
	identity "nip05d/internal/identity/models"
	"nip05d/internal/namesync/metrics"
	dErrors "nip05d/pkg/domain-errors"
	"nip05d/pkg/platform/sentinel"
	txcontext "nip05d/pkg/platform/tx"
	"nip05d/pkg/requestcontext"
)

type Store interface {
	Update(ctx context.Context, reg *identity.Registration) error
	FindByID(ctx context.Context, id uuid.UUID) (*identity.Registration, error)
	FindActiveByName(ctx context.Context, name string) (*identity.Registration, error)
	ListSyncCandidates(ctx context.Context, cutoff time.Time, limit int) ([]*identity.Registration, error)
	TouchSynced(ctx context.Context, id uuid.UUID, at time.Time) error
}

// Result values reported by SyncOne.
const (
	ResultRenamed     = "renamed"
	ResultUnchanged   = "unchanged"
	ResultNoProfile   = "no_profile"
	ResultInvalidName = "invalid_name"
	ResultConflict    = "conflict"
	ResultSkipped     = "skipped"
	ResultUnavailable = "relay_unavailable"
)

// Result is the outcome of one sync.
type Result struct {
	RegistrationID uuid.UUID
	Result         string
	OldName        string
	NewName        string
}

type Service struct {
	store   Store
	tx      txcontext.Runner
	relays  RelayClient
	emitter events.Emitter

	relayURLs    []string
	relayTimeout time.Duration
	maxAge       time.Duration
	concurrency  int

	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithRelays(urls []string) Option {
	return func(s *Service) { s.relayURLs = urls }
}

func WithRelayTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.relayTimeout = d
		}
	}
}

// WithMaxAge sets how stale last-synced-at must be before a registration is
// synced again.
func WithMaxAge(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.maxAge = d
		}
	}
}

// WithConcurrency bounds parallel syncs in SyncAll.
func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

func New(store Store, tx txcontext.Runner, relays RelayClient, emitter events.Emitter, opts ...Option) (*Service, error) {
	if store == nil || tx == nil || relays == nil || emitter == nil {
		return nil, errors.New("namesync: store, tx runner, relay client and emitter are required")
	}
	s := &Service{
		store:        store,
		tx:           tx,
		relays:       relays,
		emitter:      emitter,
		relayTimeout: 10 * time.Second,
		maxAge:       24 * time.Hour,
		concurrency:  4,
		logger:       slog.Default(),
		tracer:       otel.Tracer("nip05d/namesync"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// MaxAge is the staleness threshold for sync candidates.
func (s *Service) MaxAge() time.Duration { return s.maxAge }

// Candidates lists registrations due for sync at now.
func (s *Service) Candidates(ctx context.Context, now time.Time, limit int) ([]*identity.Registration, error) {
	regs, err := s.store.ListSyncCandidates(ctx, now.Add(-s.maxAge), limit)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list sync candidates")
	}
	return regs, nil
}

// SyncOne fetches reg's profile and applies its name if it is valid and free.
// Only a relay outage is an error; in that case last-synced-at is left alone
// so the registration stays due.
func (s *Service) SyncOne(ctx context.Context, reg *identity.Registration) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "namesync.SyncOne")
	defer span.End()
	span.SetAttributes(attribute.String("nip05.identity_key", reg.IdentityKey.Short()))

	res := &Result{RegistrationID: reg.ID, OldName: reg.Name}

	start := time.Now()
	profile, err := s.relays.FetchLatestProfile(ctx, reg.IdentityKey.String(), s.relayURLs, s.relayTimeout)
	s.metrics.ObserveRelayFetch(start)
	if err != nil {
		res.Result = ResultUnavailable
		s.metrics.IncrementResult(res.Result)
		s.logger.WarnContext(ctx, "profile fetch failed",
			"identity_key", reg.IdentityKey.Short(),
			"error", err,
		)
		return res, dErrors.Wrap(err, dErrors.CodeUnavailable, "no relay responded")
	}

	now := requestcontext.Now(ctx)
	if profile == nil || profile.Name == "" {
		return s.touch(ctx, res, ResultNoProfile, now)
	}
	candidate, err := identity.NormalizeName(profile.Name)
	if err != nil {
		s.logger.DebugContext(ctx, "profile name is not a valid username",
			"identity_key", reg.IdentityKey.Short(),
			"profile_name", profile.Name,
		)
		return s.touch(ctx, res, ResultInvalidName, now)
	}
	if candidate == reg.Name {
		return s.touch(ctx, res, ResultUnchanged, now)
	}

	var updated *identity.Registration
	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		updated = nil
		current, err := s.store.FindByID(txCtx, reg.ID)
		if err != nil {
			return err
		}
		if !current.IsActive() || current.ManualName {
			res.Result = ResultSkipped
			return s.store.TouchSynced(txCtx, current.ID, now)
		}
		if current.Name == candidate {
			res.Result = ResultUnchanged
			return s.store.TouchSynced(txCtx, current.ID, now)
		}
		holder, err := s.store.FindActiveByName(txCtx, candidate)
		if err == nil && holder.ID != current.ID {
			res.Result = ResultConflict
			return s.store.TouchSynced(txCtx, current.ID, now)
		}
		if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
			return err
		}

		res.OldName = current.Name
		current.Rename(candidate, now)
		current.TouchSynced(now)
		if err := s.store.Update(txCtx, current); err != nil {
			return err
		}
		res.Result = ResultRenamed
		res.NewName = candidate
		updated = current
		return nil
	})
	switch {
	case errors.Is(err, sentinel.ErrConflict):
		// lost a race for the name to a concurrent activation
		return s.touch(ctx, res, ResultConflict, now)
	case errors.Is(err, sentinel.ErrNotFound):
		res.Result = ResultSkipped
		s.metrics.IncrementResult(res.Result)
		return res, nil
	case err != nil:
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to apply profile name")
	}

	s.metrics.IncrementResult(res.Result)
	switch res.Result {
	case ResultRenamed:
		s.logger.InfoContext(ctx, "username updated from profile",
			"identity_key", reg.IdentityKey.Short(),
			"old_name", res.OldName,
			"new_name", res.NewName,
		)
		s.emitter.Emit(ctx, events.Event{
			Type:        events.UsernameUpdated,
			IdentityKey: updated.IdentityKey.String(),
			Name:        updated.Name,
			OldName:     res.OldName,
			NewName:     res.NewName,
		})
	case ResultConflict:
		s.logger.InfoContext(ctx, "profile name held by another registration",
			"identity_key", reg.IdentityKey.Short(),
			"profile_name", candidate,
		)
	}
	return res, nil
}

func (s *Service) touch(ctx context.Context, res *Result, result string, now time.Time) (*Result, error) {
	res.Result = result
	s.metrics.IncrementResult(result)
	if err := s.store.TouchSynced(ctx, res.RegistrationID, now); err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record sync time")
	}
	return res, nil
}

// Summary counts SyncAll outcomes by result.
type Summary struct {
	Checked int            `json:"checked"`
	Results map[string]int `json:"results"`
}

// SyncAll syncs every due registration. With force, every active non-manual
// registration is synced regardless of when it was last checked.
func (s *Service) SyncAll(ctx context.Context, force bool) (*Summary, error) {
	now := requestcontext.Now(ctx)
	cutoff := now.Add(-s.maxAge)
	if force {
		cutoff = now.Add(time.Nanosecond)
	}
	regs, err := s.store.ListSyncCandidates(ctx, cutoff, 0)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list sync candidates")
	}

	summary := &Summary{Checked: len(regs), Results: map[string]int{}}
	results := make([]string, len(regs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, reg := range regs {
		g.Go(func() error {
			res, err := s.SyncOne(gctx, reg)
			switch {
			case res != nil:
				results[i] = res.Result
			case err != nil:
				results[i] = "error"
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		summary.Results[r]++
	}
	s.logger.InfoContext(ctx, "name sync sweep finished",
		"checked", summary.Checked,
		"renamed", summary.Results[ResultRenamed],
		"force", force,
	)
	return summary, nil
}
