// Package scheduler drives the background work of the service from a fixed
// tick: polling due invoices, re-syncing stale profile names and sweeping
// lapsed subscriptions. A tick only selects and dispatches; every state change
// happens in the engines it calls.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	billing "nip05d/internal/billing/models"
	billingservice "nip05d/internal/billing/service"
	identity "nip05d/internal/identity/models"
	namesync "nip05d/internal/namesync/service"
	"nip05d/pkg/requestcontext"
)

// DueInvoices selects unpaid invoices whose next poll is at or before now.
type DueInvoices interface {
	ListDue(ctx context.Context, now time.Time, limit int) ([]*billing.Invoice, error)
}

type Poller interface {
	PollOne(ctx context.Context, inv *billing.Invoice) (*billingservice.Outcome, error)
}

type Syncer interface {
	Candidates(ctx context.Context, now time.Time, limit int) ([]*identity.Registration, error)
	SyncOne(ctx context.Context, reg *identity.Registration) (*namesync.Result, error)
}

// Subscriptions applies the lifecycle of time-limited registrations.
type Subscriptions interface {
	ListExpiring(ctx context.Context, horizon time.Time) ([]*identity.Registration, error)
	ExpireSubscription(ctx context.Context, reg *identity.Registration) (bool, error)
	WarnExpiring(ctx context.Context, reg *identity.Registration)
}

// Locker takes a cross-process lease so that only one instance ticks at a time.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(context.Context), ok bool, err error)
}

const lockKey = "nip05d:scheduler:tick"

type Config struct {
	Tick              time.Duration
	Concurrency       int
	BatchSize         int
	ItemTimeout       time.Duration
	LockTTL           time.Duration
	PollEnabled       bool
	SyncEnabled       bool
	SyncInterval      time.Duration
	SubscriptionSweep time.Duration
	ExpiryWarning     time.Duration
}

func DefaultConfig() Config {
	return Config{
		Tick:              10 * time.Second,
		Concurrency:       4,
		BatchSize:         200,
		ItemTimeout:       30 * time.Second,
		LockTTL:           2 * time.Minute,
		PollEnabled:       true,
		SyncEnabled:       true,
		SyncInterval:      15 * time.Minute,
		SubscriptionSweep: 24 * time.Hour,
		ExpiryWarning:     7 * 24 * time.Hour,
	}
}

type Scheduler struct {
	cfg           Config
	invoices      DueInvoices
	poller        Poller
	syncer        Syncer
	subscriptions Subscriptions
	locker        Locker
	logger        *slog.Logger
	metrics       *Metrics
}

type Option func(*Scheduler)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

func WithMetrics(m *Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithLocker enables the distributed tick lock.
func WithLocker(l Locker) Option {
	return func(s *Scheduler) { s.locker = l }
}

// WithSyncer enables the profile sync sweep.
func WithSyncer(sy Syncer) Option {
	return func(s *Scheduler) { s.syncer = sy }
}

// WithSubscriptions enables the subscription expiry sweep.
func WithSubscriptions(sub Subscriptions) Option {
	return func(s *Scheduler) { s.subscriptions = sub }
}

func New(cfg Config, invoices DueInvoices, poller Poller, opts ...Option) *Scheduler {
	def := DefaultConfig()
	if cfg.Tick <= 0 {
		cfg.Tick = def.Tick
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.ItemTimeout <= 0 {
		cfg.ItemTimeout = def.ItemTimeout
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = def.LockTTL
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = def.SyncInterval
	}
	if cfg.SubscriptionSweep <= 0 {
		cfg.SubscriptionSweep = def.SubscriptionSweep
	}
	if cfg.ExpiryWarning <= 0 {
		cfg.ExpiryWarning = def.ExpiryWarning
	}
	s := &Scheduler{
		cfg:      cfg,
		invoices: invoices,
		poller:   poller,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Report summarizes one tick.
type Report struct {
	Skipped      string
	Polled       int
	PollFailures int
	Synced       int
	SyncFailures int
	Expired      int
	Warned       int
}

// Run ticks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, st *State) error {
	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	s.logger.InfoContext(ctx, "scheduler started",
		"tick", s.cfg.Tick.String(),
		"poll_enabled", s.cfg.PollEnabled,
		"sync_enabled", s.cfg.SyncEnabled && s.syncer != nil,
	)
	for {
		select {
		case <-ticker.C:
			tickCtx := requestcontext.WithTime(ctx, time.Now())
			if _, err := s.Tick(tickCtx, st); err != nil {
				s.logger.ErrorContext(ctx, "scheduler tick failed", "error", err)
			}
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "scheduler stopped")
			return ctx.Err()
		}
	}
}

// Tick runs one pass. Overlapping ticks in this process, or a tick while
// another instance holds the lock, are skipped. Item failures are counted in
// the report; only selection failures are returned.
func (s *Scheduler) Tick(ctx context.Context, st *State) (*Report, error) {
	report := &Report{}
	if !st.begin() {
		report.Skipped = "overlap"
		s.metrics.tick(report.Skipped)
		return report, nil
	}
	defer st.end()

	if s.locker != nil {
		release, ok, err := s.locker.TryLock(ctx, lockKey, s.cfg.LockTTL)
		if err != nil {
			s.logger.WarnContext(ctx, "scheduler lock unavailable, skipping tick", "error", err)
			report.Skipped = "lock_error"
			s.metrics.tick(report.Skipped)
			return report, nil
		}
		if !ok {
			report.Skipped = "locked"
			s.metrics.tick(report.Skipped)
			return report, nil
		}
		defer release(context.WithoutCancel(ctx))
	}

	start := time.Now()
	defer s.metrics.observeTick(start)
	s.metrics.tick("ran")

	now := requestcontext.Now(ctx)
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if s.cfg.PollEnabled {
		keep(s.pollInvoices(ctx, now, report))
	}
	if s.cfg.SyncEnabled && s.syncer != nil && st.syncDue(now, s.cfg.SyncInterval) {
		keep(s.syncNames(ctx, now, report))
		st.markSync(now)
	}
	if s.subscriptions != nil && st.subscriptionsDue(now, s.cfg.SubscriptionSweep) {
		keep(s.sweepSubscriptions(ctx, now, report))
		st.markSubscriptions(now)
	}
	return report, firstErr
}

func (s *Scheduler) pollInvoices(ctx context.Context, now time.Time, report *Report) error {
	due, err := s.invoices.ListDue(ctx, now, s.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("list due invoices: %w", err)
	}
	if len(due) == 0 {
		return nil
	}

	var failed atomic.Int64
	s.fanOut(ctx, len(due), func(ctx context.Context, i int) error {
		_, err := s.poller.PollOne(ctx, due[i])
		return err
	}, func(i int, err error) {
		failed.Add(1)
		s.metrics.item("poll", "error")
		s.logger.WarnContext(ctx, "invoice poll failed",
			"payment_hash", due[i].PaymentHash,
			"error", err,
		)
	}, func(int) { s.metrics.item("poll", "ok") })

	report.Polled = len(due)
	report.PollFailures = int(failed.Load())
	s.logger.DebugContext(ctx, "polled due invoices", "count", len(due), "failed", report.PollFailures)
	return nil
}

func (s *Scheduler) syncNames(ctx context.Context, now time.Time, report *Report) error {
	regs, err := s.syncer.Candidates(ctx, now, s.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("list sync candidates: %w", err)
	}
	if len(regs) == 0 {
		return nil
	}

	var failed atomic.Int64
	s.fanOut(ctx, len(regs), func(ctx context.Context, i int) error {
		_, err := s.syncer.SyncOne(ctx, regs[i])
		return err
	}, func(i int, err error) {
		failed.Add(1)
		s.metrics.item("sync", "error")
		s.logger.WarnContext(ctx, "profile sync failed",
			"identity_key", regs[i].IdentityKey.Short(),
			"error", err,
		)
	}, func(int) { s.metrics.item("sync", "ok") })

	report.Synced = len(regs)
	report.SyncFailures = int(failed.Load())
	s.logger.InfoContext(ctx, "sync sweep finished", "checked", len(regs), "failed", report.SyncFailures)
	return nil
}

func (s *Scheduler) sweepSubscriptions(ctx context.Context, now time.Time, report *Report) error {
	regs, err := s.subscriptions.ListExpiring(ctx, now.Add(s.cfg.ExpiryWarning))
	if err != nil {
		return fmt.Errorf("list expiring subscriptions: %w", err)
	}
	for _, reg := range regs {
		if !reg.Expired(now) {
			s.subscriptions.WarnExpiring(ctx, reg)
			report.Warned++
			continue
		}
		expired, err := s.subscriptions.ExpireSubscription(ctx, reg)
		if err != nil {
			s.metrics.item("subscription", "error")
			s.logger.WarnContext(ctx, "failed to expire subscription",
				"identity_key", reg.IdentityKey.Short(),
				"error", err,
			)
			continue
		}
		if expired {
			report.Expired++
		}
	}
	if report.Expired > 0 || report.Warned > 0 {
		s.logger.InfoContext(ctx, "subscription sweep finished",
			"expired", report.Expired,
			"warned", report.Warned,
		)
	}
	return nil
}

// fanOut runs work for n items with bounded concurrency. Each item gets its own
// timeout; an error or panic in one item is reported and never stops the rest.
func (s *Scheduler) fanOut(ctx context.Context, n int, work func(context.Context, int) error, onErr func(int, error), onOK func(int)) {
	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			if err := s.runItem(ctx, i, work); err != nil {
				onErr(i, err)
			} else {
				onOK(i)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Scheduler) runItem(ctx context.Context, i int, work func(context.Context, int) error) (err error) {
	itemCtx, cancel := context.WithTimeout(ctx, s.cfg.ItemTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return work(itemCtx, i)
}
