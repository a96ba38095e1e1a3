// Package service is the invoice reconciliation engine. It owns the invoice
// state machine and is the only component that activates a paid registration.
//
// Settlement is observed on two paths that share one transition:
//
//	webhook: ConfirmViaWebhook -> settle
//	poll:    Scheduler -> PollOne -> settle | expire | reschedule
//
// Every transition re-reads the invoice inside a transaction and is a no-op if
// it is already terminal, so racing paths commit at most one winner. Gateway
// calls are made outside transactions.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"nip05d/internal/billing/metrics"
	"nip05d/internal/billing/models"
	"nip05d/internal/events"
	identity "nip05d/internal/identity/models"
	txcontext "nip05d/pkg/platform/tx"
)

type RegistrationStore interface {
	Create(ctx context.Context, reg *identity.Registration) error
	Update(ctx context.Context, reg *identity.Registration) error
	FindByID(ctx context.Context, id uuid.UUID) (*identity.Registration, error)
	FindByIdentityKey(ctx context.Context, key identity.IdentityKey) (*identity.Registration, error)
	FindActiveByName(ctx context.Context, name string) (*identity.Registration, error)
}

type InvoiceStore interface {
	Create(ctx context.Context, inv *models.Invoice) error
	Update(ctx context.Context, inv *models.Invoice) error
	FindByPaymentHash(ctx context.Context, hash string) (*models.Invoice, error)
	FindOpenByName(ctx context.Context, name string, now time.Time) (*models.Invoice, error)
}

// Prices in satoshis per purchasable plan.
type Prices struct {
	Yearly   int64
	Lifetime int64
}

func (p Prices) For(plan identity.Plan) int64 {
	if plan == identity.PlanLifetime {
		return p.Lifetime
	}
	return p.Yearly
}

const (
	defaultInvoiceExpiry = 30 * time.Minute
	defaultPollTimeout   = 15 * time.Second

	pathWebhook = "webhook"
	pathPoll    = "poll"
	pathAdmin   = "admin"
)

// Service reconciles invoices against the payment gateway.
type Service struct {
	registrations RegistrationStore
	invoices      InvoiceStore
	tx            txcontext.Runner
	gateway       Gateway
	emitter       events.Emitter

	policy        models.PollPolicy
	prices        Prices
	invoiceExpiry time.Duration
	pollTimeout   time.Duration
	domain        string

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

func WithPollPolicy(p models.PollPolicy) Option {
	return func(s *Service) { s.policy = p }
}

func WithPrices(p Prices) Option {
	return func(s *Service) { s.prices = p }
}

func WithInvoiceExpiry(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.invoiceExpiry = d
		}
	}
}

// WithPollTimeout bounds each settlement check made by PollOne.
func WithPollTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.pollTimeout = d
		}
	}
}

// WithDomain sets the NIP-05 domain used in invoice memos.
func WithDomain(domain string) Option {
	return func(s *Service) { s.domain = domain }
}

// New constructs the engine. All collaborators are required.
func New(registrations RegistrationStore, invoices InvoiceStore, tx txcontext.Runner, gateway Gateway, emitter events.Emitter, opts ...Option) (*Service, error) {
	switch {
	case registrations == nil:
		return nil, errors.New("registration store is required")
	case invoices == nil:
		return nil, errors.New("invoice store is required")
	case tx == nil:
		return nil, errors.New("transaction runner is required")
	case gateway == nil:
		return nil, errors.New("payment gateway is required")
	case emitter == nil:
		return nil, errors.New("event emitter is required")
	}

	s := &Service{
		registrations: registrations,
		invoices:      invoices,
		tx:            tx,
		gateway:       gateway,
		emitter:       emitter,
		policy:        models.DefaultPollPolicy(),
		prices:        Prices{Yearly: 1000, Lifetime: 10000},
		invoiceExpiry: defaultInvoiceExpiry,
		pollTimeout:   defaultPollTimeout,
		domain:        "localhost",
		logger:        slog.Default(),
		tracer:        otel.Tracer("nip05d/billing"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}
