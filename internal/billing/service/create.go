package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"nip05d/internal/billing/models"
	identity "nip05d/internal/identity/models"
	dErrors "nip05d/pkg/domain-errors"
	"nip05d/pkg/platform/sentinel"
	"nip05d/pkg/requestcontext"
)

// CreateInvoiceRequest is the raw input of a purchase.
type CreateInvoiceRequest struct {
	PublicKey string
	Username  string
	Plan      string
}

// Payable is what the party needs to pay an invoice.
type Payable struct {
	PaymentHash    string
	PaymentRequest string
	Amount         int64
	Name           string
	Plan           identity.Plan
	ExpiresAt      time.Time
}

// CreateInvoice allocates a pending registration and an unpaid invoice for it.
// The gateway is called before the transaction; the registration and invoice
// are written together or not at all.
func (s *Service) CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (*Payable, error) {
	start := time.Now()
	defer s.metrics.ObserveCreateInvoice(start)

	ctx, span := s.tracer.Start(ctx, "billing.CreateInvoice")
	defer span.End()

	key, err := identity.ParseIdentityKey(req.PublicKey)
	if err != nil {
		return nil, err
	}
	name, err := identity.NormalizeName(req.Username)
	if err != nil {
		return nil, err
	}
	plan, err := identity.ParsePlan(req.Plan)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("nip05.name", name), attribute.String("nip05.plan", string(plan)))

	now := requestcontext.Now(ctx)
	if err := s.checkAvailable(ctx, key, name, now); err != nil {
		return nil, err
	}

	amount := s.prices.For(plan)
	memo := fmt.Sprintf("NIP-05 %s registration for %s@%s", plan, name, s.domain)
	gwStart := time.Now()
	gi, err := s.gateway.CreateInvoice(ctx, amount, memo)
	s.metrics.ObserveGateway("create_invoice", gwStart)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "gateway unavailable")
		s.logger.WarnContext(ctx, "payment gateway create invoice failed",
			"name", name,
			"error", err,
		)
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "payment gateway unavailable")
	}
	if gi.Amount == 0 {
		gi.Amount = amount
	}

	inv := &models.Invoice{
		PaymentHash:    gi.PaymentHash,
		IdentityKey:    key,
		Name:           name,
		Plan:           plan,
		Amount:         gi.Amount,
		PaymentRequest: gi.PaymentRequest,
		Status:         models.InvoiceUnpaid,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.invoiceExpiry),
	}
	first := s.policy.First(inv)
	inv.NextPollAt = &first

	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.checkAvailable(txCtx, key, name, now); err != nil {
			return err
		}
		if _, err := s.invoices.FindByPaymentHash(txCtx, inv.PaymentHash); err == nil {
			return dErrors.New(dErrors.CodeInternal, "gateway returned a duplicate payment hash")
		} else if !errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check invoice")
		}

		reg, err := s.registrations.FindByIdentityKey(txCtx, key)
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			reg = identity.NewPendingRegistration(key, name, plan, now)
			if err := s.registrations.Create(txCtx, reg); err != nil {
				if errors.Is(err, sentinel.ErrConflict) {
					return dErrors.New(dErrors.CodeConflict, "registration was created concurrently")
				}
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create registration")
			}
		case err != nil:
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load registration")
		default:
			reg.Name = name
			reg.Plan = plan
			reg.Status = identity.StatusPending
			reg.UpdatedAt = now
			if err := s.registrations.Update(txCtx, reg); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update registration")
			}
		}

		inv.RegistrationID = reg.ID
		if err := s.invoices.Create(txCtx, inv); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist invoice")
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.metrics.IncrementInvoicesCreated()
	s.logger.InfoContext(ctx, "invoice created",
		"payment_hash", inv.PaymentHash,
		"name", name,
		"plan", string(plan),
		"amount", inv.Amount,
		"request_id", requestcontext.RequestID(ctx),
	)

	return &Payable{
		PaymentHash:    inv.PaymentHash,
		PaymentRequest: inv.PaymentRequest,
		Amount:         inv.Amount,
		Name:           name,
		Plan:           plan,
		ExpiresAt:      inv.ExpiresAt,
	}, nil
}

// checkAvailable fails with a conflict if name is held by an active
// registration, reserved by an open invoice, or key already holds a name.
func (s *Service) checkAvailable(ctx context.Context, key identity.IdentityKey, name string, now time.Time) error {
	holder, err := s.registrations.FindActiveByName(ctx, name)
	switch {
	case err == nil && holder.IdentityKey == key:
		return dErrors.New(dErrors.CodeConflict, "you already hold this username")
	case err == nil:
		return dErrors.New(dErrors.CodeConflict, "username already taken")
	case !errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check username")
	}

	if _, err := s.invoices.FindOpenByName(ctx, name, now); err == nil {
		return dErrors.New(dErrors.CodeConflict, "a payment for this username is already pending")
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check pending invoices")
	}

	own, err := s.registrations.FindByIdentityKey(ctx, key)
	switch {
	case err == nil && own.IsActive():
		return dErrors.New(dErrors.CodeConflict, "identity already has an active registration")
	case err != nil && !errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load registration")
	}
	return nil
}

// Invoice returns the current state of an invoice for status pages.
func (s *Service) Invoice(ctx context.Context, paymentHash string) (*models.Invoice, error) {
	inv, err := s.invoices.FindByPaymentHash(ctx, paymentHash)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "invoice not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load invoice")
	}
	return inv, nil
}
