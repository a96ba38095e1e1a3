package service

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"nip05d/internal/billing/models"
	"nip05d/internal/events"
	dErrors "nip05d/pkg/domain-errors"
	"nip05d/pkg/platform/sentinel"
	"nip05d/pkg/requestcontext"
)

// Outcome describes what a confirmation or poll did to an invoice.
type Outcome struct {
	PaymentHash string
	Status      models.InvoiceStatus
	// Changed is true only for the call that committed the transition.
	Changed bool
	// Activated is false when the invoice was paid but its name had been
	// taken by another active registration in the meantime.
	Activated  bool
	NextPollAt *time.Time
}

// ConfirmViaWebhook applies a settlement pushed by the gateway. It is safe to
// call repeatedly with the same payload. An unknown hash fails with NotFound;
// an unpaid or underpaid report leaves the invoice unpaid without error.
func (s *Service) ConfirmViaWebhook(ctx context.Context, paymentHash string, amount int64, paid bool) (*Outcome, error) {
	ctx, span := s.tracer.Start(ctx, "billing.ConfirmViaWebhook")
	defer span.End()
	span.SetAttributes(attribute.String("nip05.payment_hash", paymentHash))

	inv, err := s.invoices.FindByPaymentHash(ctx, paymentHash)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "invoice not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load invoice")
	}
	if inv.Status.IsTerminal() {
		return &Outcome{PaymentHash: paymentHash, Status: inv.Status}, nil
	}
	if !inv.Satisfies(paid, amount) {
		s.logger.InfoContext(ctx, "webhook did not settle invoice",
			"payment_hash", paymentHash,
			"reported_paid", paid,
			"reported_amount", amount,
			"invoice_amount", inv.Amount,
		)
		return &Outcome{PaymentHash: paymentHash, Status: inv.Status, NextPollAt: inv.NextPollAt}, nil
	}
	return s.settle(ctx, paymentHash, pathWebhook)
}

// PollOne checks one unpaid invoice against the gateway and advances it: paid,
// expired at the final check, or rescheduled by the backoff policy. A gateway
// error before the final check reschedules a short retry and is returned so the
// caller can count it; the invoice is never left without a future poll.
func (s *Service) PollOne(ctx context.Context, inv *models.Invoice) (*Outcome, error) {
	ctx, span := s.tracer.Start(ctx, "billing.PollOne")
	defer span.End()
	span.SetAttributes(
		attribute.String("nip05.payment_hash", inv.PaymentHash),
		attribute.Int("nip05.poll_attempts", inv.PollAttempts),
	)

	if inv.Status != models.InvoiceUnpaid {
		s.metrics.IncrementPollResult("skipped")
		return &Outcome{PaymentHash: inv.PaymentHash, Status: inv.Status}, nil
	}

	now := requestcontext.Now(ctx)
	final := s.policy.IsFinal(inv, now)

	checkCtx, cancel := context.WithTimeout(ctx, s.pollTimeout)
	gwStart := time.Now()
	settlement, err := s.gateway.CheckSettlement(checkCtx, inv.PaymentHash)
	cancel()
	s.metrics.ObserveGateway("check_settlement", gwStart)

	switch {
	case err != nil && final:
		s.logger.WarnContext(ctx, "gateway unavailable at final check, expiring invoice",
			"payment_hash", inv.PaymentHash,
			"error", err,
		)
		return s.expire(ctx, inv.PaymentHash, "gateway unavailable at final check")
	case err != nil:
		s.metrics.IncrementPollResult("error")
		next := s.policy.AfterError(inv, now)
		out, rerr := s.reschedule(ctx, inv.PaymentHash, next, false)
		if rerr != nil {
			return nil, rerr
		}
		return out, dErrors.Wrap(err, dErrors.CodeUnavailable, "payment gateway unavailable")
	case inv.SettledBy(settlement):
		s.metrics.IncrementPollResult("paid")
		return s.settle(ctx, inv.PaymentHash, pathPoll)
	case final:
		return s.expire(ctx, inv.PaymentHash, "not paid before deadline")
	default:
		s.metrics.IncrementPollResult("unpaid")
		return s.reschedule(ctx, inv.PaymentHash, s.policy.Next(inv, now), true)
	}
}

// Cancel withdraws an unpaid invoice. Terminal invoices are left untouched.
func (s *Service) Cancel(ctx context.Context, paymentHash string) (*Outcome, error) {
	out, err := s.transition(ctx, paymentHash, func(inv *models.Invoice) {
		inv.MarkCancelled()
	})
	if err != nil {
		return nil, err
	}
	if out.Changed {
		s.metrics.IncrementTransition(string(models.InvoiceCancelled), pathAdmin)
		s.logger.InfoContext(ctx, "invoice cancelled",
			"payment_hash", paymentHash,
			"actor", requestcontext.Actor(ctx),
		)
	}
	return out, nil
}

// settle is the single paid transition shared by webhook and poll. The first
// committed call wins; later calls observe a terminal invoice and do nothing,
// whatever amount they carry.
func (s *Service) settle(ctx context.Context, paymentHash, path string) (*Outcome, error) {
	var (
		out     *Outcome
		emitted []events.Event
	)
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		out, emitted = nil, nil

		inv, err := s.lockInvoice(txCtx, paymentHash)
		if err != nil {
			return err
		}
		if inv.Status.IsTerminal() {
			out = &Outcome{PaymentHash: paymentHash, Status: inv.Status}
			return nil
		}

		now := requestcontext.Now(txCtx)
		reg, err := s.registrations.FindByID(txCtx, inv.RegistrationID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load registration for invoice")
		}

		holder, err := s.registrations.FindActiveByName(txCtx, inv.Name)
		conflict := err == nil && holder.ID != reg.ID
		if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check username")
		}

		if !conflict {
			reg.Activate(inv.Name, inv.Plan, now)
			if err := s.registrations.Update(txCtx, reg); err != nil {
				if errors.Is(err, sentinel.ErrConflict) {
					return dErrors.Wrap(err, dErrors.CodeConflict, "username was activated concurrently")
				}
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to activate registration")
			}
		}

		inv.MarkPaid(now)
		if err := s.invoices.Update(txCtx, inv); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to mark invoice paid")
		}

		out = &Outcome{PaymentHash: paymentHash, Status: models.InvoicePaid, Changed: true, Activated: !conflict}
		if conflict {
			emitted = append(emitted, events.Event{
				Type:        events.ActivationConflict,
				IdentityKey: inv.IdentityKey.String(),
				Name:        inv.Name,
				PaymentHash: paymentHash,
				Amount:      inv.Amount,
				Reason:      "username held by another active registration",
			})
			return nil
		}
		emitted = append(emitted, events.Event{
			Type:        events.PaymentConfirmed,
			IdentityKey: inv.IdentityKey.String(),
			Name:        inv.Name,
			PaymentHash: paymentHash,
			Amount:      inv.Amount,
			Plan:        string(inv.Plan),
			ExpiresAt:   reg.ExpiresAt,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	if out.Changed {
		s.metrics.IncrementTransition(string(models.InvoicePaid), path)
		if out.Activated {
			s.logger.InfoContext(ctx, "invoice paid, registration activated",
				"payment_hash", paymentHash,
				"path", path,
			)
		} else {
			s.logger.ErrorContext(ctx, "invoice paid but username is held by another registration",
				"payment_hash", paymentHash,
				"path", path,
			)
		}
	}
	s.emit(ctx, emitted)
	return out, nil
}

// expire moves an unpaid invoice to expired. The registration stays pending and
// the name stops being reserved.
func (s *Service) expire(ctx context.Context, paymentHash, reason string) (*Outcome, error) {
	var inv *models.Invoice
	out, err := s.transition(ctx, paymentHash, func(i *models.Invoice) {
		i.MarkExpired()
		inv = i
	})
	if err != nil {
		return nil, err
	}
	if out.Changed {
		s.metrics.IncrementPollResult("expired")
		s.metrics.IncrementTransition(string(models.InvoiceExpired), pathPoll)
		s.logger.InfoContext(ctx, "invoice expired",
			"payment_hash", paymentHash,
			"reason", reason,
		)
		s.emit(ctx, []events.Event{{
			Type:        events.InvoiceExpired,
			IdentityKey: inv.IdentityKey.String(),
			Name:        inv.Name,
			PaymentHash: paymentHash,
			Amount:      inv.Amount,
			Reason:      reason,
		}})
	}
	return out, nil
}

// transition applies mutate to an unpaid invoice inside a transaction.
func (s *Service) transition(ctx context.Context, paymentHash string, mutate func(*models.Invoice)) (*Outcome, error) {
	var out *Outcome
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		inv, err := s.lockInvoice(txCtx, paymentHash)
		if err != nil {
			return err
		}
		if inv.Status.IsTerminal() {
			out = &Outcome{PaymentHash: paymentHash, Status: inv.Status}
			return nil
		}
		mutate(inv)
		if err := s.invoices.Update(txCtx, inv); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update invoice")
		}
		out = &Outcome{PaymentHash: paymentHash, Status: inv.Status, Changed: true, NextPollAt: inv.NextPollAt}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) reschedule(ctx context.Context, paymentHash string, next time.Time, countAttempt bool) (*Outcome, error) {
	return s.transition(ctx, paymentHash, func(inv *models.Invoice) {
		inv.Reschedule(next, countAttempt)
	})
}

func (s *Service) lockInvoice(ctx context.Context, paymentHash string) (*models.Invoice, error) {
	inv, err := s.invoices.FindByPaymentHash(ctx, paymentHash)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "invoice not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load invoice")
	}
	return inv, nil
}

// emit runs after commit. The emitter never blocks.
func (s *Service) emit(ctx context.Context, evs []events.Event) {
	for _, e := range evs {
		s.emitter.Emit(ctx, e)
	}
}
