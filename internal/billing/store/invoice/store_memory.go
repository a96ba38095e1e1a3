package invoice

import (
	"context"
	"sort"
	"sync"
	"time"

	"nip05d/internal/billing/models"
	"nip05d/pkg/platform/sentinel"
)

// InMemoryStore keeps invoices keyed by payment hash.
type InMemoryStore struct {
	mu       sync.RWMutex
	invoices map[string]*models.Invoice
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{invoices: make(map[string]*models.Invoice)}
}

func clone(i *models.Invoice) *models.Invoice {
	c := *i
	if i.PaidAt != nil {
		t := *i.PaidAt
		c.PaidAt = &t
	}
	if i.NextPollAt != nil {
		t := *i.NextPollAt
		c.NextPollAt = &t
	}
	return &c
}

func (s *InMemoryStore) Create(_ context.Context, inv *models.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.invoices[inv.PaymentHash]; ok {
		return sentinel.ErrConflict
	}
	s.invoices[inv.PaymentHash] = clone(inv)
	return nil
}

// Update replaces an invoice. A terminal invoice is never overwritten with a
// different status.
func (s *InMemoryStore) Update(_ context.Context, inv *models.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.invoices[inv.PaymentHash]
	if !ok {
		return sentinel.ErrNotFound
	}
	if current.Status.IsTerminal() && current.Status != inv.Status {
		return sentinel.ErrInvalidState
	}
	s.invoices[inv.PaymentHash] = clone(inv)
	return nil
}

func (s *InMemoryStore) FindByPaymentHash(_ context.Context, hash string) (*models.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inv, ok := s.invoices[hash]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(inv), nil
}

// FindOpenByName returns an unpaid invoice for name that has not expired at now.
func (s *InMemoryStore) FindOpenByName(_ context.Context, name string, now time.Time) (*models.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, inv := range s.invoices {
		if inv.Name == name && inv.IsOpen(now) {
			return clone(inv), nil
		}
	}
	return nil, sentinel.ErrNotFound
}

// ListDue returns unpaid invoices whose next poll is at or before now, earliest first.
func (s *InMemoryStore) ListDue(_ context.Context, now time.Time, limit int) ([]*models.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Invoice, 0)
	for _, inv := range s.invoices {
		if inv.Status == models.InvoiceUnpaid && inv.NextPollAt != nil && !inv.NextPollAt.After(now) {
			out = append(out, clone(inv))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextPollAt.Before(*out[j].NextPollAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
