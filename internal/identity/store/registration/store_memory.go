package registration

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"nip05d/internal/identity/models"
	"nip05d/pkg/platform/sentinel"
	pkgstrings "nip05d/pkg/platform/strings"
)

// InMemoryStore keeps registrations in process memory. It enforces the same
// uniqueness rules as the Postgres schema: one registration per identity key and
// one active registration per name.
type InMemoryStore struct {
	mu    sync.RWMutex
	byID  map[uuid.UUID]*models.Registration
	byKey map[models.IdentityKey]uuid.UUID
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		byID:  make(map[uuid.UUID]*models.Registration),
		byKey: make(map[models.IdentityKey]uuid.UUID),
	}
}

func clone(r *models.Registration) *models.Registration {
	c := *r
	if r.ExpiresAt != nil {
		t := *r.ExpiresAt
		c.ExpiresAt = &t
	}
	if r.LastSyncedAt != nil {
		t := *r.LastSyncedAt
		c.LastSyncedAt = &t
	}
	return &c
}

// activeHolderLocked returns the active registration holding name, if any.
func (s *InMemoryStore) activeHolderLocked(name string) *models.Registration {
	for _, r := range s.byID {
		if r.Status == models.StatusActive && r.Name == name {
			return r
		}
	}
	return nil
}

func (s *InMemoryStore) Create(_ context.Context, reg *models.Registration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byKey[reg.IdentityKey]; ok {
		return sentinel.ErrConflict
	}
	if reg.Status == models.StatusActive {
		if h := s.activeHolderLocked(reg.Name); h != nil {
			return sentinel.ErrConflict
		}
	}
	s.byID[reg.ID] = clone(reg)
	s.byKey[reg.IdentityKey] = reg.ID
	return nil
}

func (s *InMemoryStore) Update(_ context.Context, reg *models.Registration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[reg.ID]; !ok {
		return sentinel.ErrNotFound
	}
	if reg.Status == models.StatusActive {
		if h := s.activeHolderLocked(reg.Name); h != nil && h.ID != reg.ID {
			return sentinel.ErrConflict
		}
	}
	s.byID[reg.ID] = clone(reg)
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, id uuid.UUID) (*models.Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byID[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(r), nil
}

func (s *InMemoryStore) FindByIdentityKey(_ context.Context, key models.IdentityKey) (*models.Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byKey[key]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(s.byID[id]), nil
}

func (s *InMemoryStore) FindActiveByName(_ context.Context, name string) (*models.Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r := s.activeHolderLocked(name); r != nil {
		return clone(r), nil
	}
	return nil, sentinel.ErrNotFound
}

// FindByName prefers the active holder and otherwise returns the most recently
// updated registration using name.
func (s *InMemoryStore) FindByName(_ context.Context, name string) (*models.Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *models.Registration
	for _, r := range s.byID {
		if r.Name != name {
			continue
		}
		if r.Status == models.StatusActive {
			return clone(r), nil
		}
		if best == nil || r.UpdatedAt.After(best.UpdatedAt) {
			best = r
		}
	}
	if best == nil {
		return nil, sentinel.ErrNotFound
	}
	return clone(best), nil
}

func (s *InMemoryStore) list(match func(*models.Registration) bool) []*models.Registration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Registration, 0)
	for _, r := range s.byID {
		if match(r) {
			out = append(out, clone(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *InMemoryStore) List(_ context.Context, activeOnly bool) ([]*models.Registration, error) {
	return s.list(func(r *models.Registration) bool {
		return !activeOnly || r.Status == models.StatusActive
	}), nil
}

func (s *InMemoryStore) ListActiveByNames(_ context.Context, names []string) ([]*models.Registration, error) {
	names = pkgstrings.DedupeAndTrimLower(names)
	want := make(map[string]struct{}, len(names))
	for _, n := range names {
		want[n] = struct{}{}
	}
	return s.list(func(r *models.Registration) bool {
		_, ok := want[r.Name]
		return ok && r.Status == models.StatusActive
	}), nil
}

func (s *InMemoryStore) ListByPlan(_ context.Context, plan models.Plan) ([]*models.Registration, error) {
	return s.list(func(r *models.Registration) bool { return r.Plan == plan }), nil
}

// ListSyncCandidates returns active, non-manual registrations never synced or
// last synced before cutoff, oldest first.
func (s *InMemoryStore) ListSyncCandidates(_ context.Context, cutoff time.Time, limit int) ([]*models.Registration, error) {
	out := s.list(func(r *models.Registration) bool {
		if r.Status != models.StatusActive || r.ManualName {
			return false
		}
		return r.LastSyncedAt == nil || r.LastSyncedAt.Before(cutoff)
	})
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].LastSyncedAt, out[j].LastSyncedAt
		if a == nil || b == nil {
			return a == nil && b != nil
		}
		return a.Before(*b)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListExpiringBefore returns active registrations with an expiry at or before t.
func (s *InMemoryStore) ListExpiringBefore(_ context.Context, t time.Time) ([]*models.Registration, error) {
	return s.list(func(r *models.Registration) bool {
		return r.Status == models.StatusActive && r.ExpiresAt != nil && !r.ExpiresAt.After(t)
	}), nil
}

func (s *InMemoryStore) TouchSynced(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	t := at
	r.LastSyncedAt = &t
	return nil
}
