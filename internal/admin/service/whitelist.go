package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"nip05d/internal/events"
	identity "nip05d/internal/identity/models"
	dErrors "nip05d/pkg/domain-errors"
	"nip05d/pkg/platform/sentinel"
	"nip05d/pkg/requestcontext"
)

// WhitelistEntry is one operator grant. Pubkey accepts npub or hex.
type WhitelistEntry struct {
	Pubkey   string `yaml:"pubkey" json:"pubkey"`
	Username string `yaml:"username" json:"username"`
	Active   *bool  `yaml:"active,omitempty" json:"active,omitempty"`
	Note     string `yaml:"note,omitempty" json:"note,omitempty"`
}

// IsActive defaults to true when the entry omits the flag.
func (e WhitelistEntry) IsActive() bool {
	return e.Active == nil || *e.Active
}

type WhitelistFile struct {
	Metadata struct {
		Version int `yaml:"version" json:"version"`
	} `yaml:"metadata" json:"metadata"`
	Users []WhitelistEntry `yaml:"users" json:"users"`
}

// ParseWhitelist decodes a whitelist document. JSON documents are valid YAML.
func ParseWhitelist(data []byte) (*WhitelistFile, error) {
	var f WhitelistFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "invalid whitelist file")
	}
	return &f, nil
}

// WhitelistLoader reads the whitelist file and reuses the parsed document
// until the file's modification time changes.
type WhitelistLoader struct {
	path string

	mu      sync.Mutex
	modTime time.Time
	cached  *WhitelistFile
}

func NewWhitelistLoader(path string) *WhitelistLoader {
	return &WhitelistLoader{path: path}
}

func (l *WhitelistLoader) Path() string { return l.path }

func (l *WhitelistLoader) Load() (*WhitelistFile, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	info, err := os.Stat(l.path)
	if err != nil {
		return nil, fmt.Errorf("stat whitelist %s: %w", l.path, err)
	}
	if l.cached != nil && info.ModTime().Equal(l.modTime) {
		return l.cached, nil
	}
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("read whitelist %s: %w", l.path, err)
	}
	f, err := ParseWhitelist(data)
	if err != nil {
		return nil, err
	}
	l.cached = f
	l.modTime = info.ModTime()
	return f, nil
}

// WhitelistStats counts what a reconciliation changed.
type WhitelistStats struct {
	Added       int      `json:"added"`
	Updated     int      `json:"updated"`
	Deactivated int      `json:"deactivated"`
	Errors      int      `json:"errors"`
	Problems    []string `json:"problems,omitempty"`
}

func (st *WhitelistStats) problem(format string, args ...any) {
	st.Errors++
	st.Problems = append(st.Problems, fmt.Sprintf(format, args...))
}

// ReloadWhitelist reads the configured whitelist file and applies it.
func (s *Service) ReloadWhitelist(ctx context.Context) (*WhitelistStats, error) {
	if s.loader == nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, "no whitelist file configured")
	}
	file, err := s.loader.Load()
	if err != nil {
		switch {
		case dErrors.HasCode(err, dErrors.CodeValidation):
			return nil, err
		case errors.Is(err, os.ErrNotExist):
			return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "whitelist file not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load whitelist")
	}
	return s.ApplyWhitelist(ctx, file)
}

// ApplyWhitelist makes whitelist registrations match file. An entry whose
// name is held by a paying party takes the name; the previous holder is moved
// to a temporary name and handed back to profile sync. Whitelist
// registrations absent from the file are deactivated.
func (s *Service) ApplyWhitelist(ctx context.Context, file *WhitelistFile) (*WhitelistStats, error) {
	now := requestcontext.Now(ctx)

	var (
		stats   *WhitelistStats
		pending []events.Event
	)
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		stats = &WhitelistStats{}
		pending = pending[:0]
		listed := make(map[identity.IdentityKey]struct{}, len(file.Users))

		for i, entry := range file.Users {
			key, err := identity.ParseIdentityKey(entry.Pubkey)
			if err != nil {
				stats.problem("entry %d: invalid pubkey", i)
				continue
			}
			name, err := identity.NormalizeName(entry.Username)
			if err != nil {
				stats.problem("entry %d: invalid username %q", i, entry.Username)
				continue
			}
			if _, dup := listed[key]; dup {
				stats.problem("entry %d: duplicate pubkey %s", i, key.Short())
				continue
			}
			listed[key] = struct{}{}

			evs, err := s.applyEntry(txCtx, key, name, entry, stats, now)
			if err != nil {
				return err
			}
			pending = append(pending, evs...)
		}

		current, err := s.store.ListByPlan(txCtx, identity.PlanWhitelist)
		if err != nil {
			return err
		}
		for _, reg := range current {
			if _, ok := listed[reg.IdentityKey]; ok || !reg.IsActive() {
				continue
			}
			reg.Deactivate(now)
			if err := s.store.Update(txCtx, reg); err != nil {
				return err
			}
			stats.Deactivated++
			pending = append(pending, events.Event{
				Type:        events.UserRemoved,
				IdentityKey: reg.IdentityKey.String(),
				Name:        reg.Name,
				Reason:      "removed from whitelist",
			})
		}
		return nil
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to apply whitelist")
	}

	for _, e := range pending {
		s.emitter.Emit(ctx, e)
	}
	s.logger.InfoContext(ctx, "whitelist applied",
		"entries", len(file.Users),
		"added", stats.Added,
		"updated", stats.Updated,
		"deactivated", stats.Deactivated,
		"errors", stats.Errors,
	)
	return stats, nil
}

func (s *Service) applyEntry(
	ctx context.Context,
	key identity.IdentityKey,
	name string,
	entry WhitelistEntry,
	stats *WhitelistStats,
	now time.Time,
) ([]events.Event, error) {
	var out []events.Event
	active := entry.IsActive()

	if active {
		holder, err := s.store.FindActiveByName(ctx, name)
		switch {
		case err == nil && holder.IdentityKey != key:
			if holder.Plan == identity.PlanWhitelist {
				stats.problem("username %q listed for two pubkeys", name)
				return nil, nil
			}
			evt, err := s.displace(ctx, holder, now)
			if err != nil {
				return nil, err
			}
			out = append(out, evt)
		case err != nil && !errors.Is(err, sentinel.ErrNotFound):
			return nil, err
		}
	}

	reg, err := s.store.FindByIdentityKey(ctx, key)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		reg = identity.NewPendingRegistration(key, name, identity.PlanWhitelist, now)
		grant(reg, name, entry.Note, active, now)
		if err := s.store.Create(ctx, reg); err != nil {
			return nil, err
		}
		stats.Added++
	case err != nil:
		return nil, err
	default:
		if matchesEntry(reg, name, entry.Note, active) {
			return out, nil
		}
		grant(reg, name, entry.Note, active, now)
		if err := s.store.Update(ctx, reg); err != nil {
			return nil, err
		}
		stats.Updated++
	}

	if active {
		out = append(out, events.Event{
			Type:        events.UserWhitelisted,
			IdentityKey: key.String(),
			Name:        name,
			Plan:        string(identity.PlanWhitelist),
		})
	}
	return out, nil
}

// displace moves holder off its name to <key prefix>tmp, tmp1, tmp2 and so
// on, picking the first name no registration uses.
func (s *Service) displace(ctx context.Context, holder *identity.Registration, now time.Time) (events.Event, error) {
	base := holder.IdentityKey.Short() + "tmp"
	tmp := base
	for n := 1; ; n++ {
		_, err := s.store.FindByName(ctx, tmp)
		if errors.Is(err, sentinel.ErrNotFound) {
			break
		}
		if err != nil {
			return events.Event{}, err
		}
		tmp = fmt.Sprintf("%s%d", base, n)
	}

	old := holder.Name
	holder.Rename(tmp, now)
	holder.ManualName = false
	holder.LastSyncedAt = nil
	if err := s.store.Update(ctx, holder); err != nil {
		return events.Event{}, err
	}
	s.logger.WarnContext(ctx, "whitelist displaced name holder",
		"old_name", old,
		"new_name", tmp,
		"identity_key", holder.IdentityKey.Short(),
	)
	return events.Event{
		Type:        events.UsernameUpdated,
		IdentityKey: holder.IdentityKey.String(),
		OldName:     old,
		NewName:     tmp,
		Reason:      "displaced by whitelist",
	}, nil
}

func matchesEntry(reg *identity.Registration, name, note string, active bool) bool {
	return reg.Name == name &&
		reg.Plan == identity.PlanWhitelist &&
		reg.ManualName &&
		reg.Note == note &&
		reg.ExpiresAt == nil &&
		reg.IsActive() == active
}
