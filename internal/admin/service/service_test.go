package service

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	billingservice "nip05d/internal/billing/service"
	"nip05d/internal/events"
	identity "nip05d/internal/identity/models"
	registrationstore "nip05d/internal/identity/store/registration"
	namesync "nip05d/internal/namesync/service"
	dErrors "nip05d/pkg/domain-errors"
	txcontext "nip05d/pkg/platform/tx"
	"nip05d/pkg/requestcontext"
)

const (
	aliceKey = identity.IdentityKey("3bf0c63fcb93463407af97a5e5ee64fa883d107ef9e558472c4eb9aaaefa459d")
	bobKey   = identity.IdentityKey("82341f882b6eabcd2ba7f1ef90aad961cf074af15b9ef44a09f9d2a8fbfbe6a2")
	carolKey = identity.IdentityKey("7e7e9c42a91bfef19fa929e5fda1b72e0ebc1a4c1141673e2794234d86addf4e")
)

type stubSyncer struct {
	forced []bool
}

func (s *stubSyncer) SyncAll(_ context.Context, force bool) (*namesync.Summary, error) {
	s.forced = append(s.forced, force)
	return &namesync.Summary{Checked: 2}, nil
}

type stubCanceller struct {
	hashes []string
}

func (s *stubCanceller) Cancel(_ context.Context, hash string) (*billingservice.Outcome, error) {
	s.hashes = append(s.hashes, hash)
	return &billingservice.Outcome{}, nil
}

type AdminSuite struct {
	suite.Suite
	store    *registrationstore.InMemoryStore
	recorder *events.Recorder
	syncer   *stubSyncer
	invoices *stubCanceller
	service  *Service
	now      time.Time
	ctx      context.Context
}

func TestAdminSuite(t *testing.T) {
	suite.Run(t, new(AdminSuite))
}

func (s *AdminSuite) SetupTest() {
	s.store = registrationstore.NewInMemory()
	s.recorder = events.NewRecorder()
	s.syncer = &stubSyncer{}
	s.invoices = &stubCanceller{}
	s.now = time.Date(2025, 6, 3, 9, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithActor(requestcontext.WithTime(context.Background(), s.now), "ops")

	svc, err := New(s.store, txcontext.NewLocalRunner(), s.recorder,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithNameSyncer(s.syncer),
		WithInvoiceCanceller(s.invoices),
	)
	s.Require().NoError(err)
	s.service = svc
}

func (s *AdminSuite) paid(key identity.IdentityKey, name string, plan identity.Plan, at time.Time) *identity.Registration {
	reg := identity.NewPendingRegistration(key, name, plan, at)
	reg.Activate(name, plan, at)
	s.Require().NoError(s.store.Create(context.Background(), reg))
	return reg
}

func (s *AdminSuite) reload(key identity.IdentityKey) *identity.Registration {
	reg, err := s.store.FindByIdentityKey(context.Background(), key)
	s.Require().NoError(err)
	return reg
}

func (s *AdminSuite) TestAddUser() {
	s.Run("grants a manual whitelist name", func() {
		reg, err := s.service.AddUser(s.ctx, AddUserRequest{PublicKey: aliceKey.String(), Username: "Alice", Note: "team"})
		s.Require().NoError(err)
		s.Equal("alice", reg.Name)
		s.Equal(identity.PlanWhitelist, reg.Plan)
		s.True(reg.ManualName)
		s.Nil(reg.ExpiresAt)
		s.True(reg.IsActive())
		s.Equal("team", reg.Note)
		s.Len(events.OfType(s.recorder.Drain(), events.UserWhitelisted), 1)
	})

	s.Run("upgrades an existing registration", func() {
		s.SetupTest()
		s.paid(bobKey, "bob", identity.PlanYearly, s.now.Add(-time.Hour))
		reg, err := s.service.AddUser(s.ctx, AddUserRequest{PublicKey: bobKey.String(), Username: "bob"})
		s.Require().NoError(err)
		s.Equal(identity.PlanWhitelist, reg.Plan)
		s.Nil(s.reload(bobKey).ExpiresAt)
	})

	s.Run("refuses a name held by another key", func() {
		s.SetupTest()
		s.paid(bobKey, "bob", identity.PlanYearly, s.now)
		_, err := s.service.AddUser(s.ctx, AddUserRequest{PublicKey: aliceKey.String(), Username: "bob"})
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
		s.Empty(s.recorder.Drain())
	})

	s.Run("rejects invalid input", func() {
		s.SetupTest()
		_, err := s.service.AddUser(s.ctx, AddUserRequest{PublicKey: "nope", Username: "alice"})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		_, err = s.service.AddUser(s.ctx, AddUserRequest{PublicKey: aliceKey.String(), Username: "_alice"})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *AdminSuite) TestActivationToggles() {
	s.paid(bobKey, "bob", identity.PlanLifetime, s.now)

	reg, err := s.service.Deactivate(s.ctx, "bob")
	s.Require().NoError(err)
	s.Equal(identity.StatusDeactivated, reg.Status)

	reg, err = s.service.Activate(s.ctx, "bob")
	s.Require().NoError(err)
	s.True(reg.IsActive())

	all := s.recorder.Drain()
	s.Len(events.OfType(all, events.UserDeactivated), 1)
	s.Len(events.OfType(all, events.UserActivated), 1)

	_, err = s.service.Activate(s.ctx, "ghost")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *AdminSuite) TestActivateRefusesTakenName() {
	bob := s.paid(bobKey, "bob", identity.PlanYearly, s.now.Add(-2*time.Hour))
	bob.Deactivate(s.now.Add(-time.Hour))
	s.Require().NoError(s.store.Update(context.Background(), bob))
	s.paid(aliceKey, "bob", identity.PlanYearly, s.now.Add(-30*time.Minute))

	// FindByName resolves to the active holder, so reactivating it is a no-op
	// and bob's registration stays deactivated.
	reg, err := s.service.Activate(s.ctx, "bob")
	s.Require().NoError(err)
	s.Equal(aliceKey, reg.IdentityKey)
	s.Equal(identity.StatusDeactivated, s.reload(bobKey).Status)
}

func (s *AdminSuite) TestRemoveUserKeepsRecord() {
	s.paid(bobKey, "bob", identity.PlanYearly, s.now)
	_, err := s.service.RemoveUser(s.ctx, "bob")
	s.Require().NoError(err)

	s.Equal(identity.StatusDeactivated, s.reload(bobKey).Status)
	removed := events.OfType(s.recorder.Drain(), events.UserRemoved)
	s.Require().Len(removed, 1)
	s.Equal("bob", removed[0].Name)

	active, err := s.service.ListUsers(s.ctx, true)
	s.Require().NoError(err)
	s.Empty(active)
	all, err := s.service.ListUsers(s.ctx, false)
	s.Require().NoError(err)
	s.Len(all, 1)
}

func (s *AdminSuite) TestSyncUsernames() {
	summary, err := s.service.SyncUsernames(s.ctx, true)
	s.Require().NoError(err)
	s.Equal(2, summary.Checked)
	s.Equal([]bool{true}, s.syncer.forced)

	disabled, err := New(s.store, txcontext.NewLocalRunner(), s.recorder)
	s.Require().NoError(err)
	_, err = disabled.SyncUsernames(s.ctx, false)
	s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
}

func (s *AdminSuite) TestCancelInvoice() {
	_, err := s.service.CancelInvoice(s.ctx, "abc")
	s.Require().NoError(err)
	s.Equal([]string{"abc"}, s.invoices.hashes)

	_, err = s.service.CancelInvoice(s.ctx, "")
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *AdminSuite) TestSubscriptionLifecycle() {
	lapsed := s.paid(bobKey, "bob", identity.PlanYearly, s.now.Add(-366*24*time.Hour))
	soon := s.paid(aliceKey, "alice", identity.PlanYearly, s.now.Add(-360*24*time.Hour))
	s.paid(carolKey, "carol", identity.PlanLifetime, s.now.Add(-400*24*time.Hour))

	expiring, err := s.service.ListExpiring(s.ctx, s.now.Add(7*24*time.Hour))
	s.Require().NoError(err)
	s.Len(expiring, 2)

	expired, err := s.service.ExpireSubscription(s.ctx, lapsed)
	s.Require().NoError(err)
	s.True(expired)
	s.Equal(identity.StatusDeactivated, s.reload(bobKey).Status)

	again, err := s.service.ExpireSubscription(s.ctx, lapsed)
	s.Require().NoError(err)
	s.False(again)

	notYet, err := s.service.ExpireSubscription(s.ctx, soon)
	s.Require().NoError(err)
	s.False(notYet)

	s.service.WarnExpiring(s.ctx, soon)

	all := s.recorder.Drain()
	s.Len(events.OfType(all, events.SubscriptionExpired), 1)
	warned := events.OfType(all, events.SubscriptionExpiring)
	s.Require().Len(warned, 1)
	s.Equal("alice", warned[0].Name)
	s.NotNil(warned[0].ExpiresAt)
}

func (s *AdminSuite) TestApplyWhitelist() {
	s.Run("adds entries and displaces a paying holder", func() {
		bob := s.paid(bobKey, "admin", identity.PlanYearly, s.now.Add(-time.Hour))
		synced := s.now.Add(-time.Minute)
		s.Require().NoError(s.store.TouchSynced(context.Background(), bob.ID, synced))

		stats, err := s.service.ApplyWhitelist(s.ctx, &WhitelistFile{Users: []WhitelistEntry{
			{Pubkey: aliceKey.String(), Username: "admin", Note: "operator"},
			{Pubkey: carolKey.String(), Username: "carol"},
		}})
		s.Require().NoError(err)
		s.Equal(2, stats.Added)
		s.Zero(stats.Errors)

		alice := s.reload(aliceKey)
		s.Equal("admin", alice.Name)
		s.True(alice.ManualName)
		s.Equal(identity.PlanWhitelist, alice.Plan)

		moved := s.reload(bobKey)
		s.Equal("82341f88tmp", moved.Name)
		s.True(moved.IsActive())
		s.False(moved.ManualName)
		s.Nil(moved.LastSyncedAt)

		all := s.recorder.Drain()
		s.Len(events.OfType(all, events.UserWhitelisted), 2)
		renamed := events.OfType(all, events.UsernameUpdated)
		s.Require().Len(renamed, 1)
		s.Equal("admin", renamed[0].OldName)
	})

	s.Run("picks the next free temporary name", func() {
		s.SetupTest()
		s.paid(aliceKey, "82341f88tmp", identity.PlanYearly, s.now.Add(-2*time.Hour))
		s.paid(bobKey, "root", identity.PlanYearly, s.now.Add(-time.Hour))

		_, err := s.service.ApplyWhitelist(s.ctx, &WhitelistFile{Users: []WhitelistEntry{
			{Pubkey: carolKey.String(), Username: "root"},
		}})
		s.Require().NoError(err)
		s.Equal("82341f88tmp1", s.reload(bobKey).Name)
	})

	s.Run("is idempotent and deactivates dropped entries", func() {
		s.SetupTest()
		file := &WhitelistFile{Users: []WhitelistEntry{
			{Pubkey: aliceKey.String(), Username: "alice"},
			{Pubkey: carolKey.String(), Username: "carol"},
		}}
		_, err := s.service.ApplyWhitelist(s.ctx, file)
		s.Require().NoError(err)
		s.recorder.Drain()

		stats, err := s.service.ApplyWhitelist(s.ctx, file)
		s.Require().NoError(err)
		s.Equal(WhitelistStats{}, *stats)
		s.Empty(s.recorder.Drain())

		stats, err = s.service.ApplyWhitelist(s.ctx, &WhitelistFile{Users: file.Users[:1]})
		s.Require().NoError(err)
		s.Equal(1, stats.Deactivated)
		s.Equal(identity.StatusDeactivated, s.reload(carolKey).Status)
		s.Len(events.OfType(s.recorder.Drain(), events.UserRemoved), 1)
	})

	s.Run("reports bad entries without aborting", func() {
		s.SetupTest()
		inactive := false
		stats, err := s.service.ApplyWhitelist(s.ctx, &WhitelistFile{Users: []WhitelistEntry{
			{Pubkey: "garbage", Username: "x"},
			{Pubkey: aliceKey.String(), Username: "!!!"},
			{Pubkey: carolKey.String(), Username: "carol", Active: &inactive},
			{Pubkey: carolKey.String(), Username: "carol2"},
		}})
		s.Require().NoError(err)
		s.Equal(3, stats.Errors)
		s.Equal(1, stats.Added)
		s.Equal(identity.StatusDeactivated, s.reload(carolKey).Status)
	})

	s.Run("does not displace another whitelist entry", func() {
		s.SetupTest()
		stats, err := s.service.ApplyWhitelist(s.ctx, &WhitelistFile{Users: []WhitelistEntry{
			{Pubkey: aliceKey.String(), Username: "shared"},
			{Pubkey: carolKey.String(), Username: "shared"},
		}})
		s.Require().NoError(err)
		s.Equal(1, stats.Added)
		s.Equal(1, stats.Errors)
		s.Equal("shared", s.reload(aliceKey).Name)
	})
}

func (s *AdminSuite) TestReloadWhitelist() {
	_, err := s.service.ReloadWhitelist(s.ctx)
	s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))

	path := filepath.Join(s.T().TempDir(), "whitelist.json")
	doc := `{"users":[{"pubkey":"` + aliceKey.String() + `","username":"alice","note":"ops"}]}`
	s.Require().NoError(os.WriteFile(path, []byte(doc), 0o600))

	svc, err := New(s.store, txcontext.NewLocalRunner(), s.recorder, WithWhitelist(NewWhitelistLoader(path)))
	s.Require().NoError(err)
	stats, err := svc.ReloadWhitelist(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, stats.Added)
	s.Equal("ops", s.reload(aliceKey).Note)

	s.Require().NoError(os.WriteFile(path, []byte("users: [oops"), 0o600))
	later := time.Now().Add(time.Minute)
	s.Require().NoError(os.Chtimes(path, later, later))
	_, err = svc.ReloadWhitelist(s.ctx)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	s.Require().NoError(os.Remove(path))
	_, err = svc.ReloadWhitelist(s.ctx)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func TestWhitelistLoader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "whitelist.yaml")
	yamlDoc := []byte(`metadata:
  version: 2
users:
  - pubkey: 3bf0c63fcb93463407af97a5e5ee64fa883d107ef9e558472c4eb9aaaefa459d
    username: alice
    note: founder
  - pubkey: 82341f882b6eabcd2ba7f1ef90aad961cf074af15b9ef44a09f9d2a8fbfbe6a2
    username: bob
    active: false
`)
	require.NoError(t, os.WriteFile(path, yamlDoc, 0o600))

	loader := NewWhitelistLoader(path)
	first, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, 2, first.Metadata.Version)
	require.Len(t, first.Users, 2)
	assert.True(t, first.Users[0].IsActive())
	assert.False(t, first.Users[1].IsActive())

	cached, err := loader.Load()
	require.NoError(t, err)
	assert.Same(t, first, cached)

	jsonDoc := []byte(`{"users":[{"pubkey":"3bf0c63fcb93463407af97a5e5ee64fa883d107ef9e558472c4eb9aaaefa459d","username":"al"}]}`)
	require.NoError(t, os.WriteFile(path, jsonDoc, 0o600))
	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, later, later))

	reloaded, err := loader.Load()
	require.NoError(t, err)
	require.Len(t, reloaded.Users, 1)
	assert.Equal(t, "al", reloaded.Users[0].Username)

	_, err = ParseWhitelist([]byte("users: [unterminated"))
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))

	_, err = NewWhitelistLoader(filepath.Join(dir, "missing.yaml")).Load()
	assert.Error(t, err)
}
