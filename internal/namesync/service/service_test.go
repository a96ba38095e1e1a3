package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"nip05d/internal/events"
	identity "nip05d/internal/identity/models"
	registrationstore "nip05d/internal/identity/store/registration"
	"nip05d/internal/namesync/relay"
	"nip05d/internal/namesync/service/mocks"
	dErrors "nip05d/pkg/domain-errors"
	txcontext "nip05d/pkg/platform/tx"
	"nip05d/pkg/requestcontext"
)

const (
	bobKey   = identity.IdentityKey("82341f882b6eabcd2ba7f1ef90aad961cf074af15b9ef44a09f9d2a8fbfbe6a2")
	carolKey = identity.IdentityKey("3bf0c63fcb93463407af97a5e5ee64fa883d107ef9e558472c4eb9aaaefa459d")
)

type SyncSuite struct {
	suite.Suite
	relays   *mocks.MockRelayClient
	store    *registrationstore.InMemoryStore
	recorder *events.Recorder
	service  *Service
	now      time.Time
	ctx      context.Context
}

func TestSyncSuite(t *testing.T) {
	suite.Run(t, new(SyncSuite))
}

func (s *SyncSuite) SetupTest() {
	ctrl := gomock.NewController(s.T())
	s.relays = mocks.NewMockRelayClient(ctrl)
	s.store = registrationstore.NewInMemory()
	s.recorder = events.NewRecorder()
	s.now = time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)

	svc, err := New(s.store, txcontext.NewLocalRunner(), s.relays, s.recorder,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithRelays([]string{"wss://relay.one", "wss://relay.two"}),
		WithRelayTimeout(5*time.Second),
	)
	s.Require().NoError(err)
	s.service = svc
}

func (s *SyncSuite) active(key identity.IdentityKey, name string) *identity.Registration {
	reg := identity.NewPendingRegistration(key, name, identity.PlanYearly, s.now.Add(-48*time.Hour))
	reg.Activate(name, identity.PlanYearly, s.now.Add(-48*time.Hour))
	s.Require().NoError(s.store.Create(context.Background(), reg))
	return reg
}

func (s *SyncSuite) profile(key identity.IdentityKey, name string) {
	s.relays.EXPECT().
		FetchLatestProfile(gomock.Any(), key.String(), []string{"wss://relay.one", "wss://relay.two"}, 5*time.Second).
		Return(&relay.Profile{Name: name, CreatedAt: s.now.Add(-time.Hour)}, nil)
}

func (s *SyncSuite) reload(id *identity.Registration) *identity.Registration {
	reg, err := s.store.FindByID(context.Background(), id.ID)
	s.Require().NoError(err)
	return reg
}

func (s *SyncSuite) TestRenamesToProfileName() {
	bob := s.active(bobKey, "bob")
	s.profile(bobKey, "Bobby")

	res, err := s.service.SyncOne(s.ctx, bob)
	s.Require().NoError(err)
	s.Equal(ResultRenamed, res.Result)
	s.Equal("bob", res.OldName)
	s.Equal("bobby", res.NewName)

	got := s.reload(bob)
	s.Equal("bobby", got.Name)
	s.Require().NotNil(got.LastSyncedAt)
	s.Equal(s.now, *got.LastSyncedAt)

	updated := events.OfType(s.recorder.Drain(), events.UsernameUpdated)
	s.Require().Len(updated, 1)
	s.Equal("bob", updated[0].OldName)
	s.Equal("bobby", updated[0].NewName)
}

func (s *SyncSuite) TestConflictingNameIsNotApplied() {
	bob := s.active(bobKey, "bob")
	s.active(carolKey, "bobby")
	s.profile(bobKey, "bobby")

	res, err := s.service.SyncOne(s.ctx, bob)
	s.Require().NoError(err)
	s.Equal(ResultConflict, res.Result)

	got := s.reload(bob)
	s.Equal("bob", got.Name)
	s.NotNil(got.LastSyncedAt)
	s.Empty(s.recorder.Drain())
}

func (s *SyncSuite) TestInvalidProfileNameOnlyTouches() {
	bob := s.active(bobKey, "bob")
	s.profile(bobKey, "!!!")

	res, err := s.service.SyncOne(s.ctx, bob)
	s.Require().NoError(err)
	s.Equal(ResultInvalidName, res.Result)
	s.Equal("bob", s.reload(bob).Name)
	s.NotNil(s.reload(bob).LastSyncedAt)
}

func (s *SyncSuite) TestMissingProfileOnlyTouches() {
	bob := s.active(bobKey, "bob")
	s.relays.EXPECT().FetchLatestProfile(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, nil)

	res, err := s.service.SyncOne(s.ctx, bob)
	s.Require().NoError(err)
	s.Equal(ResultNoProfile, res.Result)
	s.NotNil(s.reload(bob).LastSyncedAt)
}

func (s *SyncSuite) TestSameNameOnlyTouches() {
	bob := s.active(bobKey, "bob")
	s.profile(bobKey, "BOB")

	res, err := s.service.SyncOne(s.ctx, bob)
	s.Require().NoError(err)
	s.Equal(ResultUnchanged, res.Result)
	s.Empty(s.recorder.Drain())
}

func (s *SyncSuite) TestRelayOutageLeavesRegistrationDue() {
	bob := s.active(bobKey, "bob")
	s.relays.EXPECT().FetchLatestProfile(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, relay.ErrUnavailable)

	res, err := s.service.SyncOne(s.ctx, bob)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
	s.True(errors.Is(err, relay.ErrUnavailable))
	s.Equal(ResultUnavailable, res.Result)
	s.Nil(s.reload(bob).LastSyncedAt)
}

func (s *SyncSuite) TestManualNameSetConcurrentlyIsRespected() {
	bob := s.active(bobKey, "bob")
	stored := s.reload(bob)
	stored.ManualName = true
	s.Require().NoError(s.store.Update(context.Background(), stored))
	s.profile(bobKey, "bobby")

	res, err := s.service.SyncOne(s.ctx, bob)
	s.Require().NoError(err)
	s.Equal(ResultSkipped, res.Result)
	s.Equal("bob", s.reload(bob).Name)
}

func (s *SyncSuite) TestSyncAllHonorsMaxAge() {
	bob := s.active(bobKey, "bob")
	carol := s.active(carolKey, "carol")
	s.Require().NoError(s.store.TouchSynced(context.Background(), bob.ID, s.now.Add(-23*time.Hour)))
	s.Require().NoError(s.store.TouchSynced(context.Background(), carol.ID, s.now.Add(-25*time.Hour)))

	s.profile(carolKey, "carol")
	summary, err := s.service.SyncAll(s.ctx, false)
	s.Require().NoError(err)
	s.Equal(1, summary.Checked)
	s.Equal(1, summary.Results[ResultUnchanged])

	s.profile(bobKey, "bob")
	s.profile(carolKey, "caroline")
	summary, err = s.service.SyncAll(s.ctx, true)
	s.Require().NoError(err)
	s.Equal(2, summary.Checked)
	s.Equal(1, summary.Results[ResultRenamed])
	s.Equal("caroline", s.reload(carol).Name)
}
