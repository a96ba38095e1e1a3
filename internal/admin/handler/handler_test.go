package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"nip05d/internal/admin/handler/mocks"
	adminservice "nip05d/internal/admin/service"
	billingmodels "nip05d/internal/billing/models"
	billingservice "nip05d/internal/billing/service"
	identity "nip05d/internal/identity/models"
	namesync "nip05d/internal/namesync/service"
	dErrors "nip05d/pkg/domain-errors"
)

const aliceKey = identity.IdentityKey("3bf0c63fcb93463407af97a5e5ee64fa883d107ef9e558472c4eb9aaaefa459d")

type HandlerSuite struct {
	suite.Suite
	service *mocks.MockService
	router  chi.Router
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	ctrl := gomock.NewController(s.T())
	s.service = mocks.NewMockService(ctrl)
	s.router = chi.NewRouter()
	New(s.service, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(s.router)
}

func (s *HandlerSuite) do(method, target, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func alice() *identity.Registration {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	reg := identity.NewPendingRegistration(aliceKey, "alice", identity.PlanWhitelist, now)
	reg.Activate("alice", identity.PlanWhitelist, now)
	reg.ManualName = true
	return reg
}

func (s *HandlerSuite) TestAdd() {
	s.service.EXPECT().
		AddUser(gomock.Any(), adminservice.AddUserRequest{PublicKey: aliceKey.String(), Username: "alice", Note: "ops"}).
		Return(alice(), nil)

	w := s.do(http.MethodPost, "/api/whitelist/add", `{"pubkey":"`+aliceKey.String()+`","username":"alice","note":"ops"}`)
	s.Equal(http.StatusOK, w.Code)

	var resp UserResponse
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	s.Equal("alice", resp.Username)
	s.Equal("whitelist", resp.Plan)
	s.True(resp.Active)
	s.True(resp.ManualName)
	s.Equal(aliceKey.Npub(), resp.Npub)
}

func (s *HandlerSuite) TestAddValidation() {
	w := s.do(http.MethodPost, "/api/whitelist/add", `{"username":"alice"}`)
	s.Equal(http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/api/whitelist/add", `{not json`)
	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *HandlerSuite) TestAddConflict() {
	s.service.EXPECT().AddUser(gomock.Any(), gomock.Any()).
		Return(nil, dErrors.New(dErrors.CodeConflict, "username already taken"))

	w := s.do(http.MethodPost, "/api/whitelist/add", `{"pubkey":"`+aliceKey.String()+`","username":"bob"}`)
	s.Equal(http.StatusConflict, w.Code)
	s.Contains(w.Body.String(), "username already taken")
}

func (s *HandlerSuite) TestRemove() {
	s.service.EXPECT().RemoveUser(gomock.Any(), "alice").Return(alice(), nil).Times(2)

	s.Equal(http.StatusOK, s.do(http.MethodDelete, "/api/whitelist/remove", `{"username":"alice"}`).Code)
	s.Equal(http.StatusOK, s.do(http.MethodDelete, "/api/whitelist/remove?username=alice", "").Code)
	s.Equal(http.StatusBadRequest, s.do(http.MethodDelete, "/api/whitelist/remove", "").Code)
}

func (s *HandlerSuite) TestList() {
	s.service.EXPECT().ListUsers(gomock.Any(), true).Return([]*identity.Registration{alice()}, nil)
	s.service.EXPECT().ListUsers(gomock.Any(), false).Return(nil, nil)

	w := s.do(http.MethodGet, "/api/whitelist/users", "")
	s.Equal(http.StatusOK, w.Code)
	var resp UsersListResponse
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	s.Equal(1, resp.Total)

	w = s.do(http.MethodGet, "/api/whitelist/users?active_only=false", "")
	s.Equal(http.StatusOK, w.Code)
	s.JSONEq(`{"users":[],"total":0}`, w.Body.String())

	s.Equal(http.StatusBadRequest, s.do(http.MethodGet, "/api/whitelist/users?active_only=maybe", "").Code)
}

func (s *HandlerSuite) TestToggles() {
	s.service.EXPECT().Activate(gomock.Any(), "alice").Return(alice(), nil)
	s.service.EXPECT().Deactivate(gomock.Any(), "ghost").
		Return(nil, dErrors.New(dErrors.CodeNotFound, "user not found"))

	s.Equal(http.StatusOK, s.do(http.MethodPost, "/api/whitelist/activate/alice", "").Code)
	s.Equal(http.StatusNotFound, s.do(http.MethodPost, "/api/whitelist/deactivate/ghost", "").Code)
}

func (s *HandlerSuite) TestSyncUsernames() {
	s.service.EXPECT().SyncUsernames(gomock.Any(), true).
		Return(&namesync.Summary{Checked: 3, Results: map[string]int{"renamed": 1}}, nil)
	s.service.EXPECT().SyncUsernames(gomock.Any(), false).
		Return(nil, dErrors.New(dErrors.CodeBadRequest, "username sync is disabled"))

	w := s.do(http.MethodPost, "/api/whitelist/sync-usernames?force=true", "")
	s.Equal(http.StatusOK, w.Code)
	s.JSONEq(`{"checked":3,"results":{"renamed":1}}`, w.Body.String())

	s.Equal(http.StatusBadRequest, s.do(http.MethodPost, "/api/whitelist/sync-usernames", "").Code)
}

func (s *HandlerSuite) TestReload() {
	s.service.EXPECT().ReloadWhitelist(gomock.Any()).Return(&adminservice.WhitelistStats{Added: 2}, nil)

	w := s.do(http.MethodPost, "/api/whitelist/reload", "")
	s.Equal(http.StatusOK, w.Code)
	s.JSONEq(`{"added":2,"updated":0,"deactivated":0,"errors":0}`, w.Body.String())
}

func (s *HandlerSuite) TestCancelInvoice() {
	s.service.EXPECT().CancelInvoice(gomock.Any(), "abc123").
		Return(&billingservice.Outcome{PaymentHash: "abc123", Status: billingmodels.InvoiceCancelled, Changed: true}, nil)

	w := s.do(http.MethodPost, "/api/invoices/abc123/cancel", "")
	s.Equal(http.StatusOK, w.Code)
	s.JSONEq(`{"payment_hash":"abc123","status":"cancelled","changed":true}`, w.Body.String())
}

func (s *HandlerSuite) TestInternalErrorIsOpaque() {
	s.service.EXPECT().ListUsers(gomock.Any(), true).
		Return(nil, dErrors.New(dErrors.CodeInternal, "db exploded"))

	w := s.do(http.MethodGet, "/api/whitelist/users", "")
	s.Equal(http.StatusInternalServerError, w.Code)
	s.NotContains(w.Body.String(), "db exploded")
}
