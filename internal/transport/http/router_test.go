package httptransport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	adminmw "nip05d/pkg/platform/middleware/admin"
	request "nip05d/pkg/platform/middleware/request"
	"nip05d/pkg/requestcontext"
)

type registrarFunc func(chi.Router)

func (f registrarFunc) Register(r chi.Router) { f(r) }

type latencySample struct {
	method, route string
	status        int
}

type observerFunc func(method, route string, status int)

func (f observerFunc) ObserveRequest(method, route string, status int, _ time.Duration) {
	f(method, route, status)
}

type RouterSuite struct {
	suite.Suite
	checkErr error
	samples  []latencySample
	router   http.Handler
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) SetupTest() {
	s.checkErr = nil
	s.samples = nil
	public := registrarFunc(func(r chi.Router) {
		r.Get("/.well-known/nostr.json", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"names":{}}`))
		})
	})
	admin := registrarFunc(func(r chi.Router) {
		r.Get("/api/whitelist/users", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(requestcontext.Actor(r.Context())))
		})
	})
	s.router = NewRouter(Config{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Latency: observerFunc(func(method, route string, status int) {
			s.samples = append(s.samples, latencySample{method, route, status})
		}),
		Public:    []Registrar{public},
		Admin:     []Registrar{admin},
		AdminAuth: adminmw.NewAuthenticator("secret"),
		Checks: map[string]HealthCheck{
			"database": func(context.Context) error { return s.checkErr },
		},
	})
}

func (s *RouterSuite) do(method, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *RouterSuite) TestHealth() {
	w := s.do(http.MethodGet, "/health", nil)
	s.Equal(http.StatusOK, w.Code)
	s.JSONEq(`{"status":"ok"}`, w.Body.String())
	s.NotEmpty(w.Header().Get(request.HeaderRequestID))
}

func (s *RouterSuite) TestReadiness() {
	s.Run("all dependencies up", func() {
		w := s.do(http.MethodGet, "/health/ready", nil)
		s.Equal(http.StatusOK, w.Code)
		s.JSONEq(`{"status":"ok","checks":{"database":"ok"}}`, w.Body.String())
	})
	s.Run("dependency down", func() {
		s.checkErr = errors.New("connection refused")
		w := s.do(http.MethodGet, "/health/ready", nil)
		s.Equal(http.StatusServiceUnavailable, w.Code)
		s.JSONEq(`{"status":"degraded","checks":{"database":"unavailable"}}`, w.Body.String())
	})
}

func (s *RouterSuite) TestPublicRoutesAreOpen() {
	w := s.do(http.MethodGet, "/.well-known/nostr.json", nil)
	s.Equal(http.StatusOK, w.Code)
	s.Contains(s.samples, latencySample{http.MethodGet, "/.well-known/nostr.json", http.StatusOK})
}

func (s *RouterSuite) TestAdminRoutesRequireKey() {
	w := s.do(http.MethodGet, "/api/whitelist/users", nil)
	s.Equal(http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodGet, "/api/whitelist/users", map[string]string{adminmw.HeaderAPIKey: "wrong"})
	s.Equal(http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodGet, "/api/whitelist/users", map[string]string{adminmw.HeaderAPIKey: "secret"})
	s.Equal(http.StatusOK, w.Code)
	s.Equal(adminmw.APIKeyActor, w.Body.String())
}

func (s *RouterSuite) TestRequestIDPropagates() {
	w := s.do(http.MethodGet, "/health", map[string]string{request.HeaderRequestID: "req-123"})
	s.Equal("req-123", w.Header().Get(request.HeaderRequestID))
}

func TestUnknownRoute(t *testing.T) {
	router := NewRouter(Config{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
