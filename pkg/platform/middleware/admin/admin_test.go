package admin

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"nip05d/pkg/requestcontext"
)

func serve(t *testing.T, auth *Authenticator, setup func(*http.Request)) (*httptest.ResponseRecorder, string) {
	t.Helper()
	var actor string
	h := RequireAdmin(auth, slog.New(slog.NewTextHandler(io.Discard, nil)))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor = requestcontext.Actor(r.Context())
			w.WriteHeader(http.StatusNoContent)
		}),
	)
	req := httptest.NewRequest(http.MethodGet, "/api/whitelist/users", nil)
	setup(req)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w, actor
}

func TestRequireAdmin(t *testing.T) {
	auth := NewAuthenticator("s3cret")
	now := time.Now()
	valid, err := auth.IssueToken("alice-ops", time.Hour, now)
	require.NoError(t, err)
	expired, err := auth.IssueToken("alice-ops", time.Minute, now.Add(-time.Hour))
	require.NoError(t, err)
	forged, err := NewAuthenticator("other").IssueToken("mallory", time.Hour, now)
	require.NoError(t, err)

	tests := []struct {
		name   string
		setup  func(*http.Request)
		status int
		actor  string
	}{
		{"api key", func(r *http.Request) { r.Header.Set(HeaderAPIKey, "s3cret") }, http.StatusNoContent, APIKeyActor},
		{"wrong api key", func(r *http.Request) { r.Header.Set(HeaderAPIKey, "nope") }, http.StatusUnauthorized, ""},
		{"bearer token", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+valid) }, http.StatusNoContent, "alice-ops"},
		{"expired token", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+expired) }, http.StatusUnauthorized, ""},
		{"foreign token", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+forged) }, http.StatusUnauthorized, ""},
		{"no credentials", func(*http.Request) {}, http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, actor := serve(t, auth, tt.setup)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.actor, actor)
			if tt.status == http.StatusUnauthorized {
				assert.Contains(t, w.Body.String(), `"error":"unauthorized"`)
			}
		})
	}
}

func TestBcryptKey(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	auth := NewAuthenticator(string(hash))

	assert.True(t, auth.CheckKey("s3cret"))
	assert.False(t, auth.CheckKey(string(hash)))
	assert.False(t, auth.CheckKey(""))
}

func TestUnconfiguredKeyRefusesEverything(t *testing.T) {
	auth := NewAuthenticator("")
	assert.False(t, auth.CheckKey(""))
	_, err := auth.IssueToken("x", time.Hour, time.Now())
	assert.ErrorIs(t, err, ErrNoKey)

	w, _ := serve(t, auth, func(r *http.Request) { r.Header.Set(HeaderAPIKey, "anything") })
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
