package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"nip05d/internal/ratelimit/models"
	"nip05d/internal/ratelimit/store/bucket"
)

type failingStore struct{}

func (failingStore) Allow(context.Context, string, int, time.Duration) (*models.RateLimitResult, error) {
	return nil, errors.New("redis down")
}

func logger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func call(h http.Handler, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/public/invoice", nil)
	req.RemoteAddr = ip + ":40000"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestPerIP(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusCreated) })
	h := New(bucket.NewInMemoryBucketStore(), logger()).PerIP("invoice", 2, time.Minute)(ok)

	assert.Equal(t, http.StatusCreated, call(h, "10.0.0.1").Code)
	w := call(h, "10.0.0.1")
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	w = call(h, "10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "rate_limit_exceeded")

	assert.Equal(t, http.StatusCreated, call(h, "10.0.0.2").Code)
}

func TestPerIPFailsOpen(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusCreated) })
	h := New(failingStore{}, logger()).PerIP("invoice", 1, time.Minute)(ok)
	assert.Equal(t, http.StatusCreated, call(h, "10.0.0.1").Code)
}

func TestDisabled(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusCreated) })
	h := New(failingStore{}, logger(), WithDisabled(true)).PerIP("invoice", 1, time.Minute)(ok)
	for range 3 {
		assert.Equal(t, http.StatusCreated, call(h, "10.0.0.1").Code)
	}
}
