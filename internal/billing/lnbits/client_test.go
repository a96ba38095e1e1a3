package lnbits

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nip05d/pkg/platform/circuit"
)

func TestCreateInvoice(t *testing.T) {
	var got createRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/payments", r.URL.Path)
		assert.Equal(t, "invoice-key", r.Header.Get("X-Api-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"payment_hash":"abc","bolt11":"lnbc10u1"}`))
	}))
	defer srv.Close()

	c := New(srv.URL+"/", "invoice-key",
		WithWebhookURL("https://nip05.example/api/public/webhook/paid"),
		WithInvoiceExpiry(15*time.Minute),
	)
	inv, err := c.CreateInvoice(context.Background(), 1000, "NIP-05 yearly registration for alice@example.com")
	require.NoError(t, err)

	assert.Equal(t, "abc", inv.PaymentHash)
	assert.Equal(t, "lnbc10u1", inv.PaymentRequest)
	assert.Equal(t, int64(1000), inv.Amount)
	assert.False(t, got.Out)
	assert.Equal(t, int64(1000), got.Amount)
	assert.Equal(t, int64(900), got.Expiry)
	assert.Equal(t, "https://nip05.example/api/public/webhook/paid", got.Webhook)
}

func TestCreateInvoiceServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := New(srv.URL, "k").CreateInvoice(context.Background(), 1000, "memo")
	require.Error(t, err)
}

func TestCheckSettlement(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		body         string
		wantPaid     bool
		wantAmount   int64
		wantReported bool
	}{
		{name: "paid with details in msat", status: 200, body: `{"paid":true,"details":{"amount":1000000}}`, wantPaid: true, wantAmount: 1000, wantReported: true},
		{name: "paid with top-level sats", status: 200, body: `{"paid":true,"amount":1000}`, wantPaid: true, wantAmount: 1000, wantReported: true},
		{name: "paid without amount", status: 200, body: `{"paid":true,"preimage":"00"}`, wantPaid: true},
		{name: "pending", status: 200, body: `{"paid":false,"details":{"amount":1000000}}`, wantPaid: false, wantAmount: 1000, wantReported: true},
		{name: "unknown hash", status: 404, body: `{"detail":"Payment does not exist."}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/api/v1/payments/hash1", r.URL.Path)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			s, err := New(srv.URL, "k").CheckSettlement(context.Background(), "hash1")
			require.NoError(t, err)
			assert.Equal(t, tt.wantPaid, s.Paid)
			assert.Equal(t, tt.wantAmount, s.Amount)
			assert.Equal(t, tt.wantReported, s.AmountReported)
		})
	}
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(srv.URL, "k", WithBreaker(circuit.New("lnbits", circuit.WithFailureThreshold(2), circuit.WithCooldown(time.Hour))))
	for i := 0; i < 2; i++ {
		_, err := c.CheckSettlement(context.Background(), "h")
		require.Error(t, err)
	}
	_, err := c.CheckSettlement(context.Background(), "h")
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 2, calls)
}

func TestDisabled(t *testing.T) {
	_, err := Disabled{}.CreateInvoice(context.Background(), 1, "m")
	assert.ErrorIs(t, err, ErrDisabled)
	_, err = Disabled{}.CheckSettlement(context.Background(), "h")
	assert.ErrorIs(t, err, ErrDisabled)
}
