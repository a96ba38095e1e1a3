package metadata

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientIPFromRequest(t *testing.T) {
	tests := []struct {
		name       string
		remote     string
		headers    map[string]string
		trustProxy bool
		want       string
	}{
		{name: "remote addr ipv4", remote: "203.0.113.7:5555", want: "203.0.113.7"},
		{name: "remote addr ipv6", remote: "[2001:db8::1]:443", want: "2001:db8::1"},
		{name: "remote addr without port", remote: "203.0.113.7", want: "203.0.113.7"},
		{
			name:    "forwarded header ignored without proxy",
			remote:  "10.0.0.1:80",
			headers: map[string]string{"X-Forwarded-For": "198.51.100.2"},
			want:    "10.0.0.1",
		},
		{
			name:       "first forwarded hop",
			remote:     "10.0.0.1:80",
			headers:    map[string]string{"X-Forwarded-For": " 198.51.100.2 , 10.0.0.9"},
			trustProxy: true,
			want:       "198.51.100.2",
		},
		{
			name:       "real ip header",
			remote:     "10.0.0.1:80",
			headers:    map[string]string{"X-Real-IP": "198.51.100.3"},
			trustProxy: true,
			want:       "198.51.100.3",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIPFromRequest(r, tt.trustProxy))
		})
	}
}

func TestClientMetadata(t *testing.T) {
	var ip, ua string
	h := ClientMetadata(true)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		ip = GetClientIP(r.Context())
		ua = GetUserAgent(r.Context())
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Forwarded-For", "198.51.100.2")
	r.Header.Set("User-Agent", "nostr-client/1.0")
	h.ServeHTTP(httptest.NewRecorder(), r)

	assert.Equal(t, "198.51.100.2", ip)
	assert.Equal(t, "nostr-client/1.0", ua)
}
