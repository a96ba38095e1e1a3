package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, k := range []string{"POLL_INITIAL_INTERVAL", "POLL_LATER_INTERVAL", "POLL_SWITCH_TIME", "POLL_MAX_TIME", "NOSTR_RELAYS", "USERNAME_SYNC_MAX_AGE_HOURS"} {
		t.Setenv(k, "")
	}

	cfg := FromEnv()

	assert.Equal(t, 60*time.Second, cfg.Billing.PollShort)
	assert.Equal(t, 300*time.Second, cfg.Billing.PollLong)
	assert.Equal(t, 600*time.Second, cfg.Billing.PollSwitch)
	assert.Equal(t, 1800*time.Second, cfg.Billing.PollMax)
	assert.Equal(t, 24*time.Hour, cfg.Sync.MaxAge)
	assert.Equal(t, defaultRelays, cfg.Sync.Relays)
	assert.Equal(t, int64(1000), cfg.Billing.YearlyPriceSats)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("NOSTR_RELAYS", "wss://a, wss://b ,wss://a")
	t.Setenv("USERNAME_SYNC_ENABLED", "false")
	t.Setenv("LNBITS_ENDPOINT", "https://ln.example.com/")
	t.Setenv("POLL_CONCURRENCY", "not-a-number")

	cfg := FromEnv()

	assert.Equal(t, []string{"wss://a", "wss://b"}, cfg.Sync.Relays)
	assert.False(t, cfg.Sync.Enabled)
	assert.Equal(t, "https://ln.example.com", cfg.LNbits.Endpoint)
	assert.Equal(t, 4, cfg.Scheduler.Concurrency, "invalid values fall back to the default")
}

func TestRateLimitConfig(t *testing.T) {
	t.Setenv("INVOICE_RATE_LIMIT", "3")
	t.Setenv("DISABLE_RATE_LIMITING", "true")

	cfg := FromEnv()

	assert.Equal(t, 3, cfg.RateLimit.InvoicesPerWindow)
	assert.True(t, cfg.RateLimit.Disabled)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
}

func TestNotifyConfig(t *testing.T) {
	t.Setenv("NOSTR_DM_PRIVATE_KEY", "abc")
	t.Setenv("NOSTR_DM_RELAYS", "wss://dm.example.com, wss://dm2.example.com")

	cfg := FromEnv()

	assert.Equal(t, "abc", cfg.Notify.DMPrivateKey)
	assert.Equal(t, []string{"wss://dm.example.com", "wss://dm2.example.com"}, cfg.Notify.DMRelays)
}
