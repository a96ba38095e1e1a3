package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	pkgstrings "nip05d/pkg/platform/strings"
)

// Config is the full process configuration, read once at startup.
type Config struct {
	Server    Server
	Database  DatabaseConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Notify    NotifyConfig
	LNbits    LNbitsConfig
	Billing   BillingConfig
	Scheduler SchedulerConfig
	Sync      SyncConfig
	Admin     AdminConfig
	Whitelist WhitelistConfig
	RateLimit RateLimitConfig
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr        string
	Environment string
	Domain      string
	LogLevel    string
	// TrustProxy honours X-Forwarded-For when resolving client IPs.
	TrustProxy bool
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// CacheTTL bounds how long the nostr.json projection is served from cache.
	CacheTTL time.Duration
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// NotifyConfig selects how parties are told about their registration: nostr
// direct messages signed with DMPrivateKey, an external webhook, or both.
type NotifyConfig struct {
	WebhookURL   string
	DMPrivateKey string
	DMRelays     []string
}

// LNbitsConfig configures the payment gateway client.
type LNbitsConfig struct {
	Enabled    bool
	Endpoint   string
	APIKey     string
	WebhookURL string
	Timeout    time.Duration
}

// BillingConfig holds prices and the invoice polling policy.
type BillingConfig struct {
	YearlyPriceSats   int64
	LifetimePriceSats int64
	InvoiceExpiry     time.Duration
	PollShort         time.Duration
	PollLong          time.Duration
	PollSwitch        time.Duration
	PollMax           time.Duration
	PollRetry         time.Duration
	PollTimeout       time.Duration
}

type SchedulerConfig struct {
	Tick        time.Duration
	Concurrency int
	BatchSize   int
	// LockTTL bounds the distributed tick lock when Redis is configured.
	LockTTL time.Duration
	// SubscriptionSweep is the spacing of the expiry sweep.
	SubscriptionSweep time.Duration
}

// SyncConfig configures profile-name synchronization from relays.
type SyncConfig struct {
	Enabled      bool
	Interval     time.Duration
	MaxAge       time.Duration
	Relays       []string
	RelayTimeout time.Duration
}

type AdminConfig struct {
	// APIKey is either a literal key or a bcrypt hash of one.
	APIKey string
}

type WhitelistConfig struct {
	File string
}

// RateLimitConfig bounds invoice creation per client IP.
type RateLimitConfig struct {
	Disabled          bool
	InvoicesPerWindow int
	Window            time.Duration
}

// IsLocal reports whether the process runs in a developer environment.
func (s Server) IsLocal() bool {
	return s.Environment == "local" || s.Environment == ""
}

// Load reads .env (when present) and then the environment.
func Load() Config {
	_ = godotenv.Load(".env")
	return FromEnv()
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() Config {
	return Config{
		Server: Server{
			Addr:        getString("ADDR", ":8000"),
			Environment: getString("ENVIRONMENT", "local"),
			Domain:      getString("DOMAIN", "localhost"),
			LogLevel:    getString("LOG_LEVEL", "info"),
			TrustProxy:  getBool("TRUST_PROXY", false),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    getInt("DATABASE_MAX_OPEN_CONNS", 20),
			MaxIdleConns:    getInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: 30 * time.Minute,
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     getInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			CacheTTL:     getSeconds("NOSTR_JSON_CACHE_SECONDS", 300),
		},
		Kafka: KafkaConfig{
			Brokers: pkgstrings.SplitList(os.Getenv("KAFKA_BROKERS")),
			Topic:   getString("KAFKA_TOPIC", "nip05.events"),
		},
		Notify: NotifyConfig{
			WebhookURL:   os.Getenv("NOTIFY_WEBHOOK_URL"),
			DMPrivateKey: os.Getenv("NOSTR_DM_PRIVATE_KEY"),
			DMRelays:     pkgstrings.SplitList(os.Getenv("NOSTR_DM_RELAYS")),
		},
		LNbits: LNbitsConfig{
			Enabled:    getBool("LNBITS_ENABLED", true),
			Endpoint:   strings.TrimRight(getString("LNBITS_ENDPOINT", "https://demo.lnbits.com"), "/"),
			APIKey:     os.Getenv("LNBITS_API_KEY"),
			WebhookURL: os.Getenv("WEBHOOK_URL"),
			Timeout:    getSeconds("LNBITS_TIMEOUT_SECONDS", 30),
		},
		Billing: BillingConfig{
			YearlyPriceSats:   int64(getInt("NIP05_YEARLY_PRICE_SATS", 1000)),
			LifetimePriceSats: int64(getInt("NIP05_LIFETIME_PRICE_SATS", 10000)),
			InvoiceExpiry:     getSeconds("INVOICE_EXPIRY_SECONDS", 1800),
			PollShort:         getSeconds("POLL_INITIAL_INTERVAL", 60),
			PollLong:          getSeconds("POLL_LATER_INTERVAL", 300),
			PollSwitch:        getSeconds("POLL_SWITCH_TIME", 600),
			PollMax:           getSeconds("POLL_MAX_TIME", 1800),
			PollRetry:         getSeconds("POLL_RETRY_INTERVAL", 30),
			PollTimeout:       getSeconds("POLL_TIMEOUT_SECONDS", 15),
		},
		Scheduler: SchedulerConfig{
			Tick:              getSeconds("SCHEDULER_TICK_SECONDS", 10),
			Concurrency:       getInt("POLL_CONCURRENCY", 4),
			BatchSize:         getInt("SCHEDULER_BATCH_SIZE", 200),
			LockTTL:           getSeconds("SCHEDULER_LOCK_SECONDS", 120),
			SubscriptionSweep: 24 * time.Hour,
		},
		Sync: SyncConfig{
			Enabled:      getBool("USERNAME_SYNC_ENABLED", true),
			Interval:     time.Duration(getInt("USERNAME_SYNC_INTERVAL_MINUTES", 15)) * time.Minute,
			MaxAge:       time.Duration(getInt("USERNAME_SYNC_MAX_AGE_HOURS", 24)) * time.Hour,
			Relays:       relaysFromEnv(),
			RelayTimeout: getSeconds("RELAY_TIMEOUT_SECONDS", 10),
		},
		Admin: AdminConfig{
			APIKey: os.Getenv("ADMIN_API_KEY"),
		},
		Whitelist: WhitelistConfig{
			File: getString("WHITELIST_FILE", "whitelist.json"),
		},
		RateLimit: RateLimitConfig{
			Disabled:          getBool("DISABLE_RATE_LIMITING", false),
			InvoicesPerWindow: getInt("INVOICE_RATE_LIMIT", 10),
			Window:            time.Minute,
		},
	}
}

var defaultRelays = []string{"wss://relay.azzamo.net", "wss://relay.damus.io", "wss://primal.net"}

func relaysFromEnv() []string {
	if relays := pkgstrings.SplitList(os.Getenv("NOSTR_RELAYS")); len(relays) > 0 {
		return relays
	}
	return defaultRelays
}

func getString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return def
	}
	return v
}

func getSeconds(key string, def int) time.Duration {
	return time.Duration(getInt(key, def)) * time.Second
}

func getBool(key string, def bool) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return def
	}
	return v
}
