package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	adminhandler "nip05d/internal/admin/handler"
	adminservice "nip05d/internal/admin/service"
	billinghandler "nip05d/internal/billing/handler"
	"nip05d/internal/billing/lnbits"
	billingmetrics "nip05d/internal/billing/metrics"
	billingmodels "nip05d/internal/billing/models"
	billingservice "nip05d/internal/billing/service"
	invoicestore "nip05d/internal/billing/store/invoice"
	directorycache "nip05d/internal/directory/cache"
	directoryhandler "nip05d/internal/directory/handler"
	directoryservice "nip05d/internal/directory/service"
	"nip05d/internal/events"
	"nip05d/internal/events/sinks"
	registrationstore "nip05d/internal/identity/store/registration"
	namesyncmetrics "nip05d/internal/namesync/metrics"
	"nip05d/internal/namesync/relay"
	namesyncservice "nip05d/internal/namesync/service"
	"nip05d/internal/platform/config"
	"nip05d/internal/platform/kafka"
	"nip05d/internal/platform/metrics"
	"nip05d/internal/platform/postgres"
	"nip05d/internal/platform/redis"
	ratelimitmetrics "nip05d/internal/ratelimit/metrics"
	ratelimitmw "nip05d/internal/ratelimit/middleware"
	"nip05d/internal/ratelimit/store/bucket"
	"nip05d/internal/scheduler"
	httptransport "nip05d/internal/transport/http"
	"nip05d/pkg/platform/circuit"
	adminmw "nip05d/pkg/platform/middleware/admin"
	txcontext "nip05d/pkg/platform/tx"
)

// sinkTimeout bounds one sink delivery; the Kafka and webhook sinks make
// network calls.
const sinkTimeout = 10 * time.Second

// registrations is the union of what the engine modules need from the
// registration store.
type registrations interface {
	billingservice.RegistrationStore
	namesyncservice.Store
	adminservice.Store
	directoryservice.Store
}

type invoices interface {
	billingservice.InvoiceStore
	scheduler.DueInvoices
}

// app holds every long-lived dependency of one process.
type app struct {
	cfg    config.Config
	logger *slog.Logger

	db    *sql.DB
	redis *redis.Client
	kafka *kgo.Client

	registrations registrations
	invoices      invoices
	tx            txcontext.Runner

	queue      *events.Queue
	dispatcher *events.Dispatcher

	billing   *billingservice.Service
	namesync  *namesyncservice.Service
	admin     *adminservice.Service
	directory *directoryservice.Service
	scheduler *scheduler.Scheduler
	metrics   *metrics.Metrics
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, metrics: metrics.New()}
	if err := a.openInfra(ctx); err != nil {
		a.close()
		return nil, err
	}
	if err := a.buildServices(); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) openInfra(ctx context.Context) error {
	if a.cfg.Database.URL != "" {
		db, err := postgres.Open(ctx, a.cfg.Database)
		if err != nil {
			return err
		}
		a.db = db
		a.registrations = registrationstore.NewPostgres(db)
		a.invoices = invoicestore.NewPostgres(db)
		a.tx = postgres.NewTxRunner(db)
	} else {
		a.logger.Warn("DATABASE_URL not set, using in-memory stores")
		a.registrations = registrationstore.NewInMemory()
		a.invoices = invoicestore.NewInMemory()
		a.tx = txcontext.NewLocalRunner()
	}

	rc, err := redis.New(ctx, a.cfg.Redis)
	if err != nil {
		return err
	}
	a.redis = rc

	kc, err := kafka.New(ctx, a.cfg.Kafka)
	if err != nil {
		return err
	}
	if kc != nil {
		if err := kafka.EnsureTopic(ctx, kc, a.cfg.Kafka.Topic, 3, 1); err != nil {
			a.logger.Warn("kafka topic bootstrap failed", "topic", a.cfg.Kafka.Topic, "error", err)
		}
	}
	a.kafka = kc
	return nil
}

func (a *app) buildServices() error {
	cfg := a.cfg

	a.queue = events.NewQueue(
		events.WithQueueLogger(a.logger),
		events.WithDropHook(func(t events.Type) { a.metrics.IncrementEventDropped(string(t)) }),
	)

	var gateway billingservice.Gateway = lnbits.Disabled{}
	if cfg.LNbits.Enabled {
		gateway = lnbits.New(cfg.LNbits.Endpoint, cfg.LNbits.APIKey,
			lnbits.WithHTTPClient(&http.Client{Timeout: cfg.LNbits.Timeout}),
			lnbits.WithWebhookURL(cfg.LNbits.WebhookURL),
			lnbits.WithInvoiceExpiry(cfg.Billing.InvoiceExpiry),
			lnbits.WithBreaker(circuit.New("lnbits", circuit.WithFailureThreshold(5), circuit.WithCooldown(30*time.Second))),
			lnbits.WithLogger(a.logger),
		)
	} else {
		a.logger.Warn("LNbits disabled, invoices cannot be created and polling is off")
	}

	billing, err := billingservice.New(a.registrations, a.invoices, a.tx, gateway, a.queue,
		billingservice.WithLogger(a.logger),
		billingservice.WithMetrics(billingmetrics.New()),
		billingservice.WithPrices(billingservice.Prices{
			Yearly:   cfg.Billing.YearlyPriceSats,
			Lifetime: cfg.Billing.LifetimePriceSats,
		}),
		billingservice.WithPollPolicy(billingmodels.PollPolicy{
			Short:  cfg.Billing.PollShort,
			Long:   cfg.Billing.PollLong,
			Switch: cfg.Billing.PollSwitch,
			Max:    cfg.Billing.PollMax,
			Retry:  cfg.Billing.PollRetry,
		}),
		billingservice.WithInvoiceExpiry(cfg.Billing.InvoiceExpiry),
		billingservice.WithPollTimeout(cfg.Billing.PollTimeout),
		billingservice.WithDomain(cfg.Server.Domain),
	)
	if err != nil {
		return fmt.Errorf("billing service: %w", err)
	}
	a.billing = billing

	syncer, err := namesyncservice.New(a.registrations, a.tx, relay.New(relay.WithLogger(a.logger)), a.queue,
		namesyncservice.WithLogger(a.logger),
		namesyncservice.WithMetrics(namesyncmetrics.New()),
		namesyncservice.WithRelays(cfg.Sync.Relays),
		namesyncservice.WithRelayTimeout(cfg.Sync.RelayTimeout),
		namesyncservice.WithMaxAge(cfg.Sync.MaxAge),
		namesyncservice.WithConcurrency(cfg.Scheduler.Concurrency),
	)
	if err != nil {
		return fmt.Errorf("namesync service: %w", err)
	}
	a.namesync = syncer

	adminOpts := []adminservice.Option{
		adminservice.WithLogger(a.logger),
		adminservice.WithInvoiceCanceller(billing),
		adminservice.WithWhitelist(adminservice.NewWhitelistLoader(cfg.Whitelist.File)),
	}
	if cfg.Sync.Enabled {
		adminOpts = append(adminOpts, adminservice.WithNameSyncer(syncer))
	}
	admin, err := adminservice.New(a.registrations, a.tx, a.queue, adminOpts...)
	if err != nil {
		return fmt.Errorf("admin service: %w", err)
	}
	a.admin = admin

	dirOpts := []directoryservice.Option{
		directoryservice.WithLogger(a.logger),
		directoryservice.WithMetrics(directoryservice.NewMetrics()),
	}
	if a.redis != nil {
		dirOpts = append(dirOpts, directoryservice.WithCache(directorycache.NewRedis(a.redis.Client, ""), cfg.Redis.CacheTTL))
	} else {
		dirOpts = append(dirOpts, directoryservice.WithCache(directorycache.NewMemory(cfg.Redis.CacheTTL), cfg.Redis.CacheTTL))
	}
	a.directory = directoryservice.New(a.registrations, dirOpts...)

	sinkList := []events.Sink{sinks.NewLog(a.logger), a.directory.Sink()}
	if a.kafka != nil {
		sinkList = append(sinkList, sinks.NewKafka(a.kafka, cfg.Kafka.Topic))
	}
	if cfg.Notify.WebhookURL != "" {
		sinkList = append(sinkList, sinks.NewNotify(sinks.NewWebhookNotifier(cfg.Notify.WebhookURL, nil)))
	}
	if cfg.Notify.DMPrivateKey != "" {
		relays := cfg.Notify.DMRelays
		if len(relays) == 0 {
			relays = cfg.Sync.Relays
		}
		dm, err := sinks.NewNostrDM(cfg.Notify.DMPrivateKey, relays, cfg.Server.Domain,
			sinks.WithDMLogger(a.logger),
			sinks.WithRelayTimeout(cfg.Sync.RelayTimeout),
		)
		if err != nil {
			return fmt.Errorf("nostr dm notifier: %w", err)
		}
		a.logger.Info("nostr direct messages enabled", "sender", dm.PublicKey(), "relays", len(relays))
		sinkList = append(sinkList, sinks.NewNotify(dm))
	}
	a.dispatcher = events.NewDispatcher(a.queue.Events(), sinkList,
		events.WithDispatcherLogger(a.logger),
		events.WithSinkTimeout(sinkTimeout),
		events.WithSinkErrorHook(a.metrics.IncrementSinkFailure),
	)

	schedOpts := []scheduler.Option{
		scheduler.WithLogger(a.logger),
		scheduler.WithMetrics(scheduler.NewMetrics()),
		scheduler.WithSubscriptions(admin),
	}
	if cfg.Sync.Enabled {
		schedOpts = append(schedOpts, scheduler.WithSyncer(syncer))
	}
	if a.redis != nil {
		schedOpts = append(schedOpts, scheduler.WithLocker(a.redis))
	}
	a.scheduler = scheduler.New(scheduler.Config{
		Tick:              cfg.Scheduler.Tick,
		Concurrency:       cfg.Scheduler.Concurrency,
		BatchSize:         cfg.Scheduler.BatchSize,
		LockTTL:           cfg.Scheduler.LockTTL,
		PollEnabled:       cfg.LNbits.Enabled,
		SyncEnabled:       cfg.Sync.Enabled,
		SyncInterval:      cfg.Sync.Interval,
		SubscriptionSweep: cfg.Scheduler.SubscriptionSweep,
	}, a.invoices, billing, schedOpts...)
	return nil
}

func (a *app) router() http.Handler {
	cfg := a.cfg

	var limiter ratelimitmw.BucketStore = bucket.NewInMemoryBucketStore()
	if a.redis != nil {
		limiter = bucket.NewRedisBucketStore(a.redis.Client)
	}
	limits := ratelimitmw.New(limiter, a.logger,
		ratelimitmw.WithDisabled(cfg.RateLimit.Disabled),
		ratelimitmw.WithMetrics(ratelimitmetrics.New()),
	)

	checks := map[string]httptransport.HealthCheck{}
	if a.db != nil {
		checks["database"] = a.db.PingContext
	}
	if a.redis != nil {
		checks["redis"] = a.redis.Health
	}
	if a.kafka != nil {
		checks["kafka"] = a.kafka.Ping
	}

	return httptransport.NewRouter(httptransport.Config{
		Logger:     a.logger,
		Latency:    a.metrics,
		TrustProxy: cfg.Server.TrustProxy,
		Public: []httptransport.Registrar{
			billinghandler.New(a.billing, a.logger,
				billinghandler.WithCreateLimit(limits.PerIP("invoice", cfg.RateLimit.InvoicesPerWindow, cfg.RateLimit.Window)),
			),
			directoryhandler.New(a.directory, a.logger),
		},
		Admin:     []httptransport.Registrar{adminhandler.New(a.admin, a.logger)},
		AdminAuth: adminmw.NewAuthenticator(cfg.Admin.APIKey),
		Checks:    checks,
	})
}

func (a *app) close() {
	if a.kafka != nil {
		a.kafka.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}
