// Package httptransport assembles the HTTP surface: shared middleware, the
// public and admin route groups, health probes and metrics.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"nip05d/pkg/platform/httputil"
	adminmw "nip05d/pkg/platform/middleware/admin"
	"nip05d/pkg/platform/middleware/metadata"
	request "nip05d/pkg/platform/middleware/request"
	"nip05d/pkg/platform/middleware/requesttime"
)

// Registrar mounts a module's routes.
type Registrar interface {
	Register(r chi.Router)
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

type Config struct {
	Logger         *slog.Logger
	Latency        request.LatencyObserver
	TrustProxy     bool
	RequestTimeout time.Duration
	Public         []Registrar
	Admin          []Registrar
	AdminAuth      *adminmw.Authenticator
	// Checks are consulted by /health/ready, keyed by dependency name.
	Checks map[string]HealthCheck
}

func NewRouter(cfg Config) http.Handler {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	r := chi.NewRouter()
	r.Use(request.Recovery(cfg.Logger))
	r.Use(request.RequestID)
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata(cfg.TrustProxy))
	r.Use(request.Logger(cfg.Logger))
	r.Use(request.Timeout(cfg.RequestTimeout))
	r.Use(request.Latency(cfg.Latency, routePattern))

	r.Get("/health", handleLive)
	r.Get("/health/ready", handleReady(cfg.Checks, cfg.Logger))
	r.Handle("/metrics", promhttp.Handler())

	for _, m := range cfg.Public {
		m.Register(r)
	}
	if len(cfg.Admin) > 0 {
		r.Group(func(r chi.Router) {
			r.Use(adminmw.RequireAdmin(cfg.AdminAuth, cfg.Logger))
			for _, m := range cfg.Admin {
				m.Register(r)
			}
		})
	}
	return r
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		return rctx.RoutePattern()
	}
	return ""
}

func handleLive(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type readyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func handleReady(checks map[string]HealthCheck, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		resp := readyResponse{Status: "ok", Checks: make(map[string]string, len(checks))}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				logger.WarnContext(ctx, "readiness check failed", "dependency", name, "error", err)
				resp.Checks[name] = "unavailable"
				resp.Status = "degraded"
				continue
			}
			resp.Checks[name] = "ok"
		}
		status := http.StatusOK
		if resp.Status != "ok" {
			status = http.StatusServiceUnavailable
		}
		httputil.WriteJSON(w, status, resp)
	}
}
