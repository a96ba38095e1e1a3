package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"nip05d/pkg/platform/httputil"
	"nip05d/pkg/requestcontext"
)

type Service interface {
	Render(ctx context.Context, name string) ([]byte, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/.well-known/nostr.json", h.HandleNostrJSON)
	r.Options("/.well-known/nostr.json", h.HandlePreflight)
}

func setCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

// HandleNostrJSON handles GET /.well-known/nostr.json[?name=].
func (h *Handler) HandleNostrJSON(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	setCORS(w)

	body, err := h.service.Render(ctx, r.URL.Query().Get("name"))
	if err != nil {
		h.logger.ErrorContext(ctx, "nostr.json render failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=300")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (h *Handler) HandlePreflight(w http.ResponseWriter, _ *http.Request) {
	setCORS(w)
	w.WriteHeader(http.StatusNoContent)
}
