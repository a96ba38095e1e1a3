package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	adminservice "nip05d/internal/admin/service"
	billingservice "nip05d/internal/billing/service"
	identity "nip05d/internal/identity/models"
	namesync "nip05d/internal/namesync/service"
	dErrors "nip05d/pkg/domain-errors"
	"nip05d/pkg/platform/httputil"
	"nip05d/pkg/requestcontext"
)

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks
type Service interface {
	AddUser(ctx context.Context, req adminservice.AddUserRequest) (*identity.Registration, error)
	RemoveUser(ctx context.Context, username string) (*identity.Registration, error)
	ListUsers(ctx context.Context, activeOnly bool) ([]*identity.Registration, error)
	Activate(ctx context.Context, username string) (*identity.Registration, error)
	Deactivate(ctx context.Context, username string) (*identity.Registration, error)
	SyncUsernames(ctx context.Context, force bool) (*namesync.Summary, error)
	ReloadWhitelist(ctx context.Context) (*adminservice.WhitelistStats, error)
	CancelInvoice(ctx context.Context, paymentHash string) (*billingservice.Outcome, error)
}

// Handler serves operator endpoints. Callers mount it behind admin auth.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Route("/api/whitelist", func(r chi.Router) {
		r.Post("/add", h.HandleAdd)
		r.Delete("/remove", h.HandleRemove)
		r.Get("/users", h.HandleList)
		r.Post("/activate/{username}", h.HandleActivate)
		r.Post("/deactivate/{username}", h.HandleDeactivate)
		r.Post("/sync-usernames", h.HandleSyncUsernames)
		r.Post("/reload", h.HandleReload)
	})
	r.Post("/api/invoices/{hash}/cancel", h.HandleCancelInvoice)
}

// HandleAdd handles POST /api/whitelist/add.
func (h *Handler) HandleAdd(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := httputil.DecodeJSON[AddUserRequest](r)
	if err == nil {
		err = req.Validate()
	}
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	reg, err := h.service.AddUser(ctx, adminservice.AddUserRequest{
		PublicKey: req.Pubkey,
		Username:  req.Username,
		Note:      req.Note,
	})
	if err != nil {
		h.fail(ctx, "add user failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toUserResponse(reg))
}

// HandleRemove handles DELETE /api/whitelist/remove. The username comes from
// the JSON body or the username query parameter.
func (h *Handler) HandleRemove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	username := r.URL.Query().Get("username")
	if username == "" && r.ContentLength != 0 {
		req, err := httputil.DecodeJSON[RemoveUserRequest](r)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		username = req.Username
	}
	if username == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "username is required"))
		return
	}

	reg, err := h.service.RemoveUser(ctx, username)
	if err != nil {
		h.fail(ctx, "remove user failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toUserResponse(reg))
}

// HandleList handles GET /api/whitelist/users. active_only defaults to true.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	activeOnly, err := boolParam(r, "active_only", true)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	regs, err := h.service.ListUsers(r.Context(), activeOnly)
	if err != nil {
		h.fail(r.Context(), "list users failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toUsersList(regs))
}

func (h *Handler) HandleActivate(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, h.service.Activate)
}

func (h *Handler) HandleDeactivate(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, h.service.Deactivate)
}

func (h *Handler) toggle(w http.ResponseWriter, r *http.Request, fn func(context.Context, string) (*identity.Registration, error)) {
	ctx := r.Context()
	reg, err := fn(ctx, chi.URLParam(r, "username"))
	if err != nil {
		h.fail(ctx, "status change failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toUserResponse(reg))
}

// HandleSyncUsernames handles POST /api/whitelist/sync-usernames?force=.
func (h *Handler) HandleSyncUsernames(w http.ResponseWriter, r *http.Request) {
	force, err := boolParam(r, "force", false)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	summary, err := h.service.SyncUsernames(r.Context(), force)
	if err != nil {
		h.fail(r.Context(), "username sync failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, summary)
}

func (h *Handler) HandleReload(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.ReloadWhitelist(r.Context())
	if err != nil {
		h.fail(r.Context(), "whitelist reload failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

func (h *Handler) HandleCancelInvoice(w http.ResponseWriter, r *http.Request) {
	outcome, err := h.service.CancelInvoice(r.Context(), chi.URLParam(r, "hash"))
	if err != nil {
		h.fail(r.Context(), "invoice cancel failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toInvoiceResponse(outcome))
}

func (h *Handler) fail(ctx context.Context, msg string, err error) {
	level := slog.LevelWarn
	if dErrors.GetCode(err) == dErrors.CodeInternal {
		level = slog.LevelError
	}
	h.logger.Log(ctx, level, msg,
		"request_id", requestcontext.RequestID(ctx),
		"actor", requestcontext.Actor(ctx),
		"error", err,
	)
}

func boolParam(r *http.Request, name string, def bool) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, dErrors.New(dErrors.CodeValidation, name+" must be a boolean")
	}
	return v, nil
}
