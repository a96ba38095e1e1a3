package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"nip05d/internal/billing/models"
	billingservice "nip05d/internal/billing/service"
	dErrors "nip05d/pkg/domain-errors"
	"nip05d/pkg/platform/httputil"
	"nip05d/pkg/requestcontext"
)

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks
type Service interface {
	CreateInvoice(ctx context.Context, req billingservice.CreateInvoiceRequest) (*billingservice.Payable, error)
	ConfirmViaWebhook(ctx context.Context, paymentHash string, amount int64, paid bool) (*billingservice.Outcome, error)
	Invoice(ctx context.Context, paymentHash string) (*models.Invoice, error)
}

// Handler serves the public purchase endpoints.
type Handler struct {
	service Service
	logger  *slog.Logger
	// limit wraps invoice creation; nil means unlimited.
	limit func(http.Handler) http.Handler
}

type Option func(*Handler)

// WithCreateLimit wraps invoice creation with a limiter middleware.
func WithCreateLimit(mw func(http.Handler) http.Handler) Option {
	return func(h *Handler) { h.limit = mw }
}

func New(service Service, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{service: service, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Register(r chi.Router) {
	r.Route("/api/public", func(r chi.Router) {
		if h.limit != nil {
			r.With(h.limit).Post("/invoice", h.HandleCreateInvoice)
		} else {
			r.Post("/invoice", h.HandleCreateInvoice)
		}
		r.Get("/invoice/{hash}", h.HandleInvoiceStatus)
		r.Post("/webhook/paid", h.HandleWebhook)
	})
}

// HandleCreateInvoice handles POST /api/public/invoice.
func (h *Handler) HandleCreateInvoice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, err := httputil.DecodeJSON[CreateInvoiceRequest](r)
	if err == nil {
		err = req.Prepare()
	}
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	payable, err := h.service.CreateInvoice(ctx, billingservice.CreateInvoiceRequest{
		PublicKey: req.Pubkey,
		Username:  req.Username,
		Plan:      req.Plan,
	})
	if err != nil {
		level := slog.LevelInfo
		if code := dErrors.GetCode(err); code == dErrors.CodeInternal || code == dErrors.CodeUnavailable {
			level = slog.LevelError
		}
		h.logger.Log(ctx, level, "create invoice failed",
			"request_id", requestID,
			"username", req.Username,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "invoice created",
		"request_id", requestID,
		"payment_hash", payable.PaymentHash,
		"username", payable.Name,
		"amount_sats", payable.Amount,
	)
	httputil.WriteJSON(w, http.StatusCreated, toInvoiceResponse(payable))
}

// HandleInvoiceStatus handles GET /api/public/invoice/{hash}.
func (h *Handler) HandleInvoiceStatus(w http.ResponseWriter, r *http.Request) {
	inv, err := h.service.Invoice(r.Context(), chi.URLParam(r, "hash"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toStatusResponse(inv))
}

// HandleWebhook handles POST /api/public/webhook/paid. Unknown hashes are
// acknowledged with 200 so the gateway stops retrying.
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, err := httputil.DecodeJSON[WebhookRequest](r)
	if err == nil && req.PaymentHash == "" {
		err = dErrors.New(dErrors.CodeValidation, "payment_hash is required")
	}
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	out, err := h.service.ConfirmViaWebhook(ctx, req.PaymentHash, req.Amount, req.Paid)
	switch {
	case dErrors.HasCode(err, dErrors.CodeNotFound):
		h.logger.WarnContext(ctx, "webhook for unknown invoice",
			"request_id", requestID,
			"payment_hash", req.PaymentHash,
		)
		httputil.WriteJSON(w, http.StatusOK, WebhookResponse{Status: "ignored", Message: "invoice not found"})
		return
	case err != nil:
		h.logger.ErrorContext(ctx, "webhook processing failed",
			"request_id", requestID,
			"payment_hash", req.PaymentHash,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	resp := WebhookResponse{Status: "pending", Message: "payment not yet confirmed"}
	switch out.Status {
	case models.InvoicePaid:
		resp = WebhookResponse{Status: "success", Message: "payment confirmed"}
		if !out.Changed {
			resp.Message = "invoice already marked as paid"
		}
	case models.InvoiceExpired, models.InvoiceCancelled:
		resp = WebhookResponse{Status: string(out.Status), Message: "invoice is closed"}
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}
