package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/wangwalk/tanstack-start-dev/internal/billing"
	apierrors "github.com/wangwalk/tanstack-start-dev/internal/pkg/errors"
	"github.com/wangwalk/tanstack-start-dev/internal/pkg/response"
	"github.com/wangwalk/tanstack-start-dev/internal/service"
)

// maxWebhookBody caps provider event payloads at 1 MiB.
const maxWebhookBody = 1 << 20

// BillingHandler handles billing-related HTTP requests.
type BillingHandler struct {
	billingService service.BillingService
	logger         *slog.Logger
	validate       *validator.Validate
}

// NewBillingHandler creates a new billing handler.
func NewBillingHandler(billingService service.BillingService, logger *slog.Logger) *BillingHandler {
	return &BillingHandler{
		billingService: billingService,
		logger:         logger,
		validate:       newValidator(),
	}
}

// Routes returns a chi router with billing routes.
func (h *BillingHandler) Routes(g Guards) chi.Router {
	g = g.withDefaults()
	r := chi.NewRouter()

	r.Get("/plans", h.ListPlans)

	r.Group(func(r chi.Router) {
		r.Use(g.SelfService)
		r.Get("/subscription", h.GetSubscription)
		r.Post("/checkout", h.CreateCheckoutSession)
		r.Post("/portal", h.CreatePortalSession)
	})

	return r
}

// ListPlans handles GET /api/billing/plans
func (h *BillingHandler) ListPlans(w http.ResponseWriter, r *http.Request) {
	response.OK(w, h.billingService.Plans())
}

// GetSubscription handles GET /api/billing/subscription
func (h *BillingHandler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		response.Error(w, err)
		return
	}

	info, err := h.billingService.GetSubscription(r.Context(), p.User)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, info)
}

// CheckoutRequest is the HTTP request body for starting a checkout.
type CheckoutRequest struct {
	Plan     string `json:"plan" validate:"required"`
	Interval string `json:"interval" validate:"omitempty,oneof=monthly yearly"`
}

// URLResponse carries a provider-hosted page to redirect to.
type URLResponse struct {
	URL string `json:"url"`
}

// CreateCheckoutSession handles POST /api/billing/checkout
func (h *BillingHandler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		response.Error(w, err)
		return
	}

	var req CheckoutRequest
	if err := decode(w, r, h.validate, &req); err != nil {
		response.Error(w, err)
		return
	}
	interval := billing.Interval(req.Interval)
	if interval == "" {
		interval = billing.Monthly
	}

	url, err := h.billingService.CreateCheckoutSession(r.Context(), p.User, req.Plan, interval)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, URLResponse{URL: url})
}

// CreatePortalSession handles POST /api/billing/portal
func (h *BillingHandler) CreatePortalSession(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		response.Error(w, err)
		return
	}

	url, err := h.billingService.CreatePortalSession(r.Context(), p.User)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, URLResponse{URL: url})
}

// Webhook handles POST /api/webhooks/stripe. Once the signature verifies,
// the delivery is acknowledged whatever happened to the event.
func (h *BillingHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(w, apierrors.ErrBadRequest.WithMessage("Payload too large"))
			return
		}
		response.Error(w, apierrors.ErrBadRequest.WithMessage("Could not read body"))
		return
	}

	result, err := h.billingService.HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		if apierrors.IsKind(err, apierrors.KindConfiguration) {
			h.logger.Error("webhook rejected", slog.String("error", err.Error()))
		}
		response.Error(w, err)
		return
	}

	h.logger.Debug("webhook handled",
		slog.String("event_id", result.EventID),
		slog.String("type", result.Type),
		slog.String("outcome", string(result.Outcome)),
	)
	response.OK(w, map[string]bool{"received": true})
}
