package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/wangwalk/tanstack-start-dev/internal/models"
	"github.com/wangwalk/tanstack-start-dev/internal/pkg/response"
	"github.com/wangwalk/tanstack-start-dev/internal/service"
)

// APIKeyHandler handles API key management for the caller.
type APIKeyHandler struct {
	apiKeyService service.APIKeyService
	validate      *validator.Validate
}

// NewAPIKeyHandler creates a new API key handler.
func NewAPIKeyHandler(apiKeyService service.APIKeyService) *APIKeyHandler {
	return &APIKeyHandler{
		apiKeyService: apiKeyService,
		validate:      newValidator(),
	}
}

// Routes returns a chi router with API key routes.
func (h *APIKeyHandler) Routes(g Guards) chi.Router {
	g = g.withDefaults()
	r := chi.NewRouter()
	r.Use(g.SelfService)

	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Delete("/{id}", h.Revoke)

	return r
}

// CreateAPIKeyRequest is the HTTP request body for creating an API key.
type CreateAPIKeyRequest struct {
	Name          string `json:"name" validate:"required,max=64"`
	ExpiresInDays *int   `json:"expires_in_days,omitempty" validate:"omitempty,gt=0"`
}

// Create handles POST /api/account/api-keys. The secret is returned once.
func (h *APIKeyHandler) Create(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		response.Error(w, err)
		return
	}

	var req CreateAPIKeyRequest
	if err := decode(w, r, h.validate, &req); err != nil {
		response.Error(w, err)
		return
	}

	var expiresIn *time.Duration
	if req.ExpiresInDays != nil {
		d := time.Duration(*req.ExpiresInDays) * 24 * time.Hour
		expiresIn = &d
	}

	key, err := h.apiKeyService.Create(r.Context(), p.UserID(), req.Name, expiresIn)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.Created(w, key)
}

// List handles GET /api/account/api-keys
func (h *APIKeyHandler) List(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		response.Error(w, err)
		return
	}

	keys, err := h.apiKeyService.List(r.Context(), p.UserID())
	if err != nil {
		response.Error(w, err)
		return
	}
	if keys == nil {
		keys = []models.APIKeyResponse{}
	}
	response.OK(w, keys)
}

// Revoke handles DELETE /api/account/api-keys/{id}
func (h *APIKeyHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		response.Error(w, err)
		return
	}

	if err := h.apiKeyService.Revoke(r.Context(), chi.URLParam(r, "id"), p.UserID()); err != nil {
		response.Error(w, err)
		return
	}
	response.NoContent(w)
}
