package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/wangwalk/tanstack-start-dev/internal/access"
	"github.com/wangwalk/tanstack-start-dev/internal/models"
	apierrors "github.com/wangwalk/tanstack-start-dev/internal/pkg/errors"
	"github.com/wangwalk/tanstack-start-dev/internal/pkg/response"
	"github.com/wangwalk/tanstack-start-dev/internal/service"
)

const (
	defaultPerPage = 20
	maxPerPage     = 100
)

// AdminHandler handles the admin console API.
type AdminHandler struct {
	adminService service.AdminService
	validate     *validator.Validate
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(adminService service.AdminService) *AdminHandler {
	return &AdminHandler{
		adminService: adminService,
		validate:     newValidator(),
	}
}

// Routes returns a chi router with admin routes. Every route requires the
// admin role.
func (h *AdminHandler) Routes(g Guards) chi.Router {
	g = g.withDefaults()
	r := chi.NewRouter()
	r.Use(g.Admin)

	r.Get("/stats", h.Stats)
	r.Get("/users", h.ListUsers)
	r.Get("/users/{id}", h.GetUser)
	r.Patch("/users/{id}/role", h.SetRole)
	r.Post("/users/{id}/ban", h.Ban)
	r.Post("/users/{id}/unban", h.Unban)
	r.Delete("/users/{id}/sessions", h.RevokeSessions)
	r.Get("/users/{id}/audit", h.AuditLog)

	return r
}

// Stats handles GET /api/admin/stats
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.adminService.Stats(r.Context())
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, stats)
}

// ListUsers handles GET /api/admin/users?page=&per_page=&search=&status=
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := queryInt(q.Get("page"), 1)
	if page < 1 {
		page = 1
	}
	perPage := queryInt(q.Get("per_page"), defaultPerPage)
	if perPage < 1 || perPage > maxPerPage {
		perPage = defaultPerPage
	}

	users, total, err := h.adminService.ListUsers(r.Context(), models.UserFilter{
		Search:  q.Get("search"),
		Status:  q.Get("status"),
		Page:    page,
		PerPage: perPage,
	})
	if err != nil {
		response.Error(w, err)
		return
	}
	if users == nil {
		users = []*models.User{}
	}
	response.JSONWithMeta(w, http.StatusOK, users, response.NewMeta(page, perPage, total))
}

// GetUser handles GET /api/admin/users/{id}
func (h *AdminHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := userIDParam(w, r)
	if !ok {
		return
	}
	user, err := h.adminService.GetUser(r.Context(), id)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, user)
}

// SetRoleRequest is the HTTP request body for a role change.
type SetRoleRequest struct {
	Role string `json:"role" validate:"required,oneof=user admin"`
}

// SetRole handles PATCH /api/admin/users/{id}/role
func (h *AdminHandler) SetRole(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.target(w, r)
	if !ok {
		return
	}

	var req SetRoleRequest
	if err := decode(w, r, h.validate, &req); err != nil {
		response.Error(w, err)
		return
	}

	user, err := h.adminService.SetRole(r.Context(), actor.User, id, models.Role(req.Role), clientInfo(r))
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, user)
}

// BanRequest is the HTTP request body for banning a user. A missing
// expiry bans indefinitely.
type BanRequest struct {
	Reason           string `json:"reason" validate:"max=500"`
	ExpiresInSeconds *int64 `json:"expires_in_seconds,omitempty" validate:"omitempty,gt=0"`
}

// Ban handles POST /api/admin/users/{id}/ban
func (h *AdminHandler) Ban(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.target(w, r)
	if !ok {
		return
	}

	var req BanRequest
	if err := decode(w, r, h.validate, &req); err != nil {
		response.Error(w, err)
		return
	}

	var expiresIn *time.Duration
	if req.ExpiresInSeconds != nil {
		d := time.Duration(*req.ExpiresInSeconds) * time.Second
		expiresIn = &d
	}

	user, err := h.adminService.Ban(r.Context(), actor.User, id, req.Reason, expiresIn, clientInfo(r))
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, user)
}

// Unban handles POST /api/admin/users/{id}/unban
func (h *AdminHandler) Unban(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.target(w, r)
	if !ok {
		return
	}
	user, err := h.adminService.Unban(r.Context(), actor.User, id, clientInfo(r))
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, user)
}

// RevokeSessions handles DELETE /api/admin/users/{id}/sessions
func (h *AdminHandler) RevokeSessions(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.target(w, r)
	if !ok {
		return
	}
	n, err := h.adminService.RevokeSessions(r.Context(), actor.User, id, clientInfo(r))
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, map[string]int64{"revoked": n})
}

// AuditLog handles GET /api/admin/users/{id}/audit?limit=
func (h *AdminHandler) AuditLog(w http.ResponseWriter, r *http.Request) {
	id, ok := userIDParam(w, r)
	if !ok {
		return
	}
	logs, err := h.adminService.AuditLog(r.Context(), id, queryInt(r.URL.Query().Get("limit"), 50))
	if err != nil {
		response.Error(w, err)
		return
	}
	if logs == nil {
		logs = []*models.AuditLog{}
	}
	response.OK(w, logs)
}

// target returns the acting admin and the user id from the path.
func (h *AdminHandler) target(w http.ResponseWriter, r *http.Request) (*access.Principal, uuid.UUID, bool) {
	p, err := principal(r)
	if err != nil {
		response.Error(w, err)
		return nil, uuid.Nil, false
	}
	id, ok := userIDParam(w, r)
	return p, id, ok
}

func userIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, apierrors.NewNotFoundError("User"))
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
