package handler

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/wangwalk/tanstack-start-dev/internal/models"
	apierrors "github.com/wangwalk/tanstack-start-dev/internal/pkg/errors"
	"github.com/wangwalk/tanstack-start-dev/internal/pkg/response"
	"github.com/wangwalk/tanstack-start-dev/internal/service"
	"github.com/wangwalk/tanstack-start-dev/internal/storage"
)

// AccountHandler handles the caller's own profile, password, sessions and
// avatar.
type AccountHandler struct {
	account        service.AccountService
	auth           service.AuthService
	maxAvatarBytes int64
	logger         *slog.Logger
	validate       *validator.Validate
}

// NewAccountHandler creates a new account handler.
func NewAccountHandler(account service.AccountService, auth service.AuthService, maxAvatarBytes int64, logger *slog.Logger) *AccountHandler {
	if maxAvatarBytes <= 0 {
		maxAvatarBytes = storage.DefaultMaxAvatarBytes
	}
	return &AccountHandler{
		account:        account,
		auth:           auth,
		maxAvatarBytes: maxAvatarBytes,
		logger:         logger,
		validate:       newValidator(),
	}
}

// Routes returns a chi router with account routes. Every route requires an
// active account.
func (h *AccountHandler) Routes(g Guards) chi.Router {
	g = g.withDefaults()
	r := chi.NewRouter()
	r.Use(g.SelfService)

	r.Get("/profile", h.GetProfile)
	r.Patch("/profile", h.UpdateProfile)
	r.Post("/password", h.ChangePassword)

	r.Get("/sessions", h.ListSessions)
	r.Delete("/sessions", h.RevokeOtherSessions)
	r.Delete("/sessions/{id}", h.RevokeSession)

	r.Post("/avatar", h.UploadAvatar)
	r.Delete("/avatar", h.DeleteAvatar)

	return r
}

// GetProfile handles GET /api/account/profile
func (h *AccountHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, p.User)
}

// UpdateProfileRequest is the HTTP request body for a profile update.
type UpdateProfileRequest struct {
	Name string `json:"name" validate:"required,max=100"`
}

// UpdateProfile handles PATCH /api/account/profile
func (h *AccountHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		response.Error(w, err)
		return
	}

	var req UpdateProfileRequest
	if err := decode(w, r, h.validate, &req); err != nil {
		response.Error(w, err)
		return
	}

	user, err := h.account.UpdateProfile(r.Context(), p.User, req.Name)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, user)
}

// ChangePasswordRequest is the HTTP request body for a password change.
type ChangePasswordRequest struct {
	CurrentPassword     string `json:"current_password" validate:"required"`
	NewPassword         string `json:"new_password" validate:"required,min=8,max=72"`
	ConfirmPassword     string `json:"confirm_password" validate:"required,eqfield=NewPassword"`
	RevokeOtherSessions bool   `json:"revoke_other_sessions"`
}

// ChangePassword handles POST /api/account/password
func (h *AccountHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		response.Error(w, err)
		return
	}

	var req ChangePasswordRequest
	if err := decode(w, r, h.validate, &req); err != nil {
		response.Error(w, err)
		return
	}

	err = h.auth.ChangePassword(r.Context(), p.User, req.CurrentPassword, req.NewPassword, p.SessionID(), req.RevokeOtherSessions)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, map[string]bool{"success": true})
}

// ListSessions handles GET /api/account/sessions
func (h *AccountHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		response.Error(w, err)
		return
	}

	sessions, err := h.account.ListSessions(r.Context(), p)
	if err != nil {
		response.Error(w, err)
		return
	}
	if sessions == nil {
		sessions = []models.SessionInfo{}
	}
	response.OK(w, sessions)
}

// RevokeSession handles DELETE /api/account/sessions/{id}
func (h *AccountHandler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		response.Error(w, err)
		return
	}

	sessionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, apierrors.NewNotFoundError("Session"))
		return
	}

	if err := h.account.RevokeSession(r.Context(), p.UserID(), sessionID); err != nil {
		response.Error(w, err)
		return
	}
	response.NoContent(w)
}

// RevokeOtherSessions handles DELETE /api/account/sessions
func (h *AccountHandler) RevokeOtherSessions(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		response.Error(w, err)
		return
	}

	n, err := h.account.RevokeOtherSessions(r.Context(), p)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, map[string]int64{"revoked": n})
}

// UploadAvatar handles POST /api/account/avatar with a multipart "file".
func (h *AccountHandler) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		response.Error(w, err)
		return
	}

	// Room for the multipart envelope around the file.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxAvatarBytes+64<<10)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.ValidationError(w, "file", fmt.Sprintf("file must be at most %d MB", h.maxAvatarBytes>>20))
			return
		}
		response.ValidationError(w, "file", "file is required")
		return
	}
	defer file.Close()

	// Read one byte past the limit so oversized files are rejected by size.
	data, err := io.ReadAll(io.LimitReader(file, h.maxAvatarBytes+1))
	if err != nil {
		response.Error(w, apierrors.ErrBadRequest.WithMessage("Could not read upload"))
		return
	}

	url, err := h.account.UploadAvatar(r.Context(), p.User, data, header.Header.Get("Content-Type"))
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, map[string]string{"url": url})
}

// DeleteAvatar handles DELETE /api/account/avatar
func (h *AccountHandler) DeleteAvatar(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		response.Error(w, err)
		return
	}
	if err := h.account.DeleteAvatar(r.Context(), p.User); err != nil {
		response.Error(w, err)
		return
	}
	response.NoContent(w)
}

// ServeAvatar handles the public GET /api/avatar/{id}.
func (h *AccountHandler) ServeAvatar(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.NotFound(w, "Avatar")
		return
	}

	obj, err := h.account.GetAvatar(r.Context(), userID)
	if err != nil {
		response.Error(w, err)
		return
	}
	defer obj.Body.Close()

	data, err := io.ReadAll(io.LimitReader(obj.Body, h.maxAvatarBytes+1))
	if err != nil {
		h.logger.Error("failed to read avatar", slog.String("user_id", userID.String()), slog.String("error", err.Error()))
		response.Error(w, apierrors.ErrInternal)
		return
	}

	sum := sha256.Sum256(data)
	etag := `"` + hex.EncodeToString(sum[:16]) + `"`
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "public, max-age=3600, must-revalidate")
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
