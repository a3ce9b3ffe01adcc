package handler

import (
	"crypto/rand"
	"encoding/base64"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/wangwalk/tanstack-start-dev/internal/access"
	"github.com/wangwalk/tanstack-start-dev/internal/middleware"
	"github.com/wangwalk/tanstack-start-dev/internal/models"
	apierrors "github.com/wangwalk/tanstack-start-dev/internal/pkg/errors"
	"github.com/wangwalk/tanstack-start-dev/internal/pkg/response"
	"github.com/wangwalk/tanstack-start-dev/internal/service"
)

// AuthHandler handles sign-up, sign-in and the email-link flows.
type AuthHandler struct {
	auth     service.AuthService
	oauth    service.OAuthService
	cookies  *middleware.SessionCookies
	siteURL  string
	logger   *slog.Logger
	validate *validator.Validate
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(
	auth service.AuthService,
	oauth service.OAuthService,
	cookies *middleware.SessionCookies,
	siteURL string,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		auth:     auth,
		oauth:    oauth,
		cookies:  cookies,
		siteURL:  strings.TrimRight(siteURL, "/"),
		logger:   logger,
		validate: newValidator(),
	}
}

// Routes returns a chi router with auth routes.
func (h *AuthHandler) Routes(g Guards) chi.Router {
	g = g.withDefaults()
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(g.AuthLimit)
		r.Post("/sign-up", h.SignUp)
		r.Post("/sign-in", h.SignIn)
		r.Post("/forgot-password", h.ForgotPassword)
		r.Post("/reset-password", h.ResetPassword)
	})
	r.Get("/verify-email", h.VerifyEmail)

	r.With(g.Identify).Get("/session", h.Session)
	r.With(g.Identify).Post("/sign-out", h.SignOut)
	r.With(g.SelfService).Post("/resend-verification", h.ResendVerification)

	r.Get("/oauth/providers", h.OAuthProviders)
	r.Get("/oauth/{provider}", h.OAuthStart)
	r.Get("/oauth/{provider}/callback", h.OAuthCallback)

	return r
}

// SessionResponse is the signed-in state returned to clients. Token is
// set only when a session was just created, for bearer clients.
type SessionResponse struct {
	User    *models.User    `json:"user"`
	Session *models.Session `json:"session"`
	Token   string          `json:"token,omitempty"`
}

// SignUpRequest is the HTTP request body for a password sign-up.
type SignUpRequest struct {
	Name            string `json:"name" validate:"required,max=100"`
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required,min=8,max=72"`
	ConfirmPassword string `json:"confirm_password" validate:"required,eqfield=Password"`
}

// SignUp handles POST /api/auth/sign-up
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req SignUpRequest
	if err := decode(w, r, h.validate, &req); err != nil {
		response.Error(w, err)
		return
	}

	user, session, err := h.auth.SignUp(r.Context(), service.SignUpInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	}, clientInfo(r))
	if err != nil {
		response.Error(w, err)
		return
	}

	h.startSession(w, r, http.StatusCreated, user, session)
}

// SignInRequest is the HTTP request body for a password sign-in.
type SignInRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// SignIn handles POST /api/auth/sign-in
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req SignInRequest
	if err := decode(w, r, h.validate, &req); err != nil {
		response.Error(w, err)
		return
	}

	user, session, err := h.auth.SignIn(r.Context(), req.Email, req.Password, clientInfo(r))
	if err != nil {
		response.Error(w, err)
		return
	}

	h.startSession(w, r, http.StatusOK, user, session)
}

func (h *AuthHandler) startSession(w http.ResponseWriter, r *http.Request, status int, user *models.User, session *models.Session) {
	if err := h.cookies.SetToken(w, r, session.Token); err != nil {
		h.logger.Error("failed to set session cookie", slog.String("error", err.Error()))
		response.Error(w, apierrors.ErrInternal)
		return
	}
	response.JSON(w, status, SessionResponse{User: user, Session: session, Token: session.Token})
}

// SignOut handles POST /api/auth/sign-out. It succeeds for anonymous
// callers too.
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	if p, ok := access.FromContext(r.Context()); ok && p.Session != nil {
		if err := h.auth.SignOut(r.Context(), p.Session.Token); err != nil {
			response.Error(w, err)
			return
		}
	}
	_ = h.cookies.Clear(w, r)
	response.OK(w, map[string]bool{"success": true})
}

// Session handles GET /api/auth/session. Anonymous callers get null data.
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	p, ok := access.FromContext(r.Context())
	if !ok {
		response.OK(w, nil)
		return
	}
	response.OK(w, SessionResponse{User: p.User, Session: p.Session})
}

// VerifyEmail handles GET /api/auth/verify-email?token=. It is reached from
// the emailed link, so it redirects instead of returning JSON.
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	if _, err := h.auth.VerifyEmail(r.Context(), r.URL.Query().Get("token")); err != nil {
		http.Redirect(w, r, h.siteURL+"/sign-in?error=invalid_verification_link", http.StatusFound)
		return
	}
	http.Redirect(w, r, h.siteURL+"/dashboard?verified=true", http.StatusFound)
}

// ResendVerification handles POST /api/auth/resend-verification
func (h *AuthHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		response.Error(w, err)
		return
	}
	if err := h.auth.ResendVerification(r.Context(), p.User); err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, map[string]bool{"success": true})
}

// ForgotPasswordRequest is the HTTP request body for a reset link.
type ForgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// ForgotPassword handles POST /api/auth/forgot-password. The response does
// not reveal whether the address has an account.
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if err := decode(w, r, h.validate, &req); err != nil {
		response.Error(w, err)
		return
	}
	if err := h.auth.ForgotPassword(r.Context(), req.Email); err != nil {
		h.logger.Error("forgot password failed", slog.String("error", err.Error()))
	}
	response.OK(w, map[string]bool{"success": true})
}

// ResetPasswordRequest is the HTTP request body for completing a reset.
type ResetPasswordRequest struct {
	Token           string `json:"token" validate:"required"`
	Password        string `json:"password" validate:"required,min=8,max=72"`
	ConfirmPassword string `json:"confirm_password" validate:"required,eqfield=Password"`
}

// ResetPassword handles POST /api/auth/reset-password
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := decode(w, r, h.validate, &req); err != nil {
		response.Error(w, err)
		return
	}
	if err := h.auth.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, map[string]bool{"success": true})
}

// OAuthProviders handles GET /api/auth/oauth/providers
func (h *AuthHandler) OAuthProviders(w http.ResponseWriter, r *http.Request) {
	response.OK(w, map[string][]string{"providers": h.oauth.GetSupportedProviders()})
}

// OAuthStart handles GET /api/auth/oauth/{provider}
func (h *AuthHandler) OAuthStart(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	state, err := generateState()
	if err != nil {
		response.Error(w, err)
		return
	}
	authURL, err := h.oauth.GetAuthURL(provider, state)
	if err != nil {
		response.Error(w, err)
		return
	}
	if err := h.cookies.SetOAuthState(w, r, state); err != nil {
		response.Error(w, apierrors.ErrInternal)
		return
	}
	http.Redirect(w, r, authURL, http.StatusTemporaryRedirect)
}

// OAuthCallback handles GET /api/auth/oauth/{provider}/callback
func (h *AuthHandler) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	q := r.URL.Query()

	saved := h.cookies.PopOAuthState(w, r)
	if q.Get("error") != "" {
		h.failOAuth(w, r, "oauth_denied")
		return
	}
	if saved == "" || q.Get("state") != saved {
		h.failOAuth(w, r, "invalid_oauth_state")
		return
	}

	user, session, err := h.oauth.HandleCallback(r.Context(), provider, q.Get("code"), clientInfo(r))
	if err != nil {
		h.logger.Warn("oauth callback failed",
			slog.String("provider", provider),
			slog.String("error", err.Error()),
		)
		if apierrors.IsKind(err, apierrors.KindForbidden) {
			http.Redirect(w, r, h.siteURL+"/banned", http.StatusFound)
			return
		}
		if apierrors.IsKind(err, apierrors.KindConflict) {
			h.failOAuth(w, r, "account_not_verified")
			return
		}
		h.failOAuth(w, r, "oauth_failed")
		return
	}

	if err := h.cookies.SetToken(w, r, session.Token); err != nil {
		h.failOAuth(w, r, "oauth_failed")
		return
	}
	h.logger.Info("oauth sign-in", slog.String("provider", provider), slog.String("user_id", user.ID.String()))
	http.Redirect(w, r, h.siteURL+"/dashboard", http.StatusFound)
}

func (h *AuthHandler) failOAuth(w http.ResponseWriter, r *http.Request, code string) {
	http.Redirect(w, r, h.siteURL+"/sign-in?error="+url.QueryEscape(code), http.StatusFound)
}

// generateState returns a random OAuth state value.
func generateState() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
