package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wangwalk/tanstack-start-dev/internal/middleware"
	"github.com/wangwalk/tanstack-start-dev/internal/models"
	apierrors "github.com/wangwalk/tanstack-start-dev/internal/pkg/errors"
	"github.com/wangwalk/tanstack-start-dev/internal/service"
)

const testSiteURL = "https://app.example.com"

func newTestCookies() *middleware.SessionCookies {
	return middleware.NewSessionCookies("0123456789abcdef0123456789abcdef", time.Hour, true)
}

func newAuthRouter(auth *mockAuthService, oauth *mockOAuthService, g Guards) http.Handler {
	if oauth == nil {
		oauth = &mockOAuthService{}
	}
	return NewAuthHandler(auth, oauth, newTestCookies(), testSiteURL+"/", discardLogger()).Routes(g)
}

func findCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestAuthHandler_SignUp(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		signUpErr      error
		expectedStatus int
		expectCookie   bool
	}{
		{
			name:           "creates account and session",
			body:           `{"name":"Ada","email":"ada@example.com","password":"correct horse","confirm_password":"correct horse"}`,
			expectedStatus: http.StatusCreated,
			expectCookie:   true,
		},
		{
			name:           "rejects mismatched confirmation",
			body:           `{"name":"Ada","email":"ada@example.com","password":"correct horse","confirm_password":"wrong horse"}`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "rejects short password",
			body:           `{"name":"Ada","email":"ada@example.com","password":"short","confirm_password":"short"}`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "rejects malformed body",
			body:           `{"name":`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "reports duplicate email",
			body:           `{"name":"Ada","email":"ada@example.com","password":"correct horse","confirm_password":"correct horse"}`,
			signUpErr:      apierrors.NewConflictError("An account with this email already exists"),
			expectedStatus: http.StatusConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got service.SignUpInput
			auth := &mockAuthService{
				signUpFunc: func(ctx context.Context, in service.SignUpInput, client service.ClientInfo) (*models.User, *models.Session, error) {
					got = in
					if tt.signUpErr != nil {
						return nil, nil, tt.signUpErr
					}
					u := &models.User{ID: uuid.New(), Email: in.Email, Name: in.Name, Role: models.RoleUser}
					return u, &models.Session{ID: uuid.New(), Token: "tok_new", UserID: u.ID}, nil
				},
			}
			router := newAuthRouter(auth, nil, Guards{})

			req := httptest.NewRequest(http.MethodPost, "/sign-up", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, tt.expectedStatus, rec.Code)
			if !tt.expectCookie {
				assert.Nil(t, findCookie(rec, middleware.SessionCookieName))
				return
			}
			assert.Equal(t, "ada@example.com", got.Email)
			assert.NotNil(t, findCookie(rec, middleware.SessionCookieName))

			var resp struct {
				Data struct {
					User  models.User `json:"user"`
					Token string      `json:"token"`
				} `json:"data"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, "tok_new", resp.Data.Token)
			assert.Equal(t, "Ada", resp.Data.User.Name)
		})
	}
}

func TestAuthHandler_SignInBanned(t *testing.T) {
	auth := &mockAuthService{
		signInFunc: func(ctx context.Context, email, password string, client service.ClientInfo) (*models.User, *models.Session, error) {
			return nil, nil, apierrors.ErrAccountBanned
		},
	}
	router := newAuthRouter(auth, nil, Guards{})

	req := httptest.NewRequest(http.MethodPost, "/sign-in", strings.NewReader(`{"email":"ada@example.com","password":"pw"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "account_banned")
	assert.Nil(t, findCookie(rec, middleware.SessionCookieName))
}

func TestAuthHandler_SignOut(t *testing.T) {
	caller := testPrincipal(models.RoleUser)
	var revoked string
	auth := &mockAuthService{
		signOutFunc: func(ctx context.Context, token string) error {
			revoked = token
			return nil
		},
	}

	t.Run("revokes the current session", func(t *testing.T) {
		router := newAuthRouter(auth, nil, Guards{Identify: asCaller(caller)})
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sign-out", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "session-token", revoked)
		c := findCookie(rec, middleware.SessionCookieName)
		require.NotNil(t, c)
		assert.Less(t, c.MaxAge, 0)
	})

	t.Run("anonymous caller succeeds", func(t *testing.T) {
		revoked = ""
		router := newAuthRouter(auth, nil, Guards{})
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sign-out", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, revoked)
	})
}

func TestAuthHandler_Session(t *testing.T) {
	t.Run("anonymous", func(t *testing.T) {
		router := newAuthRouter(&mockAuthService{}, nil, Guards{})
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/session", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{}`, rec.Body.String())
	})

	t.Run("signed in", func(t *testing.T) {
		caller := testPrincipal(models.RoleUser)
		router := newAuthRouter(&mockAuthService{}, nil, Guards{Identify: asCaller(caller)})
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/session", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), caller.User.ID.String())
		assert.NotContains(t, rec.Body.String(), "session-token")
	})
}

func TestAuthHandler_VerifyEmail(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		location string
	}{
		{"valid token", nil, testSiteURL + "/dashboard?verified=true"},
		{"invalid token", apierrors.NewValidationError("token", "invalid or expired"), testSiteURL + "/sign-in?error=invalid_verification_link"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auth := &mockAuthService{
				verifyEmailFunc: func(ctx context.Context, token string) (*models.User, error) {
					assert.Equal(t, "tok", token)
					if tt.err != nil {
						return nil, tt.err
					}
					return &models.User{EmailVerified: true}, nil
				},
			}
			router := newAuthRouter(auth, nil, Guards{})
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/verify-email?token=tok", nil))

			assert.Equal(t, http.StatusFound, rec.Code)
			assert.Equal(t, tt.location, rec.Header().Get("Location"))
		})
	}
}

func TestAuthHandler_ForgotPasswordDoesNotLeak(t *testing.T) {
	auth := &mockAuthService{
		forgotPasswordFunc: func(ctx context.Context, email string) error {
			return apierrors.NewUpstreamError("email", assert.AnError)
		},
	}
	router := newAuthRouter(auth, nil, Guards{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/forgot-password", strings.NewReader(`{"email":"nobody@example.com"}`)))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthHandler_ResetPassword(t *testing.T) {
	auth := &mockAuthService{
		resetPasswordFunc: func(ctx context.Context, token, newPassword string) error {
			if token != "good" {
				return apierrors.NewValidationError("token", "Invalid or expired reset link")
			}
			return nil
		},
	}
	router := newAuthRouter(auth, nil, Guards{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/reset-password",
		strings.NewReader(`{"token":"good","password":"new password","confirm_password":"new password"}`)))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/reset-password",
		strings.NewReader(`{"token":"used","password":"new password","confirm_password":"new password"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthHandler_AuthLimitAppliesToCredentialRoutes(t *testing.T) {
	limited := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		})
	}
	router := newAuthRouter(&mockAuthService{}, nil, Guards{AuthLimit: limited})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sign-in", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/session", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthHandler_OAuthRoundTrip(t *testing.T) {
	var gotCode string
	oauth := &mockOAuthService{
		handleCallbackFunc: func(ctx context.Context, provider, code string, client service.ClientInfo) (*models.User, *models.Session, error) {
			gotCode = code
			u := &models.User{ID: uuid.New()}
			return u, &models.Session{ID: uuid.New(), Token: "tok_oauth", UserID: u.ID}, nil
		},
	}
	router := newAuthRouter(&mockAuthService{}, oauth, Guards{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/oauth/github", nil))
	require.Equal(t, http.StatusTemporaryRedirect, rec.Code)

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	state := loc.Query().Get("state")
	require.NotEmpty(t, state)
	stateCookie := findCookie(rec, middleware.OAuthStateCookie)
	require.NotNil(t, stateCookie)

	t.Run("state mismatch", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/oauth/github/callback?code=abc&state=forged", nil)
		req.AddCookie(stateCookie)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusFound, rec.Code)
		assert.Equal(t, testSiteURL+"/sign-in?error=invalid_oauth_state", rec.Header().Get("Location"))
		assert.Empty(t, gotCode)
	})

	t.Run("valid state", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/oauth/github/callback?code=abc&state="+url.QueryEscape(state), nil)
		req.AddCookie(stateCookie)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusFound, rec.Code)
		assert.Equal(t, testSiteURL+"/dashboard", rec.Header().Get("Location"))
		assert.Equal(t, "abc", gotCode)
		assert.NotNil(t, findCookie(rec, middleware.SessionCookieName))
	})
}

func TestAuthHandler_OAuthUnknownProvider(t *testing.T) {
	oauth := &mockOAuthService{
		getAuthURLFunc: func(provider, state string) (string, error) {
			return "", apierrors.NewValidationError("provider", "unsupported provider")
		},
	}
	router := newAuthRouter(&mockAuthService{}, oauth, Guards{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/oauth/myspace", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, findCookie(rec, middleware.OAuthStateCookie))
}

func TestAuthHandler_OAuthCallbackErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantPath string
	}{
		{"banned", apierrors.NewBannedError(nil, nil), "/banned"},
		{"unverified existing account", service.ErrOAuthAccountUnverified, "/sign-in?error=account_not_verified"},
		{"provider failure", apierrors.NewUpstreamError("google", errors.New("boom")), "/sign-in?error=oauth_failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oauth := &mockOAuthService{
				handleCallbackFunc: func(ctx context.Context, provider, code string, client service.ClientInfo) (*models.User, *models.Session, error) {
					return nil, nil, tt.err
				},
			}
			router := newAuthRouter(&mockAuthService{}, oauth, Guards{})

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/oauth/google", nil))
			loc, err := url.Parse(rec.Header().Get("Location"))
			require.NoError(t, err)
			stateCookie := findCookie(rec, middleware.OAuthStateCookie)
			require.NotNil(t, stateCookie)

			req := httptest.NewRequest(http.MethodGet, "/oauth/google/callback?code=abc&state="+url.QueryEscape(loc.Query().Get("state")), nil)
			req.AddCookie(stateCookie)
			rec = httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusFound, rec.Code)
			assert.Equal(t, testSiteURL+tt.wantPath, rec.Header().Get("Location"))
			assert.Nil(t, findCookie(rec, middleware.SessionCookieName))
		})
	}
}
