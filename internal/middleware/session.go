package middleware

import (
	"net/http"
	"time"

	"github.com/gorilla/sessions"
)

const (
	// SessionCookieName is the signed cookie carrying the session token.
	SessionCookieName = "saas_session"
	// OAuthStateCookie holds the OAuth state between redirect and callback.
	OAuthStateCookie = "saas_oauth_state"

	oauthStateMaxAge = 5 * time.Minute
)

// SessionCookies reads and writes the signed cookies used by browser
// clients.
type SessionCookies struct {
	store  sessions.Store
	maxAge time.Duration
}

// NewSessionCookies creates cookies signed with secret. Cookies are marked
// Secure unless dev is set.
func NewSessionCookies(secret string, maxAge time.Duration, dev bool) *SessionCookies {
	store := sessions.NewCookieStore([]byte(secret))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   !dev,
		SameSite: http.SameSiteLaxMode,
	}
	return &SessionCookies{store: store, maxAge: maxAge}
}

// Token returns the session token in the request cookie, if any. A cookie
// that fails signature checks is treated as absent.
func (c *SessionCookies) Token(r *http.Request) string {
	session, err := c.store.Get(r, SessionCookieName)
	if err != nil {
		return ""
	}
	token, _ := session.Values["token"].(string)
	return token
}

// SetToken stores token in the session cookie.
func (c *SessionCookies) SetToken(w http.ResponseWriter, r *http.Request, token string) error {
	session, _ := c.store.Get(r, SessionCookieName)
	session.Values["token"] = token
	session.Options.MaxAge = int(c.maxAge.Seconds())
	return session.Save(r, w)
}

// Clear expires the session cookie.
func (c *SessionCookies) Clear(w http.ResponseWriter, r *http.Request) error {
	session, _ := c.store.Get(r, SessionCookieName)
	session.Values = map[any]any{}
	session.Options.MaxAge = -1
	return session.Save(r, w)
}

// SetOAuthState remembers state for the OAuth callback.
func (c *SessionCookies) SetOAuthState(w http.ResponseWriter, r *http.Request, state string) error {
	session, _ := c.store.Get(r, OAuthStateCookie)
	session.Values["state"] = state
	session.Options.MaxAge = int(oauthStateMaxAge.Seconds())
	return session.Save(r, w)
}

// PopOAuthState returns the remembered state and clears it, so each state
// is accepted at most once.
func (c *SessionCookies) PopOAuthState(w http.ResponseWriter, r *http.Request) string {
	session, err := c.store.Get(r, OAuthStateCookie)
	if err != nil {
		return ""
	}
	state, _ := session.Values["state"].(string)
	session.Options.MaxAge = -1
	_ = session.Save(r, w)
	return state
}
