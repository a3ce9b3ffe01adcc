package middleware

import (
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/wangwalk/tanstack-start-dev/internal/access"
	apierrors "github.com/wangwalk/tanstack-start-dev/internal/pkg/errors"
	"github.com/wangwalk/tanstack-start-dev/internal/pkg/response"
)

// apiKeyPrefix marks bearer values that are API keys rather than session
// tokens.
const apiKeyPrefix = "nwa_"

var authFailuresTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "saas_auth_failures_total",
		Help: "Rejected requests by failure kind",
	},
	[]string{"kind"},
)

// Credentials extracts the request-scoped credentials: the session cookie,
// an Authorization bearer value and the X-API-Key header.
func Credentials(r *http.Request, cookies *SessionCookies) access.Credentials {
	creds := access.Credentials{
		IPAddress: ClientIP(r),
		UserAgent: r.UserAgent(),
	}
	if cookies != nil {
		creds.SessionToken = cookies.Token(r)
	}

	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		value := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
		if strings.HasPrefix(value, apiKeyPrefix) {
			creds.APIKey = value
		} else if value != "" {
			creds.SessionToken = value
		}
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		creds.APIKey = key
	}
	return creds
}

// Authorize runs the gate with pipeline and stores the principal in the
// request context. Failures are rendered as JSON, or as a redirect for
// browser navigation.
func Authorize(gate *access.Gate, cookies *SessionCookies, pipeline access.Pipeline) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := gate.Authorize(r.Context(), Credentials(r, cookies), pipeline)
			if err != nil {
				reject(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(access.WithPrincipal(r.Context(), p)))
		})
	}
}

// Identify attaches the principal when the request carries valid
// credentials and continues anonymously otherwise. Ban and role checks are
// not run.
func Identify(gate *access.Gate, cookies *SessionCookies) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			creds := Credentials(r, cookies)
			if creds.Empty() {
				next.ServeHTTP(w, r)
				return
			}
			p, err := gate.Resolve(r.Context(), creds)
			if err == nil {
				r = r.WithContext(access.WithPrincipal(r.Context(), p))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func reject(w http.ResponseWriter, r *http.Request, err error) {
	authFailuresTotal.WithLabelValues(string(apierrors.KindOf(err))).Inc()

	if wantsHTML(r) {
		switch {
		case errors.Is(err, apierrors.ErrAccountBanned):
			http.Redirect(w, r, "/banned", http.StatusFound)
			return
		case apierrors.IsKind(err, apierrors.KindUnauthenticated):
			http.Redirect(w, r, "/sign-in?next="+url.QueryEscape(r.URL.RequestURI()), http.StatusFound)
			return
		}
	}
	response.Error(w, err)
}

// wantsHTML reports whether the request is a browser navigation.
func wantsHTML(r *http.Request) bool {
	return r.Method == http.MethodGet && strings.Contains(r.Header.Get("Accept"), "text/html")
}

// ClientIP returns the caller address without the port. It relies on the
// RealIP middleware for proxied requests.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
