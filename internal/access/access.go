// Package access implements the authorization gate every privileged
// operation passes through: resolve credentials, reject banned accounts,
// then check role.
package access

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/wangwalk/tanstack-start-dev/internal/models"
	apierrors "github.com/wangwalk/tanstack-start-dev/internal/pkg/errors"
)

// Credentials are the request-scoped secrets a caller presented.
type Credentials struct {
	// SessionToken comes from the session cookie or a bearer header.
	SessionToken string
	// APIKey comes from X-API-Key or a bearer header carrying a key.
	APIKey    string
	IPAddress string
	UserAgent string
}

// Empty reports whether no credential was presented.
func (c Credentials) Empty() bool {
	return c.SessionToken == "" && c.APIKey == ""
}

// Principal is an authenticated caller. Exactly one of Session and APIKey
// is set.
type Principal struct {
	User    *models.User
	Session *models.Session
	APIKey  *models.APIKey
}

// UserID returns the caller's user id.
func (p *Principal) UserID() uuid.UUID {
	if p == nil || p.User == nil {
		return uuid.Nil
	}
	return p.User.ID
}

// SessionID returns the id of the session behind the request, or uuid.Nil
// for API-key callers.
func (p *Principal) SessionID() uuid.UUID {
	if p == nil || p.Session == nil {
		return uuid.Nil
	}
	return p.Session.ID
}

// Resolver turns credentials into a principal. It returns nil, nil when no
// valid unexpired credential matches.
type Resolver interface {
	Resolve(ctx context.Context, creds Credentials) (*Principal, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, creds Credentials) (*Principal, error)

// Resolve calls f.
func (f ResolverFunc) Resolve(ctx context.Context, creds Credentials) (*Principal, error) {
	return f(ctx, creds)
}

// AuthCheck is one authorization step applied to an authenticated principal.
type AuthCheck interface {
	Check(ctx context.Context, p *Principal) error
}

// AuthCheckFunc adapts a function to AuthCheck.
type AuthCheckFunc func(ctx context.Context, p *Principal) error

// Check calls f.
func (f AuthCheckFunc) Check(ctx context.Context, p *Principal) error {
	return f(ctx, p)
}

// RequireAuthenticated resolves creds and fails with ErrUnauthorized when
// nothing valid is found. Resolver failures are reported as-is.
func RequireAuthenticated(ctx context.Context, r Resolver, creds Credentials) (*Principal, error) {
	if creds.Empty() {
		return nil, apierrors.ErrUnauthorized
	}
	p, err := r.Resolve(ctx, creds)
	if err != nil {
		return nil, err
	}
	if p == nil || p.User == nil {
		return nil, apierrors.ErrUnauthorized
	}
	return p, nil
}

// RequireActiveAccount fails with account_banned while the user's ban is in
// force. A ban whose expiry has passed no longer applies.
func RequireActiveAccount(user *models.User, now time.Time) error {
	if user.IsBanned(now) {
		return apierrors.NewBannedError(user.BanReason, user.BanExpires)
	}
	return nil
}

// RequireRole fails with ErrForbidden unless the user holds role.
func RequireRole(user *models.User, role models.Role) error {
	if user.Role != role {
		return apierrors.ErrForbidden
	}
	return nil
}

// ActiveAccount is RequireActiveAccount as a pipeline step.
func ActiveAccount(now func() time.Time) AuthCheck {
	return AuthCheckFunc(func(_ context.Context, p *Principal) error {
		return RequireActiveAccount(p.User, now())
	})
}

// Role is RequireRole as a pipeline step.
func Role(role models.Role) AuthCheck {
	return AuthCheckFunc(func(_ context.Context, p *Principal) error {
		return RequireRole(p.User, role)
	})
}

// Pipeline is an ordered list of checks run after authentication. The first
// failure wins.
type Pipeline []AuthCheck

// Gate authorizes requests against a fixed resolver.
type Gate struct {
	resolver Resolver
	now      func() time.Time
}

// NewGate creates a gate. A nil now uses time.Now.
func NewGate(resolver Resolver, now func() time.Time) *Gate {
	if now == nil {
		now = time.Now
	}
	return &Gate{resolver: resolver, now: now}
}

// Authorize authenticates creds and then runs pipeline in order. Nothing is
// mutated on failure.
func (g *Gate) Authorize(ctx context.Context, creds Credentials, pipeline Pipeline) (*Principal, error) {
	p, err := RequireAuthenticated(ctx, g.resolver, creds)
	if err != nil {
		return nil, err
	}
	for _, check := range pipeline {
		if err := check.Check(ctx, p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// SelfService is the pipeline for operations on the caller's own data.
func (g *Gate) SelfService() Pipeline {
	return Pipeline{ActiveAccount(g.now)}
}

// Admin is the pipeline for operations on other users.
func (g *Gate) Admin() Pipeline {
	return Pipeline{ActiveAccount(g.now), Role(models.RoleAdmin)}
}

// Resolve runs only authentication, for endpoints such as sign-out and the
// session probe that must work for banned users too.
func (g *Gate) Resolve(ctx context.Context, creds Credentials) (*Principal, error) {
	return RequireAuthenticated(ctx, g.resolver, creds)
}

type principalKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal stored by WithPrincipal.
func FromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok && p != nil
}

// MustFromContext returns the principal in ctx or fails with ErrUnauthorized.
func MustFromContext(ctx context.Context) (*Principal, error) {
	p, ok := FromContext(ctx)
	if !ok {
		return nil, apierrors.ErrUnauthorized
	}
	return p, nil
}
