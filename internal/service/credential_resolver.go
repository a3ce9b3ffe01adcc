package service

import (
	"context"
	"time"

	"github.com/wangwalk/tanstack-start-dev/internal/access"
	"github.com/wangwalk/tanstack-start-dev/internal/repository"
)

type credentialResolver struct {
	users    repository.UserRepository
	sessions repository.SessionRepository
	apiKeys  APIKeyService
	now      func() time.Time
}

// NewCredentialResolver resolves session tokens and API keys to principals.
// It only authenticates; ban and role checks belong to the access gate.
func NewCredentialResolver(
	users repository.UserRepository,
	sessions repository.SessionRepository,
	apiKeys APIKeyService,
) access.Resolver {
	return &credentialResolver{users: users, sessions: sessions, apiKeys: apiKeys, now: time.Now}
}

func (r *credentialResolver) Resolve(ctx context.Context, creds access.Credentials) (*access.Principal, error) {
	if creds.SessionToken != "" {
		p, err := r.resolveSession(ctx, creds.SessionToken)
		if err != nil || p != nil {
			return p, err
		}
	}
	if creds.APIKey != "" {
		return r.resolveAPIKey(ctx, creds.APIKey)
	}
	return nil, nil
}

func (r *credentialResolver) resolveSession(ctx context.Context, token string) (*access.Principal, error) {
	session, err := r.sessions.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if session == nil || session.Expired(r.now()) {
		return nil, nil
	}
	user, err := r.users.GetByID(ctx, session.UserID)
	if err != nil || user == nil {
		return nil, err
	}
	return &access.Principal{User: user, Session: session}, nil
}

func (r *credentialResolver) resolveAPIKey(ctx context.Context, secret string) (*access.Principal, error) {
	key, err := r.apiKeys.Verify(ctx, secret)
	if err != nil || key == nil {
		return nil, err
	}
	user, err := r.users.GetByID(ctx, key.UserID)
	if err != nil || user == nil {
		return nil, err
	}
	return &access.Principal{User: user, APIKey: key}, nil
}

// Compile-time check to ensure credentialResolver implements access.Resolver.
var _ access.Resolver = (*credentialResolver)(nil)
