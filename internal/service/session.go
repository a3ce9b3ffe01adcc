package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wangwalk/tanstack-start-dev/internal/models"
	"github.com/wangwalk/tanstack-start-dev/internal/repository"
)

// ClientInfo describes the client a session is issued to.
type ClientInfo struct {
	IPAddress string
	UserAgent string
}

const defaultSessionExpiry = 7 * 24 * time.Hour

// SessionIssuer creates sessions for every sign-in path.
type SessionIssuer struct {
	repo   repository.SessionRepository
	expiry time.Duration
	now    func() time.Time
}

// NewSessionIssuer creates an issuer for sessions lasting expiry.
func NewSessionIssuer(repo repository.SessionRepository, expiry time.Duration) *SessionIssuer {
	if expiry <= 0 {
		expiry = defaultSessionExpiry
	}
	return &SessionIssuer{repo: repo, expiry: expiry, now: time.Now}
}

func (i *SessionIssuer) issue(ctx context.Context, userID uuid.UUID, client ClientInfo) (*models.Session, error) {
	token, err := newSessionToken()
	if err != nil {
		return nil, err
	}

	session := &models.Session{
		ID:        uuid.New(),
		Token:     token,
		UserID:    userID,
		IPAddress: optional(client.IPAddress),
		UserAgent: optional(client.UserAgent),
		ExpiresAt: i.now().Add(i.expiry),
	}
	if err := i.repo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

// newSessionToken returns 32 random bytes, base64url encoded.
func newSessionToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
