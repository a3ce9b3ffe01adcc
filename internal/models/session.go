package models

import (
	"time"

	"github.com/google/uuid"
)

// Session represents an authenticated user session. Deleting the row
// revokes it. Token is the bearer credential and is never serialized.
type Session struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Token     string    `json:"-" db:"token"`
	UserID    uuid.UUID `json:"user_id" db:"user_id"`
	IPAddress *string   `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent *string   `json:"user_agent,omitempty" db:"user_agent"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Expired reports whether the session is no longer valid at now.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// SessionInfo is the self-service view of a session.
type SessionInfo struct {
	ID        uuid.UUID `json:"id"`
	IPAddress *string   `json:"ip_address,omitempty"`
	UserAgent *string   `json:"user_agent,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	IsCurrent bool      `json:"is_current"`
}
