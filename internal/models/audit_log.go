package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditEvent represents the type of audit event.
type AuditEvent string

const (
	AuditEventRoleChanged     AuditEvent = "user.role_changed"
	AuditEventUserBanned      AuditEvent = "user.banned"
	AuditEventUserUnbanned    AuditEvent = "user.unbanned"
	AuditEventSessionsRevoked AuditEvent = "user.sessions_revoked"
)

// AuditLog records an admin action against a user.
type AuditLog struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	ActorID      uuid.UUID       `json:"actor_id" db:"actor_id"`
	TargetUserID uuid.UUID       `json:"target_user_id" db:"target_user_id"`
	Event        AuditEvent      `json:"event" db:"event"`
	IPAddress    *string         `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent    *string         `json:"user_agent,omitempty" db:"user_agent"`
	Metadata     json.RawMessage `json:"metadata,omitempty" db:"metadata"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}
