package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wangwalk/tanstack-start-dev/internal/models"
	apierrors "github.com/wangwalk/tanstack-start-dev/internal/pkg/errors"
	"github.com/wangwalk/tanstack-start-dev/internal/repository"
)

const (
	maxBanReasonLen      = 500
	defaultAuditPageSize = 50
)

var validStatusFilters = map[string]bool{
	"":         true,
	"active":   true,
	"past_due": true,
	"canceled": true,
	"free":     true,
	"banned":   true,
}

// AdminUserDetail is a user as seen from the admin console.
type AdminUserDetail struct {
	*models.User
	ActiveSessions int  `json:"active_sessions"`
	IsBanned       bool `json:"is_banned"`
}

// AdminService holds the operations of the admin console. Callers must
// have passed the admin pipeline of the access gate.
type AdminService interface {
	Stats(ctx context.Context) (*models.UserStats, error)
	ListUsers(ctx context.Context, filter models.UserFilter) ([]*models.User, int64, error)
	GetUser(ctx context.Context, id uuid.UUID) (*AdminUserDetail, error)

	SetRole(ctx context.Context, actor *models.User, targetID uuid.UUID, role models.Role, client ClientInfo) (*models.User, error)
	// Ban locks the target out and revokes all of their sessions.
	Ban(ctx context.Context, actor *models.User, targetID uuid.UUID, reason string, expiresIn *time.Duration, client ClientInfo) (*models.User, error)
	Unban(ctx context.Context, actor *models.User, targetID uuid.UUID, client ClientInfo) (*models.User, error)
	RevokeSessions(ctx context.Context, actor *models.User, targetID uuid.UUID, client ClientInfo) (int64, error)
	AuditLog(ctx context.Context, targetID uuid.UUID, limit int) ([]*models.AuditLog, error)
}

type adminService struct {
	users    repository.UserRepository
	sessions repository.SessionRepository
	audit    repository.AuditRepository
	logger   *slog.Logger
	now      func() time.Time
}

// NewAdminService creates a new admin service.
func NewAdminService(
	users repository.UserRepository,
	sessions repository.SessionRepository,
	audit repository.AuditRepository,
	logger *slog.Logger,
) AdminService {
	return &adminService{users: users, sessions: sessions, audit: audit, logger: logger, now: time.Now}
}

func (s *adminService) Stats(ctx context.Context) (*models.UserStats, error) {
	return s.users.Stats(ctx, s.now().AddDate(0, 0, -30))
}

func (s *adminService) ListUsers(ctx context.Context, filter models.UserFilter) ([]*models.User, int64, error) {
	if !validStatusFilters[filter.Status] {
		return nil, 0, apierrors.NewValidationError("status", "status must be one of active, past_due, canceled, free, banned")
	}
	return s.users.List(ctx, filter)
}

func (s *adminService) GetUser(ctx context.Context, id uuid.UUID) (*AdminUserDetail, error) {
	user, err := s.target(ctx, id)
	if err != nil {
		return nil, err
	}
	sessions, err := s.sessions.ListByUser(ctx, id)
	if err != nil {
		return nil, err
	}
	return &AdminUserDetail{
		User:           user,
		ActiveSessions: len(sessions),
		IsBanned:       user.IsBanned(s.now()),
	}, nil
}

func (s *adminService) SetRole(ctx context.Context, actor *models.User, targetID uuid.UUID, role models.Role, client ClientInfo) (*models.User, error) {
	if !role.IsValid() {
		return nil, apierrors.NewValidationError("role", "role must be user or admin")
	}
	if actor.ID == targetID {
		return nil, apierrors.NewValidationError("role", "you cannot change your own role")
	}
	user, err := s.target(ctx, targetID)
	if err != nil {
		return nil, err
	}
	previous := user.Role
	if previous == role {
		return user, nil
	}

	if err := s.users.SetRole(ctx, targetID, role); err != nil {
		return nil, err
	}
	user.Role = role
	s.record(ctx, actor, targetID, models.AuditEventRoleChanged, client, map[string]any{
		"from": previous,
		"to":   role,
	})
	return user, nil
}

func (s *adminService) Ban(ctx context.Context, actor *models.User, targetID uuid.UUID, reason string, expiresIn *time.Duration, client ClientInfo) (*models.User, error) {
	if actor.ID == targetID {
		return nil, apierrors.NewValidationError("user", "you cannot ban yourself")
	}
	reason = strings.TrimSpace(reason)
	if len(reason) > maxBanReasonLen {
		return nil, apierrors.NewValidationError("reason", "reason is too long")
	}

	var expires *time.Time
	if expiresIn != nil {
		if *expiresIn <= 0 {
			return nil, apierrors.NewValidationError("expires_in", "expiry must be positive")
		}
		t := s.now().Add(*expiresIn)
		expires = &t
	}

	user, err := s.target(ctx, targetID)
	if err != nil {
		return nil, err
	}

	if err := s.users.SetBan(ctx, targetID, optional(reason), expires); err != nil {
		return nil, err
	}
	revoked, err := s.sessions.DeleteAllForUser(ctx, targetID)
	if err != nil {
		return nil, err
	}

	user.Banned, user.BanReason, user.BanExpires = true, optional(reason), expires
	meta := map[string]any{"sessions_revoked": revoked}
	if reason != "" {
		meta["reason"] = reason
	}
	if expires != nil {
		meta["expires_at"] = expires.UTC().Format(time.RFC3339)
	}
	s.record(ctx, actor, targetID, models.AuditEventUserBanned, client, meta)
	return user, nil
}

func (s *adminService) Unban(ctx context.Context, actor *models.User, targetID uuid.UUID, client ClientInfo) (*models.User, error) {
	user, err := s.target(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if err := s.users.ClearBan(ctx, targetID); err != nil {
		return nil, err
	}
	user.Banned, user.BanReason, user.BanExpires = false, nil, nil
	s.record(ctx, actor, targetID, models.AuditEventUserUnbanned, client, nil)
	return user, nil
}

func (s *adminService) RevokeSessions(ctx context.Context, actor *models.User, targetID uuid.UUID, client ClientInfo) (int64, error) {
	if _, err := s.target(ctx, targetID); err != nil {
		return 0, err
	}
	n, err := s.sessions.DeleteAllForUser(ctx, targetID)
	if err != nil {
		return 0, err
	}
	s.record(ctx, actor, targetID, models.AuditEventSessionsRevoked, client, map[string]any{"count": n})
	return n, nil
}

func (s *adminService) AuditLog(ctx context.Context, targetID uuid.UUID, limit int) ([]*models.AuditLog, error) {
	if limit <= 0 || limit > 200 {
		limit = defaultAuditPageSize
	}
	return s.audit.ListByTarget(ctx, targetID, limit)
}

func (s *adminService) target(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apierrors.NewNotFoundError("User")
	}
	return user, nil
}

// record writes an audit entry. The admin action already happened, so a
// failed write is logged rather than returned.
func (s *adminService) record(ctx context.Context, actor *models.User, targetID uuid.UUID, event models.AuditEvent, client ClientInfo, meta map[string]any) {
	entry := &models.AuditLog{
		ActorID:      actor.ID,
		TargetUserID: targetID,
		Event:        event,
		IPAddress:    optional(client.IPAddress),
		UserAgent:    optional(client.UserAgent),
	}
	if meta != nil {
		raw, err := json.Marshal(meta)
		if err == nil {
			entry.Metadata = raw
		}
	}
	if err := s.audit.Create(ctx, entry); err != nil {
		s.logger.Error("failed to write audit log",
			slog.String("event", string(event)),
			slog.String("target_user_id", targetID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// Compile-time check to ensure adminService implements AdminService.
var _ AdminService = (*adminService)(nil)
