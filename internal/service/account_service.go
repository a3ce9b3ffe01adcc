package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/wangwalk/tanstack-start-dev/internal/access"
	"github.com/wangwalk/tanstack-start-dev/internal/models"
	apierrors "github.com/wangwalk/tanstack-start-dev/internal/pkg/errors"
	"github.com/wangwalk/tanstack-start-dev/internal/repository"
	"github.com/wangwalk/tanstack-start-dev/internal/storage"
)

const maxNameLen = 100

// AccountService covers the self-service operations on the caller's own
// account. Every method is scoped to the caller's user id.
type AccountService interface {
	UpdateProfile(ctx context.Context, user *models.User, name string) (*models.User, error)

	ListSessions(ctx context.Context, p *access.Principal) ([]models.SessionInfo, error)
	// RevokeSession deletes one of the caller's sessions. A session that
	// belongs to someone else is reported as not found.
	RevokeSession(ctx context.Context, userID, sessionID uuid.UUID) error
	RevokeOtherSessions(ctx context.Context, p *access.Principal) (int64, error)

	UploadAvatar(ctx context.Context, user *models.User, data []byte, declaredType string) (string, error)
	GetAvatar(ctx context.Context, userID uuid.UUID) (*storage.Object, error)
	DeleteAvatar(ctx context.Context, user *models.User) error
}

type accountService struct {
	users          repository.UserRepository
	sessions       repository.SessionRepository
	store          storage.ObjectStore
	maxAvatarBytes int64
	logger         *slog.Logger
}

// NewAccountService creates a new account service.
func NewAccountService(
	users repository.UserRepository,
	sessions repository.SessionRepository,
	store storage.ObjectStore,
	maxAvatarBytes int64,
	logger *slog.Logger,
) AccountService {
	return &accountService{
		users:          users,
		sessions:       sessions,
		store:          store,
		maxAvatarBytes: maxAvatarBytes,
		logger:         logger,
	}
}

func (s *accountService) UpdateProfile(ctx context.Context, user *models.User, name string) (*models.User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apierrors.NewValidationError("name", "name is required")
	}
	if utf8.RuneCountInString(name) > maxNameLen {
		return nil, apierrors.NewValidationError("name", fmt.Sprintf("name must be at most %d characters", maxNameLen))
	}
	if err := s.users.UpdateProfile(ctx, user.ID, name, user.Image); err != nil {
		return nil, err
	}
	updated := *user
	updated.Name = name
	return &updated, nil
}

func (s *accountService) ListSessions(ctx context.Context, p *access.Principal) ([]models.SessionInfo, error) {
	sessions, err := s.sessions.ListByUser(ctx, p.UserID())
	if err != nil {
		return nil, err
	}
	current := p.SessionID()
	out := make([]models.SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, models.SessionInfo{
			ID:        sess.ID,
			IPAddress: sess.IPAddress,
			UserAgent: sess.UserAgent,
			CreatedAt: sess.CreatedAt,
			ExpiresAt: sess.ExpiresAt,
			IsCurrent: current != uuid.Nil && sess.ID == current,
		})
	}
	return out, nil
}

func (s *accountService) RevokeSession(ctx context.Context, userID, sessionID uuid.UUID) error {
	deleted, err := s.sessions.DeleteForUser(ctx, sessionID, userID)
	if err != nil {
		return err
	}
	if !deleted {
		return apierrors.NewNotFoundError("Session")
	}
	return nil
}

func (s *accountService) RevokeOtherSessions(ctx context.Context, p *access.Principal) (int64, error) {
	if p.SessionID() == uuid.Nil {
		return s.sessions.DeleteAllForUser(ctx, p.UserID())
	}
	return s.sessions.DeleteOthersForUser(ctx, p.UserID(), p.SessionID())
}

func (s *accountService) UploadAvatar(ctx context.Context, user *models.User, data []byte, declaredType string) (string, error) {
	contentType, err := storage.ValidateAvatar(data, declaredType, s.maxAvatarBytes)
	if err != nil {
		return "", err
	}

	id := user.ID.String()
	if err := s.store.Put(ctx, storage.AvatarKey(id), data, contentType); err != nil {
		return "", apierrors.NewUpstreamError("storage", err)
	}

	url := storage.AvatarURL(id)
	if err := s.users.UpdateImage(ctx, user.ID, &url); err != nil {
		return "", err
	}
	user.Image = &url
	return url, nil
}

func (s *accountService) GetAvatar(ctx context.Context, userID uuid.UUID) (*storage.Object, error) {
	obj, err := s.store.Get(ctx, storage.AvatarKey(userID.String()))
	if errors.Is(err, storage.ErrObjectNotFound) {
		return nil, apierrors.NewNotFoundError("Avatar")
	}
	if err != nil {
		return nil, apierrors.NewUpstreamError("storage", err)
	}
	return obj, nil
}

func (s *accountService) DeleteAvatar(ctx context.Context, user *models.User) error {
	if err := s.store.Delete(ctx, storage.AvatarKey(user.ID.String())); err != nil {
		return apierrors.NewUpstreamError("storage", err)
	}
	if err := s.users.UpdateImage(ctx, user.ID, nil); err != nil {
		return err
	}
	user.Image = nil
	return nil
}

// Compile-time check to ensure accountService implements AccountService.
var _ AccountService = (*accountService)(nil)
