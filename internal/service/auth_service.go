package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/wangwalk/tanstack-start-dev/internal/models"
	apierrors "github.com/wangwalk/tanstack-start-dev/internal/pkg/errors"
	"github.com/wangwalk/tanstack-start-dev/internal/repository"
)

// Password length bounds. bcrypt ignores input past 72 bytes.
const (
	MinPasswordLength = 8
	MaxPasswordLength = 72
)

func validatePassword(field, password string) error {
	if len(password) < MinPasswordLength {
		return apierrors.NewValidationError(field,
			fmt.Sprintf("password must be at least %d characters", MinPasswordLength))
	}
	if len(password) > MaxPasswordLength {
		return apierrors.NewValidationError(field,
			fmt.Sprintf("password must be at most %d bytes", MaxPasswordLength))
	}
	return nil
}

// SignUpInput holds the fields of a password sign-up.
type SignUpInput struct {
	Name     string
	Email    string
	Password string
}

// AuthService handles password authentication and session lifecycle.
type AuthService interface {
	SignUp(ctx context.Context, in SignUpInput, client ClientInfo) (*models.User, *models.Session, error)
	SignIn(ctx context.Context, email, password string, client ClientInfo) (*models.User, *models.Session, error)
	SignOut(ctx context.Context, token string) error

	VerifyEmail(ctx context.Context, token string) (*models.User, error)
	ResendVerification(ctx context.Context, user *models.User) error

	// ForgotPassword sends a reset link when the address belongs to a
	// password account. It reports success either way.
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, newPassword string) error
	ChangePassword(ctx context.Context, user *models.User, current, next string, keepSessionID uuid.UUID, revokeOthers bool) error
}

type authService struct {
	users    repository.UserRepository
	sessions repository.SessionRepository
	issuer   *SessionIssuer
	tokens   *TokenIssuer
	notifier NotificationService
	logger   *slog.Logger
	cost     int
}

// NewAuthService creates a new auth service.
func NewAuthService(
	users repository.UserRepository,
	sessions repository.SessionRepository,
	issuer *SessionIssuer,
	tokens *TokenIssuer,
	notifier NotificationService,
	logger *slog.Logger,
) AuthService {
	return &authService{
		users:    users,
		sessions: sessions,
		issuer:   issuer,
		tokens:   tokens,
		notifier: notifier,
		logger:   logger,
		cost:     bcrypt.DefaultCost,
	}
}

func (s *authService) SignUp(ctx context.Context, in SignUpInput, client ClientInfo) (*models.User, *models.Session, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, nil, apierrors.NewValidationError("name", "name is required")
	}
	if err := validatePassword("password", in.Password); err != nil {
		return nil, nil, err
	}

	emailAddr := repository.NormalizeEmail(in.Email)
	existing, err := s.users.GetByEmail(ctx, emailAddr)
	if err != nil {
		return nil, nil, err
	}
	if existing != nil {
		return nil, nil, apierrors.NewConflictError("An account with this email already exists")
	}

	hash, err := s.hash(in.Password)
	if err != nil {
		return nil, nil, err
	}

	user := &models.User{
		Email:        emailAddr,
		Name:         name,
		PasswordHash: &hash,
		Role:         models.RoleUser,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, nil, apierrors.NewConflictError("An account with this email already exists")
		}
		return nil, nil, fmt.Errorf("failed to create user: %w", err)
	}

	session, err := s.issuer.issue(ctx, user.ID, client)
	if err != nil {
		return nil, nil, err
	}

	// Account creation succeeded; email trouble is logged, not returned.
	if err := s.ResendVerification(ctx, user); err != nil {
		s.logger.Warn("verification email failed", slog.String("user_id", user.ID.String()), slog.String("error", err.Error()))
	}
	if err := s.notifier.SendWelcome(ctx, user); err != nil {
		s.logger.Warn("welcome email failed", slog.String("user_id", user.ID.String()), slog.String("error", err.Error()))
	}

	return user, session, nil
}

func (s *authService) SignIn(ctx context.Context, email, password string, client ClientInfo) (*models.User, *models.Session, error) {
	invalid := apierrors.ErrUnauthorized.WithMessage("Invalid email or password")

	user, err := s.users.GetByEmail(ctx, repository.NormalizeEmail(email))
	if err != nil {
		return nil, nil, err
	}
	if user == nil || !user.HasPassword() {
		return nil, nil, invalid
	}
	if err := bcrypt.CompareHashAndPassword([]byte(*user.PasswordHash), []byte(password)); err != nil {
		return nil, nil, invalid
	}
	if user.IsBanned(s.issuer.now()) {
		return nil, nil, apierrors.NewBannedError(user.BanReason, user.BanExpires)
	}

	session, err := s.issuer.issue(ctx, user.ID, client)
	if err != nil {
		return nil, nil, err
	}
	if err := s.users.UpdateLastLogin(ctx, user.ID); err != nil {
		s.logger.Warn("failed to record last login", slog.String("error", err.Error()))
	}
	return user, session, nil
}

func (s *authService) SignOut(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return s.sessions.DeleteByToken(ctx, token)
}

func (s *authService) VerifyEmail(ctx context.Context, token string) (*models.User, error) {
	userID, addr, err := s.tokens.ParseVerification(token)
	if err != nil {
		return nil, apierrors.NewValidationError("token", "verification link is invalid or expired")
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	// A token sent to a previous address does not verify the current one.
	if user == nil || !strings.EqualFold(user.Email, addr) {
		return nil, apierrors.NewValidationError("token", "verification link is invalid or expired")
	}
	if !user.EmailVerified {
		if err := s.users.SetEmailVerified(ctx, user.ID); err != nil {
			return nil, err
		}
		user.EmailVerified = true
	}
	return user, nil
}

func (s *authService) ResendVerification(ctx context.Context, user *models.User) error {
	if user.EmailVerified {
		return nil
	}
	token, err := s.tokens.IssueVerification(user.ID, user.Email)
	if err != nil {
		return err
	}
	return s.notifier.SendVerification(ctx, user, token)
}

func (s *authService) ForgotPassword(ctx context.Context, email string) error {
	user, err := s.users.GetByEmail(ctx, repository.NormalizeEmail(email))
	if err != nil {
		return err
	}
	if user == nil || !user.HasPassword() {
		return nil
	}

	token, err := s.tokens.IssueReset(user.ID, *user.PasswordHash)
	if err != nil {
		return err
	}
	if err := s.notifier.SendPasswordReset(ctx, user, token, s.tokens.ResetExpiry()); err != nil {
		s.logger.Warn("password reset email failed", slog.String("user_id", user.ID.String()), slog.String("error", err.Error()))
	}
	return nil
}

func (s *authService) ResetPassword(ctx context.Context, token, newPassword string) error {
	if err := validatePassword("password", newPassword); err != nil {
		return err
	}

	invalid := apierrors.NewValidationError("token", "reset link is invalid or expired")
	userID, fp, err := s.tokens.ParseReset(token)
	if err != nil {
		return invalid
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil || !user.HasPassword() || passwordFingerprint(*user.PasswordHash) != fp {
		return invalid
	}

	hash, err := s.hash(newPassword)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		return err
	}
	// Everything signed in with the old password is signed out.
	if _, err := s.sessions.DeleteAllForUser(ctx, user.ID); err != nil {
		return err
	}
	return nil
}

func (s *authService) ChangePassword(ctx context.Context, user *models.User, current, next string, keepSessionID uuid.UUID, revokeOthers bool) error {
	if !user.HasPassword() {
		return apierrors.NewValidationError("current_password", "this account signs in with a social provider and has no password")
	}
	if err := validatePassword("new_password", next); err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(*user.PasswordHash), []byte(current)); err != nil {
		return apierrors.NewValidationError("current_password", "current password is incorrect")
	}

	hash, err := s.hash(next)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		return err
	}

	if revokeOthers {
		if keepSessionID == uuid.Nil {
			_, err = s.sessions.DeleteAllForUser(ctx, user.ID)
		} else {
			_, err = s.sessions.DeleteOthersForUser(ctx, user.ID, keepSessionID)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *authService) hash(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(b), nil
}

// Compile-time check to ensure authService implements AuthService.
var _ AuthService = (*authService)(nil)
