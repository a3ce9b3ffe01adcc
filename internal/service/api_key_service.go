package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/wangwalk/tanstack-start-dev/internal/models"
	apierrors "github.com/wangwalk/tanstack-start-dev/internal/pkg/errors"
	"github.com/wangwalk/tanstack-start-dev/internal/pkg/ulid"
	"github.com/wangwalk/tanstack-start-dev/internal/repository"
)

const (
	// APIKeyPrefix marks secrets issued by this service.
	APIKeyPrefix = "nwa_"
	// apiKeyDisplayLen is the length of the stored lookup prefix.
	apiKeyDisplayLen  = 12
	apiKeyRandomBytes = 36
	maxAPIKeyNameLen  = 100
	// lastUsedResolution limits last_used_at writes for busy keys.
	lastUsedResolution = time.Minute
)

// APIKeyService manages the API keys of a user.
type APIKeyService interface {
	// Create issues a key. The returned response is the only place the raw
	// secret ever appears.
	Create(ctx context.Context, userID uuid.UUID, name string, expiresIn *time.Duration) (*models.APIKeyResponse, error)
	List(ctx context.Context, userID uuid.UUID) ([]models.APIKeyResponse, error)
	// Revoke deletes a key owned by userID. A key owned by anyone else is
	// reported as not found.
	Revoke(ctx context.Context, id string, userID uuid.UUID) error
	// Verify returns the key matching secret, or nil when none matches.
	Verify(ctx context.Context, secret string) (*models.APIKey, error)
}

type apiKeyService struct {
	repo   repository.APIKeyRepository
	logger *slog.Logger
	now    func() time.Time
}

// NewAPIKeyService creates a new API key service.
func NewAPIKeyService(repo repository.APIKeyRepository, logger *slog.Logger) APIKeyService {
	return &apiKeyService{repo: repo, logger: logger, now: time.Now}
}

func (s *apiKeyService) Create(ctx context.Context, userID uuid.UUID, name string, expiresIn *time.Duration) (*models.APIKeyResponse, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apierrors.NewValidationError("name", "name is required")
	}
	if utf8.RuneCountInString(name) > maxAPIKeyNameLen {
		return nil, apierrors.NewValidationError("name", fmt.Sprintf("name must be at most %d characters", maxAPIKeyNameLen))
	}

	var expiresAt *time.Time
	if expiresIn != nil {
		if *expiresIn <= 0 {
			return nil, apierrors.NewValidationError("expires_in", "expiry must be positive")
		}
		t := s.now().Add(*expiresIn)
		expiresAt = &t
	}

	// A prefix collision is astronomically unlikely but the column is
	// unique, so retry once with a fresh secret.
	for attempt := 0; ; attempt++ {
		secret, err := generateAPIKey()
		if err != nil {
			return nil, err
		}

		key := &models.APIKey{
			ID:        ulid.New(),
			UserID:    userID,
			Name:      name,
			KeyPrefix: secret[:apiKeyDisplayLen],
			KeyHash:   hashAPIKey(secret),
			ExpiresAt: expiresAt,
		}
		err = s.repo.Create(ctx, key)
		if errors.Is(err, repository.ErrDuplicate) && attempt == 0 {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create api key: %w", err)
		}

		resp := key.Response()
		resp.Key = secret
		return &resp, nil
	}
}

func (s *apiKeyService) List(ctx context.Context, userID uuid.UUID) ([]models.APIKeyResponse, error) {
	keys, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]models.APIKeyResponse, 0, len(keys))
	for _, k := range keys {
		out = append(out, k.Response())
	}
	return out, nil
}

func (s *apiKeyService) Revoke(ctx context.Context, id string, userID uuid.UUID) error {
	if !ulid.IsValid(id) {
		return apierrors.NewNotFoundError("API key")
	}
	deleted, err := s.repo.DeleteForUser(ctx, id, userID)
	if err != nil {
		return err
	}
	if !deleted {
		return apierrors.NewNotFoundError("API key")
	}
	return nil
}

func (s *apiKeyService) Verify(ctx context.Context, secret string) (*models.APIKey, error) {
	if !strings.HasPrefix(secret, APIKeyPrefix) || len(secret) <= apiKeyDisplayLen {
		return nil, nil
	}

	key, err := s.repo.GetByPrefix(ctx, secret[:apiKeyDisplayLen])
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, nil
	}

	if subtle.ConstantTimeCompare([]byte(hashAPIKey(secret)), []byte(key.KeyHash)) != 1 {
		return nil, nil
	}
	now := s.now()
	if key.Expired(now) {
		return nil, nil
	}

	if key.LastUsedAt == nil || now.Sub(*key.LastUsedAt) >= lastUsedResolution {
		if err := s.repo.TouchLastUsed(ctx, key.ID, now); err != nil {
			s.logger.Warn("failed to update api key last use",
				slog.String("key_id", key.ID),
				slog.String("error", err.Error()),
			)
		} else {
			key.LastUsedAt = &now
		}
	}
	return key, nil
}

// generateAPIKey returns APIKeyPrefix followed by 36 random bytes in
// base64url.
func generateAPIKey() (string, error) {
	b := make([]byte, apiKeyRandomBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate api key: %w", err)
	}
	return APIKeyPrefix + base64.RawURLEncoding.EncodeToString(b), nil
}

func hashAPIKey(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// Compile-time check to ensure apiKeyService implements APIKeyService.
var _ APIKeyService = (*apiKeyService)(nil)
