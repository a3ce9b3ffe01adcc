package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wangwalk/tanstack-start-dev/internal/models"
)

// APIKeyRepository defines the interface for API key data operations.
type APIKeyRepository interface {
	Create(ctx context.Context, key *models.APIKey) error
	GetByPrefix(ctx context.Context, prefix string) (*models.APIKey, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.APIKey, error)
	DeleteForUser(ctx context.Context, id string, userID uuid.UUID) (bool, error)
	TouchLastUsed(ctx context.Context, id string, at time.Time) error
}

type apiKeyRepo struct {
	pool *pgxpool.Pool
}

// NewAPIKeyRepository creates a new API key repository.
func NewAPIKeyRepository(pool *pgxpool.Pool) APIKeyRepository {
	return &apiKeyRepo{pool: pool}
}

const apiKeyColumns = `id, user_id, name, key_prefix, key_hash, last_used_at, expires_at, created_at`

func scanAPIKey(row scanner) (*models.APIKey, error) {
	var k models.APIKey
	err := row.Scan(&k.ID, &k.UserID, &k.Name, &k.KeyPrefix, &k.KeyHash, &k.LastUsedAt, &k.ExpiresAt, &k.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &k, nil
}

func (r *apiKeyRepo) Create(ctx context.Context, key *models.APIKey) error {
	query := `
		INSERT INTO api_keys (id, user_id, name, key_prefix, key_hash, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`
	err := r.pool.QueryRow(ctx, query,
		key.ID, key.UserID, key.Name, key.KeyPrefix, key.KeyHash, key.ExpiresAt,
	).Scan(&key.CreatedAt)
	if err != nil {
		return mapUnique(err)
	}
	return nil
}

func (r *apiKeyRepo) GetByPrefix(ctx context.Context, prefix string) (*models.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE key_prefix = $1`
	k, err := scanAPIKey(r.pool.QueryRow(ctx, query, prefix))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get api key: %w", err)
	}
	return k, nil
}

func (r *apiKeyRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE user_id = $1 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	keys := []*models.APIKey{}
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// DeleteForUser removes the key only when id and owner both match.
func (r *apiKeyRepo) DeleteForUser(ctx context.Context, id string, userID uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM api_keys WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return false, fmt.Errorf("delete api key: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *apiKeyRepo) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	if _, err := r.pool.Exec(ctx, `UPDATE api_keys SET last_used_at = $2 WHERE id = $1`, id, at); err != nil {
		return fmt.Errorf("touch api key: %w", err)
	}
	return nil
}
