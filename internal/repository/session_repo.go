package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wangwalk/tanstack-start-dev/internal/models"
)

// SessionRepository defines the interface for session data operations.
// Every method that touches a single session on behalf of a user takes the
// owner id and filters on it.
type SessionRepository interface {
	Create(ctx context.Context, session *models.Session) error
	GetByToken(ctx context.Context, token string) (*models.Session, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.Session, error)
	DeleteForUser(ctx context.Context, id, userID uuid.UUID) (bool, error)
	DeleteByToken(ctx context.Context, token string) error
	DeleteAllForUser(ctx context.Context, userID uuid.UUID) (int64, error)
	DeleteOthersForUser(ctx context.Context, userID, keepID uuid.UUID) (int64, error)
	CleanupExpired(ctx context.Context) (int64, error)
}

type sessionRepo struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates a new session repository.
func NewSessionRepository(pool *pgxpool.Pool) SessionRepository {
	return &sessionRepo{pool: pool}
}

const sessionColumns = `id, token, user_id, ip_address, user_agent, expires_at, created_at`

func scanSession(row scanner) (*models.Session, error) {
	var s models.Session
	if err := row.Scan(&s.ID, &s.Token, &s.UserID, &s.IPAddress, &s.UserAgent, &s.ExpiresAt, &s.CreatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *sessionRepo) Create(ctx context.Context, session *models.Session) error {
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	query := `
		INSERT INTO sessions (id, token, user_id, ip_address, user_agent, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`
	return r.pool.QueryRow(ctx, query,
		session.ID, session.Token, session.UserID, session.IPAddress, session.UserAgent, session.ExpiresAt,
	).Scan(&session.CreatedAt)
}

func (r *sessionRepo) GetByToken(ctx context.Context, token string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE token = $1`
	s, err := scanSession(r.pool.QueryRow(ctx, query, token))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return s, nil
}

// ListByUser returns the user's unexpired sessions, newest first.
func (r *sessionRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions
		WHERE user_id = $1 AND expires_at > NOW()
		ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// DeleteForUser revokes one session if, and only if, it belongs to userID.
func (r *sessionRepo) DeleteForUser(ctx context.Context, id, userID uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *sessionRepo) DeleteByToken(ctx context.Context, token string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE token = $1`, token); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (r *sessionRepo) DeleteAllForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("delete sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *sessionRepo) DeleteOthersForUser(ctx context.Context, userID, keepID uuid.UUID) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE user_id = $1 AND id <> $2`, userID, keepID)
	if err != nil {
		return 0, fmt.Errorf("delete other sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *sessionRepo) CleanupExpired(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("cleanup sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}
