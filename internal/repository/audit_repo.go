package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wangwalk/tanstack-start-dev/internal/models"
)

// AuditRepository defines the interface for audit log operations.
type AuditRepository interface {
	Create(ctx context.Context, log *models.AuditLog) error
	ListByTarget(ctx context.Context, userID uuid.UUID, limit int) ([]*models.AuditLog, error)
}

type auditRepo struct {
	pool *pgxpool.Pool
}

// NewAuditRepository creates a new audit repository.
func NewAuditRepository(pool *pgxpool.Pool) AuditRepository {
	return &auditRepo{pool: pool}
}

func (r *auditRepo) Create(ctx context.Context, log *models.AuditLog) error {
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	query := `
		INSERT INTO audit_logs (id, actor_id, target_user_id, event, ip_address, user_agent, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`
	return r.pool.QueryRow(ctx, query,
		log.ID, log.ActorID, log.TargetUserID, log.Event, log.IPAddress, log.UserAgent, log.Metadata,
	).Scan(&log.CreatedAt)
}

func (r *auditRepo) ListByTarget(ctx context.Context, userID uuid.UUID, limit int) ([]*models.AuditLog, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	query := `
		SELECT id, actor_id, target_user_id, event, ip_address, user_agent, metadata, created_at
		FROM audit_logs WHERE target_user_id = $1
		ORDER BY created_at DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	defer rows.Close()

	logs := []*models.AuditLog{}
	for rows.Next() {
		var l models.AuditLog
		if err := rows.Scan(&l.ID, &l.ActorID, &l.TargetUserID, &l.Event, &l.IPAddress, &l.UserAgent, &l.Metadata, &l.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, &l)
	}
	return logs, rows.Err()
}
