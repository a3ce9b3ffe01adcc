// Package repository provides data access layer implementations.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wangwalk/tanstack-start-dev/internal/models"
)

// UserRepository defines the interface for user data operations.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByOAuth(ctx context.Context, provider, providerID string) (*models.User, error)
	GetByStripeCustomer(ctx context.Context, customerID string) (*models.User, error)
	List(ctx context.Context, filter models.UserFilter) ([]*models.User, int64, error)
	Stats(ctx context.Context, since time.Time) (*models.UserStats, error)

	UpdateProfile(ctx context.Context, id uuid.UUID, name string, image *string) error
	UpdateImage(ctx context.Context, id uuid.UUID, image *string) error
	UpdatePassword(ctx context.Context, id uuid.UUID, hash string) error
	UpdateOAuth(ctx context.Context, id uuid.UUID, provider, providerID string) error
	SetEmailVerified(ctx context.Context, id uuid.UUID) error
	UpdateLastLogin(ctx context.Context, id uuid.UUID) error

	SetRole(ctx context.Context, id uuid.UUID, role models.Role) error
	SetBan(ctx context.Context, id uuid.UUID, reason *string, expires *time.Time) error
	ClearBan(ctx context.Context, id uuid.UUID) error

	// SetStripeCustomerIfNull assigns the billing customer only when none is
	// set yet and returns the customer id the row ends up with.
	SetStripeCustomerIfNull(ctx context.Context, id uuid.UUID, customerID string) (string, error)
	// SetSubscriptionByCustomer overwrites status and plan of the user mapped
	// to customerID. It reports false when no user has that customer.
	SetSubscriptionByCustomer(ctx context.Context, customerID string, state models.SubscriptionState) (bool, error)
}

type userRepo struct {
	pool *pgxpool.Pool
}

// NewUserRepository creates a new user repository.
func NewUserRepository(pool *pgxpool.Pool) UserRepository {
	return &userRepo{pool: pool}
}

const userColumns = `id, email, name, image, password_hash, email_verified, role,
	banned, ban_reason, ban_expires, subscription_status, subscription_plan,
	stripe_customer_id, oauth_provider, oauth_provider_id, last_login_at, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (*models.User, error) {
	var u models.User
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.Name,
		&u.Image,
		&u.PasswordHash,
		&u.EmailVerified,
		&u.Role,
		&u.Banned,
		&u.BanReason,
		&u.BanExpires,
		&u.SubscriptionStatus,
		&u.SubscriptionPlan,
		&u.StripeCustomerID,
		&u.OAuthProvider,
		&u.OAuthProviderID,
		&u.LastLoginAt,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *userRepo) getOne(ctx context.Context, where string, arg any) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + where
	u, err := scanUser(r.pool.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// Create inserts a new user.
func (r *userRepo) Create(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (id, email, name, image, password_hash, email_verified, role, oauth_provider, oauth_provider_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`

	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if user.Role == "" {
		user.Role = models.RoleUser
	}
	user.Email = NormalizeEmail(user.Email)

	err := r.pool.QueryRow(ctx, query,
		user.ID,
		user.Email,
		user.Name,
		user.Image,
		user.PasswordHash,
		user.EmailVerified,
		user.Role,
		user.OAuthProvider,
		user.OAuthProviderID,
	).Scan(&user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return mapUnique(err)
	}
	return nil
}

func (r *userRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return r.getOne(ctx, "id = $1", id)
}

func (r *userRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.getOne(ctx, "LOWER(email) = $1", NormalizeEmail(email))
}

func (r *userRepo) GetByOAuth(ctx context.Context, provider, providerID string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE oauth_provider = $1 AND oauth_provider_id = $2`
	u, err := scanUser(r.pool.QueryRow(ctx, query, provider, providerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by oauth: %w", err)
	}
	return u, nil
}

func (r *userRepo) GetByStripeCustomer(ctx context.Context, customerID string) (*models.User, error) {
	return r.getOne(ctx, "stripe_customer_id = $1", customerID)
}

// List returns one page of users matching filter, newest first, and the
// total number of matches.
func (r *userRepo) List(ctx context.Context, filter models.UserFilter) ([]*models.User, int64, error) {
	where, args := buildUserFilter(filter)
	page, perPage := normalizePage(filter.Page, filter.PerPage)

	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM users%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		userColumns, where, len(args)+1, len(args)+2)
	args = append(args, perPage, (page-1)*perPage)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := make([]*models.User, 0, perPage)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, u)
	}
	return users, total, rows.Err()
}

// Stats aggregates counts for the admin dashboard.
func (r *userRepo) Stats(ctx context.Context, since time.Time) (*models.UserStats, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE role = 'admin'),
			COUNT(*) FILTER (WHERE banned AND (ban_expires IS NULL OR ban_expires > NOW())),
			COUNT(*) FILTER (WHERE subscription_status = 'active'),
			COUNT(*) FILTER (WHERE subscription_status = 'past_due'),
			COUNT(*) FILTER (WHERE created_at >= $1)
		FROM users`

	var s models.UserStats
	err := r.pool.QueryRow(ctx, query, since).Scan(
		&s.TotalUsers, &s.Admins, &s.Banned, &s.ActiveSubscribers, &s.PastDue, &s.NewLast30Days,
	)
	if err != nil {
		return nil, fmt.Errorf("user stats: %w", err)
	}
	return &s, nil
}

func (r *userRepo) exec(ctx context.Context, op, query string, args ...any) error {
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNoRows
	}
	return nil
}

func (r *userRepo) UpdateProfile(ctx context.Context, id uuid.UUID, name string, image *string) error {
	return r.exec(ctx, "update profile",
		`UPDATE users SET name = $2, image = COALESCE($3, image), updated_at = NOW() WHERE id = $1`,
		id, name, image)
}

func (r *userRepo) UpdateImage(ctx context.Context, id uuid.UUID, image *string) error {
	return r.exec(ctx, "update image",
		`UPDATE users SET image = $2, updated_at = NOW() WHERE id = $1`, id, image)
}

func (r *userRepo) UpdatePassword(ctx context.Context, id uuid.UUID, hash string) error {
	return r.exec(ctx, "update password",
		`UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`, id, hash)
}

func (r *userRepo) UpdateOAuth(ctx context.Context, id uuid.UUID, provider, providerID string) error {
	return r.exec(ctx, "link oauth",
		`UPDATE users SET oauth_provider = $2, oauth_provider_id = $3, email_verified = TRUE, updated_at = NOW() WHERE id = $1`,
		id, provider, providerID)
}

func (r *userRepo) SetEmailVerified(ctx context.Context, id uuid.UUID) error {
	return r.exec(ctx, "verify email",
		`UPDATE users SET email_verified = TRUE, updated_at = NOW() WHERE id = $1`, id)
}

func (r *userRepo) UpdateLastLogin(ctx context.Context, id uuid.UUID) error {
	return r.exec(ctx, "update last login",
		`UPDATE users SET last_login_at = NOW() WHERE id = $1`, id)
}

func (r *userRepo) SetRole(ctx context.Context, id uuid.UUID, role models.Role) error {
	return r.exec(ctx, "set role",
		`UPDATE users SET role = $2, updated_at = NOW() WHERE id = $1`, id, role)
}

func (r *userRepo) SetBan(ctx context.Context, id uuid.UUID, reason *string, expires *time.Time) error {
	return r.exec(ctx, "ban user",
		`UPDATE users SET banned = TRUE, ban_reason = $2, ban_expires = $3, updated_at = NOW() WHERE id = $1`,
		id, reason, expires)
}

func (r *userRepo) ClearBan(ctx context.Context, id uuid.UUID) error {
	return r.exec(ctx, "unban user",
		`UPDATE users SET banned = FALSE, ban_reason = NULL, ban_expires = NULL, updated_at = NOW() WHERE id = $1`, id)
}

func (r *userRepo) SetStripeCustomerIfNull(ctx context.Context, id uuid.UUID, customerID string) (string, error) {
	query := `
		UPDATE users SET stripe_customer_id = COALESCE(stripe_customer_id, $2), updated_at = NOW()
		WHERE id = $1
		RETURNING stripe_customer_id`

	var effective string
	err := r.pool.QueryRow(ctx, query, id, customerID).Scan(&effective)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNoRows
	}
	if err != nil {
		return "", fmt.Errorf("set stripe customer: %w", err)
	}
	return effective, nil
}

func (r *userRepo) SetSubscriptionByCustomer(ctx context.Context, customerID string, state models.SubscriptionState) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE users SET subscription_status = $2, subscription_plan = $3, updated_at = NOW() WHERE stripe_customer_id = $1`,
		customerID, state.Status, state.Plan)
	if err != nil {
		return false, fmt.Errorf("set subscription: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// NormalizeEmail lower-cases and trims an address for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// DefaultPageSize is the admin console page size.
const DefaultPageSize = 20

func normalizePage(page, perPage int) (int, int) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = DefaultPageSize
	}
	return page, perPage
}

// buildUserFilter renders filter as a WHERE clause (with leading space) and
// its positional arguments.
func buildUserFilter(filter models.UserFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)

	if s := strings.TrimSpace(filter.Search); s != "" {
		args = append(args, "%"+escapeLike(s)+"%")
		n := len(args)
		conds = append(conds, fmt.Sprintf("(email ILIKE $%d OR name ILIKE $%d)", n, n))
	}

	switch filter.Status {
	case "":
	case "free":
		conds = append(conds, "subscription_status IS NULL")
	case "banned":
		conds = append(conds, "banned AND (ban_expires IS NULL OR ban_expires > NOW())")
	default:
		args = append(args, filter.Status)
		conds = append(conds, fmt.Sprintf("subscription_status = $%d", len(args)))
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
