package repository

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNoRows is returned by updates that matched no row.
	ErrNoRows = errors.New("repository: no rows affected")
	// ErrDuplicate is returned when an insert violates a unique constraint.
	ErrDuplicate = errors.New("repository: duplicate key")
)

const uniqueViolation = "23505"

// mapUnique turns a unique-constraint violation into ErrDuplicate.
func mapUnique(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicate
	}
	return err
}
