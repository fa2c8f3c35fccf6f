package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// ErrNotFound is matched with errors.Is by every lookup miss in this package.
var ErrNotFound = errors.New("not found")

var (
	ErrProfileNotFound = fmt.Errorf("user profile %w", ErrNotFound)
	ErrProductNotFound = fmt.Errorf("loan product %w", ErrNotFound)
	ErrUploadNotFound  = fmt.Errorf("upload %w", ErrNotFound)
	ErrMatchNotFound   = fmt.Errorf("match %w", ErrNotFound)
)

const pgForeignKeyViolation = "23503"

// notFound maps gorm's record-not-found onto the given sentinel.
func notFound(err error, sentinel error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return sentinel
	}
	return err
}

// foreignKeyError reports a parent row that vanished between lookup and insert
// as not-found. Postgres is inspected through pgconn; sqlite only offers text.
func foreignKeyError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
		if strings.Contains(pgErr.ConstraintName, "loan_product") {
			return ErrProductNotFound
		}
		return ErrProfileNotFound
	}
	if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
		return ErrNotFound
	}
	return err
}
