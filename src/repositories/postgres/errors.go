package postgres

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/keygate/keygate-server/src/repositories"
)

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

// wrap classifies a driver error into the repositories taxonomy.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return repositories.ErrRecordNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			if pgErr.ConstraintName == "access_keys_pkey" || strings.HasPrefix(pgErr.ConstraintName, "scripts") {
				return repositories.ErrDuplicateKey
			}
			return repositories.ErrTokenAlreadyBound
		case codeForeignKeyViolation:
			return repositories.ErrRecordNotFound
		}
	}
	return fmt.Errorf("%s: %w: %w", op, repositories.ErrStoreUnavailable, err)
}
