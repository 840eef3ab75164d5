package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/salles-management/api/internal/repositories"
)

const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgConnectionClass      = "08"
)

// mapError translates driver failures into repository errors.
func mapError(entity, key string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, sql.ErrNoRows) {
		return repositories.NewNotFoundError(entity, key)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == pgUniqueViolation:
			if pgErr.ConstraintName != "" {
				key = pgErr.ConstraintName
			}
			return repositories.NewConflictError(entity, key, err)
		case pgErr.Code == pgSerializationFailure, pgErr.Code == pgDeadlockDetected:
			return repositories.NewConflictError(entity, key, err)
		case len(pgErr.Code) >= 2 && pgErr.Code[:2] == pgConnectionClass:
			return repositories.NewUnavailableError(entity, err)
		}
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return repositories.NewUnavailableError(entity, err)
	}
	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.As(err, &netErr) {
		return repositories.NewUnavailableError(entity, err)
	}

	return repositories.WrapError(entity, err)
}
