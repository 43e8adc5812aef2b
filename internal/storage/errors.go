package storage

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/beacon-ops/beacon/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = model.ErrNotFound

// ErrConflict is returned when a unique constraint rejects an insert.
var ErrConflict = model.ErrConflict

// mapError translates driver errors into the repository sentinels.
func mapError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return ErrConflict
		case "23503": // foreign_key_violation
			return ErrNotFound
		}
	}
	return err
}
