package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/beacon-ops/beacon/internal/model"
)

const userColumns = `id, email, name, role, organization_id, station_id, password_hash, created_at`

func scanUser(row pgx.Row) (model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Role, &u.OrganizationID, &u.StationID, &u.PasswordHash, &u.CreatedAt)
	return u, err
}

// CreateUser inserts a user. Emails are unique case-insensitively.
func (db *DB) CreateUser(ctx context.Context, u model.User) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := db.pool.Exec(ctx, `INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		u.ID, u.Email, u.Name, u.Role, u.OrganizationID, u.StationID, u.PasswordHash, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("storage: create user: %w", mapError(err))
	}
	return nil
}

// GetUser returns a user by id.
func (db *DB) GetUser(ctx context.Context, id uuid.UUID) (model.User, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	u, err := scanUser(db.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return model.User{}, fmt.Errorf("storage: get user %s: %w", id, mapError(err))
	}
	return u, nil
}

// GetUserByEmail returns a user by case-insensitive email.
func (db *DB) GetUserByEmail(ctx context.Context, email string) (model.User, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	u, err := scanUser(db.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email))
	if err != nil {
		return model.User{}, fmt.Errorf("storage: get user by email: %w", mapError(err))
	}
	return u, nil
}

// ListScopeAdmins returns every main admin, the super admins of orgID, and
// the station admins of stationID.
func (db *DB) ListScopeAdmins(ctx context.Context, orgID *uuid.UUID, stationID uuid.UUID) ([]model.User, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := db.pool.Query(ctx, `SELECT `+userColumns+` FROM users
		WHERE role = 'main_admin'
		   OR (role = 'super_admin' AND organization_id = $1)
		   OR (role = 'station_admin' AND station_id = $2)
		ORDER BY id`, orgID, stationID)
	if err != nil {
		return nil, fmt.Errorf("storage: list scope admins: %w", err)
	}
	defer rows.Close()

	var out []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// CreateStation inserts a station.
func (db *DB) CreateStation(ctx context.Context, st model.Station) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := db.pool.Exec(ctx,
		`INSERT INTO stations (id, organization_id, name) VALUES ($1, $2, $3)`,
		st.ID, st.OrganizationID, st.Name)
	if err != nil {
		return fmt.Errorf("storage: create station: %w", mapError(err))
	}
	return nil
}

// GetStation returns a station by id.
func (db *DB) GetStation(ctx context.Context, id uuid.UUID) (model.Station, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var st model.Station
	err := db.pool.QueryRow(ctx,
		`SELECT id, organization_id, name FROM stations WHERE id = $1`, id,
	).Scan(&st.ID, &st.OrganizationID, &st.Name)
	if err != nil {
		return model.Station{}, fmt.Errorf("storage: get station %s: %w", id, mapError(err))
	}
	return st, nil
}
