package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/beacon-ops/beacon/internal/model"
)

// CreateFollowUp stores a follow-up contact for an incident.
func (db *DB) CreateFollowUp(ctx context.Context, f model.FollowUp) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := db.pool.Exec(ctx,
		`INSERT INTO incident_followups (id, incident_id, email, phone, registered_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		f.ID, f.IncidentID, f.Email, f.Phone, f.RegisteredBy, f.CreatedAt)
	if err != nil {
		return fmt.Errorf("storage: create follow-up: %w", mapError(err))
	}
	return nil
}

// ListFollowUps returns the contacts registered on an incident, oldest first.
func (db *DB) ListFollowUps(ctx context.Context, incidentID uuid.UUID) ([]model.FollowUp, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := db.pool.Query(ctx,
		`SELECT id, incident_id, email, phone, registered_by, created_at
		 FROM incident_followups WHERE incident_id = $1 ORDER BY created_at, id`, incidentID)
	if err != nil {
		return nil, fmt.Errorf("storage: list follow-ups: %w", err)
	}
	defer rows.Close()

	var out []model.FollowUp
	for rows.Next() {
		var f model.FollowUp
		if err := rows.Scan(&f.ID, &f.IncidentID, &f.Email, &f.Phone, &f.RegisteredBy, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan follow-up: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
