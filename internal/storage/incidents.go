package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/beacon-ops/beacon/internal/model"
)

const incidentColumns = `id, title, description, priority, status, station_id, organization_id,
	reported_by_id, assigned_to, assigned_by, assigned_at,
	escalation_level, escalated_by, escalated_at, escalation_reason,
	resolution, resolved_by, resolved_at, reopened_by, reopened_at, reopen_reason,
	upvotes, created_at, updated_at`

func scanIncident(row pgx.Row) (model.Incident, error) {
	var i model.Incident
	err := row.Scan(
		&i.ID, &i.Title, &i.Description, &i.Priority, &i.Status, &i.StationID, &i.OrganizationID,
		&i.ReportedByID, &i.AssignedTo, &i.AssignedBy, &i.AssignedAt,
		&i.EscalationLevel, &i.EscalatedBy, &i.EscalatedAt, &i.EscalationReason,
		&i.Resolution, &i.ResolvedBy, &i.ResolvedAt, &i.ReopenedBy, &i.ReopenedAt, &i.ReopenReason,
		&i.Upvotes, &i.CreatedAt, &i.UpdatedAt,
	)
	return i, err
}

// CreateIncident inserts a new incident.
func (db *DB) CreateIncident(ctx context.Context, inc model.Incident) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := db.pool.Exec(ctx, `INSERT INTO incidents (`+incidentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
		        $16, $17, $18, $19, $20, $21, $22, $23, $24)`,
		inc.ID, inc.Title, inc.Description, inc.Priority, inc.Status, inc.StationID, inc.OrganizationID,
		inc.ReportedByID, inc.AssignedTo, inc.AssignedBy, inc.AssignedAt,
		inc.EscalationLevel, inc.EscalatedBy, inc.EscalatedAt, inc.EscalationReason,
		inc.Resolution, inc.ResolvedBy, inc.ResolvedAt, inc.ReopenedBy, inc.ReopenedAt, inc.ReopenReason,
		inc.Upvotes, inc.CreatedAt, inc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: create incident: %w", mapError(err))
	}
	return nil
}

// GetIncident returns one incident by id.
func (db *DB) GetIncident(ctx context.Context, id uuid.UUID) (model.Incident, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	inc, err := scanIncident(db.pool.QueryRow(ctx,
		`SELECT `+incidentColumns+` FROM incidents WHERE id = $1`, id))
	if err != nil {
		return model.Incident{}, fmt.Errorf("storage: get incident %s: %w", id, mapError(err))
	}
	return inc, nil
}

// UpdateIncident overwrites the mutable lifecycle columns of an incident.
// Last write wins; station, organization, reporter and the upvote counter
// are never touched here.
func (db *DB) UpdateIncident(ctx context.Context, inc model.Incident) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tag, err := db.pool.Exec(ctx, `UPDATE incidents SET
		title = $2, description = $3, priority = $4, status = $5,
		assigned_to = $6, assigned_by = $7, assigned_at = $8,
		escalation_level = $9, escalated_by = $10, escalated_at = $11, escalation_reason = $12,
		resolution = $13, resolved_by = $14, resolved_at = $15,
		reopened_by = $16, reopened_at = $17, reopen_reason = $18,
		updated_at = $19
		WHERE id = $1`,
		inc.ID, inc.Title, inc.Description, inc.Priority, inc.Status,
		inc.AssignedTo, inc.AssignedBy, inc.AssignedAt,
		inc.EscalationLevel, inc.EscalatedBy, inc.EscalatedAt, inc.EscalationReason,
		inc.Resolution, inc.ResolvedBy, inc.ResolvedAt,
		inc.ReopenedBy, inc.ReopenedAt, inc.ReopenReason,
		inc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: update incident %s: %w", inc.ID, mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: update incident %s: %w", inc.ID, ErrNotFound)
	}
	return nil
}

// ListIncidents returns incidents matching f, newest first.
func (db *DB) ListIncidents(ctx context.Context, f model.IncidentFilter) ([]model.Incident, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.OrganizationID != nil {
		add("organization_id = $%d", *f.OrganizationID)
	}
	if f.StationID != nil {
		add("station_id = $%d", *f.StationID)
	}
	if f.ReportedByID != nil {
		add("reported_by_id = $%d", *f.ReportedByID)
	}
	if f.Status != nil {
		add("status = $%d", *f.Status)
	}

	q := `SELECT ` + incidentColumns + ` FROM incidents`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at DESC, id`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		q += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := db.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list incidents: %w", err)
	}
	defer rows.Close()

	out := make([]model.Incident, 0)
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan incident: %w", err)
		}
		out = append(out, inc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: list incidents: %w", err)
	}
	return out, nil
}

// AddUpvote records one upvote per (incident, user) and bumps the counter in
// the same transaction. Returns false when the user had already upvoted.
func (db *DB) AddUpvote(ctx context.Context, incidentID, userID uuid.UUID) (bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var added bool
	err := pgx.BeginFunc(ctx, db.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`INSERT INTO incident_upvotes (incident_id, user_id) VALUES ($1, $2)
			 ON CONFLICT DO NOTHING`, incidentID, userID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		added = true
		_, err = tx.Exec(ctx, `UPDATE incidents SET upvotes = upvotes + 1 WHERE id = $1`, incidentID)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("storage: add upvote: %w", mapError(err))
	}
	return added, nil
}
