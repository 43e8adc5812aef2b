package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/beacon-ops/beacon/internal/model"
)

// AppendAudit appends an audit record. The table rejects updates and deletes.
// Serialization failures and deadlocks are retried.
func (db *DB) AppendAudit(ctx context.Context, rec model.AuditRecord) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	detail := rec.Detail
	if detail == nil {
		detail = map[string]any{}
	}
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("storage: marshal audit detail: %w", err)
	}

	err = WithRetry(ctx, 2, 20*time.Millisecond, func() error {
		_, err := db.pool.Exec(ctx,
			`INSERT INTO audit_log (id, actor_id, action, resource_type, resource_id, detail, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)`,
			rec.ID, rec.ActorID, rec.Action, rec.ResourceType, rec.ResourceID, detailJSON, rec.Timestamp)
		return err
	})
	if err != nil {
		return fmt.Errorf("storage: append audit: %w", err)
	}
	return nil
}

// ListAudit returns the audit trail of one resource, oldest first.
func (db *DB) ListAudit(ctx context.Context, resourceType, resourceID string) ([]model.AuditRecord, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := db.pool.Query(ctx,
		`SELECT id, actor_id, action, resource_type, resource_id, detail, created_at
		 FROM audit_log WHERE resource_type = $1 AND resource_id = $2
		 ORDER BY created_at, id`, resourceType, resourceID)
	if err != nil {
		return nil, fmt.Errorf("storage: list audit: %w", err)
	}
	defer rows.Close()

	var out []model.AuditRecord
	for rows.Next() {
		var (
			rec    model.AuditRecord
			detail []byte
		)
		if err := rows.Scan(&rec.ID, &rec.ActorID, &rec.Action, &rec.ResourceType, &rec.ResourceID, &detail, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("storage: scan audit: %w", err)
		}
		if err := json.Unmarshal(detail, &rec.Detail); err != nil {
			return nil, fmt.Errorf("storage: decode audit detail: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
