package storage

import (
	"context"
	"fmt"

	"github.com/beacon-ops/beacon/internal/model"
)

// CreateInvitation stores an invitation. Only the token digest is persisted.
func (db *DB) CreateInvitation(ctx context.Context, inv model.Invitation) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := db.pool.Exec(ctx,
		`INSERT INTO invitations (id, email, role, organization_id, station_id, invited_by, token_hash, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		inv.ID, inv.Email, inv.Role, inv.OrganizationID, inv.StationID,
		inv.InvitedBy, inv.TokenHash, inv.ExpiresAt, inv.CreatedAt)
	if err != nil {
		return fmt.Errorf("storage: create invitation: %w", mapError(err))
	}
	return nil
}
