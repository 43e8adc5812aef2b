package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/beacon-ops/beacon/internal/model"
)

// CreateNotification inserts n unless a row for (user_id, event_id) already
// exists. Returns true when a row was created.
func (db *DB) CreateNotification(ctx context.Context, n model.Notification) (bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tag, err := db.pool.Exec(ctx,
		`INSERT INTO notifications (id, user_id, event_id, title, message,
		     related_entity_type, related_entity_id, is_read, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (user_id, event_id) DO NOTHING`,
		n.ID, n.UserID, n.EventID, n.Title, n.Message,
		n.RelatedEntityType, n.RelatedEntityID, n.IsRead, n.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("storage: create notification: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListNotifications returns a user's notifications, newest first.
// limit <= 0 means no limit.
func (db *DB) ListNotifications(ctx context.Context, userID uuid.UUID, limit, offset int) ([]model.Notification, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var lim *int
	if limit > 0 {
		lim = &limit
	}
	rows, err := db.pool.Query(ctx,
		`SELECT id, user_id, event_id, title, message, related_entity_type, related_entity_id, is_read, created_at
		 FROM notifications WHERE user_id = $1
		 ORDER BY created_at DESC, id
		 LIMIT $2 OFFSET $3`, userID, lim, max(offset, 0))
	if err != nil {
		return nil, fmt.Errorf("storage: list notifications: %w", err)
	}
	defer rows.Close()

	out := make([]model.Notification, 0)
	for rows.Next() {
		var n model.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.EventID, &n.Title, &n.Message,
			&n.RelatedEntityType, &n.RelatedEntityID, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan notification: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
