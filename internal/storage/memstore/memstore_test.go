package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beacon-ops/beacon/internal/model"
)

func TestUpdateIncidentKeepsOwnedFields(t *testing.T) {
	ctx := context.Background()
	s := New()
	org := uuid.New()
	inc := model.Incident{ID: uuid.New(), StationID: uuid.New(), OrganizationID: &org, ReportedByID: uuid.New(), Status: model.StatusReported}
	require.NoError(t, s.CreateIncident(ctx, inc))

	added, err := s.AddUpvote(ctx, inc.ID, uuid.New())
	require.NoError(t, err)
	require.True(t, added)

	stale := inc
	stale.StationID = uuid.New()
	stale.Title = "changed"
	require.NoError(t, s.UpdateIncident(ctx, stale))

	got, err := s.GetIncident(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, "changed", got.Title)
	assert.Equal(t, inc.StationID, got.StationID)
	assert.Equal(t, 1, got.Upvotes)

	missing := inc
	missing.ID = uuid.New()
	assert.ErrorIs(t, s.UpdateIncident(ctx, missing), model.ErrNotFound)
}

func TestListIncidentsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := New()
	station := uuid.New()
	base := time.Now()
	var ids []uuid.UUID
	for i := range 3 {
		inc := model.Incident{ID: uuid.New(), StationID: station, Status: model.StatusReported, CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		ids = append(ids, inc.ID)
		require.NoError(t, s.CreateIncident(ctx, inc))
	}
	require.NoError(t, s.CreateIncident(ctx, model.Incident{ID: uuid.New(), StationID: uuid.New(), CreatedAt: base}))

	list, err := s.ListIncidents(ctx, model.IncidentFilter{StationID: &station})
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, ids[2], list[0].ID)
	assert.Equal(t, ids[0], list[2].ID)

	page, err := s.ListIncidents(ctx, model.IncidentFilter{StationID: &station, Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, ids[1], page[0].ID)

	none, err := s.ListIncidents(ctx, model.IncidentFilter{StationID: &station, Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestCreateUserRejectsDuplicateEmail(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateUser(ctx, model.User{ID: uuid.New(), Email: "Admin@Example.org", Role: model.RoleMainAdmin}))
	assert.ErrorIs(t, s.CreateUser(ctx, model.User{ID: uuid.New(), Email: "admin@example.org", Role: model.RoleCitizen}), model.ErrConflict)

	u, err := s.GetUserByEmail(ctx, "ADMIN@example.org")
	require.NoError(t, err)
	assert.Equal(t, model.RoleMainAdmin, u.Role)
}

func TestNotificationDedupe(t *testing.T) {
	ctx := context.Background()
	s := New()
	user, event := uuid.New(), uuid.New()

	created, err := s.CreateNotification(ctx, model.Notification{ID: uuid.New(), UserID: user, EventID: event})
	require.NoError(t, err)
	assert.True(t, created)
	created, err = s.CreateNotification(ctx, model.Notification{ID: uuid.New(), UserID: user, EventID: event})
	require.NoError(t, err)
	assert.False(t, created)

	list, err := s.ListNotifications(ctx, user, 0, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
