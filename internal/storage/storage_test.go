//go:build integration

package storage_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beacon-ops/beacon/internal/model"
	"github.com/beacon-ops/beacon/internal/storage"
	"github.com/beacon-ops/beacon/internal/testutil"
	"github.com/beacon-ops/beacon/migrations"
)

var testDB *storage.DB

func TestMain(m *testing.M) {
	tc := testutil.MustStartPostgres()
	db, err := tc.NewTestDB(context.Background(), testutil.TestLogger())
	if err != nil {
		tc.Terminate()
		panic(err)
	}
	testDB = db
	code := m.Run()
	db.Close()
	tc.Terminate()
	os.Exit(code)
}

func ptr[T any](v T) *T { return &v }

func seedStation(t *testing.T) model.Station {
	t.Helper()
	st := model.Station{ID: uuid.New(), OrganizationID: uuid.New(), Name: "Central"}
	require.NoError(t, testDB.CreateStation(context.Background(), st))
	return st
}

func seedIncident(t *testing.T, st model.Station) model.Incident {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	inc := model.Incident{
		ID:             uuid.New(),
		Title:          "Gas leak",
		Description:    "Smell of gas near the school",
		Priority:       model.PriorityHigh,
		Status:         model.StatusReported,
		StationID:      st.ID,
		OrganizationID: ptr(st.OrganizationID),
		ReportedByID:   uuid.New(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, testDB.CreateIncident(context.Background(), inc))
	return inc
}

func TestMigrationsAreIdempotent(t *testing.T) {
	require.NoError(t, testDB.RunMigrations(context.Background(), migrations.FS))
}

func TestIncidentRoundTripAndUpdate(t *testing.T) {
	ctx := context.Background()
	st := seedStation(t)
	inc := seedIncident(t, st)

	got, err := testDB.GetIncident(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, inc.Title, got.Title)
	assert.Equal(t, model.StatusReported, got.Status)
	assert.Nil(t, got.AssignedTo)

	assignee := uuid.New()
	now := time.Now().UTC().Truncate(time.Microsecond)
	got.Status = model.StatusAssigned
	got.AssignedTo = &assignee
	got.AssignedAt = &now
	got.UpdatedAt = now
	require.NoError(t, testDB.UpdateIncident(ctx, got))

	again, err := testDB.GetIncident(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusAssigned, again.Status)
	require.NotNil(t, again.AssignedTo)
	assert.Equal(t, assignee, *again.AssignedTo)

	_, err = testDB.GetIncident(ctx, uuid.New())
	assert.ErrorIs(t, err, storage.ErrNotFound)

	missing := got
	missing.ID = uuid.New()
	assert.ErrorIs(t, testDB.UpdateIncident(ctx, missing), storage.ErrNotFound)
}

func TestAssignedWithoutAssigneeRejectedBySchema(t *testing.T) {
	ctx := context.Background()
	inc := seedIncident(t, seedStation(t))
	inc.Status = model.StatusAssigned
	assert.Error(t, testDB.UpdateIncident(ctx, inc))
}

func TestListIncidentsFilters(t *testing.T) {
	ctx := context.Background()
	a, b := seedStation(t), seedStation(t)
	i1 := seedIncident(t, a)
	seedIncident(t, a)
	seedIncident(t, b)

	list, err := testDB.ListIncidents(ctx, model.IncidentFilter{StationID: &a.ID})
	require.NoError(t, err)
	assert.Len(t, list, 2)

	list, err = testDB.ListIncidents(ctx, model.IncidentFilter{ReportedByID: &i1.ReportedByID})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, i1.ID, list[0].ID)

	status := model.StatusResolved
	list, err = testDB.ListIncidents(ctx, model.IncidentFilter{StationID: &a.ID, Status: &status})
	require.NoError(t, err)
	assert.Empty(t, list)

	list, err = testDB.ListIncidents(ctx, model.IncidentFilter{StationID: &a.ID, Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestUpvoteOncePerUser(t *testing.T) {
	ctx := context.Background()
	inc := seedIncident(t, seedStation(t))
	user := uuid.New()

	added, err := testDB.AddUpvote(ctx, inc.ID, user)
	require.NoError(t, err)
	assert.True(t, added)
	added, err = testDB.AddUpvote(ctx, inc.ID, user)
	require.NoError(t, err)
	assert.False(t, added)

	got, err := testDB.GetIncident(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Upvotes)
}

func TestUsersAndScopeAdmins(t *testing.T) {
	ctx := context.Background()
	st := seedStation(t)
	mk := func(role model.Role, org, station *uuid.UUID) model.User {
		u := model.User{ID: uuid.New(), Email: uuid.NewString() + "@example.org", Role: role,
			OrganizationID: org, StationID: station, CreatedAt: time.Now().UTC()}
		require.NoError(t, testDB.CreateUser(ctx, u))
		return u
	}
	super := mk(model.RoleSuperAdmin, ptr(st.OrganizationID), nil)
	stAdmin := mk(model.RoleStationAdmin, ptr(st.OrganizationID), ptr(st.ID))
	staff := mk(model.RoleStationStaff, ptr(st.OrganizationID), ptr(st.ID))

	admins, err := testDB.ListScopeAdmins(ctx, ptr(st.OrganizationID), st.ID)
	require.NoError(t, err)
	ids := map[uuid.UUID]bool{}
	for _, a := range admins {
		ids[a.ID] = true
	}
	assert.True(t, ids[super.ID])
	assert.True(t, ids[stAdmin.ID])
	assert.False(t, ids[staff.ID])

	byEmail, err := testDB.GetUserByEmail(ctx, staff.Email)
	require.NoError(t, err)
	assert.Equal(t, staff.ID, byEmail.ID)

	dup := staff
	dup.ID = uuid.New()
	assert.ErrorIs(t, testDB.CreateUser(ctx, dup), storage.ErrConflict)
}

func TestNotificationDedupe(t *testing.T) {
	ctx := context.Background()
	user, event := uuid.New(), uuid.New()
	n := model.Notification{
		ID: uuid.New(), UserID: user, EventID: event, Title: "Incident assigned", Message: "x",
		RelatedEntityType: model.ResourceIncident, RelatedEntityID: uuid.New(), CreatedAt: time.Now().UTC(),
	}

	var wg sync.WaitGroup
	results := make([]bool, 5)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m := n
			m.ID = uuid.New()
			created, err := testDB.CreateNotification(ctx, m)
			assert.NoError(t, err)
			results[i] = created
		}()
	}
	wg.Wait()

	createdCount := 0
	for _, c := range results {
		if c {
			createdCount++
		}
	}
	assert.Equal(t, 1, createdCount)

	list, err := testDB.ListNotifications(ctx, user, 0, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestAuditAppendOnly(t *testing.T) {
	ctx := context.Background()
	rec := model.AuditRecord{
		ID: uuid.New(), ActorID: uuid.New(), Action: model.ActionAssign,
		ResourceType: model.ResourceIncident, ResourceID: uuid.NewString(),
		Detail: map[string]any{"previous_status": "reported"}, Timestamp: time.Now().UTC(),
	}
	require.NoError(t, testDB.AppendAudit(ctx, rec))

	got, err := testDB.ListAudit(ctx, rec.ResourceType, rec.ResourceID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "reported", got[0].Detail["previous_status"])

	_, err = testDB.Pool().Exec(ctx, `DELETE FROM audit_log WHERE id = $1`, rec.ID)
	assert.Error(t, err)
}

func TestFollowUpsAndInvitations(t *testing.T) {
	ctx := context.Background()
	inc := seedIncident(t, seedStation(t))
	require.NoError(t, testDB.CreateFollowUp(ctx, model.FollowUp{
		ID: uuid.New(), IncidentID: inc.ID, Phone: ptr("+15550100"), CreatedAt: time.Now().UTC(),
	}))
	fs, err := testDB.ListFollowUps(ctx, inc.ID)
	require.NoError(t, err)
	require.Len(t, fs, 1)
	assert.Equal(t, "+15550100", *fs[0].Phone)

	assert.ErrorIs(t, testDB.CreateFollowUp(ctx, model.FollowUp{
		ID: uuid.New(), IncidentID: uuid.New(), Phone: ptr("+15550100"), CreatedAt: time.Now().UTC(),
	}), storage.ErrNotFound)

	require.NoError(t, testDB.CreateInvitation(ctx, model.Invitation{
		ID: uuid.New(), Email: "new@example.org", Role: model.RoleStationStaff,
		InvitedBy: uuid.New(), TokenHash: uuid.NewString(),
		ExpiresAt: time.Now().Add(time.Hour), CreatedAt: time.Now(),
	}))
}
