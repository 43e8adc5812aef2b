package broadcast

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beacon-ops/beacon/internal/model"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func ptr[T any](v T) *T { return &v }

type world struct {
	org, otherOrg     uuid.UUID
	station, stationB uuid.UUID
	reporter          uuid.UUID
}

func newWorld() world {
	return world{
		org: uuid.New(), otherOrg: uuid.New(),
		station: uuid.New(), stationB: uuid.New(),
		reporter: uuid.New(),
	}
}

func (w world) event(t model.EventType, station uuid.UUID) model.DomainEvent {
	inc := model.Incident{
		ID:             uuid.New(),
		Status:         model.StatusReported,
		StationID:      station,
		OrganizationID: ptr(w.org),
		ReportedByID:   w.reporter,
	}
	return model.NewDomainEvent(t, model.ActionCreate, inc, "", w.reporter, time.Now())
}

func drain(s *Session) []Envelope {
	var out []Envelope
	for {
		select {
		case env, ok := <-s.Messages():
			if !ok {
				return out
			}
			out = append(out, env)
		default:
			return out
		}
	}
}

func TestBroadcastEligibility(t *testing.T) {
	w := newWorld()
	b := New(quietLogger(), 8)

	mainAdmin := b.Register(model.Actor{UserID: uuid.New(), Role: model.RoleMainAdmin})
	super := b.Register(model.Actor{UserID: uuid.New(), Role: model.RoleSuperAdmin, OrganizationID: ptr(w.org)})
	otherSuper := b.Register(model.Actor{UserID: uuid.New(), Role: model.RoleSuperAdmin, OrganizationID: ptr(w.otherOrg)})
	staffA := b.Register(model.Actor{UserID: uuid.New(), Role: model.RoleStationStaff, OrganizationID: ptr(w.org), StationID: ptr(w.station)})
	staffB := b.Register(model.Actor{UserID: uuid.New(), Role: model.RoleStationStaff, OrganizationID: ptr(w.org), StationID: ptr(w.stationB)})
	reporter := b.Register(model.Actor{UserID: w.reporter, Role: model.RoleCitizen})
	bystander := b.Register(model.Actor{UserID: uuid.New(), Role: model.RoleCitizen})

	n := b.Broadcast(context.Background(), w.event(model.EventIncidentCreated, w.station))
	assert.Equal(t, 4, n)

	assert.Len(t, drain(mainAdmin), 1)
	assert.Len(t, drain(super), 1)
	assert.Empty(t, drain(otherSuper))
	assert.Len(t, drain(staffA), 1)
	assert.Empty(t, drain(staffB), "staff of another station must never receive the event")
	assert.Len(t, drain(reporter), 1)
	assert.Empty(t, drain(bystander))
}

func TestStationStaffNeverReceivesOtherStation(t *testing.T) {
	w := newWorld()
	b := New(quietLogger(), 64)
	staff := b.Register(model.Actor{UserID: uuid.New(), Role: model.RoleStationStaff, OrganizationID: ptr(w.org), StationID: ptr(w.station)})

	for _, typ := range []model.EventType{
		model.EventIncidentCreated,
		model.EventIncidentAssigned,
		model.EventIncidentStatusChanged,
		model.EventIncidentEscalated,
		model.EventIncidentResolved,
	} {
		b.Broadcast(context.Background(), w.event(typ, w.stationB))
	}
	assert.Empty(t, drain(staff))
}

func TestEnvelopeType(t *testing.T) {
	assert.Equal(t, TypeIncidentCreated, EnvelopeType(model.EventIncidentCreated))
	assert.Equal(t, TypeIncidentAssigned, EnvelopeType(model.EventIncidentAssigned))
	assert.Equal(t, TypeIncidentUpdate, EnvelopeType(model.EventIncidentStatusChanged))
	assert.Equal(t, TypeIncidentUpdate, EnvelopeType(model.EventIncidentEscalated))
	assert.Equal(t, TypeIncidentUpdate, EnvelopeType(model.EventIncidentResolved))
}

func TestSlowSessionDropsWithoutBlocking(t *testing.T) {
	w := newWorld()
	b := New(quietLogger(), 2)
	slow := b.Register(model.Actor{UserID: uuid.New(), Role: model.RoleMainAdmin})
	fast := b.Register(model.Actor{UserID: uuid.New(), Role: model.RoleMainAdmin})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range 5 {
			b.Broadcast(context.Background(), w.event(model.EventIncidentCreated, w.station))
			drain(fast)
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked on a full session buffer")
	}
	assert.Len(t, drain(slow), 2)
}

func TestNotifyUser(t *testing.T) {
	b := New(quietLogger(), 4)
	target := uuid.New()
	s1 := b.Register(model.Actor{UserID: target, Role: model.RoleCitizen})
	s2 := b.Register(model.Actor{UserID: target, Role: model.RoleCitizen})
	other := b.Register(model.Actor{UserID: uuid.New(), Role: model.RoleMainAdmin})

	n := b.NotifyUser(context.Background(), target, model.Notification{ID: uuid.New(), UserID: target, Title: "Incident resolved"})
	assert.Equal(t, 2, n)

	got := drain(s1)
	require.Len(t, got, 1)
	assert.Equal(t, TypeUserNotification, got[0].Type)
	assert.Len(t, drain(s2), 1)
	assert.Empty(t, drain(other))
}

func TestUnregisterClosesQueue(t *testing.T) {
	b := New(quietLogger(), 4)
	s := b.Register(model.Actor{UserID: uuid.New(), Role: model.RoleMainAdmin})
	assert.Equal(t, 1, b.Count())

	b.Unregister(s.ID)
	b.Unregister(s.ID)
	assert.Equal(t, 0, b.Count())

	_, ok := <-s.Messages()
	assert.False(t, ok)

	w := newWorld()
	assert.Equal(t, 0, b.Broadcast(context.Background(), w.event(model.EventIncidentCreated, w.station)))
}

func TestCloseAll(t *testing.T) {
	b := New(quietLogger(), 4)
	s1 := b.Register(model.Actor{UserID: uuid.New(), Role: model.RoleMainAdmin})
	s2 := b.Register(model.Actor{UserID: uuid.New(), Role: model.RoleCitizen})

	b.CloseAll()
	assert.Equal(t, 0, b.Count())
	_, ok := <-s1.Messages()
	assert.False(t, ok)
	_, ok = <-s2.Messages()
	assert.False(t, ok)
}
