// Package memstore is an in-memory implementation of every repository
// interface the service uses. It backs tests and the database-less
// development mode; state is lost on restart.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/beacon-ops/beacon/internal/model"
)

type upvoteKey struct {
	incidentID, userID uuid.UUID
}

type notificationKey struct {
	userID, eventID uuid.UUID
}

// Store holds all state behind one mutex. Values are copied in and out so
// callers never share memory with the store.
type Store struct {
	mu sync.RWMutex

	users         map[uuid.UUID]model.User
	stations      map[uuid.UUID]model.Station
	incidents     map[uuid.UUID]model.Incident
	upvotes       map[upvoteKey]struct{}
	followUps     map[uuid.UUID][]model.FollowUp
	audit         []model.AuditRecord
	notifications []model.Notification
	notified      map[notificationKey]struct{}
	invitations   map[uuid.UUID]model.Invitation
}

// New returns an empty store.
func New() *Store {
	return &Store{
		users:       make(map[uuid.UUID]model.User),
		stations:    make(map[uuid.UUID]model.Station),
		incidents:   make(map[uuid.UUID]model.Incident),
		upvotes:     make(map[upvoteKey]struct{}),
		followUps:   make(map[uuid.UUID][]model.FollowUp),
		notified:    make(map[notificationKey]struct{}),
		invitations: make(map[uuid.UUID]model.Invitation),
	}
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// CreateUser inserts a user. Emails are unique case-insensitively.
func (s *Store) CreateUser(_ context.Context, u model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.ID == u.ID || strings.EqualFold(existing.Email, u.Email) {
			return model.ErrConflict
		}
	}
	s.users[u.ID] = u
	return nil
}

// GetUser returns a user by id.
func (s *Store) GetUser(_ context.Context, id uuid.UUID) (model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return model.User{}, model.ErrNotFound
	}
	return u, nil
}

// GetUserByEmail returns a user by case-insensitive email.
func (s *Store) GetUserByEmail(_ context.Context, email string) (model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return model.User{}, model.ErrNotFound
}

// ListScopeAdmins returns every main admin, the super admins of orgID, and
// the station admins of stationID.
func (s *Store) ListScopeAdmins(_ context.Context, orgID *uuid.UUID, stationID uuid.UUID) ([]model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.User
	for _, u := range s.users {
		switch u.Role {
		case model.RoleMainAdmin:
			out = append(out, u)
		case model.RoleSuperAdmin:
			if model.SameID(u.OrganizationID, orgID) {
				out = append(out, u)
			}
		case model.RoleStationAdmin:
			if u.StationID != nil && *u.StationID == stationID {
				out = append(out, u)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

// CreateStation inserts or replaces a station.
func (s *Store) CreateStation(_ context.Context, st model.Station) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stations[st.ID] = st
	return nil
}

// GetStation returns a station by id.
func (s *Store) GetStation(_ context.Context, id uuid.UUID) (model.Station, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.stations[id]
	if !ok {
		return model.Station{}, model.ErrNotFound
	}
	return st, nil
}

// CreateIncident inserts an incident.
func (s *Store) CreateIncident(_ context.Context, inc model.Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.incidents[inc.ID] = inc
	return nil
}

// GetIncident returns an incident by id.
func (s *Store) GetIncident(_ context.Context, id uuid.UUID) (model.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inc, ok := s.incidents[id]
	if !ok {
		return model.Incident{}, model.ErrNotFound
	}
	return inc, nil
}

// UpdateIncident overwrites the lifecycle fields of the stored row (last
// write wins). Station, organization, reporter, creation time and the upvote
// counter are never overwritten.
func (s *Store) UpdateIncident(_ context.Context, inc model.Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.incidents[inc.ID]
	if !ok {
		return model.ErrNotFound
	}
	inc.StationID = cur.StationID
	inc.OrganizationID = cur.OrganizationID
	inc.ReportedByID = cur.ReportedByID
	inc.CreatedAt = cur.CreatedAt
	inc.Upvotes = cur.Upvotes
	s.incidents[inc.ID] = inc
	return nil
}

// ListIncidents returns incidents matching f, newest first.
func (s *Store) ListIncidents(_ context.Context, f model.IncidentFilter) ([]model.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Incident, 0)
	for _, inc := range s.incidents {
		if f.OrganizationID != nil && !model.SameID(inc.OrganizationID, f.OrganizationID) {
			continue
		}
		if f.StationID != nil && inc.StationID != *f.StationID {
			continue
		}
		if f.ReportedByID != nil && inc.ReportedByID != *f.ReportedByID {
			continue
		}
		if f.Status != nil && inc.Status != *f.Status {
			continue
		}
		out = append(out, inc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return paginate(out, f.Limit, f.Offset), nil
}

// AddUpvote records one upvote per (incident, user).
func (s *Store) AddUpvote(_ context.Context, incidentID, userID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inc, ok := s.incidents[incidentID]
	if !ok {
		return false, model.ErrNotFound
	}
	k := upvoteKey{incidentID, userID}
	if _, dup := s.upvotes[k]; dup {
		return false, nil
	}
	s.upvotes[k] = struct{}{}
	inc.Upvotes++
	s.incidents[incidentID] = inc
	return true, nil
}

// CreateFollowUp stores a follow-up contact.
func (s *Store) CreateFollowUp(_ context.Context, f model.FollowUp) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.incidents[f.IncidentID]; !ok {
		return model.ErrNotFound
	}
	s.followUps[f.IncidentID] = append(s.followUps[f.IncidentID], f)
	return nil
}

// ListFollowUps returns the contacts registered on an incident.
func (s *Store) ListFollowUps(_ context.Context, incidentID uuid.UUID) ([]model.FollowUp, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.FollowUp(nil), s.followUps[incidentID]...), nil
}

// AppendAudit appends an audit record.
func (s *Store) AppendAudit(_ context.Context, rec model.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, rec)
	return nil
}

// AuditRecords returns a copy of the audit log in append order.
func (s *Store) AuditRecords() []model.AuditRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.AuditRecord(nil), s.audit...)
}

// CreateNotification inserts n unless a row for (UserID, EventID) exists.
// Returns true when a row was created.
func (s *Store) CreateNotification(_ context.Context, n model.Notification) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := notificationKey{n.UserID, n.EventID}
	if _, dup := s.notified[k]; dup {
		return false, nil
	}
	s.notified[k] = struct{}{}
	s.notifications = append(s.notifications, n)
	return true, nil
}

// ListNotifications returns a user's notifications, newest first.
func (s *Store) ListNotifications(_ context.Context, userID uuid.UUID, limit, offset int) ([]model.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Notification, 0)
	for i := len(s.notifications) - 1; i >= 0; i-- {
		if s.notifications[i].UserID == userID {
			out = append(out, s.notifications[i])
		}
	}
	return paginate(out, limit, offset), nil
}

// CreateInvitation stores an invitation.
func (s *Store) CreateInvitation(_ context.Context, inv model.Invitation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invitations[inv.ID] = inv
	return nil
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return items[:0]
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
