package model

import (
	"time"

	"github.com/google/uuid"
)

// EventType names a domain event produced by an incident transition.
type EventType string

const (
	EventIncidentCreated       EventType = "incident_created"
	EventIncidentAssigned      EventType = "incident_assigned"
	EventIncidentStatusChanged EventType = "incident_status_changed"
	EventIncidentEscalated     EventType = "incident_escalated"
	EventIncidentResolved      EventType = "incident_resolved"
)

// Action is the lifecycle verb behind a transition. It is recorded as the
// audit record's action.
type Action string

const (
	ActionCreate   Action = "create"
	ActionAssign   Action = "assign"
	ActionStart    Action = "start"
	ActionEscalate Action = "escalate"
	ActionResolve  Action = "resolve"
	ActionReopen   Action = "reopen"
	ActionUpvote   Action = "upvote"
	ActionFollowUp Action = "follow_up"
	ActionInvite   Action = "invite"
)

// DomainEvent is an immutable record of one successful incident transition.
// Incident is the post-transition snapshot.
type DomainEvent struct {
	ID             uuid.UUID      `json:"id"`
	Type           EventType      `json:"type"`
	Action         Action         `json:"action"`
	Incident       Incident       `json:"incident"`
	PreviousStatus IncidentStatus `json:"previous_status,omitempty"`
	ActorID        uuid.UUID      `json:"actor_id"`
	Notes          string         `json:"notes,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

// NewDomainEvent stamps a fresh event id and timestamp.
func NewDomainEvent(t EventType, action Action, snapshot Incident, prev IncidentStatus, actorID uuid.UUID, now time.Time) DomainEvent {
	return DomainEvent{
		ID:             uuid.New(),
		Type:           t,
		Action:         action,
		Incident:       snapshot,
		PreviousStatus: prev,
		ActorID:        actorID,
		Timestamp:      now,
	}
}

// AuditRecord is an append-only log entry. Never updated or deleted.
type AuditRecord struct {
	ID           uuid.UUID      `json:"id"`
	ActorID      uuid.UUID      `json:"actor_id"`
	Action       Action         `json:"action"`
	ResourceType string         `json:"resource_type"`
	ResourceID   string         `json:"resource_id"`
	Detail       map[string]any `json:"detail"`
	Timestamp    time.Time      `json:"timestamp"`
}

// Resource types recorded in the audit log.
const (
	ResourceIncident   = "incident"
	ResourceInvitation = "invitation"
)

// Notification is a persisted per-user message created from a domain event.
// (UserID, EventID) is unique.
type Notification struct {
	ID                uuid.UUID `json:"id"`
	UserID            uuid.UUID `json:"user_id"`
	EventID           uuid.UUID `json:"event_id"`
	Title             string    `json:"title"`
	Message           string    `json:"message"`
	RelatedEntityType string    `json:"related_entity_type"`
	RelatedEntityID   uuid.UUID `json:"related_entity_id"`
	IsRead            bool      `json:"is_read"`
	CreatedAt         time.Time `json:"created_at"`
}
