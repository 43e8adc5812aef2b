package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Priority is the urgency of an incident.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// IncidentStatus is a lifecycle state.
type IncidentStatus string

const (
	StatusReported   IncidentStatus = "reported"
	StatusAssigned   IncidentStatus = "assigned"
	StatusInProgress IncidentStatus = "in_progress"
	StatusEscalated  IncidentStatus = "escalated"
	StatusResolved   IncidentStatus = "resolved"
)

// Valid reports whether s is one of the known statuses.
func (s IncidentStatus) Valid() bool {
	switch s {
	case StatusReported, StatusAssigned, StatusInProgress, StatusEscalated, StatusResolved:
		return true
	}
	return false
}

// HasAssignee reports whether an incident in status s must carry an assignee.
func (s IncidentStatus) HasAssignee() bool {
	return s == StatusAssigned || s == StatusInProgress || s == StatusEscalated
}

// Field length limits for incident input.
const (
	MaxTitleLen       = 200
	MaxDescriptionLen = 8 * 1024
	MaxReasonLen      = 2 * 1024
	MaxResolutionLen  = 16 * 1024

	// DefaultMinResolutionLen is the shortest resolution text accepted.
	DefaultMinResolutionLen = 10
)

// Incident is a reported emergency tracked through a fixed lifecycle.
type Incident struct {
	ID               uuid.UUID      `json:"id"`
	Title            string         `json:"title"`
	Description      string         `json:"description"`
	Priority         Priority       `json:"priority"`
	Status           IncidentStatus `json:"status"`
	StationID        uuid.UUID      `json:"station_id"`
	OrganizationID   *uuid.UUID     `json:"organization_id,omitempty"`
	ReportedByID     uuid.UUID      `json:"reported_by_id"`
	AssignedTo       *uuid.UUID     `json:"assigned_to,omitempty"`
	AssignedBy       *uuid.UUID     `json:"assigned_by,omitempty"`
	AssignedAt       *time.Time     `json:"assigned_at,omitempty"`
	EscalationLevel  int            `json:"escalation_level"`
	EscalatedBy      *uuid.UUID     `json:"escalated_by,omitempty"`
	EscalatedAt      *time.Time     `json:"escalated_at,omitempty"`
	EscalationReason *string        `json:"escalation_reason,omitempty"`
	Resolution       *string        `json:"resolution,omitempty"`
	ResolvedBy       *uuid.UUID     `json:"resolved_by,omitempty"`
	ResolvedAt       *time.Time     `json:"resolved_at,omitempty"`
	ReopenedBy       *uuid.UUID     `json:"reopened_by,omitempty"`
	ReopenedAt       *time.Time     `json:"reopened_at,omitempty"`
	ReopenReason     *string        `json:"reopen_reason,omitempty"`
	Upvotes          int            `json:"upvotes"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Scope returns the organization/station the incident belongs to.
func (i Incident) Scope() Scope {
	return Scope{OrganizationID: i.OrganizationID, StationID: &i.StationID, ReportedByID: &i.ReportedByID}
}

// CheckInvariants verifies the cross-field rules every persisted incident obeys.
func (i Incident) CheckInvariants(minResolutionLen int) error {
	if !i.Status.Valid() {
		return fmt.Errorf("unknown status %q", i.Status)
	}
	if i.Status.HasAssignee() != (i.AssignedTo != nil) {
		return fmt.Errorf("assigned_to must be set iff status is assigned, in_progress or escalated (status=%s)", i.Status)
	}
	resolved := i.Status == StatusResolved
	if resolved != (i.Resolution != nil) {
		return fmt.Errorf("resolution must be set iff status is resolved (status=%s)", i.Status)
	}
	if resolved && len(strings.TrimSpace(*i.Resolution)) < minResolutionLen {
		return fmt.Errorf("resolution shorter than %d characters", minResolutionLen)
	}
	if i.EscalationLevel < 0 {
		return fmt.Errorf("escalation_level must not be negative")
	}
	return nil
}

// Scope identifies the organization/station a resource belongs to.
// ReportedByID is set for incidents so citizens can be matched to their own reports.
type Scope struct {
	OrganizationID *uuid.UUID
	StationID      *uuid.UUID
	ReportedByID   *uuid.UUID
}

// IncidentFilter narrows an incident listing to a caller's scope.
// Nil fields are unconstrained.
type IncidentFilter struct {
	OrganizationID *uuid.UUID
	StationID      *uuid.UUID
	ReportedByID   *uuid.UUID
	Status         *IncidentStatus
	Limit          int
	Offset         int
}

// FollowUp is a contact registered to hear about an incident's outcome.
type FollowUp struct {
	ID           uuid.UUID  `json:"id"`
	IncidentID   uuid.UUID  `json:"incident_id"`
	Email        *string    `json:"email,omitempty"`
	Phone        *string    `json:"phone,omitempty"`
	RegisteredBy *uuid.UUID `json:"registered_by,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}
