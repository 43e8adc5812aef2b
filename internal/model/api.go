package model

import (
	"time"

	"github.com/google/uuid"
)

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// ListResponse is the standard envelope for paginated list endpoints.
type ListResponse struct {
	Data    any          `json:"data"`
	HasMore bool         `json:"has_more"`
	Limit   int          `json:"limit"`
	Offset  int          `json:"offset"`
	Meta    ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput      = "INVALID_INPUT"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeForbidden         = "FORBIDDEN"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeInternalError     = "INTERNAL_ERROR"
	ErrCodeRateLimited       = "RATE_LIMITED"
)

// AuthTokenRequest is the request body for POST /auth/token.
type AuthTokenRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthTokenResponse is the response for POST /auth/token.
type AuthTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      User      `json:"user"`
}

// CreateIncidentRequest is the request body for POST /v1/incidents.
type CreateIncidentRequest struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Priority    Priority  `json:"priority"`
	StationID   uuid.UUID `json:"stationId"`
}

// AssignIncidentRequest is the request body for POST /v1/incidents/{id}/assign.
type AssignIncidentRequest struct {
	AssignedToID uuid.UUID `json:"assignedToId"`
	Notes        string    `json:"notes,omitempty"`
}

// ChangeStatusRequest is the request body for POST /v1/incidents/{id}/status.
type ChangeStatusRequest struct {
	Status IncidentStatus `json:"status"`
	Notes  string         `json:"notes,omitempty"`
}

// EscalateIncidentRequest is the request body for POST /v1/incidents/{id}/escalate.
type EscalateIncidentRequest struct {
	Reason      string `json:"reason"`
	TargetLevel int    `json:"targetLevel"`
}

// ResolveIncidentRequest is the request body for POST /v1/incidents/{id}/resolve.
type ResolveIncidentRequest struct {
	Resolution string `json:"resolution"`
}

// ReopenIncidentRequest is the request body for POST /v1/incidents/{id}/reopen.
// AssignedToID defaults to the caller when omitted.
type ReopenIncidentRequest struct {
	ReopenReason string     `json:"reopenReason"`
	AssignedToID *uuid.UUID `json:"assignedToId,omitempty"`
}

// FollowUpRequest is the request body for POST /v1/incidents/{id}/follow-ups.
type FollowUpRequest struct {
	Email *string `json:"email,omitempty"`
	Phone *string `json:"phone,omitempty"`
}

// CreateInvitationRequest is the request body for POST /v1/invitations.
type CreateInvitationRequest struct {
	Email          string     `json:"email"`
	Role           Role       `json:"role"`
	OrganizationID *uuid.UUID `json:"organizationId,omitempty"`
	StationID      *uuid.UUID `json:"stationId,omitempty"`
}

// CreateInvitationResponse carries the one-time invitation token.
type CreateInvitationResponse struct {
	Invitation Invitation `json:"invitation"`
	Token      string     `json:"token"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Database string `json:"database"` // connected, disconnected or in_memory
	Sessions int    `json:"sessions"`
	Uptime   int64  `json:"uptime_seconds"`
}

// ErrorBody builds the flat error payload: message, code, request_id and any
// extra details at the top level. Details never override the three fixed keys.
func ErrorBody(code, message, requestID string, details map[string]any) map[string]any {
	body := make(map[string]any, len(details)+3)
	for k, v := range details {
		body[k] = v
	}
	body["message"] = message
	body["code"] = code
	body["request_id"] = requestID
	return body
}
