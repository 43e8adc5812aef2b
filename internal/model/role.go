package model

import (
	"time"

	"github.com/google/uuid"
)

// Role represents the RBAC role assigned to a user.
type Role string

const (
	RoleMainAdmin    Role = "main_admin"
	RoleSuperAdmin   Role = "super_admin"
	RoleStationAdmin Role = "station_admin"
	RoleStationStaff Role = "station_staff"
	RoleCitizen      Role = "citizen"
)

// RoleRank returns the numeric rank of a role (higher = more privileges).
// Only relative ordering matters. Unknown roles rank below citizen.
func RoleRank(r Role) int {
	switch r {
	case RoleMainAdmin:
		return 5
	case RoleSuperAdmin:
		return 4
	case RoleStationAdmin:
		return 3
	case RoleStationStaff:
		return 2
	case RoleCitizen:
		return 1
	default:
		return 0
	}
}

// RoleAtLeast returns true if role r has at least the privileges of minRole.
func RoleAtLeast(r, minRole Role) bool {
	return RoleRank(r) >= RoleRank(minRole)
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return RoleRank(r) > 0
}

// StationScoped reports whether the role is bound to a single station.
func (r Role) StationScoped() bool {
	return r == RoleStationAdmin || r == RoleStationStaff
}

// Actor is the authenticated caller of an operation.
type Actor struct {
	UserID         uuid.UUID  `json:"user_id"`
	Role           Role       `json:"role"`
	OrganizationID *uuid.UUID `json:"organization_id,omitempty"`
	StationID      *uuid.UUID `json:"station_id,omitempty"`
}

// User is a persisted account.
type User struct {
	ID             uuid.UUID  `json:"id"`
	Email          string     `json:"email"`
	Name           string     `json:"name"`
	Role           Role       `json:"role"`
	OrganizationID *uuid.UUID `json:"organization_id,omitempty"`
	StationID      *uuid.UUID `json:"station_id,omitempty"`
	PasswordHash   *string    `json:"-"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Actor returns the user as an operation actor.
func (u User) Actor() Actor {
	return Actor{
		UserID:         u.ID,
		Role:           u.Role,
		OrganizationID: u.OrganizationID,
		StationID:      u.StationID,
	}
}

// Station is a dispatch station belonging to one organization.
type Station struct {
	ID             uuid.UUID `json:"id"`
	OrganizationID uuid.UUID `json:"organization_id"`
	Name           string    `json:"name"`
}

// Invitation grants a role within an organization or station to an email address.
type Invitation struct {
	ID             uuid.UUID  `json:"id"`
	Email          string     `json:"email"`
	Role           Role       `json:"role"`
	OrganizationID *uuid.UUID `json:"organization_id,omitempty"`
	StationID      *uuid.UUID `json:"station_id,omitempty"`
	InvitedBy      uuid.UUID  `json:"invited_by"`
	TokenHash      string     `json:"-"`
	ExpiresAt      time.Time  `json:"expires_at"`
	CreatedAt      time.Time  `json:"created_at"`
}

// SameID reports whether two optional ids are both set and equal.
func SameID(a, b *uuid.UUID) bool {
	return a != nil && b != nil && *a == *b
}
