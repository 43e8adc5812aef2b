// Package authz is the permission evaluator: a pure function of
// (actor, action, resource scope) that every incident transition, listing,
// broadcast and notification consults.
//
// All role comparisons go through model.RoleRank so there is exactly one
// ordering of roles in the codebase.
package authz

import (
	"github.com/google/uuid"

	"github.com/beacon-ops/beacon/internal/model"
)

// Action is an operation guarded by the evaluator.
type Action string

const (
	ActionCreateIncident Action = "create_incident"
	ActionAssign         Action = "assign"
	ActionChangeStatus   Action = "change_status"
	ActionEscalate       Action = "escalate"
	ActionResolve        Action = "resolve"
	ActionView           Action = "view"
	ActionUpvote         Action = "upvote"
	ActionFollowUp       Action = "follow_up"
)

// DenyReason tags why a request was denied.
type DenyReason string

const (
	ReasonRoleTooLow    DenyReason = "role_too_low"
	ReasonScopeMismatch DenyReason = "scope_mismatch"
	ReasonUnknownAction DenyReason = "unknown_action"
)

// Decision is the evaluator's verdict. Reason is empty when Allowed.
type Decision struct {
	Allowed bool
	Reason  DenyReason
}

var allow = Decision{Allowed: true}

func deny(r DenyReason) Decision { return Decision{Reason: r} }

// minRole is the lowest role permitted to attempt each action.
var minRole = map[Action]model.Role{
	ActionCreateIncident: model.RoleCitizen,
	ActionUpvote:         model.RoleCitizen,
	ActionFollowUp:       model.RoleCitizen,
	ActionView:           model.RoleCitizen,
	ActionChangeStatus:   model.RoleStationStaff,
	ActionEscalate:       model.RoleStationStaff,
	ActionAssign:         model.RoleStationAdmin,
	ActionResolve:        model.RoleStationAdmin,
}

// CanPerform decides whether actor may perform action on a resource in scope.
//
// Creation, upvotes and follow-up registration are open to every role and
// carry no scope check. Viewing is scope-checked (citizens see only their
// own reports). Mutating actions require the action's minimum role plus a
// scope match: main_admin bypasses, super_admin must match the organization,
// station roles must match the station.
func CanPerform(actor model.Actor, action Action, scope model.Scope) Decision {
	min, ok := minRole[action]
	if !ok {
		return deny(ReasonUnknownAction)
	}
	if !model.RoleAtLeast(actor.Role, min) {
		return deny(ReasonRoleTooLow)
	}
	switch action {
	case ActionCreateIncident, ActionUpvote, ActionFollowUp:
		return allow
	case ActionView:
		return CanView(actor, scope)
	}
	if !InScope(actor, scope) {
		return deny(ReasonScopeMismatch)
	}
	return allow
}

// InScope applies the organization/station scope rule for staff roles.
// Station roles must also agree with the incident's organization when it has one.
// Citizens are never in scope: they carry no organization or station.
func InScope(actor model.Actor, scope model.Scope) bool {
	switch actor.Role {
	case model.RoleMainAdmin:
		return true
	case model.RoleSuperAdmin:
		return model.SameID(actor.OrganizationID, scope.OrganizationID)
	case model.RoleStationAdmin, model.RoleStationStaff:
		if !model.SameID(actor.StationID, scope.StationID) {
			return false
		}
		return scope.OrganizationID == nil || model.SameID(actor.OrganizationID, scope.OrganizationID)
	default:
		return false
	}
}

// CanView decides read visibility. It is the eligibility rule for
// real-time broadcasts and notification recipients as well as listings.
func CanView(actor model.Actor, scope model.Scope) Decision {
	if actor.Role == model.RoleCitizen {
		if scope.ReportedByID != nil && *scope.ReportedByID == actor.UserID {
			return allow
		}
		return deny(ReasonScopeMismatch)
	}
	if !actor.Role.Valid() {
		return deny(ReasonRoleTooLow)
	}
	if !InScope(actor, scope) {
		return deny(ReasonScopeMismatch)
	}
	return allow
}

// CanInvite decides whether actor may invite someone with role into scope.
//
// The invited role must rank strictly below the inviter's, unconditionally.
// main_admin may invite anywhere; super_admin only inside their organization;
// station roles only inside their own station.
func CanInvite(actor model.Actor, role model.Role, scope model.Scope) Decision {
	if !role.Valid() || model.RoleRank(role) >= model.RoleRank(actor.Role) {
		return deny(ReasonRoleTooLow)
	}
	switch actor.Role {
	case model.RoleMainAdmin:
		return allow
	case model.RoleSuperAdmin:
		if !model.SameID(actor.OrganizationID, scope.OrganizationID) {
			return deny(ReasonScopeMismatch)
		}
		return allow
	case model.RoleStationAdmin, model.RoleStationStaff:
		if !model.SameID(actor.StationID, scope.StationID) {
			return deny(ReasonScopeMismatch)
		}
		return allow
	default:
		return deny(ReasonRoleTooLow)
	}
}

// ListFilter restricts an incident listing to what actor may view.
func ListFilter(actor model.Actor) model.IncidentFilter {
	var f model.IncidentFilter
	switch actor.Role {
	case model.RoleMainAdmin:
	case model.RoleSuperAdmin:
		f.OrganizationID = scopeOrNil(actor.OrganizationID)
	case model.RoleStationAdmin, model.RoleStationStaff:
		f.StationID = scopeOrNil(actor.StationID)
	default:
		id := actor.UserID
		f.ReportedByID = &id
	}
	return f
}

// scopeOrNil maps a missing scope id to uuid.Nil, which matches no rows.
func scopeOrNil(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return &uuid.Nil
	}
	return id
}
