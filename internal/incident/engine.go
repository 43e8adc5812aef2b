// Package incident implements the incident lifecycle engine: the state
// machine that owns every incident mutation, consults the permission
// evaluator before each transition, persists through a narrow repository,
// and publishes exactly one domain event per successful transition.
//
// Concurrent transitions on the same incident are last-write-wins: there is
// no version check, so two racing assignments both succeed and both emit an
// event. The repository contract is whole-row update by id.
package incident

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/beacon-ops/beacon/internal/authz"
	"github.com/beacon-ops/beacon/internal/model"
	"github.com/beacon-ops/beacon/internal/telemetry"
)

// Repository is the persistence the engine needs. Implementations return
// model.ErrNotFound for unknown ids and enforce their own timeouts.
type Repository interface {
	CreateIncident(ctx context.Context, inc model.Incident) error
	GetIncident(ctx context.Context, id uuid.UUID) (model.Incident, error)
	UpdateIncident(ctx context.Context, inc model.Incident) error
	ListIncidents(ctx context.Context, f model.IncidentFilter) ([]model.Incident, error)
	// AddUpvote records one upvote per (incident, user) and bumps the
	// incident's counter. Returns false if the user had already upvoted.
	AddUpvote(ctx context.Context, incidentID, userID uuid.UUID) (bool, error)
	CreateFollowUp(ctx context.Context, f model.FollowUp) error
}

// Directory resolves users and stations referenced by incident input.
type Directory interface {
	GetUser(ctx context.Context, id uuid.UUID) (model.User, error)
	GetStation(ctx context.Context, id uuid.UUID) (model.Station, error)
}

// Publisher receives the domain event of each successful transition.
type Publisher interface {
	Publish(ctx context.Context, ev model.DomainEvent)
}

// Auditor records actions that are not lifecycle transitions (upvotes,
// follow-up registrations). It must not fail the caller.
type Auditor interface {
	RecordAction(ctx context.Context, rec model.AuditRecord)
}

var tracer = otel.Tracer("beacon/incident")

// Engine owns the incident state machine.
type Engine struct {
	repo             Repository
	dir              Directory
	publisher        Publisher
	auditor          Auditor
	logger           *slog.Logger
	minResolutionLen int
	now              func() time.Time

	transitions metric.Int64Counter
	denials     metric.Int64Counter
}

// Deps holds the engine's collaborators.
// Optional: Auditor (nil disables action auditing), Now (defaults to time.Now),
// MinResolutionLen (defaults to model.DefaultMinResolutionLen).
type Deps struct {
	Repo             Repository
	Directory        Directory
	Publisher        Publisher
	Auditor          Auditor
	Logger           *slog.Logger
	MinResolutionLen int
	Now              func() time.Time
}

// New creates an Engine.
func New(d Deps) *Engine {
	meter := telemetry.Meter("beacon/incident")
	transitions, _ := meter.Int64Counter("beacon.incident.transitions",
		metric.WithDescription("Successful incident lifecycle transitions"),
	)
	denials, _ := meter.Int64Counter("beacon.incident.denials",
		metric.WithDescription("Incident operations rejected by the permission evaluator"),
	)
	e := &Engine{
		repo:             d.Repo,
		dir:              d.Directory,
		publisher:        d.Publisher,
		auditor:          d.Auditor,
		logger:           d.Logger,
		minResolutionLen: d.MinResolutionLen,
		now:              d.Now,
		transitions:      transitions,
		denials:          denials,
	}
	if e.minResolutionLen <= 0 {
		e.minResolutionLen = model.DefaultMinResolutionLen
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// MinResolutionLen returns the shortest resolution text the engine accepts.
func (e *Engine) MinResolutionLen() int { return e.minResolutionLen }

// CreateInput is the data needed to report an incident.
type CreateInput struct {
	Title       string
	Description string
	Priority    model.Priority
	StationID   uuid.UUID
}

// Create reports a new incident in status reported.
func (e *Engine) Create(ctx context.Context, actor model.Actor, in CreateInput) (model.Incident, error) {
	ctx, span := tracer.Start(ctx, "incident.create")
	defer span.End()

	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	if in.Priority == "" {
		in.Priority = model.PriorityMedium
	}
	if err := validateCreate(in); err != nil {
		return model.Incident{}, err
	}

	station, err := e.dir.GetStation(ctx, in.StationID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return model.Incident{}, validationError("unknown station", map[string]any{"field": "stationId"})
		}
		return model.Incident{}, internal("load station", err)
	}

	orgID := station.OrganizationID
	now := e.now().UTC()
	inc := model.Incident{
		ID:             uuid.New(),
		Title:          in.Title,
		Description:    in.Description,
		Priority:       in.Priority,
		Status:         model.StatusReported,
		StationID:      station.ID,
		OrganizationID: &orgID,
		ReportedByID:   actor.UserID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if d := authz.CanPerform(actor, authz.ActionCreateIncident, inc.Scope()); !d.Allowed {
		return model.Incident{}, e.deny(ctx, d, authz.ActionCreateIncident)
	}

	if err := e.repo.CreateIncident(ctx, inc); err != nil {
		return model.Incident{}, internal("create incident", err)
	}

	e.emit(ctx, span, model.NewDomainEvent(model.EventIncidentCreated, model.ActionCreate, inc, "", actor.UserID, now))
	return inc, nil
}

// Get returns one incident the actor may view.
func (e *Engine) Get(ctx context.Context, actor model.Actor, id uuid.UUID) (model.Incident, error) {
	inc, err := e.load(ctx, id)
	if err != nil {
		return model.Incident{}, err
	}
	if d := authz.CanView(actor, inc.Scope()); !d.Allowed {
		return model.Incident{}, e.deny(ctx, d, authz.ActionView)
	}
	return inc, nil
}

// List returns incidents inside the actor's view scope. Clients call this to
// resynchronize after (re)connecting to the real-time channel.
func (e *Engine) List(ctx context.Context, actor model.Actor, status *model.IncidentStatus, limit, offset int) ([]model.Incident, error) {
	f := authz.ListFilter(actor)
	f.Status = status
	f.Limit = limit
	f.Offset = offset
	incidents, err := e.repo.ListIncidents(ctx, f)
	if err != nil {
		return nil, internal("list incidents", err)
	}
	return incidents, nil
}

// Assign moves a reported or escalated incident to assigned.
func (e *Engine) Assign(ctx context.Context, actor model.Actor, id, assigneeID uuid.UUID, notes string) (model.Incident, error) {
	if assigneeID == uuid.Nil {
		return model.Incident{}, validationError("assignedToId is required", map[string]any{"field": "assignedToId"})
	}
	return e.apply(ctx, actor, id, model.StatusAssigned, model.ActionAssign, notes,
		func(ctx context.Context, inc model.Incident) error {
			return e.checkAssignee(ctx, inc, assigneeID)
		},
		func(inc *model.Incident, now time.Time) {
			inc.AssignedTo = &assigneeID
			inc.AssignedBy = &actor.UserID
			inc.AssignedAt = &now
		})
}

// Start moves an assigned incident to in_progress. Only the assignee or a
// station admin (or higher) in scope may start work.
func (e *Engine) Start(ctx context.Context, actor model.Actor, id uuid.UUID, notes string) (model.Incident, error) {
	return e.apply(ctx, actor, id, model.StatusInProgress, model.ActionStart, notes,
		func(ctx context.Context, inc model.Incident) error {
			isAssignee := inc.AssignedTo != nil && *inc.AssignedTo == actor.UserID
			if !isAssignee && !model.RoleAtLeast(actor.Role, model.RoleStationAdmin) {
				return e.deny(ctx, authz.Decision{Reason: authz.ReasonRoleTooLow}, authz.ActionChangeStatus)
			}
			return nil
		},
		func(*model.Incident, time.Time) {})
}

// ChangeStatus routes a bare status change to the matching transition.
// Targets that need extra input (assignee, escalation reason, resolution)
// must use their dedicated operation.
func (e *Engine) ChangeStatus(ctx context.Context, actor model.Actor, id uuid.UUID, to model.IncidentStatus, notes string) (model.Incident, error) {
	switch to {
	case model.StatusInProgress:
		return e.Start(ctx, actor, id, notes)
	case model.StatusAssigned:
		return model.Incident{}, validationError("assignment requires assignedToId; use the assign operation", map[string]any{"field": "status"})
	case model.StatusEscalated:
		return model.Incident{}, validationError("escalation requires reason and targetLevel; use the escalate operation", map[string]any{"field": "status"})
	case model.StatusResolved:
		return model.Incident{}, validationError("resolving requires resolution text; use the resolve operation", map[string]any{"field": "status"})
	case model.StatusReported:
		inc, err := e.load(ctx, id)
		if err != nil {
			return model.Incident{}, err
		}
		if d := authz.CanPerform(actor, authz.ActionChangeStatus, inc.Scope()); !d.Allowed {
			return model.Incident{}, e.deny(ctx, d, authz.ActionChangeStatus)
		}
		return model.Incident{}, invalidTransition(inc.Status, to)
	default:
		return model.Incident{}, validationError("unknown status", map[string]any{"field": "status", "value": string(to)})
	}
}

// Escalate raises an assigned or in-progress incident to targetLevel.
func (e *Engine) Escalate(ctx context.Context, actor model.Actor, id uuid.UUID, reason string, targetLevel int) (model.Incident, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return model.Incident{}, validationError("reason is required", map[string]any{"field": "reason"})
	}
	if utf8.RuneCountInString(reason) > model.MaxReasonLen {
		return model.Incident{}, validationError("reason is too long", map[string]any{"field": "reason", "max": model.MaxReasonLen})
	}
	return e.apply(ctx, actor, id, model.StatusEscalated, model.ActionEscalate, reason,
		func(_ context.Context, inc model.Incident) error {
			if targetLevel <= inc.EscalationLevel {
				return validationError("targetLevel must exceed the current escalation level", map[string]any{
					"field":   "targetLevel",
					"current": inc.EscalationLevel,
				})
			}
			return nil
		},
		func(inc *model.Incident, now time.Time) {
			inc.EscalationLevel = targetLevel
			inc.EscalatedBy = &actor.UserID
			inc.EscalatedAt = &now
			inc.EscalationReason = &reason
		})
}

// Resolve closes an in-progress or escalated incident.
func (e *Engine) Resolve(ctx context.Context, actor model.Actor, id uuid.UUID, resolution string) (model.Incident, error) {
	resolution = strings.TrimSpace(resolution)
	if n := utf8.RuneCountInString(resolution); n < e.minResolutionLen {
		return model.Incident{}, validationError("resolution is too short", map[string]any{"field": "resolution", "min": e.minResolutionLen})
	} else if n > model.MaxResolutionLen {
		return model.Incident{}, validationError("resolution is too long", map[string]any{"field": "resolution", "max": model.MaxResolutionLen})
	}
	return e.apply(ctx, actor, id, model.StatusResolved, model.ActionResolve, "", nil,
		func(inc *model.Incident, now time.Time) {
			inc.Resolution = &resolution
			inc.ResolvedBy = &actor.UserID
			inc.ResolvedAt = &now
			inc.AssignedTo = nil
		})
}

// Reopen moves a resolved incident back to assigned. When assigneeID is nil
// the incident is assigned to the reopening actor.
func (e *Engine) Reopen(ctx context.Context, actor model.Actor, id uuid.UUID, reason string, assigneeID *uuid.UUID) (model.Incident, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return model.Incident{}, validationError("reopenReason is required", map[string]any{"field": "reopenReason"})
	}
	if utf8.RuneCountInString(reason) > model.MaxReasonLen {
		return model.Incident{}, validationError("reopenReason is too long", map[string]any{"field": "reopenReason", "max": model.MaxReasonLen})
	}
	target := actor.UserID
	if assigneeID != nil && *assigneeID != uuid.Nil {
		target = *assigneeID
	}
	return e.apply(ctx, actor, id, model.StatusAssigned, model.ActionReopen, reason,
		func(ctx context.Context, inc model.Incident) error {
			return e.checkAssignee(ctx, inc, target)
		},
		func(inc *model.Incident, now time.Time) {
			inc.ReopenedBy = &actor.UserID
			inc.ReopenedAt = &now
			inc.ReopenReason = &reason
			inc.Resolution = nil
			inc.ResolvedBy = nil
			inc.ResolvedAt = nil
			inc.AssignedTo = &target
			inc.AssignedBy = &actor.UserID
			inc.AssignedAt = &now
		})
}

// Upvote records the actor's support for an incident. Repeated upvotes by
// the same user are ignored.
func (e *Engine) Upvote(ctx context.Context, actor model.Actor, id uuid.UUID) (model.Incident, error) {
	inc, err := e.load(ctx, id)
	if err != nil {
		return model.Incident{}, err
	}
	if d := authz.CanPerform(actor, authz.ActionUpvote, inc.Scope()); !d.Allowed {
		return model.Incident{}, e.deny(ctx, d, authz.ActionUpvote)
	}
	added, err := e.repo.AddUpvote(ctx, id, actor.UserID)
	if err != nil {
		return model.Incident{}, internal("add upvote", err)
	}
	if !added {
		return inc, nil
	}
	e.recordAction(ctx, actor, model.ActionUpvote, id, nil)
	return e.load(ctx, id)
}

// FollowUpInput is a contact to notify when the incident is resolved.
type FollowUpInput struct {
	Email *string
	Phone *string
}

// RegisterFollowUp stores a contact that wants to hear the incident's outcome.
func (e *Engine) RegisterFollowUp(ctx context.Context, actor model.Actor, id uuid.UUID, in FollowUpInput) (model.FollowUp, error) {
	email, phone, verr := normalizeContact(in)
	if verr != nil {
		return model.FollowUp{}, verr
	}
	inc, err := e.load(ctx, id)
	if err != nil {
		return model.FollowUp{}, err
	}
	if d := authz.CanPerform(actor, authz.ActionFollowUp, inc.Scope()); !d.Allowed {
		return model.FollowUp{}, e.deny(ctx, d, authz.ActionFollowUp)
	}
	registeredBy := actor.UserID
	f := model.FollowUp{
		ID:           uuid.New(),
		IncidentID:   id,
		Email:        email,
		Phone:        phone,
		RegisteredBy: &registeredBy,
		CreatedAt:    e.now().UTC(),
	}
	if err := e.repo.CreateFollowUp(ctx, f); err != nil {
		return model.FollowUp{}, internal("create follow-up", err)
	}
	e.recordAction(ctx, actor, model.ActionFollowUp, id, map[string]any{
		"follow_up_id": f.ID.String(),
		"has_email":    email != nil,
		"has_phone":    phone != nil,
	})
	return f, nil
}

// verbPermission maps each lifecycle verb to the evaluator action guarding it.
var verbPermission = map[model.Action]authz.Action{
	model.ActionAssign:   authz.ActionAssign,
	model.ActionReopen:   authz.ActionAssign,
	model.ActionStart:    authz.ActionChangeStatus,
	model.ActionEscalate: authz.ActionEscalate,
	model.ActionResolve:  authz.ActionResolve,
}

// apply runs one transition: load, permission check, edge check, extra guard,
// mutation, invariant check, persist, publish.
func (e *Engine) apply(
	ctx context.Context,
	actor model.Actor,
	id uuid.UUID,
	to model.IncidentStatus,
	verb model.Action,
	notes string,
	guard func(context.Context, model.Incident) error,
	mutate func(*model.Incident, time.Time),
) (model.Incident, error) {
	ctx, span := tracer.Start(ctx, "incident."+string(verb), trace.WithAttributes(
		attribute.String("incident.id", id.String()),
		attribute.String("actor.role", string(actor.Role)),
	))
	defer span.End()

	inc, err := e.load(ctx, id)
	if err != nil {
		return model.Incident{}, err
	}

	perm := verbPermission[verb]
	if d := authz.CanPerform(actor, perm, inc.Scope()); !d.Allowed {
		return model.Incident{}, e.deny(ctx, d, perm)
	}

	r, ok := lookup(inc.Status, to)
	if !ok || r.action != verb {
		return model.Incident{}, invalidTransition(inc.Status, to)
	}

	if guard != nil {
		if err := guard(ctx, inc); err != nil {
			return model.Incident{}, err
		}
	}

	prev := inc.Status
	now := e.now().UTC()
	mutate(&inc, now)
	inc.Status = to
	inc.UpdatedAt = now

	if err := inc.CheckInvariants(e.minResolutionLen); err != nil {
		return model.Incident{}, internal("transition produced invalid incident", err)
	}

	if err := e.repo.UpdateIncident(ctx, inc); err != nil {
		return model.Incident{}, internal("update incident", err)
	}

	ev := model.NewDomainEvent(r.event, verb, inc, prev, actor.UserID, now)
	ev.Notes = notes
	e.emit(ctx, span, ev)
	return inc, nil
}

// checkAssignee verifies the target user can own the incident: at least
// station_staff, and inside the incident's station or organization.
func (e *Engine) checkAssignee(ctx context.Context, inc model.Incident, userID uuid.UUID) error {
	u, err := e.dir.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return validationError("assignee not found", map[string]any{"field": "assignedToId"})
		}
		return internal("load assignee", err)
	}
	if !model.RoleAtLeast(u.Role, model.RoleStationStaff) {
		return validationError("assignee must be station staff or higher", map[string]any{"field": "assignedToId"})
	}
	if !authz.InScope(u.Actor(), inc.Scope()) {
		return validationError("assignee is outside the incident's scope", map[string]any{"field": "assignedToId"})
	}
	return nil
}

func (e *Engine) load(ctx context.Context, id uuid.UUID) (model.Incident, error) {
	inc, err := e.repo.GetIncident(ctx, id)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return model.Incident{}, notFound(id)
		}
		return model.Incident{}, internal("load incident", err)
	}
	return inc, nil
}

func (e *Engine) deny(ctx context.Context, d authz.Decision, action authz.Action) error {
	e.denials.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", string(action)),
		attribute.String("reason", string(d.Reason)),
	))
	return forbidden(d, action)
}

func (e *Engine) emit(ctx context.Context, span trace.Span, ev model.DomainEvent) {
	span.SetAttributes(
		attribute.String("incident.event", string(ev.Type)),
		attribute.String("incident.status", string(ev.Incident.Status)),
	)
	e.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("event", string(ev.Type))))
	e.logger.Info("incident transition",
		"incident_id", ev.Incident.ID,
		"event_type", ev.Type,
		"from", ev.PreviousStatus,
		"to", ev.Incident.Status,
		"actor_id", ev.ActorID)
	if e.publisher != nil {
		e.publisher.Publish(ctx, ev)
	}
}

func (e *Engine) recordAction(ctx context.Context, actor model.Actor, action model.Action, incidentID uuid.UUID, detail map[string]any) {
	if e.auditor == nil {
		return
	}
	if detail == nil {
		detail = map[string]any{}
	}
	detail["actor_role"] = string(actor.Role)
	e.auditor.RecordAction(ctx, model.AuditRecord{
		ID:           uuid.New(),
		ActorID:      actor.UserID,
		Action:       action,
		ResourceType: model.ResourceIncident,
		ResourceID:   incidentID.String(),
		Detail:       detail,
		Timestamp:    e.now().UTC(),
	})
}

func validateCreate(in CreateInput) error {
	if in.Title == "" {
		return validationError("title is required", map[string]any{"field": "title"})
	}
	if utf8.RuneCountInString(in.Title) > model.MaxTitleLen {
		return validationError("title is too long", map[string]any{"field": "title", "max": model.MaxTitleLen})
	}
	if in.Description == "" {
		return validationError("description is required", map[string]any{"field": "description"})
	}
	if utf8.RuneCountInString(in.Description) > model.MaxDescriptionLen {
		return validationError("description is too long", map[string]any{"field": "description", "max": model.MaxDescriptionLen})
	}
	if !in.Priority.Valid() {
		return validationError("priority must be one of low, medium, high, critical", map[string]any{"field": "priority"})
	}
	if in.StationID == uuid.Nil {
		return validationError("stationId is required", map[string]any{"field": "stationId"})
	}
	return nil
}

func normalizeContact(in FollowUpInput) (email, phone *string, err error) {
	if in.Email != nil {
		if v := strings.TrimSpace(*in.Email); v != "" {
			addr, perr := mail.ParseAddress(v)
			if perr != nil {
				return nil, nil, validationError("email is invalid", map[string]any{"field": "email"})
			}
			email = &addr.Address
		}
	}
	if in.Phone != nil {
		if v := strings.TrimSpace(*in.Phone); v != "" {
			if !validPhone(v) {
				return nil, nil, validationError("phone is invalid", map[string]any{"field": "phone"})
			}
			phone = &v
		}
	}
	if email == nil && phone == nil {
		return nil, nil, validationError("email or phone is required", map[string]any{"field": "email"})
	}
	return email, phone, nil
}

// validPhone accepts an optional leading + followed by 7 to 15 digits,
// with spaces and dashes allowed as separators.
func validPhone(s string) bool {
	digits := 0
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '+' && i == 0:
		case r == ' ' || r == '-':
		default:
			return false
		}
	}
	return digits >= 7 && digits <= 15
}
