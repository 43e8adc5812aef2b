// Package audit writes the append-only audit trail for incident lifecycle
// transitions and incident actions.
package audit

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/beacon-ops/beacon/internal/ctxutil"
	"github.com/beacon-ops/beacon/internal/model"
	"github.com/beacon-ops/beacon/internal/telemetry"
)

// Store appends audit records. Records are never updated or deleted.
type Store interface {
	AppendAudit(ctx context.Context, rec model.AuditRecord) error
}

// Recorder turns domain events into audit records. A failed append is
// logged and counted but never returned: an audit outage must not roll back
// or fail the transition that was already persisted.
type Recorder struct {
	store    Store
	logger   *slog.Logger
	failures metric.Int64Counter
}

// NewRecorder creates a Recorder.
func NewRecorder(store Store, logger *slog.Logger) *Recorder {
	failures, _ := telemetry.Meter("beacon/audit").Int64Counter("beacon.audit.failures",
		metric.WithDescription("Audit records that could not be persisted"),
	)
	return &Recorder{store: store, logger: logger, failures: failures}
}

// HandleEvent records one audit entry per lifecycle event.
func (r *Recorder) HandleEvent(ctx context.Context, ev model.DomainEvent) error {
	detail := map[string]any{
		"event_id":   ev.ID.String(),
		"event_type": string(ev.Type),
		"new_status": string(ev.Incident.Status),
	}
	if ev.PreviousStatus != "" {
		detail["previous_status"] = string(ev.PreviousStatus)
	}
	if ev.Notes != "" {
		detail["notes"] = ev.Notes
	}
	inc := ev.Incident
	switch ev.Type {
	case model.EventIncidentAssigned:
		if inc.AssignedTo != nil {
			detail["assigned_to"] = inc.AssignedTo.String()
		}
	case model.EventIncidentEscalated:
		detail["escalation_level"] = inc.EscalationLevel
	case model.EventIncidentCreated:
		detail["priority"] = string(inc.Priority)
		detail["station_id"] = inc.StationID.String()
	}

	r.RecordAction(ctx, model.AuditRecord{
		ID:           uuid.New(),
		ActorID:      ev.ActorID,
		Action:       ev.Action,
		ResourceType: model.ResourceIncident,
		ResourceID:   inc.ID.String(),
		Detail:       detail,
		Timestamp:    ev.Timestamp,
	})
	return nil
}

// RecordAction appends rec, logging on failure.
func (r *Recorder) RecordAction(ctx context.Context, rec model.AuditRecord) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.Detail == nil {
		rec.Detail = map[string]any{}
	}
	if reqID := ctxutil.RequestIDFromContext(ctx); reqID != "" {
		rec.Detail["request_id"] = reqID
	}
	if err := r.store.AppendAudit(ctx, rec); err != nil {
		r.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("action", string(rec.Action))))
		r.logger.Error("audit: append failed",
			"action", rec.Action,
			"resource_type", rec.ResourceType,
			"resource_id", rec.ResourceID,
			"actor_id", rec.ActorID,
			"error", err)
	}
}
