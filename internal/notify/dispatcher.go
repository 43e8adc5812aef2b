// Package notify turns incident events into persisted per-user notifications
// and best-effort pushes to external channels.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/beacon-ops/beacon/internal/model"
	"github.com/beacon-ops/beacon/internal/telemetry"
)

// Directory resolves the admins responsible for an incident's scope.
type Directory interface {
	ListScopeAdmins(ctx context.Context, orgID *uuid.UUID, stationID uuid.UUID) ([]model.User, error)
}

// Store persists notifications and reads follow-up contacts.
type Store interface {
	// CreateNotification inserts n unless (UserID, EventID) already exists,
	// reporting whether a row was created.
	CreateNotification(ctx context.Context, n model.Notification) (bool, error)
	ListFollowUps(ctx context.Context, incidentID uuid.UUID) ([]model.FollowUp, error)
}

// Config holds dispatcher tuning. Zero values pick defaults.
type Config struct {
	// Concurrency bounds per-recipient work for one event.
	Concurrency int
	// RetryDelay is the pause before the single push retry.
	RetryDelay time.Duration
}

// Dispatcher is an asynchronous event-bus subscriber.
type Dispatcher struct {
	dir     Directory
	store   Store
	pushers []Pusher
	logger  *slog.Logger
	cfg     Config
	now     func() time.Time

	created      metric.Int64Counter
	pushFailures metric.Int64Counter
}

// NewDispatcher creates a Dispatcher. pushers may be empty.
func NewDispatcher(dir Directory, store Store, pushers []Pusher, logger *slog.Logger, cfg Config) *Dispatcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	meter := telemetry.Meter("beacon/notify")
	created, _ := meter.Int64Counter("beacon.notify.created",
		metric.WithDescription("Notification rows created"),
	)
	pushFailures, _ := meter.Int64Counter("beacon.notify.push_failures",
		metric.WithDescription("Pushes that failed after one retry"),
	)
	return &Dispatcher{
		dir:          dir,
		store:        store,
		pushers:      pushers,
		logger:       logger,
		cfg:          cfg,
		now:          time.Now,
		created:      created,
		pushFailures: pushFailures,
	}
}

// HandleEvent implements the event bus subscriber contract.
func (d *Dispatcher) HandleEvent(ctx context.Context, ev model.DomainEvent) error {
	return d.Dispatch(ctx, ev)
}

// Dispatch notifies every recipient of ev. Redelivering the same event
// creates no new rows and triggers no new user pushes.
func (d *Dispatcher) Dispatch(ctx context.Context, ev model.DomainEvent) error {
	recipients, err := d.Recipients(ctx, ev)
	if err != nil {
		return err
	}
	title, body := compose(ev)

	var g errgroup.Group
	g.SetLimit(d.cfg.Concurrency)
	for _, userID := range recipients {
		g.Go(func() error {
			return d.notifyUser(ctx, ev, userID, title, body)
		})
	}
	err = g.Wait()

	if ev.Type == model.EventIncidentResolved {
		err = errors.Join(err, d.notifyFollowUps(ctx, ev, title, body))
	}
	return err
}

// Recipients returns the reporter, the current assignee, and the admins whose
// scope covers the incident, deduplicated, without the acting user.
func (d *Dispatcher) Recipients(ctx context.Context, ev model.DomainEvent) ([]uuid.UUID, error) {
	inc := ev.Incident
	admins, err := d.dir.ListScopeAdmins(ctx, inc.OrganizationID, inc.StationID)
	if err != nil {
		return nil, fmt.Errorf("notify: list scope admins: %w", err)
	}

	seen := map[uuid.UUID]struct{}{ev.ActorID: {}, uuid.Nil: {}}
	var out []uuid.UUID
	add := func(id uuid.UUID) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}

	add(inc.ReportedByID)
	if inc.AssignedTo != nil {
		add(*inc.AssignedTo)
	}
	for _, a := range admins {
		add(a.ID)
	}
	return out, nil
}

func (d *Dispatcher) notifyUser(ctx context.Context, ev model.DomainEvent, userID uuid.UUID, title, body string) error {
	n := model.Notification{
		ID:                uuid.New(),
		UserID:            userID,
		EventID:           ev.ID,
		Title:             title,
		Message:           body,
		RelatedEntityType: model.ResourceIncident,
		RelatedEntityID:   ev.Incident.ID,
		CreatedAt:         d.now().UTC(),
	}
	created, err := d.store.CreateNotification(ctx, n)
	if err != nil {
		return fmt.Errorf("notify: create notification for %s: %w", userID, err)
	}
	if !created {
		return nil
	}
	d.created.Add(ctx, 1, metric.WithAttributes(attribute.String("event", string(ev.Type))))

	uid := userID
	d.push(ctx, Message{
		NotificationID: n.ID,
		UserID:         &uid,
		EventID:        ev.ID,
		EventType:      ev.Type,
		IncidentID:     ev.Incident.ID,
		Title:          title,
		Body:           body,
		CreatedAt:      n.CreatedAt,
	})
	return nil
}

// notifyFollowUps pushes the outcome to contacts registered on the incident.
// Contacts have no notification row, so a redelivered event pushes again.
func (d *Dispatcher) notifyFollowUps(ctx context.Context, ev model.DomainEvent, title, body string) error {
	contacts, err := d.store.ListFollowUps(ctx, ev.Incident.ID)
	if err != nil {
		return fmt.Errorf("notify: list follow-ups: %w", err)
	}
	for _, f := range contacts {
		d.push(ctx, Message{
			EventID:    ev.ID,
			EventType:  ev.Type,
			IncidentID: ev.Incident.ID,
			Email:      f.Email,
			Phone:      f.Phone,
			Title:      title,
			Body:       body,
			CreatedAt:  d.now().UTC(),
		})
	}
	return nil
}

// push sends msg through every pusher, retrying each failure once.
func (d *Dispatcher) push(ctx context.Context, msg Message) {
	for _, p := range d.pushers {
		err := p.Push(ctx, msg)
		if err == nil {
			continue
		}
		select {
		case <-ctx.Done():
		case <-time.After(d.cfg.RetryDelay):
			err = p.Push(ctx, msg)
		}
		if err != nil {
			d.pushFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("pusher", p.Name())))
			d.logger.Warn("notify: push failed",
				"pusher", p.Name(),
				"event_id", msg.EventID,
				"incident_id", msg.IncidentID,
				"error", err)
		}
	}
}

func compose(ev model.DomainEvent) (title, body string) {
	inc := ev.Incident
	switch ev.Type {
	case model.EventIncidentCreated:
		return "New incident reported", fmt.Sprintf("%s (%s priority)", inc.Title, inc.Priority)
	case model.EventIncidentAssigned:
		if ev.Action == model.ActionReopen {
			return "Incident reopened", fmt.Sprintf("%s was reopened and reassigned", inc.Title)
		}
		return "Incident assigned", fmt.Sprintf("%s has been assigned", inc.Title)
	case model.EventIncidentStatusChanged:
		return "Incident updated", fmt.Sprintf("%s is now %s", inc.Title, inc.Status)
	case model.EventIncidentEscalated:
		return "Incident escalated", fmt.Sprintf("%s was escalated to level %d", inc.Title, inc.EscalationLevel)
	case model.EventIncidentResolved:
		return "Incident resolved", fmt.Sprintf("%s has been resolved", inc.Title)
	default:
		return "Incident update", inc.Title
	}
}
