// Package broadcast pushes incident events and per-user notifications to
// connected real-time sessions.
//
// Delivery is best-effort and at-most-once. Each session has a bounded
// outbound buffer; when it is full the message is dropped for that session
// only, so one slow client never blocks the others or the publisher.
// Clients resynchronize through the incident list endpoint after reconnect.
package broadcast

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/beacon-ops/beacon/internal/authz"
	"github.com/beacon-ops/beacon/internal/model"
	"github.com/beacon-ops/beacon/internal/telemetry"
)

// Outbound message types.
const (
	TypeIncidentCreated  = "incident_created"
	TypeIncidentAssigned = "incident_assigned"
	TypeIncidentUpdate   = "incident_update"
	TypeUserNotification = "user_notification"
	TypeAuthenticated    = "authenticated"
	TypePong             = "pong"
)

// DefaultBuffer is the per-session outbound queue length.
const DefaultBuffer = 64

// Envelope is the wire frame sent to clients.
type Envelope struct {
	Type      string    `json:"type"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EnvelopeType maps a domain event to its outbound message type.
func EnvelopeType(t model.EventType) string {
	switch t {
	case model.EventIncidentCreated:
		return TypeIncidentCreated
	case model.EventIncidentAssigned:
		return TypeIncidentAssigned
	default:
		return TypeIncidentUpdate
	}
}

// Session is one authenticated connection. Identity fields are fixed at
// registration.
type Session struct {
	ID             uuid.UUID
	UserID         uuid.UUID
	Role           model.Role
	OrganizationID *uuid.UUID
	StationID      *uuid.UUID
	ConnectedAt    time.Time

	send chan Envelope
}

// Actor returns the identity used for eligibility checks.
func (s *Session) Actor() model.Actor {
	return model.Actor{
		UserID:         s.UserID,
		Role:           s.Role,
		OrganizationID: s.OrganizationID,
		StationID:      s.StationID,
	}
}

// Messages is the session's outbound queue. It is closed on Unregister.
func (s *Session) Messages() <-chan Envelope { return s.send }

// Broadcaster owns the session registry.
type Broadcaster struct {
	logger *slog.Logger
	buffer int

	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session

	delivered metric.Int64Counter
	dropped   metric.Int64Counter
}

// New creates a Broadcaster. buffer <= 0 uses DefaultBuffer.
func New(logger *slog.Logger, buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	meter := telemetry.Meter("beacon/broadcast")
	delivered, _ := meter.Int64Counter("beacon.broadcast.delivered",
		metric.WithDescription("Messages queued to real-time sessions"),
	)
	dropped, _ := meter.Int64Counter("beacon.broadcast.dropped",
		metric.WithDescription("Messages dropped because a session buffer was full"),
	)
	return &Broadcaster{
		logger:    logger,
		buffer:    buffer,
		sessions:  make(map[uuid.UUID]*Session),
		delivered: delivered,
		dropped:   dropped,
	}
}

// Register adds a session for actor. The caller must Unregister it.
func (b *Broadcaster) Register(actor model.Actor) *Session {
	s := &Session{
		ID:             uuid.New(),
		UserID:         actor.UserID,
		Role:           actor.Role,
		OrganizationID: actor.OrganizationID,
		StationID:      actor.StationID,
		ConnectedAt:    time.Now().UTC(),
		send:           make(chan Envelope, b.buffer),
	}
	b.mu.Lock()
	b.sessions[s.ID] = s
	b.mu.Unlock()
	return s
}

// Unregister removes the session and closes its queue. Safe to call twice.
// The channel is closed under the write lock, so no broadcast can be
// sending to it concurrently.
func (b *Broadcaster) Unregister(id uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.sessions[id]; ok {
		delete(b.sessions, id)
		close(s.send)
	}
}

// CloseAll unregisters every session. Used on shutdown.
func (b *Broadcaster) CloseAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, s := range b.sessions {
		delete(b.sessions, id)
		close(s.send)
	}
}

// Count returns the number of connected sessions.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.sessions)
}

// HandleEvent implements the event bus subscriber contract.
func (b *Broadcaster) HandleEvent(ctx context.Context, ev model.DomainEvent) error {
	b.Broadcast(ctx, ev)
	return nil
}

// Broadcast queues ev for every session allowed to view the incident and
// returns how many sessions received it.
func (b *Broadcaster) Broadcast(ctx context.Context, ev model.DomainEvent) int {
	env := Envelope{Type: EnvelopeType(ev.Type), Data: ev, Timestamp: ev.Timestamp}
	scope := ev.Incident.Scope()

	b.mu.RLock()
	defer b.mu.RUnlock()

	sent := 0
	for _, s := range b.sessions {
		if !authz.CanView(s.Actor(), scope).Allowed {
			continue
		}
		if b.offer(ctx, s, env) {
			sent++
		}
	}
	return sent
}

// NotifyUser queues a notification toast to every session of userID.
func (b *Broadcaster) NotifyUser(ctx context.Context, userID uuid.UUID, n model.Notification) int {
	env := Envelope{Type: TypeUserNotification, Data: n, Timestamp: n.CreatedAt}

	b.mu.RLock()
	defer b.mu.RUnlock()

	sent := 0
	for _, s := range b.sessions {
		if s.UserID != userID {
			continue
		}
		if b.offer(ctx, s, env) {
			sent++
		}
	}
	return sent
}

// offer is a non-blocking send. Callers hold at least the read lock.
func (b *Broadcaster) offer(ctx context.Context, s *Session, env Envelope) bool {
	attrs := metric.WithAttributes(attribute.String("type", env.Type))
	select {
	case s.send <- env:
		b.delivered.Add(ctx, 1, attrs)
		return true
	default:
		b.dropped.Add(ctx, 1, attrs)
		b.logger.Warn("broadcast: session buffer full, dropping message",
			"session_id", s.ID,
			"user_id", s.UserID,
			"type", env.Type)
		return false
	}
}

// reply queues a direct response to one session, such as a pong.
func (b *Broadcaster) reply(ctx context.Context, s *Session, env Envelope) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if _, ok := b.sessions[s.ID]; !ok {
		return
	}
	b.offer(ctx, s, env)
}
