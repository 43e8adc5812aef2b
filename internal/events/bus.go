// Package events fans each domain event out to its subscribers.
//
// Synchronous subscribers (the audit recorder) run inline before Publish
// returns, so they complete before the HTTP response. Asynchronous
// subscribers (broadcaster, notification dispatcher) run in their own
// goroutine with a context detached from the request, so fan-out never
// delays or fails the originating transition.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/beacon-ops/beacon/internal/model"
)

// Subscriber reacts to a domain event. Errors are logged by the bus and
// never reach the publisher.
type Subscriber interface {
	HandleEvent(ctx context.Context, ev model.DomainEvent) error
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(ctx context.Context, ev model.DomainEvent) error

// HandleEvent calls f.
func (f SubscriberFunc) HandleEvent(ctx context.Context, ev model.DomainEvent) error {
	return f(ctx, ev)
}

type registration struct {
	name string
	sub  Subscriber
}

// Bus is an in-process event fan-out. Register subscribers before the first
// Publish; the subscriber lists are not guarded for concurrent mutation.
type Bus struct {
	logger       *slog.Logger
	asyncTimeout time.Duration

	sync  []registration
	async []registration

	inflight sync.WaitGroup
}

// NewBus creates a bus. asyncTimeout bounds each asynchronous handler.
func NewBus(logger *slog.Logger, asyncTimeout time.Duration) *Bus {
	if asyncTimeout <= 0 {
		asyncTimeout = 10 * time.Second
	}
	return &Bus{logger: logger, asyncTimeout: asyncTimeout}
}

// Subscribe registers a subscriber that runs inline in Publish.
func (b *Bus) Subscribe(name string, s Subscriber) {
	b.sync = append(b.sync, registration{name: name, sub: s})
}

// SubscribeAsync registers a fire-and-forget subscriber.
func (b *Bus) SubscribeAsync(name string, s Subscriber) {
	b.async = append(b.async, registration{name: name, sub: s})
}

// Publish delivers ev to every subscriber. Each subscriber is isolated: an
// error or panic in one never prevents delivery to the others.
func (b *Bus) Publish(ctx context.Context, ev model.DomainEvent) {
	for _, r := range b.sync {
		b.deliver(ctx, r, ev)
	}

	if len(b.async) == 0 {
		return
	}
	detached := context.WithoutCancel(ctx)
	for _, r := range b.async {
		b.inflight.Add(1)
		go func() {
			defer b.inflight.Done()
			hctx, cancel := context.WithTimeout(detached, b.asyncTimeout)
			defer cancel()
			b.deliver(hctx, r, ev)
		}()
	}
}

// Drain waits for in-flight asynchronous handlers, or until ctx is done.
func (b *Bus) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("events: drain: %w", ctx.Err())
	}
}

func (b *Bus) deliver(ctx context.Context, r registration, ev model.DomainEvent) {
	defer func() {
		if p := recover(); p != nil {
			b.logger.Error("event subscriber panicked",
				"subscriber", r.name,
				"event_id", ev.ID,
				"event_type", ev.Type,
				"panic", fmt.Sprint(p))
		}
	}()
	if err := r.sub.HandleEvent(ctx, ev); err != nil {
		b.logger.Warn("event subscriber failed",
			"subscriber", r.name,
			"event_id", ev.ID,
			"event_type", ev.Type,
			"incident_id", ev.Incident.ID,
			"error", err)
	}
}
