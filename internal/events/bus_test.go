package events

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beacon-ops/beacon/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testEvent() model.DomainEvent {
	return model.NewDomainEvent(model.EventIncidentCreated, model.ActionCreate,
		model.Incident{ID: uuid.New(), Status: model.StatusReported}, "", uuid.New(), time.Now())
}

func TestSyncSubscriberRunsBeforePublishReturns(t *testing.T) {
	bus := NewBus(testLogger(), time.Second)
	var got atomic.Int32
	bus.Subscribe("audit", SubscriberFunc(func(context.Context, model.DomainEvent) error {
		got.Add(1)
		return nil
	}))

	bus.Publish(context.Background(), testEvent())
	assert.Equal(t, int32(1), got.Load())
}

func TestAsyncSubscribersIsolated(t *testing.T) {
	bus := NewBus(testLogger(), time.Second)
	var ok atomic.Int32

	bus.SubscribeAsync("panics", SubscriberFunc(func(context.Context, model.DomainEvent) error {
		panic("boom")
	}))
	bus.SubscribeAsync("fails", SubscriberFunc(func(context.Context, model.DomainEvent) error {
		return errors.New("provider unreachable")
	}))
	bus.SubscribeAsync("works", SubscriberFunc(func(context.Context, model.DomainEvent) error {
		ok.Add(1)
		return nil
	}))

	bus.Publish(context.Background(), testEvent())
	require.NoError(t, bus.Drain(context.Background()))
	assert.Equal(t, int32(1), ok.Load())
}

func TestAsyncSubscriberOutlivesRequestContext(t *testing.T) {
	bus := NewBus(testLogger(), time.Second)
	release := make(chan struct{})
	var ctxErr atomic.Value

	bus.SubscribeAsync("slow", SubscriberFunc(func(ctx context.Context, _ model.DomainEvent) error {
		<-release
		if err := ctx.Err(); err != nil {
			ctxErr.Store(err)
		}
		return nil
	}))

	reqCtx, cancel := context.WithCancel(context.Background())
	bus.Publish(reqCtx, testEvent())
	cancel()
	close(release)

	require.NoError(t, bus.Drain(context.Background()))
	assert.Nil(t, ctxErr.Load(), "handler context must not be cancelled with the request")
}

func TestDrainHonoursContext(t *testing.T) {
	bus := NewBus(testLogger(), time.Second)
	block := make(chan struct{})
	defer close(block)
	bus.SubscribeAsync("stuck", SubscriberFunc(func(context.Context, model.DomainEvent) error {
		<-block
		return nil
	}))
	bus.Publish(context.Background(), testEvent())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, bus.Drain(ctx))
}
