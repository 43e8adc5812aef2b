package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beacon-ops/beacon/internal/model"
)

func testMessage() Message {
	uid := uuid.New()
	return Message{
		NotificationID: uuid.New(),
		UserID:         &uid,
		EventID:        uuid.New(),
		EventType:      model.EventIncidentResolved,
		IncidentID:     uuid.New(),
		Title:          "Incident resolved",
		Body:           "Fire has been resolved",
		CreatedAt:      time.Now().UTC().Truncate(time.Second),
	}
}

func TestWebhookPusher(t *testing.T) {
	var got Message
	var authHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader = r.Header.Get("Authorization")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	p := NewWebhookPusher(srv.URL, "s3cret", time.Second)
	msg := testMessage()
	require.NoError(t, p.Push(context.Background(), msg))

	assert.Equal(t, "Bearer s3cret", authHeader)
	assert.Equal(t, msg.EventID, got.EventID)
	assert.Equal(t, msg.Title, got.Title)
	require.NotNil(t, got.UserID)
	assert.Equal(t, *msg.UserID, *got.UserID)
}

func TestWebhookPusherErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewWebhookPusher(srv.URL, "", time.Second)
	err := p.Push(context.Background(), testMessage())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestRedisStreamPusher(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	p := NewRedisStreamPusher(client, "beacon:push", 0)
	msg := testMessage()
	require.NoError(t, p.Push(context.Background(), msg))
	require.NoError(t, p.Push(context.Background(), msg))

	entries, err := client.XRange(context.Background(), "beacon:push", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "incident_resolved", entries[0].Values["event_type"])

	var decoded Message
	require.NoError(t, json.Unmarshal([]byte(entries[0].Values["data"].(string)), &decoded))
	assert.Equal(t, msg.IncidentID, decoded.IncidentID)
}

func TestRedisStreamPusherUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	p := NewRedisStreamPusher(client, "beacon:push", 0)
	assert.Error(t, p.Push(context.Background(), testMessage()))
}

type fakeNotifier struct {
	userID uuid.UUID
	n      model.Notification
	calls  int
}

func (f *fakeNotifier) NotifyUser(_ context.Context, userID uuid.UUID, n model.Notification) int {
	f.calls++
	f.userID = userID
	f.n = n
	return 1
}

func TestToastPusher(t *testing.T) {
	fn := &fakeNotifier{}
	p := NewToastPusher(fn)

	msg := testMessage()
	require.NoError(t, p.Push(context.Background(), msg))
	assert.Equal(t, 1, fn.calls)
	assert.Equal(t, *msg.UserID, fn.userID)
	assert.Equal(t, msg.NotificationID, fn.n.ID)
	assert.Equal(t, msg.IncidentID, fn.n.RelatedEntityID)

	contact := testMessage()
	contact.UserID = nil
	contact.Email = ptr("someone@example.org")
	require.NoError(t, p.Push(context.Background(), contact))
	assert.Equal(t, 1, fn.calls, "contact messages have no session to toast")
}
