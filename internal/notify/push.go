package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/beacon-ops/beacon/internal/model"
)

// Message is what a pusher delivers. User notifications carry UserID and
// NotificationID; follow-up contact messages carry Email and/or Phone.
type Message struct {
	NotificationID uuid.UUID       `json:"notification_id"`
	UserID         *uuid.UUID      `json:"user_id,omitempty"`
	Email          *string         `json:"email,omitempty"`
	Phone          *string         `json:"phone,omitempty"`
	EventID        uuid.UUID       `json:"event_id"`
	EventType      model.EventType `json:"event_type"`
	IncidentID     uuid.UUID       `json:"incident_id"`
	Title          string          `json:"title"`
	Body           string          `json:"body"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Pusher delivers a message to one external channel.
type Pusher interface {
	Name() string
	Push(ctx context.Context, msg Message) error
}

// WebhookPusher POSTs each message as JSON to a push gateway.
type WebhookPusher struct {
	client *resty.Client
	url    string
}

// NewWebhookPusher creates a webhook pusher. token, when set, is sent as a
// bearer token. Retries are left to the dispatcher.
func NewWebhookPusher(url, token string, timeout time.Duration) *WebhookPusher {
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if token != "" {
		client.SetAuthToken(token)
	}
	return &WebhookPusher{client: client, url: url}
}

// Name implements Pusher.
func (p *WebhookPusher) Name() string { return "webhook" }

// Push implements Pusher.
func (p *WebhookPusher) Push(ctx context.Context, msg Message) error {
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(msg).
		Post(p.url)
	if err != nil {
		return fmt.Errorf("notify: webhook: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("notify: webhook: unexpected status %d", resp.StatusCode())
	}
	return nil
}

// RedisStreamPusher appends each message to a Redis stream for downstream
// SMS, email and mobile push workers.
type RedisStreamPusher struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisStreamPusher creates a stream pusher. maxLen > 0 trims the stream
// approximately to that many entries.
func NewRedisStreamPusher(client *redis.Client, stream string, maxLen int64) *RedisStreamPusher {
	return &RedisStreamPusher{client: client, stream: stream, maxLen: maxLen}
}

// Name implements Pusher.
func (p *RedisStreamPusher) Name() string { return "redis_stream" }

// Push implements Pusher.
func (p *RedisStreamPusher) Push(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("notify: marshal stream message: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{
			"event_type": string(msg.EventType),
			"data":       string(data),
			"timestamp":  msg.CreatedAt.Unix(),
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("notify: xadd %s: %w", p.stream, err)
	}
	return nil
}

// UserNotifier delivers a notification to a user's live sessions.
type UserNotifier interface {
	NotifyUser(ctx context.Context, userID uuid.UUID, n model.Notification) int
}

// ToastPusher shows user notifications on the recipient's open sessions.
// Contact-only messages are skipped.
type ToastPusher struct {
	sessions UserNotifier
}

// NewToastPusher creates a ToastPusher.
func NewToastPusher(sessions UserNotifier) *ToastPusher {
	return &ToastPusher{sessions: sessions}
}

// Name implements Pusher.
func (p *ToastPusher) Name() string { return "toast" }

// Push implements Pusher. A user with no open session is not an error.
func (p *ToastPusher) Push(ctx context.Context, msg Message) error {
	if msg.UserID == nil {
		return nil
	}
	p.sessions.NotifyUser(ctx, *msg.UserID, model.Notification{
		ID:                msg.NotificationID,
		UserID:            *msg.UserID,
		EventID:           msg.EventID,
		Title:             msg.Title,
		Message:           msg.Body,
		RelatedEntityType: model.ResourceIncident,
		RelatedEntityID:   msg.IncidentID,
		CreatedAt:         msg.CreatedAt,
	})
	return nil
}
