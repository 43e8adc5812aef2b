package broadcast

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beacon-ops/beacon/internal/auth"
	"github.com/beacon-ops/beacon/internal/model"
)

type wireEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type wsFixture struct {
	b   *Broadcaster
	jwt *auth.JWTManager
	srv *httptest.Server
}

func newWSFixture(t *testing.T, authTimeout time.Duration) *wsFixture {
	t.Helper()
	mgr, err := auth.NewJWTManager("", "", time.Hour)
	require.NoError(t, err)

	b := New(quietLogger(), 16)
	h := NewHandler(b, mgr, HandlerConfig{AuthTimeout: authTimeout}, quietLogger())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := mgr.ValidateToken(r.URL.Query().Get("token"))
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h.Serve(w, r, claims)
	}))
	t.Cleanup(srv.Close)
	return &wsFixture{b: b, jwt: mgr, srv: srv}
}

func (f *wsFixture) token(t *testing.T, u model.User) string {
	t.Helper()
	tok, _, err := f.jwt.IssueToken(u)
	require.NoError(t, err)
	return tok
}

func (f *wsFixture) dial(ctx context.Context, token string) (*websocket.Conn, *http.Response, error) {
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/?token=" + token
	return websocket.Dial(ctx, url, nil)
}

func readEnvelope(ctx context.Context, t *testing.T, c *websocket.Conn) wireEnvelope {
	t.Helper()
	var env wireEnvelope
	require.NoError(t, wsjson.Read(ctx, c, &env))
	return env
}

func TestWebSocketRejectsMissingToken(t *testing.T) {
	f := newWSFixture(t, time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, resp, err := f.dial(ctx, "garbage")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebSocketSessionReceivesEvents(t *testing.T) {
	f := newWSFixture(t, time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	org, station := uuid.New(), uuid.New()
	u := model.User{ID: uuid.New(), Role: model.RoleStationAdmin, OrganizationID: &org, StationID: &station}
	tok := f.token(t, u)

	c, _, err := f.dial(ctx, tok)
	require.NoError(t, err)
	defer c.CloseNow()

	// Malformed frames before auth are ignored.
	require.NoError(t, c.Write(ctx, websocket.MessageText, []byte("{not json")))
	require.NoError(t, wsjson.Write(ctx, c, map[string]any{
		"type": "auth", "token": tok, "userId": u.ID.String(), "role": u.Role,
	}))
	assert.Equal(t, TypeAuthenticated, readEnvelope(ctx, t, c).Type)
	assert.Equal(t, 1, f.b.Count())

	require.NoError(t, wsjson.Write(ctx, c, map[string]string{"type": "ping"}))
	assert.Equal(t, TypePong, readEnvelope(ctx, t, c).Type)

	inc := model.Incident{ID: uuid.New(), Status: model.StatusInProgress, StationID: station, OrganizationID: &org, ReportedByID: uuid.New()}
	f.b.Broadcast(ctx, model.NewDomainEvent(model.EventIncidentStatusChanged, model.ActionStart, inc, model.StatusAssigned, uuid.New(), time.Now()))

	env := readEnvelope(ctx, t, c)
	assert.Equal(t, TypeIncidentUpdate, env.Type)
	var ev model.DomainEvent
	require.NoError(t, json.Unmarshal(env.Data, &ev))
	assert.Equal(t, inc.ID, ev.Incident.ID)
	assert.Equal(t, model.StatusInProgress, ev.Incident.Status)

	require.NoError(t, c.Close(websocket.StatusNormalClosure, "bye"))
	require.Eventually(t, func() bool { return f.b.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocketAuthMismatchClosesWithPolicyViolation(t *testing.T) {
	f := newWSFixture(t, time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	u := model.User{ID: uuid.New(), Role: model.RoleCitizen}
	tok := f.token(t, u)

	c, _, err := f.dial(ctx, tok)
	require.NoError(t, err)
	defer c.CloseNow()

	require.NoError(t, wsjson.Write(ctx, c, map[string]any{
		"type": "auth", "token": tok, "userId": uuid.NewString(), "role": u.Role,
	}))
	_, _, err = c.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))
	assert.Equal(t, 0, f.b.Count())
}

func TestWebSocketAuthTimeout(t *testing.T) {
	f := newWSFixture(t, 100*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tok := f.token(t, model.User{ID: uuid.New(), Role: model.RoleCitizen})
	c, _, err := f.dial(ctx, tok)
	require.NoError(t, err)
	defer c.CloseNow()

	_, _, err = c.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))
}
