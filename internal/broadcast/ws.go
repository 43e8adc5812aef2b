package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/beacon-ops/beacon/internal/auth"
	"github.com/beacon-ops/beacon/internal/model"
)

const (
	defaultAuthTimeout = 10 * time.Second
	writeTimeout       = 5 * time.Second
	maxClientMessage   = 16 << 10
)

// TokenValidator verifies bearer tokens.
type TokenValidator interface {
	ValidateToken(token string) (*auth.Claims, error)
}

// HandlerConfig configures the WebSocket endpoint.
type HandlerConfig struct {
	// OriginPatterns are host patterns allowed to open a socket from a
	// browser. Empty means same-origin only.
	OriginPatterns []string
	// AuthTimeout bounds how long the client has to send its auth message.
	AuthTimeout time.Duration
}

// Handler upgrades authenticated requests to real-time sessions.
type Handler struct {
	b      *Broadcaster
	tokens TokenValidator
	cfg    HandlerConfig
	logger *slog.Logger
}

// NewHandler creates the WebSocket handler.
func NewHandler(b *Broadcaster, tokens TokenValidator, cfg HandlerConfig, logger *slog.Logger) *Handler {
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = defaultAuthTimeout
	}
	return &Handler{b: b, tokens: tokens, cfg: cfg, logger: logger}
}

// clientMessage is any frame a client may send.
type clientMessage struct {
	Type   string     `json:"type"`
	Token  string     `json:"token,omitempty"`
	UserID string     `json:"userId,omitempty"`
	Role   model.Role `json:"role,omitempty"`
}

// Serve upgrades the request. claims must come from the token presented on
// the upgrade request; the caller rejects the request with 401 before
// calling Serve when that token is missing or invalid.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.cfg.OriginPatterns,
	})
	if err != nil {
		h.logger.Debug("ws: accept failed", "error", err)
		return
	}
	conn.SetReadLimit(maxClientMessage)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := h.authenticate(ctx, conn, claims); err != nil {
		h.logger.Info("ws: authentication failed", "user_id", claims.Subject, "error", err)
		_ = conn.Close(websocket.StatusPolicyViolation, "authentication failed")
		return
	}

	sess := h.b.Register(claims.Actor())
	defer h.b.Unregister(sess.ID)
	h.logger.Info("ws: session opened", "session_id", sess.ID, "user_id", sess.UserID, "role", sess.Role)

	h.b.reply(ctx, sess, Envelope{Type: TypeAuthenticated, Timestamp: time.Now().UTC()})

	readErr := make(chan error, 1)
	go func() {
		readErr <- h.readLoop(ctx, conn, sess)
	}()

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case err := <-readErr:
			h.logger.Debug("ws: session closed by client", "session_id", sess.ID, "error", err)
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case env, ok := <-sess.Messages():
			if !ok {
				_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			writeCtx, cancelWrite := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(writeCtx, conn, env)
			cancelWrite()
			if err != nil {
				h.logger.Debug("ws: write failed", "session_id", sess.ID, "error", err)
				_ = conn.Close(websocket.StatusInternalError, "write failed")
				return
			}
		}
	}
}

var (
	errAuthMismatch = errors.New("auth message does not match handshake token")
	errAuthTimeout  = errors.New("auth message not received in time")
)

// authenticate waits for the client's auth frame. Frames that are not an
// auth message are ignored until the timeout, which closes the socket with
// a policy violation.
func (h *Handler) authenticate(ctx context.Context, conn *websocket.Conn, claims *auth.Claims) error {
	timer := time.AfterFunc(h.cfg.AuthTimeout, func() {
		_ = conn.Close(websocket.StatusPolicyViolation, "authentication timeout")
	})

	for {
		msg, err := readMessage(ctx, conn)
		if err != nil {
			timer.Stop()
			return err
		}
		if msg == nil || msg.Type != "auth" {
			continue
		}
		if !timer.Stop() {
			return errAuthTimeout
		}
		return h.checkAuth(msg, claims)
	}
}

func (h *Handler) checkAuth(msg *clientMessage, claims *auth.Claims) error {
	msgClaims, err := h.tokens.ValidateToken(msg.Token)
	if err != nil {
		return err
	}
	if msgClaims.Subject != claims.Subject || msgClaims.Role != claims.Role {
		return errAuthMismatch
	}
	if id, err := uuid.Parse(msg.UserID); err != nil || id != claims.UserID() {
		return errAuthMismatch
	}
	if msg.Role != claims.Role {
		return errAuthMismatch
	}
	return nil
}

func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, sess *Session) error {
	for {
		msg, err := readMessage(ctx, conn)
		if err != nil {
			return err
		}
		if msg == nil {
			continue
		}
		switch msg.Type {
		case "ping":
			h.b.reply(ctx, sess, Envelope{Type: TypePong, Timestamp: time.Now().UTC()})
		default:
			h.logger.Debug("ws: ignoring client message", "session_id", sess.ID, "type", msg.Type)
		}
	}
}

// readMessage reads one frame. A nil message with a nil error means the frame
// was not valid JSON and should be skipped.
func readMessage(ctx context.Context, conn *websocket.Conn) (*clientMessage, error) {
	typ, data, err := conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	if typ != websocket.MessageText {
		return nil, nil
	}
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, nil //nolint:nilerr // malformed client frames are dropped
	}
	return &msg, nil
}
