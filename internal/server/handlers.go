package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/beacon-ops/beacon/internal/auth"
	"github.com/beacon-ops/beacon/internal/authz"
	"github.com/beacon-ops/beacon/internal/broadcast"
	"github.com/beacon-ops/beacon/internal/ctxutil"
	"github.com/beacon-ops/beacon/internal/incident"
	"github.com/beacon-ops/beacon/internal/model"
)

// Store is the persistence the handlers use directly. Incident reads and
// writes go through the engine instead.
type Store interface {
	Ping(ctx context.Context) error
	CreateUser(ctx context.Context, u model.User) error
	GetUserByEmail(ctx context.Context, email string) (model.User, error)
	GetStation(ctx context.Context, id uuid.UUID) (model.Station, error)
	ListNotifications(ctx context.Context, userID uuid.UUID, limit, offset int) ([]model.Notification, error)
	CreateInvitation(ctx context.Context, inv model.Invitation) error
}

// Auditor records non-incident actions such as invitations.
type Auditor interface {
	RecordAction(ctx context.Context, rec model.AuditRecord)
}

// SessionCounter reports the number of live real-time sessions.
type SessionCounter interface {
	Count() int
}

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	engine              *incident.Engine
	store               Store
	jwtMgr              *auth.JWTManager
	sessions            SessionCounter
	auditor             Auditor
	ws                  *broadcast.Handler
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
	invitationTTL       time.Duration
	inMemory            bool
	development         bool
}

// HandlersDeps holds all dependencies for constructing Handlers.
// Optional (nil-safe): Auditor, WS, Sessions.
type HandlersDeps struct {
	Engine              *incident.Engine
	Store               Store
	JWTMgr              *auth.JWTManager
	Sessions            SessionCounter
	Auditor             Auditor
	WS                  *broadcast.Handler
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
	InvitationTTL       time.Duration
	InMemory            bool
	Development         bool
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	h := &Handlers{
		engine:              d.Engine,
		store:               d.Store,
		jwtMgr:              d.JWTMgr,
		sessions:            d.Sessions,
		auditor:             d.Auditor,
		ws:                  d.WS,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
		invitationTTL:       d.InvitationTTL,
		inMemory:            d.InMemory,
		development:         d.Development,
	}
	if h.maxRequestBodyBytes <= 0 {
		h.maxRequestBodyBytes = 1 << 20
	}
	if h.invitationTTL <= 0 {
		h.invitationTTL = 7 * 24 * time.Hour
	}
	return h
}

// HandleAuthToken handles POST /auth/token.
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	var req model.AuthTokenRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "email and password are required", nil)
		return
	}

	user, err := h.store.GetUserByEmail(r.Context(), strings.TrimSpace(req.Email))
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			h.writeInternalError(w, r, "failed to load user", err)
			return
		}
		// Same cost as a real check so response time does not reveal
		// which emails exist.
		auth.DummyVerify()
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials", nil)
		return
	}
	if user.PasswordHash == nil {
		auth.DummyVerify()
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials", nil)
		return
	}
	ok, err := auth.VerifyPassword(req.Password, *user.PasswordHash)
	if err != nil || !ok {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials", nil)
		return
	}

	token, expiresAt, err := h.jwtMgr.IssueToken(user)
	if err != nil {
		h.writeInternalError(w, r, "failed to issue token", err)
		return
	}
	writeJSON(w, r, http.StatusOK, model.AuthTokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		User:      user,
	})
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	httpStatus := http.StatusOK
	dbStatus := "connected"
	if h.inMemory {
		dbStatus = "in_memory"
	} else if err := h.store.Ping(r.Context()); err != nil {
		dbStatus = "disconnected"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	sessions := 0
	if h.sessions != nil {
		sessions = h.sessions.Count()
	}
	writeJSON(w, r, httpStatus, model.HealthResponse{
		Status:   status,
		Version:  h.version,
		Database: dbStatus,
		Sessions: sessions,
		Uptime:   int64(time.Since(h.startedAt).Seconds()),
	})
}

// HandleWebSocket handles GET /v1/ws. The auth middleware has already
// validated the upgrade token.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	claims := ctxutil.ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "missing token", nil)
		return
	}
	if h.ws == nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeInternalError, "real-time channel disabled", nil)
		return
	}
	// The server's read/write timeouts would otherwise cut the socket.
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})
	h.ws.Serve(w, r, claims)
}

// HandleListNotifications handles GET /v1/notifications.
func (h *Handlers) HandleListNotifications(w http.ResponseWriter, r *http.Request) {
	actor, ok := ctxutil.ActorFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "missing token", nil)
		return
	}
	limit, offset := queryLimit(r), queryOffset(r)
	items, err := h.store.ListNotifications(r.Context(), actor.UserID, limit+1, offset)
	if err != nil {
		h.writeInternalError(w, r, "failed to list notifications", err)
		return
	}
	writeList(w, r, items, limit, offset)
}

// HandleCreateInvitation handles POST /v1/invitations.
func (h *Handlers) HandleCreateInvitation(w http.ResponseWriter, r *http.Request) {
	actor, ok := ctxutil.ActorFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "missing token", nil)
		return
	}
	var req model.CreateInvitationRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	addr, err := mail.ParseAddress(strings.TrimSpace(req.Email))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "email is invalid", map[string]any{"field": "email"})
		return
	}
	if !req.Role.Valid() {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "unknown role", map[string]any{"field": "role"})
		return
	}

	scope, verr := h.invitationScope(r.Context(), req)
	if verr != nil {
		var ie *invitationError
		if errors.As(verr, &ie) {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, ie.msg, map[string]any{"field": ie.field})
			return
		}
		h.writeInternalError(w, r, "failed to resolve invitation scope", verr)
		return
	}

	if d := authz.CanInvite(actor, req.Role, scope); !d.Allowed {
		writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden, "not permitted to invite this role here",
			map[string]any{"reason": string(d.Reason)})
		return
	}

	token, digest, err := auth.NewInvitationToken()
	if err != nil {
		h.writeInternalError(w, r, "failed to create invitation token", err)
		return
	}
	now := time.Now().UTC()
	inv := model.Invitation{
		ID:             uuid.New(),
		Email:          strings.ToLower(addr.Address),
		Role:           req.Role,
		OrganizationID: scope.OrganizationID,
		StationID:      scope.StationID,
		InvitedBy:      actor.UserID,
		TokenHash:      digest,
		ExpiresAt:      now.Add(h.invitationTTL),
		CreatedAt:      now,
	}
	if err := h.store.CreateInvitation(r.Context(), inv); err != nil {
		h.writeInternalError(w, r, "failed to store invitation", err)
		return
	}
	if h.auditor != nil {
		h.auditor.RecordAction(r.Context(), model.AuditRecord{
			ActorID:      actor.UserID,
			Action:       model.ActionInvite,
			ResourceType: model.ResourceInvitation,
			ResourceID:   inv.ID.String(),
			Detail: map[string]any{
				"role":       string(inv.Role),
				"actor_role": string(actor.Role),
			},
			Timestamp: now,
		})
	}
	writeJSON(w, r, http.StatusCreated, model.CreateInvitationResponse{Invitation: inv, Token: token})
}

type invitationError struct{ field, msg string }

func (e *invitationError) Error() string { return e.msg }

// invitationScope derives where the invitee will belong. Station roles need
// a station, whose organization wins over any organizationId given.
// super_admin needs an organization.
func (h *Handlers) invitationScope(ctx context.Context, req model.CreateInvitationRequest) (model.Scope, error) {
	var scope model.Scope
	if req.StationID != nil && *req.StationID != uuid.Nil {
		st, err := h.store.GetStation(ctx, *req.StationID)
		if err != nil {
			if errors.Is(err, model.ErrNotFound) {
				return model.Scope{}, &invitationError{"stationId", "unknown station"}
			}
			return model.Scope{}, err
		}
		if req.OrganizationID != nil && *req.OrganizationID != st.OrganizationID {
			return model.Scope{}, &invitationError{"organizationId", "station belongs to a different organization"}
		}
		orgID, stationID := st.OrganizationID, st.ID
		scope.OrganizationID, scope.StationID = &orgID, &stationID
	} else if req.OrganizationID != nil && *req.OrganizationID != uuid.Nil {
		orgID := *req.OrganizationID
		scope.OrganizationID = &orgID
	}

	switch {
	case req.Role.StationScoped() && scope.StationID == nil:
		return model.Scope{}, &invitationError{"stationId", "stationId is required for station roles"}
	case req.Role == model.RoleSuperAdmin && scope.OrganizationID == nil:
		return model.Scope{}, &invitationError{"organizationId", "organizationId is required for super_admin"}
	case req.Role == model.RoleSuperAdmin:
		scope.StationID = nil
	}
	return scope, nil
}

// SeedAdmin creates the initial main admin when no account with the given
// email exists. An empty email skips seeding.
func (h *Handlers) SeedAdmin(ctx context.Context, email, password string) error {
	if email == "" {
		h.logger.Info("no admin email configured, skipping admin seed")
		return nil
	}
	if _, err := h.store.GetUserByEmail(ctx, email); err == nil {
		h.logger.Info("admin account exists, skipping admin seed")
		return nil
	} else if !errors.Is(err, model.ErrNotFound) {
		return fmt.Errorf("seed admin: lookup: %w", err)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("seed admin: hash password: %w", err)
	}
	err = h.store.CreateUser(ctx, model.User{
		ID:           uuid.New(),
		Email:        strings.ToLower(email),
		Name:         "Main Admin",
		Role:         model.RoleMainAdmin,
		PasswordHash: &hash,
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("seed admin: create user: %w", err)
	}
	h.logger.Info("seeded initial main admin", "email", email)
	return nil
}

// writeInternalError logs err and writes a 500. The cause is only exposed
// in development mode.
func (h *Handlers) writeInternalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.Error(msg, "error", err, "path", r.URL.Path,
		"request_id", ctxutil.RequestIDFromContext(r.Context()))
	var details map[string]any
	if h.development {
		details = map[string]any{"detail": err.Error()}
	}
	writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, msg, details)
}

// writeIncidentError maps an engine failure to its HTTP status.
func (h *Handlers) writeIncidentError(w http.ResponseWriter, r *http.Request, err error) {
	var ie *incident.Error
	if !errors.As(err, &ie) {
		h.writeInternalError(w, r, "internal server error", err)
		return
	}
	switch ie.Kind {
	case incident.KindValidation:
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, ie.Message, ie.Details)
	case incident.KindForbidden:
		writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden, ie.Message, ie.Details)
	case incident.KindNotFound:
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, ie.Message, ie.Details)
	case incident.KindInvalidTransition:
		writeError(w, r, http.StatusConflict, model.ErrCodeInvalidTransition, ie.Message, ie.Details)
	default:
		h.writeInternalError(w, r, ie.Message, err)
	}
}

func parseID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid incident id: %w", err)
	}
	return id, nil
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func queryLimit(r *http.Request) int {
	n := queryInt(r, "limit", defaultListLimit)
	if n <= 0 {
		return defaultListLimit
	}
	return min(n, maxListLimit)
}

func queryOffset(r *http.Request) int {
	return max(queryInt(r, "offset", 0), 0)
}
