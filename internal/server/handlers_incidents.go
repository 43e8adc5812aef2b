package server

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/beacon-ops/beacon/internal/ctxutil"
	"github.com/beacon-ops/beacon/internal/incident"
	"github.com/beacon-ops/beacon/internal/model"
)

// incidentRequest decodes the optional body and resolves the actor and the
// path id shared by every incident endpoint. It writes the error response
// itself and returns false when the request cannot proceed.
func (h *Handlers) incidentRequest(w http.ResponseWriter, r *http.Request, body any) (model.Actor, uuid.UUID, bool) {
	actor, ok := ctxutil.ActorFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "missing token", nil)
		return model.Actor{}, uuid.Nil, false
	}
	id, err := parseID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error(), map[string]any{"field": "id"})
		return model.Actor{}, uuid.Nil, false
	}
	if body != nil {
		if err := decodeJSON(w, r, body, h.maxRequestBodyBytes); err != nil {
			handleDecodeError(w, r, err)
			return model.Actor{}, uuid.Nil, false
		}
	}
	return actor, id, true
}

func (h *Handlers) respondIncident(w http.ResponseWriter, r *http.Request, status int, inc model.Incident, err error) {
	if err != nil {
		h.writeIncidentError(w, r, err)
		return
	}
	writeJSON(w, r, status, inc)
}

// HandleCreateIncident handles POST /v1/incidents.
func (h *Handlers) HandleCreateIncident(w http.ResponseWriter, r *http.Request) {
	actor, ok := ctxutil.ActorFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "missing token", nil)
		return
	}
	var req model.CreateIncidentRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	inc, err := h.engine.Create(r.Context(), actor, incident.CreateInput{
		Title:       req.Title,
		Description: req.Description,
		Priority:    req.Priority,
		StationID:   req.StationID,
	})
	h.respondIncident(w, r, http.StatusCreated, inc, err)
}

// HandleListIncidents handles GET /v1/incidents. Results are limited to the
// caller's view scope.
func (h *Handlers) HandleListIncidents(w http.ResponseWriter, r *http.Request) {
	actor, ok := ctxutil.ActorFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "missing token", nil)
		return
	}
	var status *model.IncidentStatus
	if v := r.URL.Query().Get("status"); v != "" {
		s := model.IncidentStatus(v)
		if !s.Valid() {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "unknown status", map[string]any{"field": "status"})
			return
		}
		status = &s
	}
	limit, offset := queryLimit(r), queryOffset(r)
	items, err := h.engine.List(r.Context(), actor, status, limit+1, offset)
	if err != nil {
		h.writeIncidentError(w, r, err)
		return
	}
	writeList(w, r, items, limit, offset)
}

// HandleGetIncident handles GET /v1/incidents/{id}.
func (h *Handlers) HandleGetIncident(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.incidentRequest(w, r, nil)
	if !ok {
		return
	}
	inc, err := h.engine.Get(r.Context(), actor, id)
	h.respondIncident(w, r, http.StatusOK, inc, err)
}

// HandleAssignIncident handles POST /v1/incidents/{id}/assign.
func (h *Handlers) HandleAssignIncident(w http.ResponseWriter, r *http.Request) {
	var req model.AssignIncidentRequest
	actor, id, ok := h.incidentRequest(w, r, &req)
	if !ok {
		return
	}
	inc, err := h.engine.Assign(r.Context(), actor, id, req.AssignedToID, req.Notes)
	h.respondIncident(w, r, http.StatusOK, inc, err)
}

// HandleChangeStatus handles POST /v1/incidents/{id}/status.
func (h *Handlers) HandleChangeStatus(w http.ResponseWriter, r *http.Request) {
	var req model.ChangeStatusRequest
	actor, id, ok := h.incidentRequest(w, r, &req)
	if !ok {
		return
	}
	inc, err := h.engine.ChangeStatus(r.Context(), actor, id, req.Status, req.Notes)
	h.respondIncident(w, r, http.StatusOK, inc, err)
}

// HandleEscalateIncident handles POST /v1/incidents/{id}/escalate.
func (h *Handlers) HandleEscalateIncident(w http.ResponseWriter, r *http.Request) {
	var req model.EscalateIncidentRequest
	actor, id, ok := h.incidentRequest(w, r, &req)
	if !ok {
		return
	}
	inc, err := h.engine.Escalate(r.Context(), actor, id, req.Reason, req.TargetLevel)
	h.respondIncident(w, r, http.StatusOK, inc, err)
}

// HandleResolveIncident handles POST /v1/incidents/{id}/resolve.
func (h *Handlers) HandleResolveIncident(w http.ResponseWriter, r *http.Request) {
	var req model.ResolveIncidentRequest
	actor, id, ok := h.incidentRequest(w, r, &req)
	if !ok {
		return
	}
	inc, err := h.engine.Resolve(r.Context(), actor, id, req.Resolution)
	h.respondIncident(w, r, http.StatusOK, inc, err)
}

// HandleReopenIncident handles POST /v1/incidents/{id}/reopen.
func (h *Handlers) HandleReopenIncident(w http.ResponseWriter, r *http.Request) {
	var req model.ReopenIncidentRequest
	actor, id, ok := h.incidentRequest(w, r, &req)
	if !ok {
		return
	}
	inc, err := h.engine.Reopen(r.Context(), actor, id, req.ReopenReason, req.AssignedToID)
	h.respondIncident(w, r, http.StatusOK, inc, err)
}

// HandleUpvoteIncident handles POST /v1/incidents/{id}/upvote.
func (h *Handlers) HandleUpvoteIncident(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.incidentRequest(w, r, nil)
	if !ok {
		return
	}
	inc, err := h.engine.Upvote(r.Context(), actor, id)
	h.respondIncident(w, r, http.StatusOK, inc, err)
}

// HandleRegisterFollowUp handles POST /v1/incidents/{id}/follow-ups.
func (h *Handlers) HandleRegisterFollowUp(w http.ResponseWriter, r *http.Request) {
	var req model.FollowUpRequest
	actor, id, ok := h.incidentRequest(w, r, &req)
	if !ok {
		return
	}
	f, err := h.engine.RegisterFollowUp(r.Context(), actor, id, incident.FollowUpInput{
		Email: req.Email,
		Phone: req.Phone,
	})
	if err != nil {
		h.writeIncidentError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, f)
}
