// Package http provides the JSON API for the engine.
package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agora-works/agora/internal/domain/action"
	"github.com/agora-works/agora/internal/domain/change"
	"github.com/agora-works/agora/internal/domain/community"
	"github.com/agora-works/agora/internal/domain/condition"
	"github.com/agora-works/agora/internal/domain/container"
	"github.com/agora-works/agora/internal/domain/entity"
	"github.com/agora-works/agora/internal/domain/permission"
	"github.com/agora-works/agora/internal/service"
)

// maxRequestBodySize is the maximum allowed request body size (1 MB).
const maxRequestBodySize = 1 << 20

// APIHandler serves the engine's JSON API.
type APIHandler struct {
	engine *service.Engine
	logger *slog.Logger
	now    func() time.Time
}

// NewAPIHandler creates an APIHandler.
func NewAPIHandler(engine *service.Engine, logger *slog.Logger) *APIHandler {
	return &APIHandler{engine: engine, logger: logger, now: time.Now}
}

// Handler returns an http.Handler with all API routes.
func (h *APIHandler) Handler(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/actions", h.handleSubmitAction)
	mux.HandleFunc("GET /v1/actions/{id}", h.handleGetAction)
	mux.HandleFunc("GET /v1/actions/{id}/conditions", h.handleActionConditions)
	mux.HandleFunc("GET /v1/conditions/{id}", h.handleGetCondition)
	mux.HandleFunc("POST /v1/conditions/{id}/act", h.handleActOnCondition)
	mux.HandleFunc("POST /v1/containers", h.handleCreateContainer)
	mux.HandleFunc("GET /v1/containers/{id}", h.handleGetContainer)
	mux.HandleFunc("GET /v1/containers/{id}/actions", h.handleContainerActions)
	mux.HandleFunc("POST /v1/containers/{id}/retry", h.handleRetryContainer)
	mux.HandleFunc("GET /v1/changes", h.handleListChanges)

	mux.Handle("GET /healthz", healthHandler())
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return mux
}

// submitActionRequest is the JSON request body for submitting an action.
type submitActionRequest struct {
	Actor      string          `json:"actor"`
	Target     string          `json:"target"`
	ChangeType string          `json:"change_type"`
	Change     json.RawMessage `json:"change"`
}

// actionResponse is the JSON response for a single action.
type actionResponse struct {
	ID         string            `json:"id"`
	Actor      string            `json:"actor"`
	Target     string            `json:"target"`
	ChangeType string            `json:"change_type"`
	Status     string            `json:"status"`
	Resolution action.Resolution `json:"resolution"`
	Container  string            `json:"container_id,omitempty"`
	Summary    string            `json:"summary,omitempty"`
}

// toActionResponse converts a domain action to an API response.
func toActionResponse(a *action.Action) actionResponse {
	return actionResponse{
		ID:         a.ID,
		Actor:      a.Actor,
		Target:     a.Target.String(),
		ChangeType: a.Change.Type(),
		Status:     string(a.Status),
		Resolution: a.Resolution,
		Container:  a.ContainerID,
		Summary:    a.Summary,
	}
}

// handleSubmitAction submits one change through the pipeline.
// POST /v1/actions
func (h *APIHandler) handleSubmitAction(w http.ResponseWriter, r *http.Request) {
	var req submitActionRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Actor == "" || req.Target == "" || req.ChangeType == "" {
		h.respondError(w, http.StatusBadRequest, "actor, target, and change_type are required")
		return
	}
	target, err := entity.ParseRef(req.Target)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	act, err := h.engine.SubmitRaw(r.Context(), req.Actor, target, req.ChangeType, req.Change)
	if err != nil {
		// A validation failure still records the rejected action.
		if act != nil && change.IsValidation(err) {
			h.respondJSON(w, http.StatusUnprocessableEntity, toActionResponse(act))
			return
		}
		h.respondDomainError(w, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, toActionResponse(act))
}

// handleGetAction returns one action.
// GET /v1/actions/{id}
func (h *APIHandler) handleGetAction(w http.ResponseWriter, r *http.Request) {
	act, err := h.engine.GetAction(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, toActionResponse(act))
}

// conditionResponse is the JSON response for a condition instance.
type conditionResponse struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	ActionID string `json:"action_id"`
	Tier     string `json:"tier"`
	State    string `json:"state"`
}

func (h *APIHandler) toConditionResponse(inst condition.Instance) conditionResponse {
	src := inst.Source()
	return conditionResponse{
		ID:       inst.ID(),
		Type:     string(inst.Type()),
		ActionID: src.ActionID,
		Tier:     src.Tier,
		State:    inst.Describe(h.now()),
	}
}

// handleActionConditions lists the condition instances gating an action.
// GET /v1/actions/{id}/conditions
func (h *APIHandler) handleActionConditions(w http.ResponseWriter, r *http.Request) {
	instances, err := h.engine.ActionConditions(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	result := make([]conditionResponse, len(instances))
	for i, inst := range instances {
		result[i] = h.toConditionResponse(inst)
	}
	h.respondJSON(w, http.StatusOK, result)
}

// handleGetCondition returns one condition instance.
// GET /v1/conditions/{id}
func (h *APIHandler) handleGetCondition(w http.ResponseWriter, r *http.Request) {
	inst, err := h.engine.GetCondition(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, h.toConditionResponse(inst))
}

// actOnConditionRequest is the JSON request body for acting on a condition.
type actOnConditionRequest struct {
	Actor  string `json:"actor"`
	Choice string `json:"choice"`
}

// handleActOnCondition submits a choice on a condition as a sub-action.
// POST /v1/conditions/{id}/act
func (h *APIHandler) handleActOnCondition(w http.ResponseWriter, r *http.Request) {
	var req actOnConditionRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Actor == "" || req.Choice == "" {
		h.respondError(w, http.StatusBadRequest, "actor and choice are required")
		return
	}

	act, err := h.engine.ActWithChoice(r.Context(), req.Actor, r.PathValue("id"), condition.Choice(req.Choice))
	if err != nil {
		if act != nil && change.IsValidation(err) {
			h.respondJSON(w, http.StatusUnprocessableEntity, toActionResponse(act))
			return
		}
		h.respondDomainError(w, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, toActionResponse(act))
}

// proposalRequest is one member of a container creation request.
type proposalRequest struct {
	Actor      string          `json:"actor,omitempty"`
	Target     string          `json:"target"`
	ChangeType string          `json:"change_type"`
	Change     json.RawMessage `json:"change"`
}

// createContainerRequest is the JSON request body for creating a container.
type createContainerRequest struct {
	Actor           string            `json:"actor"`
	Mode            string            `json:"mode,omitempty"`
	TriggerActionID string            `json:"trigger_action_id,omitempty"`
	Proposals       []proposalRequest `json:"proposals"`
}

// containerResponse is the JSON response for a container.
type containerResponse struct {
	ID        string   `json:"id"`
	Actor     string   `json:"actor"`
	Mode      string   `json:"mode"`
	Status    string   `json:"status"`
	ActionIDs []string `json:"action_ids"`
	Trigger   string   `json:"trigger_action_id,omitempty"`
	Summary   string   `json:"summary,omitempty"`
}

func toContainerResponse(c *container.Container) containerResponse {
	return containerResponse{
		ID:        c.ID,
		Actor:     c.Actor,
		Mode:      string(c.Mode),
		Status:    string(c.Status),
		ActionIDs: c.ActionIDs,
		Trigger:   c.TriggerActionID,
		Summary:   c.Summary,
	}
}

// handleCreateContainer batches proposals into a container.
// POST /v1/containers
func (h *APIHandler) handleCreateContainer(w http.ResponseWriter, r *http.Request) {
	var req createContainerRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Actor == "" {
		h.respondError(w, http.StatusBadRequest, "actor is required")
		return
	}
	mode := container.Mode(req.Mode)
	if req.Mode == "" {
		mode = container.ModePartialApply
	}

	proposals := make([]service.Proposal, 0, len(req.Proposals))
	for _, p := range req.Proposals {
		target, err := entity.ParseRef(p.Target)
		if err != nil {
			h.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		ch, err := h.engine.DecodeChange(p.ChangeType, p.Change)
		if err != nil {
			h.respondDomainError(w, err)
			return
		}
		actor := p.Actor
		if actor == "" {
			actor = req.Actor
		}
		proposals = append(proposals, service.Proposal{Actor: actor, Target: target, Change: ch})
	}

	c, err := h.engine.CreateContainer(r.Context(), req.Actor, mode, req.TriggerActionID, proposals)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, toContainerResponse(c))
}

// handleGetContainer returns one container.
// GET /v1/containers/{id}
func (h *APIHandler) handleGetContainer(w http.ResponseWriter, r *http.Request) {
	c, err := h.engine.GetContainer(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, toContainerResponse(c))
}

// handleContainerActions lists a container's member actions.
// GET /v1/containers/{id}/actions
func (h *APIHandler) handleContainerActions(w http.ResponseWriter, r *http.Request) {
	members, err := h.engine.ContainerActions(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	result := make([]actionResponse, len(members))
	for i, act := range members {
		result[i] = toActionResponse(act)
	}
	h.respondJSON(w, http.StatusOK, result)
}

// handleRetryContainer re-runs the commit phase of a container.
// POST /v1/containers/{id}/retry
func (h *APIHandler) handleRetryContainer(w http.ResponseWriter, r *http.Request) {
	c, err := h.engine.RetryContainer(r.Context(), r.PathValue("id"))
	if err != nil && !errors.Is(err, container.ErrClosed) {
		h.respondDomainError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, toContainerResponse(c))
}

// handleListChanges returns the registered change type catalogue.
// GET /v1/changes
func (h *APIHandler) handleListChanges(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string][]string{"change_types": h.engine.ChangeTypes()})
}

// decode reads and parses a JSON request body with a size limit.
func (h *APIHandler) decode(w http.ResponseWriter, r *http.Request, out any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer func() { _ = r.Body.Close() }()

	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// respondDomainError maps domain errors onto HTTP statuses.
func (h *APIHandler) respondDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, action.ErrNotFound),
		errors.Is(err, condition.ErrNotFound),
		errors.Is(err, container.ErrNotFound),
		errors.Is(err, permission.ErrNotFound),
		errors.Is(err, community.ErrNotFound),
		errors.Is(err, entity.ErrResourceNotFound):
		h.respondError(w, http.StatusNotFound, err.Error())
	case change.IsValidation(err),
		errors.Is(err, change.ErrUnknownType),
		errors.Is(err, condition.ErrUnknownType),
		errors.Is(err, condition.ErrInvalidChoice),
		errors.Is(err, container.ErrEmpty):
		h.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, condition.ErrAlreadyResolved),
		errors.Is(err, condition.ErrSelfApproval),
		errors.Is(err, action.ErrTerminal):
		h.respondError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error("request failed", "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal error")
	}
}

// respondJSON writes a JSON response.
func (h *APIHandler) respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

// respondError writes a JSON error response.
func (h *APIHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}

// healthHandler responds with 200 OK for health checks.
func healthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
}
