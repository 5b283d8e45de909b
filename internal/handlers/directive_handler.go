package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/malgorath/cyberbrain/internal/store"
	"github.com/malgorath/cyberbrain/internal/store/models"
)

// DirectiveHandler handles directive CRUD
type DirectiveHandler struct {
	BaseHandler
	store store.Store
}

// NewDirectiveHandler creates a directive handler
func NewDirectiveHandler(s store.Store) *DirectiveHandler {
	return &DirectiveHandler{store: s}
}

// DirectiveRequest is the create/update payload.
type DirectiveRequest struct {
	Name              string                 `json:"name"`
	Description       string                 `json:"description,omitempty"`
	TaskConfig        map[string]interface{} `json:"task_config,omitempty"`
	TaskList          []string               `json:"task_list"`
	ApprovalRequired  *bool                  `json:"approval_required,omitempty"`
	MaxConcurrentRuns *int                   `json:"max_concurrent_runs,omitempty"`
	Enabled           *bool                  `json:"enabled,omitempty"`
}

func (req *DirectiveRequest) validate() string {
	if req.Name == "" {
		return "name is required"
	}
	if len(req.TaskList) == 0 {
		return "task_list must be non-empty"
	}
	for _, kind := range req.TaskList {
		if !models.IsKnownTaskKind(kind) {
			return "unknown task kind " + kind
		}
	}
	return ""
}

// CreateDirective handles POST /api/v1/directives
func (h *DirectiveHandler) CreateDirective(w http.ResponseWriter, r *http.Request) {
	var req DirectiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithKind(w, store.KindValidation, "invalid request body")
		return
	}
	if msg := req.validate(); msg != "" {
		h.respondWithKind(w, store.KindValidation, msg)
		return
	}

	directive := &models.Directive{
		Name:              req.Name,
		Description:       req.Description,
		TaskConfig:        req.TaskConfig,
		TaskList:          req.TaskList,
		MaxConcurrentRuns: 5,
		Enabled:           true,
		Version:           1,
	}
	if req.ApprovalRequired != nil {
		directive.ApprovalRequired = *req.ApprovalRequired
	}
	if req.MaxConcurrentRuns != nil {
		directive.MaxConcurrentRuns = *req.MaxConcurrentRuns
	}
	if req.Enabled != nil {
		directive.Enabled = *req.Enabled
	}

	if err := h.store.CreateDirective(r.Context(), directive); err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusCreated, directive)
}

// GetDirective handles GET /api/v1/directives/{id}
func (h *DirectiveHandler) GetDirective(w http.ResponseWriter, r *http.Request) {
	directive, err := h.store.GetDirectiveByID(r.Context(), h.getID(r, "directive_id"))
	if err != nil {
		h.respondWithError(w, store.AsKind(err, store.KindDirectiveNotFound))
		return
	}
	h.respondWithJSON(w, http.StatusOK, directive)
}

// UpdateDirective handles PUT /api/v1/directives/{id}. Runs that already
// snapshotted the directive are unaffected.
func (h *DirectiveHandler) UpdateDirective(w http.ResponseWriter, r *http.Request) {
	directive, err := h.store.GetDirectiveByID(r.Context(), h.getID(r, "directive_id"))
	if err != nil {
		h.respondWithError(w, store.AsKind(err, store.KindDirectiveNotFound))
		return
	}

	var req DirectiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithKind(w, store.KindValidation, "invalid request body")
		return
	}
	if msg := req.validate(); msg != "" {
		h.respondWithKind(w, store.KindValidation, msg)
		return
	}

	directive.Name = req.Name
	directive.Description = req.Description
	directive.TaskConfig = req.TaskConfig
	directive.TaskList = req.TaskList
	if req.ApprovalRequired != nil {
		directive.ApprovalRequired = *req.ApprovalRequired
	}
	if req.MaxConcurrentRuns != nil {
		directive.MaxConcurrentRuns = *req.MaxConcurrentRuns
	}
	if req.Enabled != nil {
		directive.Enabled = *req.Enabled
	}

	if err := h.store.UpdateDirective(r.Context(), directive); err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, directive)
}

// DeleteDirective handles DELETE /api/v1/directives/{id}
func (h *DirectiveHandler) DeleteDirective(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteDirective(r.Context(), h.getID(r, "directive_id")); err != nil {
		h.respondWithError(w, store.AsKind(err, store.KindDirectiveNotFound))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListDirectives handles GET /api/v1/directives
func (h *DirectiveHandler) ListDirectives(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)
	directives, err := h.store.ListDirectives(r.Context(), limit, offset)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"directives": directives,
		"count":      len(directives),
	})
}
