package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/malgorath/cyberbrain/internal/scheduler"
	"github.com/malgorath/cyberbrain/internal/store"
	"github.com/malgorath/cyberbrain/internal/store/models"
)

// ScheduleHandler handles schedule CRUD and lifecycle actions
type ScheduleHandler struct {
	BaseHandler
	store store.Store
}

// NewScheduleHandler creates a schedule handler
func NewScheduleHandler(s store.Store) *ScheduleHandler {
	return &ScheduleHandler{store: s}
}

// ScheduleRequest is the create/update payload.
type ScheduleRequest struct {
	Name                string  `json:"name"`
	JobKind             string  `json:"job_kind"`
	DirectiveID         *string `json:"directive_id,omitempty"`
	CustomDirectiveText string  `json:"custom_directive_text,omitempty"`
	Kind                string  `json:"kind"`
	IntervalMinutes     *int    `json:"interval_minutes,omitempty"`
	CronExpr            *string `json:"cron_expr,omitempty"`
	Timezone            string  `json:"timezone,omitempty"`
	Task3Scope          string  `json:"task3_scope,omitempty"`
	MaxGlobal           *int    `json:"max_global,omitempty"`
	MaxPerJob           *int    `json:"max_per_job,omitempty"`
	Enabled             *bool   `json:"enabled,omitempty"`
}

func (req *ScheduleRequest) validate() string {
	if req.Name == "" {
		return "name is required"
	}
	if !models.IsKnownTaskKind(req.JobKind) {
		return "unknown job kind"
	}
	if req.DirectiveID == nil && req.CustomDirectiveText == "" {
		return "directive_id or custom_directive_text is required"
	}
	switch req.Kind {
	case models.ScheduleKindInterval:
		if req.IntervalMinutes == nil || *req.IntervalMinutes < 0 {
			return "interval schedules require interval_minutes"
		}
		if req.CronExpr != nil {
			return "interval schedules must not set cron_expr"
		}
	case models.ScheduleKindCron:
		if req.CronExpr == nil || *req.CronExpr == "" {
			return "cron schedules require cron_expr"
		}
		if req.IntervalMinutes != nil {
			return "cron schedules must not set interval_minutes"
		}
	default:
		return "kind must be interval or cron"
	}
	if req.Task3Scope != "" && req.Task3Scope != models.ScopeAllowlist && req.Task3Scope != models.ScopeAll {
		return "task3_scope must be allowlist or all"
	}
	return ""
}

func (req *ScheduleRequest) apply(s *models.Schedule) {
	s.Name = req.Name
	s.JobKind = req.JobKind
	s.DirectiveID = req.DirectiveID
	s.CustomDirectiveText = req.CustomDirectiveText
	s.Kind = req.Kind
	s.IntervalMinutes = req.IntervalMinutes
	s.CronExpr = req.CronExpr
	if req.Timezone != "" {
		s.Timezone = req.Timezone
	} else if s.Timezone == "" {
		s.Timezone = "UTC"
	}
	if req.Task3Scope != "" {
		s.Task3Scope = req.Task3Scope
	} else if s.Task3Scope == "" {
		s.Task3Scope = models.ScopeAllowlist
	}
	s.MaxGlobal = req.MaxGlobal
	s.MaxPerJob = req.MaxPerJob
	if req.Enabled != nil {
		s.Enabled = *req.Enabled
	}
}

// CreateSchedule handles POST /api/v1/schedules
func (h *ScheduleHandler) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithKind(w, store.KindValidation, "invalid request body")
		return
	}
	if msg := req.validate(); msg != "" {
		h.respondWithKind(w, store.KindValidation, msg)
		return
	}
	if req.DirectiveID != nil {
		if _, err := h.store.GetDirectiveByID(r.Context(), *req.DirectiveID); err != nil {
			h.respondWithError(w, store.AsKind(err, store.KindDirectiveNotFound))
			return
		}
	}

	s := &models.Schedule{Enabled: true}
	req.apply(s)

	// First firing computed from now
	now := time.Now().UTC()
	next, err := scheduler.NextRunTime(s, now)
	if err != nil {
		h.respondWithKind(w, store.KindValidation, err.Error())
		return
	}
	if s.IsOneShot() {
		next = now
	}
	s.NextRunAt = &next

	if err := h.store.CreateSchedule(r.Context(), s); err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusCreated, s)
}

// GetSchedule handles GET /api/v1/schedules/{id}
func (h *ScheduleHandler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	s, err := h.store.GetScheduleByID(r.Context(), h.getID(r, "schedule_id"))
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, s)
}

// UpdateSchedule handles PUT /api/v1/schedules/{id}
func (h *ScheduleHandler) UpdateSchedule(w http.ResponseWriter, r *http.Request) {
	s, err := h.store.GetScheduleByID(r.Context(), h.getID(r, "schedule_id"))
	if err != nil {
		h.respondWithError(w, err)
		return
	}

	var req ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithKind(w, store.KindValidation, "invalid request body")
		return
	}
	if msg := req.validate(); msg != "" {
		h.respondWithKind(w, store.KindValidation, msg)
		return
	}

	req.apply(s)
	if err := h.store.UpdateSchedule(r.Context(), s); err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, s)
}

// DeleteSchedule handles DELETE /api/v1/schedules/{id}
func (h *ScheduleHandler) DeleteSchedule(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteSchedule(r.Context(), h.getID(r, "schedule_id")); err != nil {
		h.respondWithError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListSchedules handles GET /api/v1/schedules
func (h *ScheduleHandler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)
	schedules, err := h.store.ListSchedules(r.Context(), limit, offset)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"schedules": schedules,
		"count":     len(schedules),
	})
}

// RunNow handles POST /api/v1/schedules/{id}/run-now: marks the schedule
// due immediately. A disabled schedule is a validation no-op.
func (h *ScheduleHandler) RunNow(w http.ResponseWriter, r *http.Request) {
	s, err := h.store.GetScheduleByID(r.Context(), h.getID(r, "schedule_id"))
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	if !s.Enabled {
		h.respondWithKind(w, store.KindValidation, "schedule is disabled")
		return
	}

	now := time.Now().UTC()
	if err := h.store.SetScheduleNextRun(r.Context(), s.ScheduleID, nil, &now); err != nil {
		h.respondWithError(w, err)
		return
	}
	s.NextRunAt = &now
	h.respondWithJSON(w, http.StatusOK, s)
}

// SetEnabled handles POST /api/v1/schedules/{id}/enable and /disable.
func (h *ScheduleHandler) SetEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := h.store.GetScheduleByID(r.Context(), h.getID(r, "schedule_id"))
		if err != nil {
			h.respondWithError(w, err)
			return
		}
		s.Enabled = enabled
		if err := h.store.UpdateSchedule(r.Context(), s); err != nil {
			h.respondWithError(w, err)
			return
		}
		h.respondWithJSON(w, http.StatusOK, s)
	}
}

// History handles GET /api/v1/schedules/{id}/history
func (h *ScheduleHandler) History(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)
	history, err := h.store.ListScheduleHistory(r.Context(), h.getID(r, "schedule_id"), limit, offset)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"history": history,
		"count":   len(history),
	})
}
