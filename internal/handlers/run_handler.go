package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/malgorath/cyberbrain/internal/launcher"
	"github.com/malgorath/cyberbrain/internal/store"
	"github.com/malgorath/cyberbrain/internal/store/models"
)

// RunHandler handles run-related HTTP requests
type RunHandler struct {
	BaseHandler
	store    store.Store
	launcher *launcher.Launcher
}

// NewRunHandler creates a new run handler
func NewRunHandler(s store.Store, l *launcher.Launcher) *RunHandler {
	return &RunHandler{store: s, launcher: l}
}

// JobSummary is the job view embedded in run responses.
type JobSummary struct {
	JobID        string     `json:"job_id"`
	Kind         string     `json:"kind"`
	Status       string     `json:"status"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	ErrorKind    string     `json:"error_kind,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// RunSummary is the run view returned by listing endpoints. Report bodies
// are deliberately absent; /runs/{id}/report serves those.
type RunSummary struct {
	RunID            string       `json:"run_id"`
	DirectiveID      *string      `json:"directive_id,omitempty"`
	Status           string       `json:"status"`
	ApprovalStatus   string       `json:"approval_status"`
	WorkerHostID     *string      `json:"worker_host_id,omitempty"`
	JobCount         int          `json:"job_count"`
	Jobs             []JobSummary `json:"jobs,omitempty"`
	PromptTokens     int64        `json:"prompt_tokens"`
	CompletionTokens int64        `json:"completion_tokens"`
	TotalTokens      int64        `json:"total_tokens"`
	CreatedAt        time.Time    `json:"created_at"`
	StartedAt        *time.Time   `json:"started_at,omitempty"`
	EndedAt          *time.Time   `json:"ended_at,omitempty"`
}

func summarizeRun(run *models.Run, includeJobs bool) RunSummary {
	summary := RunSummary{
		RunID:            run.RunID,
		DirectiveID:      run.DirectiveID,
		Status:           run.Status,
		ApprovalStatus:   run.ApprovalStatus,
		WorkerHostID:     run.WorkerHostID,
		JobCount:         len(run.Jobs),
		PromptTokens:     run.PromptTokens,
		CompletionTokens: run.CompletionTokens,
		TotalTokens:      run.TotalTokens,
		CreatedAt:        run.CreatedAt,
		StartedAt:        run.StartedAt,
		EndedAt:          run.EndedAt,
	}
	if includeJobs {
		for _, j := range run.Jobs {
			summary.Jobs = append(summary.Jobs, JobSummary{
				JobID:        j.JobID,
				Kind:         j.Kind,
				Status:       j.Status,
				StartedAt:    j.StartedAt,
				EndedAt:      j.EndedAt,
				ErrorKind:    j.ErrorKind,
				ErrorMessage: j.ErrorMessage,
			})
		}
	}
	return summary
}

// LaunchRun handles POST /api/v1/runs/launch
func (h *RunHandler) LaunchRun(w http.ResponseWriter, r *http.Request) {
	var req launcher.LaunchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithKind(w, store.KindValidation, "invalid request body")
		return
	}

	run, err := h.launcher.Launch(r.Context(), req)
	if err != nil {
		h.respondWithError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusCreated, summarizeRun(run, true))
}

// ListRuns handles GET /api/v1/runs with status and since filters
func (h *RunHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)

	filters := store.RunFilters{Status: r.URL.Query().Get("status")}
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			h.respondWithKind(w, store.KindValidation, "since must be RFC3339")
			return
		}
		filters.Since = &t
	}

	runs, err := h.store.ListRuns(r.Context(), filters, limit, offset)
	if err != nil {
		h.respondWithError(w, err)
		return
	}

	summaries := make([]RunSummary, 0, len(runs))
	for i := range runs {
		summaries = append(summaries, summarizeRun(&runs[i], false))
	}
	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  summaries,
		"count": len(summaries),
	})
}

// GetRun handles GET /api/v1/runs/{id}
func (h *RunHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.store.GetRunByID(r.Context(), h.getID(r, "run_id"))
	if err != nil {
		h.respondWithError(w, store.AsKind(err, store.KindRunNotFound))
		return
	}
	h.respondWithJSON(w, http.StatusOK, summarizeRun(run, true))
}

// GetRunReport handles GET /api/v1/runs/{id}/report. Empty until terminal,
// byte-stable afterwards.
func (h *RunHandler) GetRunReport(w http.ResponseWriter, r *http.Request) {
	run, err := h.store.GetRunByID(r.Context(), h.getID(r, "run_id"))
	if err != nil {
		h.respondWithError(w, store.AsKind(err, store.KindRunNotFound))
		return
	}

	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"run_id":          run.RunID,
		"status":          run.Status,
		"terminal":        run.IsTerminal(),
		"report_markdown": run.ReportMarkdown,
		"report_json":     run.ReportJSON,
	})
}

// SinceLastSuccess handles GET /api/v1/runs/since-last-success: the most
// recent successful run plus everything that ended after it, including
// still-running runs.
func (h *RunHandler) SinceLastSuccess(w http.ResponseWriter, r *http.Request) {
	last, err := h.store.GetLastSuccessfulRun(r.Context())
	if err != nil {
		if err == store.ErrNotFound {
			h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
				"last_success": nil,
				"runs_after":   []RunSummary{},
			})
			return
		}
		h.respondWithError(w, err)
		return
	}

	after, err := h.store.ListRunsEndedAfter(r.Context(), *last.EndedAt)
	if err != nil {
		h.respondWithError(w, err)
		return
	}

	summaries := make([]RunSummary, 0, len(after))
	for i := range after {
		if after[i].RunID == last.RunID {
			continue
		}
		summaries = append(summaries, summarizeRun(&after[i], false))
	}

	lastSummary := summarizeRun(last, true)
	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"last_success": lastSummary,
		"runs_after":   summaries,
	})
}

// CancelRun handles PUT /api/v1/runs/{id}/cancel. Cancelling a terminal run
// is a no-op returning current state.
func (h *RunHandler) CancelRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.store.CancelRun(r.Context(), h.getID(r, "run_id"))
	if err != nil {
		h.respondWithError(w, store.AsKind(err, store.KindRunNotFound))
		return
	}
	h.respondWithJSON(w, http.StatusOK, summarizeRun(run, true))
}

// ListRunArtifacts handles GET /api/v1/runs/{id}/artifacts. Metadata only.
func (h *RunHandler) ListRunArtifacts(w http.ResponseWriter, r *http.Request) {
	runID := h.getID(r, "run_id")
	if _, err := h.store.GetRunByID(r.Context(), runID); err != nil {
		h.respondWithError(w, store.AsKind(err, store.KindRunNotFound))
		return
	}

	artifacts, err := h.store.ListRunArtifacts(r.Context(), runID)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"artifacts": artifacts,
		"count":     len(artifacts),
	})
}

// ListRunAudits handles GET /api/v1/runs/{id}/audit
func (h *RunHandler) ListRunAudits(w http.ResponseWriter, r *http.Request) {
	runID := h.getID(r, "run_id")
	audits, err := h.store.ListWorkerAuditsByRun(r.Context(), runID)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"audits": audits,
		"count":  len(audits),
	})
}
