package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/catalystcommunity/app-utils-go/logging"
	"github.com/malgorath/cyberbrain/internal/launcher"
	"github.com/malgorath/cyberbrain/internal/store"
)

// MCPHandler is the streaming tool surface: one POST names a tool and its
// params, the response stream carries exactly one event with the tool's
// JSON result, then the terminator. No incremental progress events.
type MCPHandler struct {
	BaseHandler
	store    store.Store
	launcher *launcher.Launcher
}

// NewMCPHandler creates the tool surface handler
func NewMCPHandler(s store.Store, l *launcher.Launcher) *MCPHandler {
	return &MCPHandler{store: s, launcher: l}
}

// toolRequest is the request body at /mcp.
type toolRequest struct {
	Tool   string          `json:"tool"`
	Params json.RawMessage `json:"params"`
}

// toolFunc executes one tool against the same operations the REST surface
// uses.
type toolFunc func(ctx context.Context, params json.RawMessage) (interface{}, error)

// Handle serves POST /mcp.
func (h *MCPHandler) Handle(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	var req toolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithKind(w, store.KindValidation, "invalid request body")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	tool, known := h.tools()[req.Tool]
	if !known {
		h.sendEvent(w, flusher, "error", ErrorResponse{
			Error:   store.KindValidation,
			Message: fmt.Sprintf("unknown tool %q", req.Tool),
		})
		h.sendTerminator(w, flusher)
		return
	}

	result, err := tool(r.Context(), req.Params)
	if err != nil {
		logging.Log.WithError(err).WithField("tool", req.Tool).Warn("Tool call failed")
		h.sendEvent(w, flusher, "error", ErrorResponse{
			Error:   store.KindOf(err),
			Message: err.Error(),
		})
		h.sendTerminator(w, flusher)
		return
	}

	h.sendEvent(w, flusher, "result", result)
	h.sendTerminator(w, flusher)
}

// sendEvent writes one SSE event with a JSON payload.
func (h *MCPHandler) sendEvent(w http.ResponseWriter, flusher http.Flusher, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte(`{"error":"internal"}`)
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	flusher.Flush()
}

// sendTerminator closes the single-shot stream.
func (h *MCPHandler) sendTerminator(w http.ResponseWriter, flusher http.Flusher) {
	fmt.Fprint(w, "event: done\ndata: {}\n\n")
	flusher.Flush()
}

// tools maps recognized tool identifiers onto their implementations. The
// set mirrors the REST surface over the same store operations.
func (h *MCPHandler) tools() map[string]toolFunc {
	return map[string]toolFunc{
		"launch_run": func(ctx context.Context, params json.RawMessage) (interface{}, error) {
			var req launcher.LaunchRequest
			if len(params) > 0 {
				if err := json.Unmarshal(params, &req); err != nil {
					return nil, store.NewKindError(store.KindValidation, "invalid params")
				}
			}
			run, err := h.launcher.Launch(ctx, req)
			if err != nil {
				return nil, err
			}
			return summarizeRun(run, true), nil
		},

		"list_runs": func(ctx context.Context, params json.RawMessage) (interface{}, error) {
			var p struct {
				Status string `json:"status"`
				Limit  int    `json:"limit"`
			}
			if len(params) > 0 {
				if err := json.Unmarshal(params, &p); err != nil {
					return nil, store.NewKindError(store.KindValidation, "invalid params")
				}
			}
			if p.Limit <= 0 || p.Limit > 500 {
				p.Limit = 50
			}
			runs, err := h.store.ListRuns(ctx, store.RunFilters{Status: p.Status}, p.Limit, 0)
			if err != nil {
				return nil, err
			}
			summaries := make([]RunSummary, 0, len(runs))
			for i := range runs {
				summaries = append(summaries, summarizeRun(&runs[i], false))
			}
			return summaries, nil
		},

		"get_run": func(ctx context.Context, params json.RawMessage) (interface{}, error) {
			runID, err := paramID(params, "run_id")
			if err != nil {
				return nil, err
			}
			run, err := h.store.GetRunByID(ctx, runID)
			if err != nil {
				return nil, store.AsKind(err, store.KindRunNotFound)
			}
			return summarizeRun(run, true), nil
		},

		"get_run_report": func(ctx context.Context, params json.RawMessage) (interface{}, error) {
			runID, err := paramID(params, "run_id")
			if err != nil {
				return nil, err
			}
			run, err := h.store.GetRunByID(ctx, runID)
			if err != nil {
				return nil, store.AsKind(err, store.KindRunNotFound)
			}
			return map[string]interface{}{
				"run_id":          run.RunID,
				"status":          run.Status,
				"terminal":        run.IsTerminal(),
				"report_markdown": run.ReportMarkdown,
				"report_json":     run.ReportJSON,
			}, nil
		},

		"cancel_run": func(ctx context.Context, params json.RawMessage) (interface{}, error) {
			runID, err := paramID(params, "run_id")
			if err != nil {
				return nil, err
			}
			run, err := h.store.CancelRun(ctx, runID)
			if err != nil {
				return nil, store.AsKind(err, store.KindRunNotFound)
			}
			return summarizeRun(run, true), nil
		},

		"list_directives": func(ctx context.Context, params json.RawMessage) (interface{}, error) {
			return h.store.ListDirectives(ctx, 100, 0)
		},

		"get_directive": func(ctx context.Context, params json.RawMessage) (interface{}, error) {
			id, err := paramID(params, "directive_id")
			if err != nil {
				return nil, err
			}
			directive, err := h.store.GetDirectiveByID(ctx, id)
			if err != nil {
				return nil, store.AsKind(err, store.KindDirectiveNotFound)
			}
			return directive, nil
		},

		"get_allowlist": func(ctx context.Context, params json.RawMessage) (interface{}, error) {
			return h.store.ListContainerAllowlist(ctx, false)
		},

		"set_allowlist": func(ctx context.Context, params json.RawMessage) (interface{}, error) {
			var req ContainerEntryRequest
			if err := json.Unmarshal(params, &req); err != nil {
				return nil, store.NewKindError(store.KindValidation, "invalid params")
			}
			if req.ContainerID == "" || req.Name == "" {
				return nil, store.NewKindError(store.KindValidation, "container_id and name are required")
			}
			entry := req.toModel()
			if err := h.store.UpsertContainerAllowlist(ctx, entry); err != nil {
				return nil, err
			}
			return entry, nil
		},

		"list_worker_hosts": func(ctx context.Context, params json.RawMessage) (interface{}, error) {
			hosts, err := h.store.ListWorkerHosts(ctx)
			if err != nil {
				return nil, err
			}
			responses := make([]HostResponse, 0, len(hosts))
			for i := range hosts {
				responses = append(responses, redactHost(&hosts[i]))
			}
			return responses, nil
		},

		"get_worker_host": func(ctx context.Context, params json.RawMessage) (interface{}, error) {
			id, err := paramID(params, "host_id")
			if err != nil {
				return nil, err
			}
			host, err := h.store.GetWorkerHostByID(ctx, id)
			if err != nil {
				return nil, store.AsKind(err, store.KindHostNotFound)
			}
			return redactHost(host), nil
		},

		"list_schedules": func(ctx context.Context, params json.RawMessage) (interface{}, error) {
			return h.store.ListSchedules(ctx, 100, 0)
		},

		"get_schedule": func(ctx context.Context, params json.RawMessage) (interface{}, error) {
			id, err := paramID(params, "schedule_id")
			if err != nil {
				return nil, err
			}
			return h.store.GetScheduleByID(ctx, id)
		},

		"run_schedule_now": func(ctx context.Context, params json.RawMessage) (interface{}, error) {
			id, err := paramID(params, "schedule_id")
			if err != nil {
				return nil, err
			}
			s, err := h.store.GetScheduleByID(ctx, id)
			if err != nil {
				return nil, err
			}
			if !s.Enabled {
				return nil, store.NewKindError(store.KindValidation, "schedule is disabled")
			}
			now := time.Now().UTC()
			if err := h.store.SetScheduleNextRun(ctx, s.ScheduleID, nil, &now); err != nil {
				return nil, err
			}
			s.NextRunAt = &now
			return s, nil
		},

		"token_stats": func(ctx context.Context, params json.RawMessage) (interface{}, error) {
			return h.store.TokenStatsByModel(ctx)
		},
	}
}

// paramID extracts a required string id from tool params.
func paramID(params json.RawMessage, key string) (string, error) {
	var m map[string]string
	if err := json.Unmarshal(params, &m); err != nil {
		return "", store.NewKindError(store.KindValidation, "invalid params")
	}
	id := m[key]
	if id == "" {
		return "", store.NewKindError(store.KindValidation, key+" is required")
	}
	return id, nil
}
