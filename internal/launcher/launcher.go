// Package launcher validates launch requests and materializes the run,
// jobs, one-shot schedules and bindings the claim loop will pick up. It
// never dispatches.
package launcher

import (
	"context"
	"fmt"
	"time"

	"github.com/catalystcommunity/app-utils-go/logging"
	"github.com/google/uuid"
	"github.com/malgorath/cyberbrain/internal/metrics"
	"github.com/malgorath/cyberbrain/internal/store"
	"github.com/malgorath/cyberbrain/internal/store/models"
)

// LaunchRequest is the input to a run launch.
type LaunchRequest struct {
	DirectiveID         string   `json:"directive_id,omitempty"`
	Tasks               []string `json:"tasks,omitempty"`
	TargetHostID        string   `json:"target_host_id,omitempty"`
	UseRAG              bool     `json:"use_rag,omitempty"`
	CustomDirectiveText string   `json:"custom_directive_text,omitempty"`
}

// Launcher creates runs and makes them due.
type Launcher struct {
	store store.Store
}

// New creates a launcher.
func New(s store.Store) *Launcher {
	return &Launcher{store: s}
}

// Launch validates the request, snapshots the directive and creates the
// run with its jobs, one-shot schedules and scheduled-run bindings in one
// transaction. The claim loop dispatches within one poll interval.
func (l *Launcher) Launch(ctx context.Context, req LaunchRequest) (*models.Run, error) {
	directive, err := l.resolveDirective(ctx, req)
	if err != nil {
		return nil, err
	}

	tasks := req.Tasks
	if len(tasks) == 0 {
		tasks = directive.TaskList
	}
	if len(tasks) == 0 {
		return nil, store.NewKindError(store.KindValidation, "no tasks requested and directive has no task list")
	}
	for _, kind := range tasks {
		if !models.IsKnownTaskKind(kind) {
			return nil, store.NewKindError(store.KindValidation, fmt.Sprintf("unknown task kind %q", kind))
		}
		if !directive.AllowsTask(kind) {
			return nil, store.NewKindError(store.KindValidation, fmt.Sprintf("task %q not in directive task list", kind))
		}
	}

	var targetHostID *string
	if req.TargetHostID != "" {
		if _, err := l.store.GetWorkerHostByID(ctx, req.TargetHostID); err != nil {
			return nil, store.AsKind(err, store.KindHostNotFound)
		}
		targetHostID = &req.TargetHostID
	}

	snapshot := directive.Snapshot()
	if req.CustomDirectiveText != "" {
		snapshot["custom_directive_text"] = req.CustomDirectiveText
	}
	snapshot["use_rag"] = req.UseRAG

	approval := models.ApprovalNone
	if directive.ApprovalRequired {
		approval = models.ApprovalPending
	}

	now := time.Now().UTC()
	run := &models.Run{
		RunID:             uuid.New().String(),
		DirectiveID:       &directive.DirectiveID,
		DirectiveSnapshot: snapshot,
		Status:            models.RunStatusPending,
		ApprovalStatus:    approval,
		WorkerHostID:      targetHostID,
	}

	jobs := make([]models.Job, 0, len(tasks))
	schedules := make([]models.Schedule, 0, len(tasks))
	bindings := make([]models.ScheduledRun, 0, len(tasks))
	oneShot := models.OneShotInterval
	for i, kind := range tasks {
		jobs = append(jobs, models.Job{
			Kind:   kind,
			Status: models.JobStatusPending,
		})

		due := now
		schedules = append(schedules, models.Schedule{
			Name:            fmt.Sprintf("launch-%s-%d-%s", run.RunID[:8], i, kind),
			JobKind:         kind,
			DirectiveID:     &directive.DirectiveID,
			Enabled:         true,
			Kind:            models.ScheduleKindInterval,
			IntervalMinutes: &oneShot,
			Timezone:        "UTC",
			Task3Scope:      models.ScopeAllowlist,
			NextRunAt:       &due,
		})

		bindings = append(bindings, models.ScheduledRun{
			Status: models.ScheduledRunPending,
		})
	}

	if err := l.store.CreateLaunch(ctx, run, jobs, schedules, bindings); err != nil {
		return nil, store.WrapKind(store.KindInternal, "failed to create launch", err)
	}

	metrics.RecordRunLaunched("api")
	logging.Log.WithField("run_id", run.RunID).
		WithField("tasks", len(tasks)).
		Info("Run launched")

	return l.reload(ctx, run.RunID)
}

func (l *Launcher) resolveDirective(ctx context.Context, req LaunchRequest) (*models.Directive, error) {
	if req.DirectiveID != "" {
		directive, err := l.store.GetDirectiveByID(ctx, req.DirectiveID)
		if err != nil {
			return nil, store.AsKind(err, store.KindDirectiveNotFound)
		}
		return directive, nil
	}

	directive, err := l.store.GetFirstEnabledDirective(ctx)
	if err != nil {
		return nil, store.AsKind(err, store.KindDirectiveNotFound)
	}
	return directive, nil
}

func (l *Launcher) reload(ctx context.Context, runID string) (*models.Run, error) {
	run, err := l.store.GetRunByID(ctx, runID)
	if err != nil {
		return nil, store.WrapKind(store.KindInternal, "failed to reload run", err)
	}
	return run, nil
}
