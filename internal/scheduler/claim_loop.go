// Package scheduler hosts the claim loop: a single-threaded cooperative
// tick that discovers due schedules, claims them under row locks with a
// TTL, and drives the dispatcher. Multiple replicas are safe; the claim
// invariant keeps any schedule from dispatching twice concurrently.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/catalystcommunity/app-utils-go/logging"
	"github.com/malgorath/cyberbrain/internal/dispatcher"
	"github.com/malgorath/cyberbrain/internal/hostrouter"
	"github.com/malgorath/cyberbrain/internal/metrics"
	"github.com/malgorath/cyberbrain/internal/store"
	"github.com/malgorath/cyberbrain/internal/store/models"
)

// ClaimLoop is one scheduler replica.
type ClaimLoop struct {
	store      store.Store
	router     *hostrouter.Router
	dispatcher *dispatcher.Dispatcher

	claimant     string
	pollInterval time.Duration
	claimTTL     time.Duration
	batchSize    int
	capBackoff   time.Duration
}

// Config wires a claim loop.
type Config struct {
	Store      store.Store
	Router     *hostrouter.Router
	Dispatcher *dispatcher.Dispatcher

	Claimant     string
	PollInterval time.Duration
	ClaimTTL     time.Duration
	BatchSize    int
	CapBackoff   time.Duration
}

// New creates a claim loop.
func New(cfg Config) *ClaimLoop {
	return &ClaimLoop{
		store:        cfg.Store,
		router:       cfg.Router,
		dispatcher:   cfg.Dispatcher,
		claimant:     cfg.Claimant,
		pollInterval: cfg.PollInterval,
		claimTTL:     cfg.ClaimTTL,
		batchSize:    cfg.BatchSize,
		capBackoff:   cfg.CapBackoff,
	}
}

// Start ticks until the context is cancelled. A tick never lets a panic or
// error escape; failures land on the rows they belong to.
func (cl *ClaimLoop) Start(ctx context.Context) {
	logging.Log.WithField("claimant", cl.claimant).
		WithField("poll_interval", cl.pollInterval).
		Info("Claim loop starting")

	ticker := time.NewTicker(cl.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Log.Info("Claim loop stopping")
			return
		case <-ticker.C:
			cl.tick(ctx)
		}
	}
}

// tick claims a batch of due schedules and processes each one.
func (cl *ClaimLoop) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logging.Log.Errorf("Recovered from panic in scheduler tick: %v", r)
		}
	}()

	metrics.SchedulerTicks.Inc()
	now := time.Now().UTC()

	claimed, err := cl.store.ClaimDueSchedules(ctx, now, cl.claimant, cl.claimTTL, cl.batchSize)
	if err != nil {
		logging.Log.WithError(err).Error("Failed to claim due schedules")
		return
	}
	if len(claimed) == 0 {
		return
	}
	metrics.RecordScheduleClaim("claimed")

	for i := range claimed {
		cl.processSchedule(ctx, now, &claimed[i])
	}
}

// processSchedule drives one claimed schedule through gates, run
// resolution, dispatch and recurrence. The claim is released on every path.
func (cl *ClaimLoop) processSchedule(ctx context.Context, now time.Time, s *models.Schedule) {
	logger := logging.Log.WithField("schedule_id", s.ScheduleID).WithField("schedule", s.Name)
	defer func() {
		if err := cl.store.ReleaseScheduleClaim(ctx, s.ScheduleID, cl.claimant); err != nil {
			logger.WithError(err).Error("Failed to release schedule claim")
		}
	}()

	// Concurrency gates: over-cap schedules back off and retry
	if deferred, err := cl.overCap(ctx, s); err != nil {
		logger.WithError(err).Error("Failed to evaluate concurrency caps")
		return
	} else if deferred {
		cl.pushBack(ctx, s, now)
		metrics.RecordScheduleClaim("deferred")
		return
	}

	run, binding, err := cl.resolveRun(ctx, s)
	if err != nil {
		logger.WithError(err).Error("Failed to resolve run for schedule")
		cl.pushBack(ctx, s, now)
		return
	}

	// Approval gate: a run waiting on an operator stays due
	if run.ApprovalStatus == models.ApprovalPending {
		cl.pushBack(ctx, s, now)
		return
	}

	// Cancellation before dispatch: skip without touching a host
	if run.Status == models.RunStatusCancelled {
		cl.finishBinding(ctx, binding, models.ScheduledRunFinished, "cancelled before dispatch")
		cl.advance(ctx, s, now)
		return
	}

	started := time.Now().UTC()
	binding.Status = models.ScheduledRunStarted
	binding.StartedAt = &started
	if err := cl.store.UpdateScheduledRun(ctx, binding); err != nil {
		logger.WithError(err).Error("Failed to mark scheduled run started")
	}

	targetHostID := ""
	if run.WorkerHostID != nil {
		targetHostID = *run.WorkerHostID
	}
	host, err := cl.router.SelectHost(ctx, targetHostID, cl.runNeedsGPU(ctx, run))
	if err != nil {
		// Record and leave the binding pending so the next tick retries
		kind := store.KindOf(err)
		logger.WithError(err).Warn("No host for run")
		binding.Status = models.ScheduledRunPending
		binding.StartedAt = nil
		binding.ErrorSummary = kind
		if uerr := cl.store.UpdateScheduledRun(ctx, binding); uerr != nil {
			logger.WithError(uerr).Error("Failed to record routing failure")
		}
		cl.pushBack(ctx, s, now)
		return
	}
	defer cl.router.Release(ctx, host.HostID)

	if err := cl.store.MarkRunRunning(ctx, run.RunID, host.HostID, time.Now().UTC()); err != nil {
		// Lost to a cancellation between resolve and dispatch
		cl.finishBinding(ctx, binding, models.ScheduledRunFinished, "cancelled before dispatch")
		cl.advance(ctx, s, now)
		return
	}
	run.WorkerHostID = &host.HostID

	dispatchErr := cl.dispatcher.DispatchRun(ctx, run, host)

	finished := time.Now().UTC()
	binding.FinishedAt = &finished
	if dispatchErr != nil {
		binding.Status = models.ScheduledRunFailed
		binding.ErrorSummary = store.KindOf(dispatchErr)
		logger.WithError(dispatchErr).Error("Dispatch failed")
	} else {
		binding.Status = models.ScheduledRunFinished
	}
	if err := cl.store.UpdateScheduledRun(ctx, binding); err != nil {
		logger.WithError(err).Error("Failed to record scheduled run outcome")
	}

	cl.advance(ctx, s, now)
}

// overCap checks the schedule's max_global and max_per_job gates.
func (cl *ClaimLoop) overCap(ctx context.Context, s *models.Schedule) (bool, error) {
	if s.MaxGlobal != nil {
		running, err := cl.store.CountRunningRuns(ctx)
		if err != nil {
			return false, err
		}
		if running >= int64(*s.MaxGlobal) {
			return true, nil
		}
	}
	if s.MaxPerJob != nil {
		running, err := cl.store.CountRunningRunsByJobKind(ctx, s.JobKind)
		if err != nil {
			return false, err
		}
		if running >= int64(*s.MaxPerJob) {
			return true, nil
		}
	}
	return false, nil
}

// resolveRun returns the run this firing executes: the pre-created pending
// run for one-shot launches, or a fresh run for recurring schedules.
func (cl *ClaimLoop) resolveRun(ctx context.Context, s *models.Schedule) (*models.Run, *models.ScheduledRun, error) {
	binding, err := cl.store.GetPendingScheduledRun(ctx, s.ScheduleID)
	if err == nil {
		run, err := cl.store.GetRunByID(ctx, binding.RunID)
		if err != nil {
			return nil, nil, err
		}
		return run, binding, nil
	}
	if err != store.ErrNotFound {
		return nil, nil, err
	}

	// Recurring schedule: create a fresh run with one job
	snapshot, directiveID, err := cl.scheduleSnapshot(ctx, s)
	if err != nil {
		return nil, nil, err
	}

	run := &models.Run{
		DirectiveID:       directiveID,
		DirectiveSnapshot: snapshot,
		Status:            models.RunStatusPending,
		ApprovalStatus:    models.ApprovalNone,
	}
	jobs := []models.Job{{Kind: s.JobKind, Status: models.JobStatusPending}}
	if err := cl.store.CreateLaunch(ctx, run, jobs, nil, nil); err != nil {
		return nil, nil, err
	}

	binding = &models.ScheduledRun{
		ScheduleID: s.ScheduleID,
		RunID:      run.RunID,
		Status:     models.ScheduledRunPending,
	}
	if err := cl.store.CreateScheduledRun(ctx, binding); err != nil {
		return nil, nil, err
	}

	metrics.RecordRunLaunched("schedule")
	run, err = cl.store.GetRunByID(ctx, run.RunID)
	if err != nil {
		return nil, nil, err
	}
	return run, binding, nil
}

// scheduleSnapshot resolves the directive content a recurring firing runs
// under: the cited directive, or the schedule's inline custom text.
func (cl *ClaimLoop) scheduleSnapshot(ctx context.Context, s *models.Schedule) (models.JSONB, *string, error) {
	if s.DirectiveID != nil {
		directive, err := cl.store.GetDirectiveByID(ctx, *s.DirectiveID)
		if err != nil {
			return nil, nil, fmt.Errorf("schedule directive missing: %w", err)
		}
		snapshot := directive.Snapshot()
		snapshot["task3_scope"] = s.Task3Scope
		return snapshot, &directive.DirectiveID, nil
	}

	snapshot := models.JSONB{
		"name":                  s.Name,
		"custom_directive_text": s.CustomDirectiveText,
		"task_list":             []string{s.JobKind},
		"task3_scope":           s.Task3Scope,
	}
	return snapshot, nil, nil
}

// runNeedsGPU reports whether any job of the run resolves to an image that
// requires a device. Unknown images route as CPU; the dispatcher fails them
// against the allowlist later.
func (cl *ClaimLoop) runNeedsGPU(ctx context.Context, run *models.Run) bool {
	for i := range run.Jobs {
		spec, err := dispatcher.BuildTaskSpec(run, &run.Jobs[i])
		if err != nil {
			continue
		}
		img, err := cl.store.GetWorkerImage(ctx, spec.Image, spec.Tag)
		if err == nil && img.RequiresGPU {
			return true
		}
	}
	return false
}

// pushBack defers a schedule by the cap backoff.
func (cl *ClaimLoop) pushBack(ctx context.Context, s *models.Schedule, now time.Time) {
	next := now.Add(cl.capBackoff)
	if err := cl.store.SetScheduleNextRun(ctx, s.ScheduleID, nil, &next); err != nil {
		logging.Log.WithError(err).WithField("schedule_id", s.ScheduleID).Error("Failed to push schedule back")
	}
}

// advance records last_run_at and the next firing time after a consumed
// firing. One-shot schedules move to the far future.
func (cl *ClaimLoop) advance(ctx context.Context, s *models.Schedule, now time.Time) {
	next, err := NextRunTime(s, now)
	if err != nil {
		logging.Log.WithError(err).WithField("schedule_id", s.ScheduleID).Error("Failed to compute next run, disabling firing")
		next = models.FarFuture
	}
	if err := cl.store.SetScheduleNextRun(ctx, s.ScheduleID, &now, &next); err != nil {
		logging.Log.WithError(err).WithField("schedule_id", s.ScheduleID).Error("Failed to advance schedule")
	}
}

// finishBinding records a terminal binding state with a short reason.
func (cl *ClaimLoop) finishBinding(ctx context.Context, binding *models.ScheduledRun, status, summary string) {
	now := time.Now().UTC()
	binding.Status = status
	binding.FinishedAt = &now
	binding.ErrorSummary = summary
	if err := cl.store.UpdateScheduledRun(ctx, binding); err != nil {
		logging.Log.WithError(err).WithField("scheduled_run_id", binding.ScheduledRunID).Error("Failed to finish scheduled run")
	}
}
