package postgres_store

import (
	"context"
	"fmt"
	"time"

	"github.com/malgorath/cyberbrain/internal/store"
	"github.com/malgorath/cyberbrain/internal/store/models"
	"gorm.io/gorm"
)

// CreateLaunch materializes a run, its jobs, the one-shot schedules and the
// scheduled-run bindings in a single transaction. The launcher only makes
// work due; the claim loop dispatches it.
func (ps PostgresDbStore) CreateLaunch(ctx context.Context, run *models.Run, jobs []models.Job, schedules []models.Schedule, bindings []models.ScheduledRun) error {
	if run.RunID == "" {
		run.RunID = newID()
	}
	return ps.getDB(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(run).Error; err != nil {
			return fmt.Errorf("failed to create run: %w", err)
		}
		for i := range jobs {
			if jobs[i].JobID == "" {
				jobs[i].JobID = newID()
			}
			jobs[i].RunID = run.RunID
			if err := tx.Create(&jobs[i]).Error; err != nil {
				return fmt.Errorf("failed to create job: %w", err)
			}
		}
		for i := range schedules {
			if schedules[i].ScheduleID == "" {
				schedules[i].ScheduleID = newID()
			}
			if err := tx.Create(&schedules[i]).Error; err != nil {
				return fmt.Errorf("failed to create schedule: %w", err)
			}
		}
		for i := range bindings {
			if bindings[i].ScheduledRunID == "" {
				bindings[i].ScheduledRunID = newID()
			}
			bindings[i].RunID = run.RunID
			if i < len(schedules) {
				bindings[i].ScheduleID = schedules[i].ScheduleID
			}
			if err := tx.Create(&bindings[i]).Error; err != nil {
				return fmt.Errorf("failed to create scheduled run binding: %w", err)
			}
		}
		return nil
	})
}

// GetRunByID retrieves a run with its jobs
func (ps PostgresDbStore) GetRunByID(ctx context.Context, runID string) (*models.Run, error) {
	if !isValidUUID(runID) {
		return nil, store.ErrNotFound
	}

	var run models.Run
	if err := ps.getDB(ctx).Preload("Jobs").Where("run_id = ?", runID).First(&run).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get run %s: %w", runID, err)
	}
	return &run, nil
}

// ListRuns retrieves runs with optional status and since-time filters
func (ps PostgresDbStore) ListRuns(ctx context.Context, filters store.RunFilters, limit, offset int) ([]models.Run, error) {
	var runs []models.Run

	query := ps.getDB(ctx).Model(&models.Run{}).Preload("Jobs")
	if filters.Status != "" {
		query = query.Where("status = ?", filters.Status)
	}
	if filters.Since != nil {
		query = query.Where("created_at >= ?", *filters.Since)
	}
	query = query.Order("created_at DESC").Limit(limit).Offset(offset)

	if err := query.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// MarkRunRunning moves a pending run to running. The guard makes the
// transition one-way: a cancelled or already-running run is left untouched.
func (ps PostgresDbStore) MarkRunRunning(ctx context.Context, runID, hostID string, startedAt time.Time) error {
	updates := map[string]interface{}{
		"status":     models.RunStatusRunning,
		"started_at": startedAt,
		"updated_at": startedAt,
	}
	if hostID != "" {
		updates["worker_host_id"] = hostID
	}
	result := ps.getDB(ctx).Model(&models.Run{}).
		Where("run_id = ? AND status = ?", runID, models.RunStatusPending).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to mark run %s running: %w", runID, result.Error)
	}
	if result.RowsAffected == 0 {
		return store.ErrConflict
	}
	return nil
}

// FinalizeRun records the terminal status, report fields and token totals of
// a run that is currently running. Terminal states never resurrect.
func (ps PostgresDbStore) FinalizeRun(ctx context.Context, run *models.Run) error {
	result := ps.getDB(ctx).Model(&models.Run{}).
		Where("run_id = ? AND status = ?", run.RunID, models.RunStatusRunning).
		Updates(map[string]interface{}{
			"status":            run.Status,
			"ended_at":          run.EndedAt,
			"report_markdown":   run.ReportMarkdown,
			"report_json":       run.ReportJSON,
			"prompt_tokens":     run.PromptTokens,
			"completion_tokens": run.CompletionTokens,
			"total_tokens":      run.TotalTokens,
			"updated_at":        time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to finalize run %s: %w", run.RunID, result.Error)
	}
	if result.RowsAffected == 0 {
		return store.ErrConflict
	}
	return nil
}

// CancelRun moves a non-terminal run to cancelled and returns the row.
// Cancelling an already-terminal run is a no-op that returns current state.
func (ps PostgresDbStore) CancelRun(ctx context.Context, runID string) (*models.Run, error) {
	run, err := ps.GetRunByID(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.IsTerminal() {
		return run, nil
	}

	now := time.Now().UTC()
	result := ps.getDB(ctx).Model(&models.Run{}).
		Where("run_id = ? AND status IN ?", runID, []string{models.RunStatusPending, models.RunStatusRunning}).
		Updates(map[string]interface{}{
			"status":     models.RunStatusCancelled,
			"ended_at":   now,
			"updated_at": now,
		})
	if result.Error != nil {
		return nil, fmt.Errorf("failed to cancel run %s: %w", runID, result.Error)
	}
	return ps.GetRunByID(ctx, runID)
}

// AddRunTokens bumps the monotonic token totals on a run
func (ps PostgresDbStore) AddRunTokens(ctx context.Context, runID string, prompt, completion, total int64) error {
	result := ps.getDB(ctx).Model(&models.Run{}).
		Where("run_id = ?", runID).
		Updates(map[string]interface{}{
			"prompt_tokens":     gorm.Expr("prompt_tokens + ?", prompt),
			"completion_tokens": gorm.Expr("completion_tokens + ?", completion),
			"total_tokens":      gorm.Expr("total_tokens + ?", total),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to add tokens to run %s: %w", runID, result.Error)
	}
	if result.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// GetLastSuccessfulRun returns the most recently ended successful run
func (ps PostgresDbStore) GetLastSuccessfulRun(ctx context.Context) (*models.Run, error) {
	var run models.Run
	err := ps.getDB(ctx).Preload("Jobs").
		Where("status = ? AND ended_at IS NOT NULL", models.RunStatusSuccess).
		Order("ended_at DESC").
		First(&run).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get last successful run: %w", err)
	}
	return &run, nil
}

// ListRunsEndedAfter returns runs that ended after t plus the still-running
// ones, newest first
func (ps PostgresDbStore) ListRunsEndedAfter(ctx context.Context, t time.Time) ([]models.Run, error) {
	var runs []models.Run
	err := ps.getDB(ctx).Preload("Jobs").
		Where("ended_at > ? OR status IN ?", t, []string{models.RunStatusPending, models.RunStatusRunning}).
		Order("created_at DESC").
		Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list runs ended after %v: %w", t, err)
	}
	return runs, nil
}

// CountRunningRuns counts runs currently in running status
func (ps PostgresDbStore) CountRunningRuns(ctx context.Context) (int64, error) {
	var count int64
	err := ps.getDB(ctx).Model(&models.Run{}).
		Where("status = ?", models.RunStatusRunning).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count running runs: %w", err)
	}
	return count, nil
}

// CountRunningRunsByJobKind counts running runs that contain a job of the
// given kind. Used by the per-job concurrency gate.
func (ps PostgresDbStore) CountRunningRunsByJobKind(ctx context.Context, kind string) (int64, error) {
	var count int64
	err := ps.getDB(ctx).Model(&models.Run{}).
		Joins("JOIN jobs ON jobs.run_id = runs.run_id").
		Where("runs.status = ? AND jobs.kind = ?", models.RunStatusRunning, kind).
		Distinct("runs.run_id").
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count running runs for kind %s: %w", kind, err)
	}
	return count, nil
}
