package postgres_store

import (
	"context"
	"fmt"
	"time"

	"github.com/malgorath/cyberbrain/internal/store"
	"github.com/malgorath/cyberbrain/internal/store/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CreateSchedule creates a new schedule
func (ps PostgresDbStore) CreateSchedule(ctx context.Context, schedule *models.Schedule) error {
	if schedule.ScheduleID == "" {
		schedule.ScheduleID = newID()
	}
	if err := ps.getDB(ctx).Create(schedule).Error; err != nil {
		return fmt.Errorf("failed to create schedule: %w", err)
	}
	return nil
}

// GetScheduleByID retrieves a schedule by its ID
func (ps PostgresDbStore) GetScheduleByID(ctx context.Context, scheduleID string) (*models.Schedule, error) {
	if !isValidUUID(scheduleID) {
		return nil, store.ErrNotFound
	}

	var schedule models.Schedule
	if err := ps.getDB(ctx).Where("schedule_id = ?", scheduleID).First(&schedule).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get schedule %s: %w", scheduleID, err)
	}
	return &schedule, nil
}

// UpdateSchedule updates an existing schedule
func (ps PostgresDbStore) UpdateSchedule(ctx context.Context, schedule *models.Schedule) error {
	result := ps.getDB(ctx).Save(schedule)
	if result.Error != nil {
		return fmt.Errorf("failed to update schedule %s: %w", schedule.ScheduleID, result.Error)
	}
	if result.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// DeleteSchedule deletes a schedule by its ID
func (ps PostgresDbStore) DeleteSchedule(ctx context.Context, scheduleID string) error {
	if !isValidUUID(scheduleID) {
		return store.ErrNotFound
	}

	result := ps.getDB(ctx).Where("schedule_id = ?", scheduleID).Delete(&models.Schedule{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete schedule %s: %w", scheduleID, result.Error)
	}
	if result.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ListSchedules retrieves schedules with pagination
func (ps PostgresDbStore) ListSchedules(ctx context.Context, limit, offset int) ([]models.Schedule, error) {
	var schedules []models.Schedule
	query := ps.getDB(ctx).Order("created_at ASC").Limit(limit).Offset(offset)
	if err := query.Find(&schedules).Error; err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	return schedules, nil
}

// ClaimDueSchedules selects up to limit due schedules and stamps them with
// the claimant identity inside one transaction. SKIP LOCKED keeps concurrent
// claimants from ever observing the same row; a row stays claimed until the
// TTL elapses, so a crashed claimant frees its rows without operator action.
func (ps PostgresDbStore) ClaimDueSchedules(ctx context.Context, now time.Time, claimant string, ttl time.Duration, limit int) ([]models.Schedule, error) {
	var claimed []models.Schedule

	err := ps.getDB(ctx).Transaction(func(tx *gorm.DB) error {
		var due []models.Schedule
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("enabled = ? AND next_run_at IS NOT NULL AND next_run_at <= ?", true, now).
			Where("claimed_until IS NULL OR claimed_until <= ?", now).
			Order("next_run_at ASC").
			Limit(limit).
			Find(&due).Error
		if err != nil {
			return fmt.Errorf("failed to select due schedules: %w", err)
		}
		if len(due) == 0 {
			return nil
		}

		until := now.Add(ttl)
		ids := make([]string, 0, len(due))
		for _, s := range due {
			ids = append(ids, s.ScheduleID)
		}
		err = tx.Model(&models.Schedule{}).
			Where("schedule_id IN ?", ids).
			Updates(map[string]interface{}{
				"claimed_by":    claimant,
				"claimed_until": until,
				"updated_at":    now,
			}).Error
		if err != nil {
			return fmt.Errorf("failed to stamp claims: %w", err)
		}

		for i := range due {
			due[i].ClaimedBy = claimant
			u := until
			due[i].ClaimedUntil = &u
		}
		claimed = due
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// ReleaseScheduleClaim clears the claim fields. The claimant guard keeps a
// late release from a previous holder from clobbering a newer claim.
func (ps PostgresDbStore) ReleaseScheduleClaim(ctx context.Context, scheduleID, claimant string) error {
	result := ps.getDB(ctx).Model(&models.Schedule{}).
		Where("schedule_id = ? AND claimed_by = ?", scheduleID, claimant).
		Updates(map[string]interface{}{
			"claimed_by":    "",
			"claimed_until": nil,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to release claim on schedule %s: %w", scheduleID, result.Error)
	}
	return nil
}

// SetScheduleNextRun records last_run_at and the recomputed next_run_at
func (ps PostgresDbStore) SetScheduleNextRun(ctx context.Context, scheduleID string, lastRunAt, nextRunAt *time.Time) error {
	updates := map[string]interface{}{"updated_at": time.Now().UTC()}
	if lastRunAt != nil {
		updates["last_run_at"] = *lastRunAt
	}
	if nextRunAt != nil {
		updates["next_run_at"] = *nextRunAt
	}
	result := ps.getDB(ctx).Model(&models.Schedule{}).
		Where("schedule_id = ?", scheduleID).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to set next run on schedule %s: %w", scheduleID, result.Error)
	}
	if result.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// CreateScheduledRun creates a schedule-to-run binding
func (ps PostgresDbStore) CreateScheduledRun(ctx context.Context, binding *models.ScheduledRun) error {
	if binding.ScheduledRunID == "" {
		binding.ScheduledRunID = newID()
	}
	if err := ps.getDB(ctx).Create(binding).Error; err != nil {
		return fmt.Errorf("failed to create scheduled run: %w", err)
	}
	return nil
}

// UpdateScheduledRun updates a binding's status fields
func (ps PostgresDbStore) UpdateScheduledRun(ctx context.Context, binding *models.ScheduledRun) error {
	result := ps.getDB(ctx).Save(binding)
	if result.Error != nil {
		return fmt.Errorf("failed to update scheduled run %s: %w", binding.ScheduledRunID, result.Error)
	}
	if result.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// GetPendingScheduledRun returns the pending binding of a schedule if one
// exists. Presence marks the one-shot launch case.
func (ps PostgresDbStore) GetPendingScheduledRun(ctx context.Context, scheduleID string) (*models.ScheduledRun, error) {
	var binding models.ScheduledRun
	err := ps.getDB(ctx).
		Where("schedule_id = ? AND status = ?", scheduleID, models.ScheduledRunPending).
		Order("created_at ASC").
		First(&binding).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get pending scheduled run for %s: %w", scheduleID, err)
	}
	return &binding, nil
}

// ListScheduleHistory returns the firing history of a schedule, newest first
func (ps PostgresDbStore) ListScheduleHistory(ctx context.Context, scheduleID string, limit, offset int) ([]models.ScheduledRun, error) {
	var bindings []models.ScheduledRun
	err := ps.getDB(ctx).
		Where("schedule_id = ?", scheduleID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&bindings).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list history for schedule %s: %w", scheduleID, err)
	}
	return bindings, nil
}
