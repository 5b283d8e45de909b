package postgres_store

import (
	"context"
	"fmt"
	"time"

	"github.com/malgorath/cyberbrain/internal/store"
	"github.com/malgorath/cyberbrain/internal/store/models"
	"gorm.io/gorm"
)

// GetJobByID retrieves a job by its ID
func (ps PostgresDbStore) GetJobByID(ctx context.Context, jobID string) (*models.Job, error) {
	if !isValidUUID(jobID) {
		return nil, store.ErrNotFound
	}

	var job models.Job
	if err := ps.getDB(ctx).Where("job_id = ?", jobID).First(&job).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job %s: %w", jobID, err)
	}
	return &job, nil
}

// ListJobsByRun retrieves the jobs of a run in creation order
func (ps PostgresDbStore) ListJobsByRun(ctx context.Context, runID string) ([]models.Job, error) {
	var jobs []models.Job
	err := ps.getDB(ctx).Where("run_id = ?", runID).Order("created_at ASC").Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs for run %s: %w", runID, err)
	}
	return jobs, nil
}

// MarkJobRunning moves a pending job to running
func (ps PostgresDbStore) MarkJobRunning(ctx context.Context, jobID string, startedAt time.Time) error {
	result := ps.getDB(ctx).Model(&models.Job{}).
		Where("job_id = ? AND status = ?", jobID, models.JobStatusPending).
		Updates(map[string]interface{}{
			"status":     models.JobStatusRunning,
			"started_at": startedAt,
			"updated_at": startedAt,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark job %s running: %w", jobID, result.Error)
	}
	if result.RowsAffected == 0 {
		return store.ErrConflict
	}
	return nil
}

// FinalizeJob records a job's single terminal transition. Pending jobs may
// finalize directly (cancellation, prerequisite failure); terminal jobs
// never change again.
func (ps PostgresDbStore) FinalizeJob(ctx context.Context, job *models.Job) error {
	result := ps.getDB(ctx).Model(&models.Job{}).
		Where("job_id = ? AND status IN ?", job.JobID, []string{models.JobStatusPending, models.JobStatusRunning}).
		Updates(map[string]interface{}{
			"status":        job.Status,
			"ended_at":      job.EndedAt,
			"result":        job.Result,
			"error_kind":    job.ErrorKind,
			"error_message": job.ErrorMessage,
			"updated_at":    time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to finalize job %s: %w", job.JobID, result.Error)
	}
	if result.RowsAffected == 0 {
		return store.ErrConflict
	}
	return nil
}
