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

// CreateWorkerHost creates a new worker host
func (ps PostgresDbStore) CreateWorkerHost(ctx context.Context, host *models.WorkerHost) error {
	if host.HostID == "" {
		host.HostID = newID()
	}
	if err := ps.getDB(ctx).Create(host).Error; err != nil {
		return fmt.Errorf("failed to create worker host: %w", err)
	}
	return nil
}

// GetWorkerHostByID retrieves a worker host by its ID
func (ps PostgresDbStore) GetWorkerHostByID(ctx context.Context, hostID string) (*models.WorkerHost, error) {
	if !isValidUUID(hostID) {
		return nil, store.ErrNotFound
	}

	var host models.WorkerHost
	if err := ps.getDB(ctx).Where("host_id = ?", hostID).First(&host).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get worker host %s: %w", hostID, err)
	}
	return &host, nil
}

// UpdateWorkerHost updates an existing worker host
func (ps PostgresDbStore) UpdateWorkerHost(ctx context.Context, host *models.WorkerHost) error {
	result := ps.getDB(ctx).Save(host)
	if result.Error != nil {
		return fmt.Errorf("failed to update worker host %s: %w", host.HostID, result.Error)
	}
	if result.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// DeleteWorkerHost deletes a host. Refused while runs are still active on it.
func (ps PostgresDbStore) DeleteWorkerHost(ctx context.Context, hostID string) error {
	if !isValidUUID(hostID) {
		return store.ErrNotFound
	}

	result := ps.getDB(ctx).
		Where("host_id = ? AND active_runs_count = 0", hostID).
		Delete(&models.WorkerHost{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete worker host %s: %w", hostID, result.Error)
	}
	if result.RowsAffected == 0 {
		// Distinguish missing from busy
		if _, err := ps.GetWorkerHostByID(ctx, hostID); err != nil {
			return err
		}
		return store.ErrConflict
	}
	return nil
}

// ListWorkerHosts retrieves all worker hosts ordered for deterministic routing
func (ps PostgresDbStore) ListWorkerHosts(ctx context.Context) ([]models.WorkerHost, error) {
	var hosts []models.WorkerHost
	err := ps.getDB(ctx).
		Order("active_runs_count ASC, last_seen_at DESC NULLS LAST, host_id ASC").
		Find(&hosts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list worker hosts: %w", err)
	}
	return hosts, nil
}

// AcquireHostSlot bumps active_runs_count when the host is enabled, healthy
// and below its concurrency cap. The precondition lives in the WHERE clause
// so concurrent acquirers can never overshoot the cap.
func (ps PostgresDbStore) AcquireHostSlot(ctx context.Context, hostID string) (bool, error) {
	result := ps.getDB(ctx).Model(&models.WorkerHost{}).
		Where("host_id = ? AND enabled = ? AND healthy = ? AND active_runs_count < max_concurrency", hostID, true, true).
		Updates(map[string]interface{}{
			"active_runs_count": gorm.Expr("active_runs_count + 1"),
			"updated_at":        time.Now().UTC(),
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to acquire slot on host %s: %w", hostID, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// ReleaseHostSlot decrements active_runs_count, clamped at zero
func (ps PostgresDbStore) ReleaseHostSlot(ctx context.Context, hostID string) error {
	result := ps.getDB(ctx).Model(&models.WorkerHost{}).
		Where("host_id = ? AND active_runs_count > 0", hostID).
		Updates(map[string]interface{}{
			"active_runs_count": gorm.Expr("active_runs_count - 1"),
			"updated_at":        time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to release slot on host %s: %w", hostID, result.Error)
	}
	return nil
}

// SetHostHealth records a probe outcome. A successful probe refreshes
// last_seen_at; a failed probe only flips healthy so staleness still dates
// from the last success.
func (ps PostgresDbStore) SetHostHealth(ctx context.Context, hostID string, healthy bool, seenAt *time.Time) error {
	updates := map[string]interface{}{
		"healthy":    healthy,
		"updated_at": time.Now().UTC(),
	}
	if seenAt != nil {
		updates["last_seen_at"] = *seenAt
	}
	result := ps.getDB(ctx).Model(&models.WorkerHost{}).
		Where("host_id = ?", hostID).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to set health on host %s: %w", hostID, result.Error)
	}
	if result.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// UpsertGPUState writes a per-device VRAM/utilization sample
func (ps PostgresDbStore) UpsertGPUState(ctx context.Context, state *models.GPUState) error {
	if state.GPUStateID == "" {
		state.GPUStateID = newID()
	}
	err := ps.getDB(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "host_id"}, {Name: "device_index"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"total_vram_mb", "used_vram_mb", "free_vram_mb", "utilization_pct", "active_workers", "updated_at",
		}),
	}).Create(state).Error
	if err != nil {
		return fmt.Errorf("failed to upsert gpu state: %w", err)
	}
	return nil
}

// ListGPUStatesByHost returns a host's device samples ordered by index
func (ps PostgresDbStore) ListGPUStatesByHost(ctx context.Context, hostID string) ([]models.GPUState, error) {
	var states []models.GPUState
	err := ps.getDB(ctx).
		Where("host_id = ?", hostID).
		Order("device_index ASC").
		Find(&states).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list gpu states for host %s: %w", hostID, err)
	}
	return states, nil
}
