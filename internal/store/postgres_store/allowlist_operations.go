package postgres_store

import (
	"context"
	"fmt"

	"github.com/malgorath/cyberbrain/internal/store"
	"github.com/malgorath/cyberbrain/internal/store/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UpsertContainerAllowlist creates or replaces an allowlist entry keyed by
// container id
func (ps PostgresDbStore) UpsertContainerAllowlist(ctx context.Context, entry *models.ContainerAllowlist) error {
	err := ps.getDB(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "container_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "description", "enabled", "tags", "updated_at",
		}),
	}).Create(entry).Error
	if err != nil {
		return fmt.Errorf("failed to upsert container allowlist entry: %w", err)
	}
	return nil
}

// GetContainerAllowlist retrieves an entry by container id
func (ps PostgresDbStore) GetContainerAllowlist(ctx context.Context, containerID string) (*models.ContainerAllowlist, error) {
	var entry models.ContainerAllowlist
	if err := ps.getDB(ctx).Where("container_id = ?", containerID).First(&entry).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get allowlist entry %s: %w", containerID, err)
	}
	return &entry, nil
}

// DeleteContainerAllowlist removes an entry by container id
func (ps PostgresDbStore) DeleteContainerAllowlist(ctx context.Context, containerID string) error {
	result := ps.getDB(ctx).Where("container_id = ?", containerID).Delete(&models.ContainerAllowlist{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete allowlist entry %s: %w", containerID, result.Error)
	}
	if result.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ListContainerAllowlist returns allowlist entries, optionally enabled only
func (ps PostgresDbStore) ListContainerAllowlist(ctx context.Context, enabledOnly bool) ([]models.ContainerAllowlist, error) {
	var entries []models.ContainerAllowlist
	query := ps.getDB(ctx).Order("name ASC")
	if enabledOnly {
		query = query.Where("enabled = ?", true)
	}
	if err := query.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to list container allowlist: %w", err)
	}
	return entries, nil
}

// CreateWorkerImage creates a worker image allowlist entry
func (ps PostgresDbStore) CreateWorkerImage(ctx context.Context, image *models.WorkerImageAllowlist) error {
	if image.ImageID == "" {
		image.ImageID = newID()
	}
	if err := ps.getDB(ctx).Create(image).Error; err != nil {
		return fmt.Errorf("failed to create worker image: %w", err)
	}
	return nil
}

// GetWorkerImage retrieves an allowlist entry by (image, tag)
func (ps PostgresDbStore) GetWorkerImage(ctx context.Context, image, tag string) (*models.WorkerImageAllowlist, error) {
	var entry models.WorkerImageAllowlist
	if err := ps.getDB(ctx).Where("image = ? AND tag = ?", image, tag).First(&entry).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get worker image %s:%s: %w", image, tag, err)
	}
	return &entry, nil
}

// UpdateWorkerImage updates a worker image allowlist entry
func (ps PostgresDbStore) UpdateWorkerImage(ctx context.Context, image *models.WorkerImageAllowlist) error {
	result := ps.getDB(ctx).Save(image)
	if result.Error != nil {
		return fmt.Errorf("failed to update worker image %s: %w", image.ImageID, result.Error)
	}
	if result.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// DeleteWorkerImage deletes a worker image allowlist entry
func (ps PostgresDbStore) DeleteWorkerImage(ctx context.Context, imageID string) error {
	if !isValidUUID(imageID) {
		return store.ErrNotFound
	}

	result := ps.getDB(ctx).Where("image_id = ?", imageID).Delete(&models.WorkerImageAllowlist{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete worker image %s: %w", imageID, result.Error)
	}
	if result.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ListWorkerImages returns all worker image allowlist entries
func (ps PostgresDbStore) ListWorkerImages(ctx context.Context) ([]models.WorkerImageAllowlist, error) {
	var images []models.WorkerImageAllowlist
	if err := ps.getDB(ctx).Order("image ASC, tag ASC").Find(&images).Error; err != nil {
		return nil, fmt.Errorf("failed to list worker images: %w", err)
	}
	return images, nil
}
