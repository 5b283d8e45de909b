package postgres_store

import (
	"context"
	"fmt"

	"github.com/malgorath/cyberbrain/internal/store"
	"github.com/malgorath/cyberbrain/internal/store/models"
	"gorm.io/gorm"
)

// CreateDirective creates a new directive
func (ps PostgresDbStore) CreateDirective(ctx context.Context, directive *models.Directive) error {
	if directive.DirectiveID == "" {
		directive.DirectiveID = newID()
	}
	if err := ps.getDB(ctx).Create(directive).Error; err != nil {
		return fmt.Errorf("failed to create directive: %w", err)
	}
	return nil
}

// GetDirectiveByID retrieves a directive by its ID
func (ps PostgresDbStore) GetDirectiveByID(ctx context.Context, directiveID string) (*models.Directive, error) {
	if !isValidUUID(directiveID) {
		return nil, store.ErrNotFound
	}

	var directive models.Directive
	if err := ps.getDB(ctx).Where("directive_id = ?", directiveID).First(&directive).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get directive %s: %w", directiveID, err)
	}
	return &directive, nil
}

// GetFirstEnabledDirective returns the oldest enabled directive. The launcher
// falls back to it when a launch request names no directive.
func (ps PostgresDbStore) GetFirstEnabledDirective(ctx context.Context) (*models.Directive, error) {
	var directive models.Directive
	err := ps.getDB(ctx).Where("enabled = ?", true).Order("created_at ASC").First(&directive).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get first enabled directive: %w", err)
	}
	return &directive, nil
}

// UpdateDirective updates an existing directive and bumps its version
func (ps PostgresDbStore) UpdateDirective(ctx context.Context, directive *models.Directive) error {
	directive.Version++
	result := ps.getDB(ctx).Save(directive)
	if result.Error != nil {
		return fmt.Errorf("failed to update directive %s: %w", directive.DirectiveID, result.Error)
	}
	if result.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// DeleteDirective deletes a directive. Runs that already snapshotted it keep
// their snapshots.
func (ps PostgresDbStore) DeleteDirective(ctx context.Context, directiveID string) error {
	if !isValidUUID(directiveID) {
		return store.ErrNotFound
	}

	result := ps.getDB(ctx).Where("directive_id = ?", directiveID).Delete(&models.Directive{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete directive %s: %w", directiveID, result.Error)
	}
	if result.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ListDirectives retrieves directives with pagination
func (ps PostgresDbStore) ListDirectives(ctx context.Context, limit, offset int) ([]models.Directive, error) {
	var directives []models.Directive
	query := ps.getDB(ctx).Order("created_at ASC").Limit(limit).Offset(offset)
	if err := query.Find(&directives).Error; err != nil {
		return nil, fmt.Errorf("failed to list directives: %w", err)
	}
	return directives, nil
}
