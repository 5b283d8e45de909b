package postgres_store

import (
	"context"
	"fmt"

	"github.com/malgorath/cyberbrain/internal/store"
	"github.com/malgorath/cyberbrain/internal/store/models"
	"gorm.io/gorm"
)

// CreateRunArtifact records artifact metadata. Content stays on disk.
func (ps PostgresDbStore) CreateRunArtifact(ctx context.Context, artifact *models.RunArtifact) error {
	if artifact.ArtifactID == "" {
		artifact.ArtifactID = newID()
	}
	if err := ps.getDB(ctx).Create(artifact).Error; err != nil {
		return fmt.Errorf("failed to create run artifact: %w", err)
	}
	return nil
}

// GetRunArtifactByID retrieves artifact metadata by id
func (ps PostgresDbStore) GetRunArtifactByID(ctx context.Context, artifactID string) (*models.RunArtifact, error) {
	if !isValidUUID(artifactID) {
		return nil, store.ErrNotFound
	}

	var artifact models.RunArtifact
	if err := ps.getDB(ctx).Where("artifact_id = ?", artifactID).First(&artifact).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get artifact %s: %w", artifactID, err)
	}
	return &artifact, nil
}

// ListRunArtifacts returns a run's artifact metadata in creation order
func (ps PostgresDbStore) ListRunArtifacts(ctx context.Context, runID string) ([]models.RunArtifact, error) {
	var artifacts []models.RunArtifact
	err := ps.getDB(ctx).Where("run_id = ?", runID).Order("created_at ASC").Find(&artifacts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts for run %s: %w", runID, err)
	}
	return artifacts, nil
}

// CreateLLMCall records per-model token telemetry for a job
func (ps PostgresDbStore) CreateLLMCall(ctx context.Context, call *models.LLMCall) error {
	if call.CallID == "" {
		call.CallID = newID()
	}
	if err := ps.getDB(ctx).Create(call).Error; err != nil {
		return fmt.Errorf("failed to create llm call: %w", err)
	}
	return nil
}

// ListLLMCallsByJob returns a job's model telemetry rows
func (ps PostgresDbStore) ListLLMCallsByJob(ctx context.Context, jobID string) ([]models.LLMCall, error) {
	var calls []models.LLMCall
	err := ps.getDB(ctx).Where("job_id = ?", jobID).Order("created_at ASC").Find(&calls).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list llm calls for job %s: %w", jobID, err)
	}
	return calls, nil
}

// TokenStatsByModel aggregates llm call token counts grouped by model
func (ps PostgresDbStore) TokenStatsByModel(ctx context.Context) ([]store.ModelTokenStats, error) {
	var stats []store.ModelTokenStats
	err := ps.getDB(ctx).Model(&models.LLMCall{}).
		Select("model_id, COUNT(*) AS calls, SUM(prompt_tokens) AS prompt_tokens, SUM(completion_tokens) AS completion_tokens, SUM(total_tokens) AS total_tokens").
		Group("model_id").
		Order("model_id ASC").
		Scan(&stats).Error
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate token stats: %w", err)
	}
	return stats, nil
}

// CreateWorkerAudit appends a dispatcher audit row
func (ps PostgresDbStore) CreateWorkerAudit(ctx context.Context, audit *models.WorkerAudit) error {
	if audit.AuditID == "" {
		audit.AuditID = newID()
	}
	if err := ps.getDB(ctx).Create(audit).Error; err != nil {
		return fmt.Errorf("failed to create worker audit: %w", err)
	}
	return nil
}

// ListWorkerAuditsByRun returns the audit trail for a run in order
func (ps PostgresDbStore) ListWorkerAuditsByRun(ctx context.Context, runID string) ([]models.WorkerAudit, error) {
	var audits []models.WorkerAudit
	err := ps.getDB(ctx).Where("run_id = ?", runID).Order("created_at ASC").Find(&audits).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list audits for run %s: %w", runID, err)
	}
	return audits, nil
}
