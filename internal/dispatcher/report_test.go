package dispatcher

import (
	"testing"
	"time"

	"github.com/malgorath/cyberbrain/internal/store/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRollupStatus(t *testing.T) {
	tests := []struct {
		name     string
		statuses []string
		expected string
	}{
		{"all success", []string{models.JobStatusSuccess, models.JobStatusSuccess}, models.RunStatusSuccess},
		{"all failed", []string{models.JobStatusFailed, models.JobStatusFailed}, models.RunStatusFailed},
		{"mixed", []string{models.JobStatusSuccess, models.JobStatusFailed}, models.RunStatusPartial},
		{"single success", []string{models.JobStatusSuccess}, models.RunStatusSuccess},
		{"no jobs", nil, models.RunStatusSuccess},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs := make([]models.Job, 0, len(tt.statuses))
			for _, s := range tt.statuses {
				jobs = append(jobs, models.Job{Status: s})
			}
			assert.Equal(t, tt.expected, RollupStatus(jobs))
		})
	}
}

func TestBuildRunReport(t *testing.T) {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ended := started.Add(90 * time.Second)
	jobEnded := started.Add(80 * time.Second)

	run := &models.Run{
		RunID:            "33333333-3333-3333-3333-333333333333",
		Status:           models.RunStatusPartial,
		StartedAt:        &started,
		EndedAt:          &ended,
		PromptTokens:     1200,
		CompletionTokens: 300,
		TotalTokens:      1500,
	}
	jobs := []models.Job{
		{
			JobID:     "j1",
			Kind:      models.TaskLogTriage,
			Status:    models.JobStatusSuccess,
			StartedAt: &started,
			EndedAt:   &jobEnded,
		},
		{
			JobID:        "j2",
			Kind:         models.TaskGPUReport,
			Status:       models.JobStatusFailed,
			ErrorKind:    "insufficient_vram",
			ErrorMessage: "insufficient VRAM",
		},
	}
	artifacts := []models.RunArtifact{
		{RunID: run.RunID, JobID: strPtr("j1"), Kind: models.ArtifactKindReport, Path: "/srv/logs/run_3/report.md"},
	}

	md, structured := BuildRunReport(run, jobs, artifacts)

	assert.Contains(t, md, "# Run "+run.RunID)
	assert.Contains(t, md, "## log_triage")
	assert.Contains(t, md, "## gpu_report")
	assert.Contains(t, md, "insufficient VRAM")
	assert.Contains(t, md, "/srv/logs/run_3/report.md")
	assert.Contains(t, md, "1200 prompt / 300 completion / 1500 total")

	require.NotNil(t, structured)
	assert.Equal(t, run.RunID, structured["run_id"])
	assert.Equal(t, models.RunStatusPartial, structured["status"])
	jobReports, ok := structured["jobs"].([]interface{})
	require.True(t, ok)
	assert.Len(t, jobReports, 2)
}

func TestBuildRunReportIdempotent(t *testing.T) {
	run := &models.Run{RunID: "r", Status: models.RunStatusSuccess}
	jobs := []models.Job{{JobID: "j", Kind: models.TaskServiceMap, Status: models.JobStatusSuccess}}

	md1, _ := BuildRunReport(run, jobs, nil)
	md2, _ := BuildRunReport(run, jobs, nil)
	assert.Equal(t, md1, md2)
}

func strPtr(s string) *string { return &s }
