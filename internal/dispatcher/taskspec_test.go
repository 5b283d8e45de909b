package dispatcher

import (
	"testing"

	"github.com/malgorath/cyberbrain/internal/store/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildTaskSpecDefaults(t *testing.T) {
	run := &models.Run{
		RunID:             "11111111-1111-1111-1111-111111111111",
		DirectiveSnapshot: models.JSONB{"name": "nightly"},
	}
	job := &models.Job{
		JobID: "22222222-2222-2222-2222-222222222222",
		Kind:  models.TaskLogTriage,
	}

	spec, err := BuildTaskSpec(run, job)
	require.NoError(t, err)
	assert.Equal(t, "cyberbrain/log-triage-worker", spec.Image)
	assert.Equal(t, "latest", spec.Tag)
	assert.Equal(t, run.RunID, spec.Env["CYBERBRAIN_RUN_ID"])
	assert.Equal(t, job.JobID, spec.Env["CYBERBRAIN_JOB_ID"])
	assert.Equal(t, "/logs/run_"+run.RunID, spec.Env["CYBERBRAIN_ARTIFACT_PREFIX"])
	assert.Contains(t, spec.Env["CYBERBRAIN_DIRECTIVE_SNAPSHOT"], "nightly")
}

func TestBuildTaskSpecSnapshotOverride(t *testing.T) {
	run := &models.Run{
		RunID: "11111111-1111-1111-1111-111111111111",
		DirectiveSnapshot: models.JSONB{
			"task_config": map[string]interface{}{
				"images": map[string]interface{}{
					models.TaskGPUReport: "registry.lan:5000/custom-gpu-worker:v3",
				},
			},
		},
	}
	job := &models.Job{JobID: "22222222-2222-2222-2222-222222222222", Kind: models.TaskGPUReport}

	spec, err := BuildTaskSpec(run, job)
	require.NoError(t, err)
	assert.Equal(t, "registry.lan:5000/custom-gpu-worker", spec.Image)
	assert.Equal(t, "v3", spec.Tag)
}

func TestBuildTaskSpecUnknownKind(t *testing.T) {
	run := &models.Run{RunID: "r", DirectiveSnapshot: models.JSONB{}}
	job := &models.Job{JobID: "j", Kind: "mystery"}

	_, err := BuildTaskSpec(run, job)
	assert.Error(t, err)
}

func TestSplitImageRef(t *testing.T) {
	tests := []struct {
		ref   string
		image string
		tag   string
	}{
		{"alpine", "alpine", "latest"},
		{"alpine:3.20", "alpine", "3.20"},
		{"registry.lan:5000/worker", "registry.lan:5000/worker", "latest"},
		{"registry.lan:5000/worker:v2", "registry.lan:5000/worker", "v2"},
	}

	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			image, tag := splitImageRef(tt.ref)
			assert.Equal(t, tt.image, image)
			assert.Equal(t, tt.tag, tag)
		})
	}
}

func TestClassifyArtifact(t *testing.T) {
	assert.Equal(t, models.ArtifactKindReport, classifyArtifact("report.md"))
	assert.Equal(t, models.ArtifactKindReport, classifyArtifact("report.json"))
	assert.Equal(t, models.ArtifactKindLog, classifyArtifact("triage.log"))
	assert.Equal(t, models.ArtifactKindData, classifyArtifact("topology.json"))
	assert.Equal(t, models.ArtifactKindOther, classifyArtifact("notes.bin"))
}

func TestMimeTypeFor(t *testing.T) {
	assert.Equal(t, "text/markdown", mimeTypeFor("report.md"))
	assert.Equal(t, "application/json", mimeTypeFor("topology.json"))
	assert.Equal(t, "text/plain", mimeTypeFor("worker.log"))
	assert.Equal(t, "application/octet-stream", mimeTypeFor("blob"))
}
