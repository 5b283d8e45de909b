package dispatcher

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/catalystcommunity/app-utils-go/logging"
	"github.com/malgorath/cyberbrain/internal/metrics"
	"github.com/malgorath/cyberbrain/internal/store/models"
)

// telemetryFileName is the well-known sidecar a worker writes beside its
// artifacts: counters and per-model token usage, never text. Workers on
// multi-job runs may write telemetry_<job_id>.json instead to keep sidecars
// apart.
const telemetryFileName = "telemetry.json"

type telemetrySidecar struct {
	Models []telemetryModel `json:"models"`
}

type telemetryModel struct {
	Model            string `json:"model"`
	Endpoint         string `json:"endpoint"`
	PromptTokens     int64  `json:"prompt_tokens"`
	CompletionTokens int64  `json:"completion_tokens"`
	TotalTokens      int64  `json:"total_tokens"`
	DurationMS       int64  `json:"duration_ms"`
	Success          bool   `json:"success"`
	ErrorKind        string `json:"error_kind"`
}

// ingestResult summarizes what a job left behind.
type ingestResult struct {
	ArtifactCount    int
	ArtifactPaths    []string
	ModelIDs         []string
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
}

// ingestJobOutput enumerates the run's artifact directory, records one
// RunArtifact row per new file, parses the job's telemetry sidecar into
// LLMCall rows and bumps the run's token totals. The seen set keeps later
// jobs of the same run from re-recording earlier output. File content is
// never read into the database; only paths, sizes and MIME types.
func (d *Dispatcher) ingestJobOutput(ctx context.Context, run *models.Run, job *models.Job, seen map[string]bool) (*ingestResult, error) {
	res := &ingestResult{}
	runDir := filepath.Join(d.artifactRoot, "run_"+run.RunID)

	entries, err := os.ReadDir(runDir)
	if err != nil {
		if os.IsNotExist(err) {
			// Empty output is a valid degraded result
			return res, nil
		}
		return nil, err
	}

	perJobSidecar := "telemetry_" + job.JobID + ".json"

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		path := filepath.Join(runDir, entry.Name())
		if seen[path] {
			continue
		}

		if entry.Name() == perJobSidecar || entry.Name() == telemetryFileName {
			seen[path] = true
			if err := d.ingestTelemetry(ctx, run, job, path, res); err != nil {
				logging.Log.WithError(err).WithField("job_id", job.JobID).Warn("Failed to parse telemetry sidecar")
			}
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		artifact := &models.RunArtifact{
			RunID:     run.RunID,
			JobID:     &job.JobID,
			Kind:      classifyArtifact(entry.Name()),
			Path:      path,
			SizeBytes: info.Size(),
			MimeType:  mimeTypeFor(entry.Name()),
		}
		if err := d.store.CreateRunArtifact(ctx, artifact); err != nil {
			return nil, err
		}
		seen[path] = true
		res.ArtifactCount++
		res.ArtifactPaths = append(res.ArtifactPaths, path)
	}

	return res, nil
}

// ingestTelemetry records one LLMCall row per model entry with counted
// tokens only.
func (d *Dispatcher) ingestTelemetry(ctx context.Context, run *models.Run, job *models.Job, path string, res *ingestResult) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var sidecar telemetrySidecar
	if err := json.Unmarshal(data, &sidecar); err != nil {
		return err
	}

	for _, m := range sidecar.Models {
		call := &models.LLMCall{
			JobID:            job.JobID,
			ModelID:          m.Model,
			Endpoint:         m.Endpoint,
			PromptTokens:     m.PromptTokens,
			CompletionTokens: m.CompletionTokens,
			TotalTokens:      m.TotalTokens,
			DurationMS:       m.DurationMS,
			Success:          m.Success,
			ErrorKind:        m.ErrorKind,
		}
		if err := d.store.CreateLLMCall(ctx, call); err != nil {
			return err
		}

		metrics.RecordTokens(m.Model, m.PromptTokens, m.CompletionTokens)
		res.ModelIDs = append(res.ModelIDs, m.Model)
		res.PromptTokens += m.PromptTokens
		res.CompletionTokens += m.CompletionTokens
		res.TotalTokens += m.TotalTokens
	}

	if res.PromptTokens > 0 || res.CompletionTokens > 0 || res.TotalTokens > 0 {
		if err := d.store.AddRunTokens(ctx, run.RunID, res.PromptTokens, res.CompletionTokens, res.TotalTokens); err != nil {
			return err
		}
	}
	return nil
}

// classifyArtifact maps a file name onto an artifact kind.
func classifyArtifact(name string) string {
	lower := strings.ToLower(name)
	switch {
	case strings.HasPrefix(lower, "report."):
		return models.ArtifactKindReport
	case strings.HasSuffix(lower, ".log"):
		return models.ArtifactKindLog
	case strings.HasSuffix(lower, ".json") || strings.HasSuffix(lower, ".csv"):
		return models.ArtifactKindData
	default:
		return models.ArtifactKindOther
	}
}

// mimeTypeFor maps a file name onto a MIME type.
func mimeTypeFor(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".md":
		return "text/markdown"
	case ".json":
		return "application/json"
	case ".log", ".txt":
		return "text/plain"
	case ".csv":
		return "text/csv"
	default:
		return "application/octet-stream"
	}
}
