package dispatcher

import (
	"fmt"
	"strings"
	"time"

	"github.com/malgorath/cyberbrain/internal/store/models"
)

// RollupStatus folds terminal job statuses into the run's terminal status:
// success when every job succeeded, failed when every job failed, partial
// for a mix.
func RollupStatus(jobs []models.Job) string {
	if len(jobs) == 0 {
		return models.RunStatusSuccess
	}

	succeeded, failed := 0, 0
	for _, j := range jobs {
		switch j.Status {
		case models.JobStatusSuccess:
			succeeded++
		case models.JobStatusFailed:
			failed++
		}
	}

	switch {
	case failed == 0:
		return models.RunStatusSuccess
	case succeeded == 0:
		return models.RunStatusFailed
	default:
		return models.RunStatusPartial
	}
}

// BuildRunReport renders the run's markdown summary and its structured
// mirror: one section per job with status, duration, artifact pointers and
// token totals. Idempotent for a terminal run.
func BuildRunReport(run *models.Run, jobs []models.Job, artifacts []models.RunArtifact) (string, models.JSONB) {
	var md strings.Builder

	fmt.Fprintf(&md, "# Run %s\n\n", run.RunID)
	fmt.Fprintf(&md, "- Status: %s\n", run.Status)
	if run.StartedAt != nil && run.EndedAt != nil {
		fmt.Fprintf(&md, "- Duration: %s\n", run.EndedAt.Sub(*run.StartedAt).Round(time.Second))
	}
	fmt.Fprintf(&md, "- Tokens: %d prompt / %d completion / %d total\n\n",
		run.PromptTokens, run.CompletionTokens, run.TotalTokens)

	artifactsByJob := map[string][]models.RunArtifact{}
	for _, a := range artifacts {
		if a.JobID != nil {
			artifactsByJob[*a.JobID] = append(artifactsByJob[*a.JobID], a)
		}
	}

	jobReports := make([]interface{}, 0, len(jobs))
	for _, job := range jobs {
		fmt.Fprintf(&md, "## %s\n\n", job.Kind)
		fmt.Fprintf(&md, "- Status: %s\n", job.Status)
		if job.StartedAt != nil && job.EndedAt != nil {
			fmt.Fprintf(&md, "- Duration: %s\n", job.EndedAt.Sub(*job.StartedAt).Round(time.Second))
		}
		if job.ErrorMessage != "" {
			fmt.Fprintf(&md, "- Error: %s (%s)\n", job.ErrorMessage, job.ErrorKind)
		}

		jobArtifacts := artifactsByJob[job.JobID]
		paths := make([]string, 0, len(jobArtifacts))
		for _, a := range jobArtifacts {
			paths = append(paths, a.Path)
		}
		if len(paths) > 0 {
			fmt.Fprintf(&md, "- Artifacts:\n")
			for _, p := range paths {
				fmt.Fprintf(&md, "  - %s\n", p)
			}
		}
		md.WriteString("\n")

		jobReport := map[string]interface{}{
			"job_id":    job.JobID,
			"kind":      job.Kind,
			"status":    job.Status,
			"artifacts": paths,
		}
		if job.ErrorKind != "" {
			jobReport["error_kind"] = job.ErrorKind
			jobReport["error_message"] = job.ErrorMessage
		}
		if job.StartedAt != nil && job.EndedAt != nil {
			jobReport["duration_seconds"] = job.EndedAt.Sub(*job.StartedAt).Seconds()
		}
		jobReports = append(jobReports, jobReport)
	}

	structured := models.JSONB{
		"run_id": run.RunID,
		"status": run.Status,
		"tokens": map[string]interface{}{
			"prompt":     run.PromptTokens,
			"completion": run.CompletionTokens,
			"total":      run.TotalTokens,
		},
		"jobs": jobReports,
	}

	return md.String(), structured
}
