package dispatcher

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/malgorath/cyberbrain/internal/store/models"
)

// TaskSpec is the worker blueprint for one job: which image runs and what
// environment it sees. Built by a pure function per task kind; the
// dispatcher switches on the kind tag, there is no worker hierarchy.
type TaskSpec struct {
	Kind  string
	Image string
	Tag   string
	Env   map[string]string
}

// Default worker images per task kind, overridable through the directive
// snapshot's task_config.images map.
var defaultImages = map[string]string{
	models.TaskLogTriage:  "cyberbrain/log-triage-worker:latest",
	models.TaskGPUReport:  "cyberbrain/gpu-report-worker:latest",
	models.TaskServiceMap: "cyberbrain/service-map-worker:latest",
}

// BuildTaskSpec derives the worker spec for a job from the run's directive
// snapshot.
func BuildTaskSpec(run *models.Run, job *models.Job) (TaskSpec, error) {
	ref, ok := defaultImages[job.Kind]
	if !ok {
		return TaskSpec{}, fmt.Errorf("unknown task kind %q", job.Kind)
	}

	if cfg, ok := run.DirectiveSnapshot["task_config"].(map[string]interface{}); ok {
		if images, ok := cfg["images"].(map[string]interface{}); ok {
			if override, ok := images[job.Kind].(string); ok && override != "" {
				ref = override
			}
		}
	}

	image, tag := splitImageRef(ref)

	snapshotJSON, err := json.Marshal(run.DirectiveSnapshot)
	if err != nil {
		return TaskSpec{}, fmt.Errorf("failed to encode directive snapshot: %w", err)
	}

	env := map[string]string{
		"CYBERBRAIN_RUN_ID":             run.RunID,
		"CYBERBRAIN_JOB_ID":             job.JobID,
		"CYBERBRAIN_TASK_KIND":          job.Kind,
		"CYBERBRAIN_DIRECTIVE_SNAPSHOT": string(snapshotJSON),
		"CYBERBRAIN_ARTIFACT_PREFIX":    fmt.Sprintf("/logs/run_%s", run.RunID),
	}

	return TaskSpec{
		Kind:  job.Kind,
		Image: image,
		Tag:   tag,
		Env:   env,
	}, nil
}

// splitImageRef splits "image:tag" defaulting the tag to latest. Registry
// ports are left inside the image part.
func splitImageRef(ref string) (string, string) {
	idx := strings.LastIndex(ref, ":")
	if idx < 0 || strings.Contains(ref[idx+1:], "/") {
		return ref, "latest"
	}
	return ref[:idx], ref[idx+1:]
}
