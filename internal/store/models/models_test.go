package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectiveAllowsTask(t *testing.T) {
	d := Directive{TaskList: []string{TaskLogTriage, TaskServiceMap}}
	assert.True(t, d.AllowsTask(TaskLogTriage))
	assert.False(t, d.AllowsTask(TaskGPUReport))
}

func TestDirectiveSnapshotCapturesContent(t *testing.T) {
	d := Directive{
		DirectiveID:       "d1",
		Name:              "nightly",
		TaskConfig:        JSONB{"timeout_seconds": 300},
		TaskList:          []string{TaskLogTriage},
		ApprovalRequired:  true,
		MaxConcurrentRuns: 3,
		Version:           7,
	}

	snapshot := d.Snapshot()
	assert.Equal(t, "nightly", snapshot["name"])
	assert.Equal(t, 7, snapshot["version"])
	assert.Equal(t, true, snapshot["approval_required"])

	// Mutating the directive later must not change the captured values
	d.Name = "renamed"
	d.Version = 8
	assert.Equal(t, "nightly", snapshot["name"])
	assert.Equal(t, 7, snapshot["version"])
}

func TestRunSnapshotTimeoutSeconds(t *testing.T) {
	tests := []struct {
		name     string
		snapshot JSONB
		expected int
	}{
		{"configured", JSONB{"task_config": map[string]interface{}{"timeout_seconds": float64(120)}}, 120},
		{"missing config", JSONB{}, 600},
		{"zero falls back", JSONB{"task_config": map[string]interface{}{"timeout_seconds": float64(0)}}, 600},
		{"wrong type falls back", JSONB{"task_config": map[string]interface{}{"timeout_seconds": "fast"}}, 600},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Run{DirectiveSnapshot: tt.snapshot}
			assert.Equal(t, tt.expected, r.SnapshotTimeoutSeconds(600))
		})
	}
}

func TestRunSnapshotRequiredTasks(t *testing.T) {
	r := Run{DirectiveSnapshot: JSONB{
		"task_config": map[string]interface{}{
			"required_tasks": []interface{}{TaskLogTriage},
		},
	}}

	required := r.SnapshotRequiredTasks()
	assert.True(t, required[TaskLogTriage])
	assert.False(t, required[TaskGPUReport])
}

func TestRunTerminalStates(t *testing.T) {
	for _, status := range []string{RunStatusSuccess, RunStatusFailed, RunStatusPartial, RunStatusCancelled} {
		r := Run{Status: status}
		assert.True(t, r.IsTerminal(), status)
		assert.False(t, r.CanBeCancelled(), status)
	}
	for _, status := range []string{RunStatusPending, RunStatusRunning} {
		r := Run{Status: status}
		assert.False(t, r.IsTerminal(), status)
		assert.True(t, r.CanBeCancelled(), status)
	}
}

func TestScheduleIsOneShot(t *testing.T) {
	oneShot := OneShotInterval
	fifteen := 15

	assert.True(t, (&Schedule{Kind: ScheduleKindInterval, IntervalMinutes: &oneShot}).IsOneShot())
	assert.False(t, (&Schedule{Kind: ScheduleKindInterval, IntervalMinutes: &fifteen}).IsOneShot())
	assert.False(t, (&Schedule{Kind: ScheduleKindCron}).IsOneShot())
}

func TestWorkerHostSSHConfigNeverSerialized(t *testing.T) {
	host := WorkerHost{
		HostID:   "h1",
		Name:     "gpu-box",
		Kind:     HostKindRemoteTCP,
		Endpoint: "tcp://10.0.0.5:2375",
		SSHConfig: &SSHConfig{
			Host:    "10.0.0.5",
			Port:    22,
			User:    "orchestrator",
			KeyPath: "/etc/cyberbrain/id_ed25519",
		},
	}

	data, err := json.Marshal(host)
	require.NoError(t, err)

	serialized := string(data)
	assert.NotContains(t, serialized, "orchestrator")
	assert.NotContains(t, serialized, "id_ed25519")
	assert.NotContains(t, serialized, "ssh")
}

func TestWorkerHostCapabilities(t *testing.T) {
	host := WorkerHost{GPUs: true, GPUCount: 2, MaxConcurrency: 4, Labels: []string{"gpu"}}

	caps := host.Capabilities()
	assert.Equal(t, true, caps["gpus"])
	assert.Equal(t, 2, caps["gpu_count"])
	assert.Equal(t, 4, caps["max_concurrency"])
	assert.Equal(t, []string{"gpu"}, caps["labels"])
}

func TestLLMCallHasNoTextFields(t *testing.T) {
	// Structural no-content guardrail: every LLMCall field is a counter,
	// flag, timestamp, or short identifier. A prompt/response field would
	// show up here as an unexplained string column.
	call := LLMCall{
		JobID:            "j1",
		ModelID:          "llama3:70b",
		Endpoint:         "http://ollama.lan:11434",
		PromptTokens:     100,
		CompletionTokens: 50,
		TotalTokens:      150,
	}

	data, err := json.Marshal(call)
	require.NoError(t, err)

	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &fields))

	allowed := map[string]bool{
		"call_id": true, "created_at": true, "job_id": true, "model_id": true,
		"endpoint": true, "prompt_tokens": true, "completion_tokens": true,
		"total_tokens": true, "duration_ms": true, "success": true, "error_kind": true,
	}
	for field := range fields {
		assert.True(t, allowed[field], "unexpected LLMCall field %q", field)
	}
}

func TestJSONBRoundTrip(t *testing.T) {
	original := JSONB{"nodes": float64(3), "scoped": true}

	value, err := original.Value()
	require.NoError(t, err)

	var decoded JSONB
	require.NoError(t, decoded.Scan(value))
	assert.Equal(t, original, decoded)
}

func TestHostIsStaleUsesLastSeen(t *testing.T) {
	now := time.Now().UTC()
	seen := now.Add(-10 * time.Minute)
	h := WorkerHost{Healthy: true, LastSeenAt: &seen}
	assert.True(t, h.IsStale(now, 5*time.Minute))
}
