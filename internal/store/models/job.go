package models

import (
	"time"
)

// Task kinds the dispatcher knows how to run.
const (
	TaskLogTriage  = "log_triage"
	TaskGPUReport  = "gpu_report"
	TaskServiceMap = "service_map"
)

// Job statuses. A job's lifecycle is contained within its run's.
const (
	JobStatusPending = "pending"
	JobStatusRunning = "running"
	JobStatusSuccess = "success"
	JobStatusFailed  = "failed"
)

// KnownTaskKinds lists every task kind the dispatcher can execute.
var KnownTaskKinds = []string{TaskLogTriage, TaskGPUReport, TaskServiceMap}

// IsKnownTaskKind reports whether kind names a built-in task.
func IsKnownTaskKind(kind string) bool {
	for _, k := range KnownTaskKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Job is a single task within a run, executed by one worker container.
type Job struct {
	JobID     string    `gorm:"primaryKey;type:uuid" json:"job_id"`
	CreatedAt time.Time `gorm:"autoCreateTime:false;default:timezone('utc', now())" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime:false;default:timezone('utc', now())" json:"updated_at"`

	RunID string `gorm:"type:uuid;not null;index" json:"run_id"`

	Kind   string `gorm:"type:text;not null;index:idx_jobs_kind_status,priority:1" json:"kind"`
	Status string `gorm:"type:text;not null;default:'pending';index:idx_jobs_kind_status,priority:2;check:status IN ('pending', 'running', 'success', 'failed')" json:"status"`

	StartedAt *time.Time `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at"`

	// Result is a bounded JSON document holding references only: artifact
	// paths, counts, model ids, booleans. Worker output content never lands
	// here.
	Result JSONB `gorm:"type:jsonb" json:"result,omitempty"`

	// ErrorKind is one of the stable error kind identifiers; ErrorMessage is
	// a short, non-sensitive summary.
	ErrorKind    string `gorm:"type:varchar(64)" json:"error_kind,omitempty"`
	ErrorMessage string `gorm:"type:varchar(512)" json:"error_message,omitempty"`
}

// TableName specifies the table name for the model
func (Job) TableName() string {
	return "jobs"
}

// IsTerminal returns true once the job has reached a final status.
func (j *Job) IsTerminal() bool {
	return j.Status == JobStatusSuccess || j.Status == JobStatusFailed
}
