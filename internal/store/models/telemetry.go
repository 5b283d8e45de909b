package models

import (
	"time"
)

// Artifact kinds.
const (
	ArtifactKindLog    = "log"
	ArtifactKindReport = "report"
	ArtifactKindData   = "data"
	ArtifactKindOther  = "other"
)

// RunArtifact is metadata about a file a worker produced under the artifact
// root. Content is never stored; the path must stay inside the root.
type RunArtifact struct {
	ArtifactID string    `gorm:"primaryKey;type:uuid" json:"artifact_id"`
	CreatedAt  time.Time `gorm:"autoCreateTime:false;default:timezone('utc', now())" json:"created_at"`

	RunID string  `gorm:"type:uuid;not null;index" json:"run_id"`
	JobID *string `gorm:"type:uuid" json:"job_id,omitempty"`

	Kind      string `gorm:"type:text;not null;check:kind IN ('log', 'report', 'data', 'other')" json:"kind"`
	Path      string `gorm:"type:text;not null" json:"path"`
	SizeBytes int64  `gorm:"not null" json:"size_bytes"`
	MimeType  string `gorm:"type:varchar(128)" json:"mime_type"`
}

// TableName specifies the table name for the model
func (RunArtifact) TableName() string {
	return "run_artifacts"
}

// LLMCall is per-model token-and-timing telemetry for a job. Every column is
// a counter, flag, or short identifier; there is deliberately no field able
// to hold prompt or completion text.
type LLMCall struct {
	CallID    string    `gorm:"primaryKey;type:uuid" json:"call_id"`
	CreatedAt time.Time `gorm:"autoCreateTime:false;default:timezone('utc', now())" json:"created_at"`

	JobID   string `gorm:"type:uuid;not null;index:idx_llm_job_model,priority:1" json:"job_id"`
	ModelID string `gorm:"type:varchar(128);not null;index:idx_llm_job_model,priority:2" json:"model_id"`

	Endpoint string `gorm:"type:varchar(256)" json:"endpoint"`

	PromptTokens     int64 `gorm:"default:0" json:"prompt_tokens"`
	CompletionTokens int64 `gorm:"default:0" json:"completion_tokens"`
	TotalTokens      int64 `gorm:"default:0" json:"total_tokens"`

	DurationMS int64 `gorm:"default:0" json:"duration_ms"`

	Success   bool   `gorm:"default:true" json:"success"`
	ErrorKind string `gorm:"type:varchar(64)" json:"error_kind,omitempty"`
}

// TableName specifies the table name for the model
func (LLMCall) TableName() string {
	return "llm_calls"
}

// Audit operations recorded by the dispatcher.
const (
	AuditSpawn  = "spawn"
	AuditStart  = "start"
	AuditStop   = "stop"
	AuditRemove = "remove"
	AuditError  = "error"
)

// WorkerAudit is the append-only log of dispatcher actions.
type WorkerAudit struct {
	AuditID   string    `gorm:"primaryKey;type:uuid" json:"audit_id"`
	CreatedAt time.Time `gorm:"autoCreateTime:false;default:timezone('utc', now())" json:"created_at"`

	RunID *string `gorm:"type:uuid;index" json:"run_id,omitempty"`
	JobID *string `gorm:"type:uuid" json:"job_id,omitempty"`

	Operation   string `gorm:"type:text;not null;check:operation IN ('spawn', 'start', 'stop', 'remove', 'error')" json:"operation"`
	ContainerID string `gorm:"type:text" json:"container_id,omitempty"`
	Image       string `gorm:"type:text" json:"image,omitempty"`

	ChosenGPU *int   `gorm:"column:chosen_gpu" json:"chosen_gpu,omitempty"`
	GPUReason string `gorm:"type:varchar(256)" json:"gpu_reason,omitempty"`

	// ConfigSnapshot is the container config the operation used: image,
	// mounts, labels. Never worker output.
	ConfigSnapshot JSONB `gorm:"type:jsonb" json:"config_snapshot,omitempty"`

	Success bool   `gorm:"default:true" json:"success"`
	Detail  string `gorm:"type:varchar(512)" json:"detail,omitempty"`
}

// TableName specifies the table name for the model
func (WorkerAudit) TableName() string {
	return "worker_audits"
}
