package models

import (
	"time"
)

// Run statuses. A run moves through pending -> running -> one terminal
// status; terminal transitions are one-way.
const (
	RunStatusPending   = "pending"
	RunStatusRunning   = "running"
	RunStatusSuccess   = "success"
	RunStatusFailed    = "failed"
	RunStatusPartial   = "partial"
	RunStatusCancelled = "cancelled"
)

// Approval statuses for runs citing a directive with approval_required.
const (
	ApprovalNone     = "none"
	ApprovalPending  = "pending"
	ApprovalApproved = "approved"
	ApprovalDenied   = "denied"
)

// Run is a single orchestrated execution of one or more jobs.
type Run struct {
	RunID     string    `gorm:"primaryKey;type:uuid" json:"run_id"`
	CreatedAt time.Time `gorm:"autoCreateTime:false;default:timezone('utc', now())" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime:false;default:timezone('utc', now())" json:"updated_at"`

	DirectiveID *string `gorm:"type:uuid" json:"directive_id"`

	// DirectiveSnapshot is the entire directive content captured at launch
	// time. Immutable for the run's lifetime; deleting the directive later
	// does not invalidate it.
	DirectiveSnapshot JSONB `gorm:"type:jsonb;not null" json:"directive_snapshot"`

	Status string `gorm:"type:text;not null;default:'pending';check:status IN ('pending', 'running', 'success', 'failed', 'partial', 'cancelled')" json:"status"`

	ApprovalStatus string     `gorm:"type:text;not null;default:'none';check:approval_status IN ('none', 'pending', 'approved', 'denied')" json:"approval_status"`
	ApprovedBy     string     `gorm:"type:text" json:"approved_by,omitempty"`
	ApprovedAt     *time.Time `json:"approved_at,omitempty"`

	WorkerHostID *string `gorm:"type:uuid" json:"worker_host_id"`

	// Token totals are monotonic sums over the attached LLM calls.
	PromptTokens     int64 `gorm:"default:0" json:"prompt_tokens"`
	CompletionTokens int64 `gorm:"default:0" json:"completion_tokens"`
	TotalTokens      int64 `gorm:"default:0" json:"total_tokens"`

	StartedAt *time.Time `json:"started_at"`
	EndedAt   *time.Time `gorm:"index:idx_runs_status_ended,priority:2" json:"ended_at"`

	// Report fields stay empty until the run is terminal.
	ReportMarkdown string `gorm:"type:text" json:"report_markdown,omitempty"`
	ReportJSON     JSONB  `gorm:"type:jsonb" json:"report_json,omitempty"`

	// Relationships
	Jobs []Job `gorm:"foreignKey:RunID" json:"jobs,omitempty"`
}

// TableName specifies the table name for the model
func (Run) TableName() string {
	return "runs"
}

// IsTerminal returns true once the run has reached a final status.
func (r *Run) IsTerminal() bool {
	switch r.Status {
	case RunStatusSuccess, RunStatusFailed, RunStatusPartial, RunStatusCancelled:
		return true
	}
	return false
}

// CanBeCancelled returns true if the run has not yet reached a terminal state.
func (r *Run) CanBeCancelled() bool {
	return r.Status == RunStatusPending || r.Status == RunStatusRunning
}

// SnapshotTimeoutSeconds returns the per-job wall clock limit carried by the
// directive snapshot, or def when the snapshot has none.
func (r *Run) SnapshotTimeoutSeconds(def int) int {
	cfg, ok := r.DirectiveSnapshot["task_config"].(map[string]interface{})
	if !ok {
		return def
	}
	switch v := cfg["timeout_seconds"].(type) {
	case float64:
		if v > 0 {
			return int(v)
		}
	case int:
		if v > 0 {
			return v
		}
	}
	return def
}

// SnapshotRequiredTasks returns the set of task kinds the snapshot marks as
// required. A failed required job fails the remaining jobs of the run.
func (r *Run) SnapshotRequiredTasks() map[string]bool {
	required := map[string]bool{}
	cfg, ok := r.DirectiveSnapshot["task_config"].(map[string]interface{})
	if !ok {
		return required
	}
	list, ok := cfg["required_tasks"].([]interface{})
	if !ok {
		return required
	}
	for _, item := range list {
		if kind, ok := item.(string); ok {
			required[kind] = true
		}
	}
	return required
}
