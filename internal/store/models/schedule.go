package models

import (
	"time"
)

// Schedule kinds.
const (
	ScheduleKindInterval = "interval"
	ScheduleKindCron     = "cron"
)

// Task3 scopes controlling which containers a service_map run may inspect.
const (
	ScopeAllowlist = "allowlist"
	ScopeAll       = "all"
)

// OneShotInterval is the interval_minutes sentinel marking a schedule that
// fires exactly once. After the claim loop dispatches it, next_run_at is
// pushed to FarFuture.
const OneShotInterval = 0

// FarFuture is the next_run_at value for consumed one-shot schedules.
var FarFuture = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)

// Schedule is a due-time pointer consumed by the claim loop. At most one
// claimant holds claimed_until > now().
type Schedule struct {
	ScheduleID string    `gorm:"primaryKey;type:uuid" json:"schedule_id"`
	CreatedAt  time.Time `gorm:"autoCreateTime:false;default:timezone('utc', now())" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime:false;default:timezone('utc', now())" json:"updated_at"`

	Name string `gorm:"type:text;not null;uniqueIndex" json:"name"`

	// JobKind is the task kind template this schedule launches.
	JobKind string `gorm:"type:text;not null" json:"job_kind"`

	// Exactly one of DirectiveID or CustomDirectiveText is set.
	DirectiveID         *string `gorm:"type:uuid" json:"directive_id"`
	CustomDirectiveText string  `gorm:"type:text" json:"custom_directive_text,omitempty"`

	Enabled bool `gorm:"default:true;index:idx_schedules_due,priority:1" json:"enabled"`

	// Kind selects the recurrence rule: interval_minutes for "interval"
	// (OneShotInterval means fire once), cron_expr + timezone for "cron".
	Kind            string  `gorm:"type:text;not null;check:kind IN ('interval', 'cron')" json:"kind"`
	IntervalMinutes *int    `json:"interval_minutes,omitempty"`
	CronExpr        *string `gorm:"type:text" json:"cron_expr,omitempty"`
	Timezone        string  `gorm:"type:text;default:'UTC'" json:"timezone"`

	Task3Scope string `gorm:"type:text;default:'allowlist';check:task3_scope IN ('allowlist', 'all')" json:"task3_scope"`

	// Concurrency caps checked by the claim loop before dispatch.
	MaxGlobal *int `json:"max_global,omitempty"`
	MaxPerJob *int `json:"max_per_job,omitempty"`

	LastRunAt *time.Time `json:"last_run_at"`
	NextRunAt *time.Time `gorm:"index:idx_schedules_due,priority:2" json:"next_run_at"`

	// Claim fields. claimed_until in the future marks the row as held; a
	// crashed claimant's rows free themselves when the TTL elapses.
	ClaimedBy    string     `gorm:"type:text;default:''" json:"claimed_by,omitempty"`
	ClaimedUntil *time.Time `json:"claimed_until,omitempty"`
}

// TableName specifies the table name for the model
func (Schedule) TableName() string {
	return "schedules"
}

// IsOneShot reports whether this schedule fires exactly once.
func (s *Schedule) IsOneShot() bool {
	return s.Kind == ScheduleKindInterval && s.IntervalMinutes != nil && *s.IntervalMinutes == OneShotInterval
}

// ScheduledRun statuses.
const (
	ScheduledRunPending  = "pending"
	ScheduledRunStarted  = "started"
	ScheduledRunFinished = "finished"
	ScheduledRunFailed   = "failed"
)

// ScheduledRun binds a schedule to the run it produced. One-shot launches
// pre-create the binding with a pending run; recurring schedules append a
// binding per firing as history.
type ScheduledRun struct {
	ScheduledRunID string    `gorm:"primaryKey;type:uuid" json:"scheduled_run_id"`
	CreatedAt      time.Time `gorm:"autoCreateTime:false;default:timezone('utc', now())" json:"created_at"`

	ScheduleID string `gorm:"type:uuid;not null;index" json:"schedule_id"`
	RunID      string `gorm:"type:uuid;not null;index" json:"run_id"`

	Status string `gorm:"type:text;not null;default:'pending';check:status IN ('pending', 'started', 'finished', 'failed')" json:"status"`

	StartedAt  *time.Time `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`

	// ErrorSummary is a short reason recorded when the firing failed or was
	// skipped; never worker output.
	ErrorSummary string `gorm:"type:varchar(512)" json:"error_summary,omitempty"`
}

// TableName specifies the table name for the model
func (ScheduledRun) TableName() string {
	return "scheduled_runs"
}
