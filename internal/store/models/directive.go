package models

import (
	"time"

	"github.com/lib/pq"
)

// Directive is a named configuration snapshot-source. Runs that cite a
// directive capture its entire content by value at launch time; the core
// never mutates a directive after a run has snapshotted it.
type Directive struct {
	DirectiveID string    `gorm:"primaryKey;type:uuid" json:"directive_id"`
	CreatedAt   time.Time `gorm:"autoCreateTime:false;default:timezone('utc', now())" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime:false;default:timezone('utc', now())" json:"updated_at"`

	Name        string `gorm:"type:text;not null;uniqueIndex" json:"name"`
	Description string `gorm:"type:text" json:"description"`

	// TaskConfig holds the structured values consumed by workers, e.g.
	// timeout_seconds, model selection, hotspot thresholds.
	TaskConfig JSONB `gorm:"type:jsonb" json:"task_config"`

	// TaskList restricts which task kinds may appear in runs citing this
	// directive, in execution order.
	TaskList pq.StringArray `gorm:"type:text[];not null" json:"task_list"`

	ApprovalRequired  bool `gorm:"default:false" json:"approval_required"`
	MaxConcurrentRuns int  `gorm:"default:5" json:"max_concurrent_runs"`

	Enabled bool `gorm:"default:true" json:"enabled"`
	Version int  `gorm:"default:1" json:"version"`
}

// TableName specifies the table name for the model
func (Directive) TableName() string {
	return "directives"
}

// AllowsTask reports whether the given task kind appears in the task list.
func (d *Directive) AllowsTask(kind string) bool {
	for _, t := range d.TaskList {
		if t == kind {
			return true
		}
	}
	return false
}

// Snapshot captures the directive content as the immutable JSONB blob stored
// on a run at launch time.
func (d *Directive) Snapshot() JSONB {
	return JSONB{
		"directive_id":        d.DirectiveID,
		"name":                d.Name,
		"task_config":         map[string]interface{}(d.TaskConfig),
		"task_list":           []string(d.TaskList),
		"approval_required":   d.ApprovalRequired,
		"max_concurrent_runs": d.MaxConcurrentRuns,
		"version":             d.Version,
	}
}
