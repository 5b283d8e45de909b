package models

import (
	"time"

	"github.com/lib/pq"
)

// ContainerAllowlist names a container that log_triage and service_map
// workers may inspect on a host. The Docker container id is the primary key.
type ContainerAllowlist struct {
	ContainerID string    `gorm:"primaryKey;type:text" json:"container_id"`
	CreatedAt   time.Time `gorm:"autoCreateTime:false;default:timezone('utc', now())" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime:false;default:timezone('utc', now())" json:"updated_at"`

	Name        string         `gorm:"type:text;not null" json:"name"`
	Description string         `gorm:"type:text" json:"description"`
	Enabled     bool           `gorm:"default:true" json:"enabled"`
	Tags        pq.StringArray `gorm:"type:text[]" json:"tags"`
}

// TableName specifies the table name for the model
func (ContainerAllowlist) TableName() string {
	return "container_allowlist"
}

// WorkerImageAllowlist is an (image, tag) pair the dispatcher may spawn.
type WorkerImageAllowlist struct {
	ImageID   string    `gorm:"primaryKey;type:uuid" json:"image_id"`
	CreatedAt time.Time `gorm:"autoCreateTime:false;default:timezone('utc', now())" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime:false;default:timezone('utc', now())" json:"updated_at"`

	Image string `gorm:"type:text;not null;uniqueIndex:idx_image_tag,priority:1" json:"image"`
	Tag   string `gorm:"type:text;not null;uniqueIndex:idx_image_tag,priority:2" json:"tag"`

	Enabled bool `gorm:"default:true" json:"enabled"`

	RequiresGPU bool `gorm:"column:requires_gpu;default:false" json:"requires_gpu"`
	MinVRAMMB   int  `gorm:"column:min_vram_mb;default:0" json:"min_vram_mb"`

	// AllowCPUFallback permits running without a device when no GPU clears
	// the VRAM floor.
	AllowCPUFallback bool `gorm:"default:false" json:"allow_cpu_fallback"`
}

// TableName specifies the table name for the model
func (WorkerImageAllowlist) TableName() string {
	return "worker_image_allowlist"
}

// Ref returns the image reference passed to the Docker API.
func (w *WorkerImageAllowlist) Ref() string {
	return w.Image + ":" + w.Tag
}
