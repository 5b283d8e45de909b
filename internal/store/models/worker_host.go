package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Worker host kinds.
const (
	HostKindLocalSocket = "local_socket"
	HostKindRemoteTCP   = "remote_tcp"
)

// SSHConfig carries the forwarding credentials for a host reached over an
// SSH tunnel. It is write-only: the json tag on WorkerHost keeps it out of
// every API response.
type SSHConfig struct {
	Host    string `json:"host"`
	Port    int    `json:"port"`
	User    string `json:"user"`
	KeyPath string `json:"key_path"`
}

// Value implements driver.Valuer for JSONB storage
func (c SSHConfig) Value() (driver.Value, error) {
	return json.Marshal(c)
}

// Scan implements sql.Scanner for JSONB retrieval
func (c *SSHConfig) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into SSHConfig", value)
	}
	return json.Unmarshal(bytes, c)
}

// WorkerHost is a Docker endpoint the dispatcher may use: a local socket or
// a remote TCP address, optionally reached through an SSH tunnel.
type WorkerHost struct {
	HostID    string    `gorm:"primaryKey;type:uuid" json:"host_id"`
	CreatedAt time.Time `gorm:"autoCreateTime:false;default:timezone('utc', now())" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime:false;default:timezone('utc', now())" json:"updated_at"`

	Name string `gorm:"type:text;not null;uniqueIndex" json:"name"`
	Kind string `gorm:"type:text;not null;check:kind IN ('local_socket', 'remote_tcp')" json:"kind"`

	// Endpoint is a unix socket path for local_socket hosts or a tcp://
	// address for remote_tcp hosts. Remote addresses must sit in a private
	// range; CRUD validation enforces that.
	Endpoint string `gorm:"type:text;not null" json:"endpoint"`

	// Capability columns (flattened; Capabilities() assembles the map).
	GPUs           bool           `gorm:"column:gpus;default:false" json:"gpus"`
	GPUCount       int            `gorm:"column:gpu_count;default:0" json:"gpu_count"`
	MaxConcurrency int            `gorm:"default:1" json:"max_concurrency"`
	Labels         pq.StringArray `gorm:"type:text[]" json:"labels"`

	// SSHConfig is never serialized; responses expose has_ssh_config only.
	SSHConfig *SSHConfig `gorm:"type:jsonb" json:"-"`

	Enabled         bool       `gorm:"default:true;index:idx_hosts_routing,priority:1" json:"enabled"`
	Healthy         bool       `gorm:"default:false;index:idx_hosts_routing,priority:2" json:"healthy"`
	ActiveRunsCount int        `gorm:"default:0" json:"active_runs_count"`
	LastSeenAt      *time.Time `gorm:"index:idx_hosts_routing,priority:3" json:"last_seen_at"`
}

// TableName specifies the table name for the model
func (WorkerHost) TableName() string {
	return "worker_hosts"
}

// Capabilities assembles the capability map exposed through the read API.
func (h *WorkerHost) Capabilities() map[string]interface{} {
	return map[string]interface{}{
		"gpus":            h.GPUs,
		"gpu_count":       h.GPUCount,
		"max_concurrency": h.MaxConcurrency,
		"labels":          []string(h.Labels),
	}
}

// HasSSHConfig reports whether forwarding credentials are present without
// revealing them.
func (h *WorkerHost) HasSSHConfig() bool {
	return h.SSHConfig != nil && h.SSHConfig.Host != ""
}

// IsStale reports whether the last successful probe is older than the
// staleness threshold. Stale hosts are excluded from routing regardless of
// the healthy flag.
func (h *WorkerHost) IsStale(now time.Time, threshold time.Duration) bool {
	if h.LastSeenAt == nil {
		return true
	}
	return h.LastSeenAt.Before(now.Add(-threshold))
}

// GPUState is a per-host, per-device VRAM and utilization sample.
type GPUState struct {
	GPUStateID string    `gorm:"column:gpu_state_id;primaryKey;type:uuid" json:"gpu_state_id"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime:false;default:timezone('utc', now())" json:"updated_at"`

	HostID      string `gorm:"type:uuid;not null;uniqueIndex:idx_gpu_host_device,priority:1" json:"host_id"`
	DeviceIndex int    `gorm:"not null;uniqueIndex:idx_gpu_host_device,priority:2" json:"device_index"`

	TotalVRAMMB    int     `gorm:"column:total_vram_mb;not null" json:"total_vram_mb"`
	UsedVRAMMB     int     `gorm:"column:used_vram_mb;not null" json:"used_vram_mb"`
	FreeVRAMMB     int     `gorm:"column:free_vram_mb;not null" json:"free_vram_mb"`
	UtilizationPct float64 `gorm:"not null" json:"utilization_pct"`
	ActiveWorkers  int     `gorm:"default:0" json:"active_workers"`
}

// TableName specifies the table name for the model
func (GPUState) TableName() string {
	return "gpu_states"
}
