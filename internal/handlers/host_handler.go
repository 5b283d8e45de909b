package handlers

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/malgorath/cyberbrain/internal/hostrouter"
	"github.com/malgorath/cyberbrain/internal/store"
	"github.com/malgorath/cyberbrain/internal/store/models"
)

// HostHandler handles worker host CRUD and health
type HostHandler struct {
	BaseHandler
	store   store.Store
	checker *hostrouter.HealthChecker
	tunnels *hostrouter.TunnelManager
}

// NewHostHandler creates a host handler. The checker runs on-demand probes
// for ?check=true.
func NewHostHandler(s store.Store, checker *hostrouter.HealthChecker, tunnels *hostrouter.TunnelManager) *HostHandler {
	return &HostHandler{store: s, checker: checker, tunnels: tunnels}
}

// HostRequest is the create/update payload. SSH credentials are write-only.
type HostRequest struct {
	Name           string   `json:"name"`
	Kind           string   `json:"kind"`
	Endpoint       string   `json:"endpoint"`
	GPUs           *bool    `json:"gpus,omitempty"`
	GPUCount       *int     `json:"gpu_count,omitempty"`
	MaxConcurrency *int     `json:"max_concurrency,omitempty"`
	Labels         []string `json:"labels,omitempty"`
	Enabled        *bool    `json:"enabled,omitempty"`

	SSHConfig *models.SSHConfig `json:"ssh_config,omitempty"`
}

// HostResponse is the redacted host view: credentials never leave the
// store, only a boolean flag.
type HostResponse struct {
	HostID          string                 `json:"host_id"`
	Name            string                 `json:"name"`
	Kind            string                 `json:"kind"`
	Endpoint        string                 `json:"endpoint"`
	Capabilities    map[string]interface{} `json:"capabilities"`
	HasSSHConfig    bool                   `json:"has_ssh_config"`
	Enabled         bool                   `json:"enabled"`
	Healthy         bool                   `json:"healthy"`
	ActiveRunsCount int                    `json:"active_runs_count"`
	LastSeenAt      *time.Time             `json:"last_seen_at"`
	CreatedAt       time.Time              `json:"created_at"`
}

func redactHost(host *models.WorkerHost) HostResponse {
	return HostResponse{
		HostID:          host.HostID,
		Name:            host.Name,
		Kind:            host.Kind,
		Endpoint:        host.Endpoint,
		Capabilities:    host.Capabilities(),
		HasSSHConfig:    host.HasSSHConfig(),
		Enabled:         host.Enabled,
		Healthy:         host.Healthy,
		ActiveRunsCount: host.ActiveRunsCount,
		LastSeenAt:      host.LastSeenAt,
		CreatedAt:       host.CreatedAt,
	}
}

func (req *HostRequest) validate() string {
	if req.Name == "" {
		return "name is required"
	}
	if req.Kind != models.HostKindLocalSocket && req.Kind != models.HostKindRemoteTCP {
		return "kind must be local_socket or remote_tcp"
	}
	if req.Endpoint == "" {
		return "endpoint is required"
	}
	if req.Kind == models.HostKindRemoteTCP && !isPrivateTCPEndpoint(req.Endpoint) {
		return "remote endpoint must be a private-range tcp address"
	}
	return ""
}

// isPrivateTCPEndpoint verifies a tcp:// endpoint points at a private-range
// address. The fleet lives on a trusted LAN; public endpoints are refused.
func isPrivateTCPEndpoint(endpoint string) bool {
	addr := strings.TrimPrefix(endpoint, "tcp://")
	hostPart, _, err := net.SplitHostPort(addr)
	if err != nil {
		hostPart = addr
	}
	ip := net.ParseIP(hostPart)
	if ip == nil {
		// Hostnames resolve on the LAN; allow them
		return !strings.Contains(hostPart, ".") || strings.HasSuffix(hostPart, ".local") || strings.HasSuffix(hostPart, ".lan")
	}
	return ip.IsPrivate() || ip.IsLoopback()
}

// CreateHost handles POST /api/v1/worker-hosts
func (h *HostHandler) CreateHost(w http.ResponseWriter, r *http.Request) {
	var req HostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithKind(w, store.KindValidation, "invalid request body")
		return
	}
	if msg := req.validate(); msg != "" {
		h.respondWithKind(w, store.KindValidation, msg)
		return
	}

	host := &models.WorkerHost{
		Name:           req.Name,
		Kind:           req.Kind,
		Endpoint:       req.Endpoint,
		Labels:         req.Labels,
		MaxConcurrency: 1,
		Enabled:        true,
		SSHConfig:      req.SSHConfig,
	}
	if req.GPUs != nil {
		host.GPUs = *req.GPUs
	}
	if req.GPUCount != nil {
		host.GPUCount = *req.GPUCount
	}
	if req.MaxConcurrency != nil && *req.MaxConcurrency > 0 {
		host.MaxConcurrency = *req.MaxConcurrency
	}
	if req.Enabled != nil {
		host.Enabled = *req.Enabled
	}

	if err := h.store.CreateWorkerHost(r.Context(), host); err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusCreated, redactHost(host))
}

// GetHost handles GET /api/v1/worker-hosts/{id}
func (h *HostHandler) GetHost(w http.ResponseWriter, r *http.Request) {
	host, err := h.store.GetWorkerHostByID(r.Context(), h.getID(r, "host_id"))
	if err != nil {
		h.respondWithError(w, store.AsKind(err, store.KindHostNotFound))
		return
	}
	h.respondWithJSON(w, http.StatusOK, redactHost(host))
}

// UpdateHost handles PUT /api/v1/worker-hosts/{id}. Omitted ssh_config
// leaves stored credentials untouched.
func (h *HostHandler) UpdateHost(w http.ResponseWriter, r *http.Request) {
	host, err := h.store.GetWorkerHostByID(r.Context(), h.getID(r, "host_id"))
	if err != nil {
		h.respondWithError(w, store.AsKind(err, store.KindHostNotFound))
		return
	}

	var req HostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithKind(w, store.KindValidation, "invalid request body")
		return
	}
	if msg := req.validate(); msg != "" {
		h.respondWithKind(w, store.KindValidation, msg)
		return
	}

	host.Name = req.Name
	host.Kind = req.Kind
	host.Endpoint = req.Endpoint
	host.Labels = req.Labels
	if req.GPUs != nil {
		host.GPUs = *req.GPUs
	}
	if req.GPUCount != nil {
		host.GPUCount = *req.GPUCount
	}
	if req.MaxConcurrency != nil && *req.MaxConcurrency > 0 {
		host.MaxConcurrency = *req.MaxConcurrency
	}
	if req.Enabled != nil {
		host.Enabled = *req.Enabled
	}
	if req.SSHConfig != nil {
		host.SSHConfig = req.SSHConfig
	}

	if err := h.store.UpdateWorkerHost(r.Context(), host); err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, redactHost(host))
}

// DeleteHost handles DELETE /api/v1/worker-hosts/{id}. Refused while runs
// are active on the host; tears down the SSH tunnel on success.
func (h *HostHandler) DeleteHost(w http.ResponseWriter, r *http.Request) {
	hostID := h.getID(r, "host_id")
	err := h.store.DeleteWorkerHost(r.Context(), hostID)
	if err != nil {
		if err == store.ErrConflict {
			h.respondWithKind(w, store.KindValidation, "host has active runs")
			return
		}
		h.respondWithError(w, store.AsKind(err, store.KindHostNotFound))
		return
	}

	h.tunnels.Close(hostID)
	w.WriteHeader(http.StatusNoContent)
}

// ListHosts handles GET /api/v1/worker-hosts
func (h *HostHandler) ListHosts(w http.ResponseWriter, r *http.Request) {
	hosts, err := h.store.ListWorkerHosts(r.Context())
	if err != nil {
		h.respondWithError(w, err)
		return
	}

	responses := make([]HostResponse, 0, len(hosts))
	for i := range hosts {
		responses = append(responses, redactHost(&hosts[i]))
	}
	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"hosts": responses,
		"count": len(responses),
	})
}

// HostHealth handles GET /api/v1/worker-hosts/{id}/health. Returns cached
// state; ?check=true triggers a fresh probe (which also clears staleness on
// success).
func (h *HostHandler) HostHealth(w http.ResponseWriter, r *http.Request) {
	host, err := h.store.GetWorkerHostByID(r.Context(), h.getID(r, "host_id"))
	if err != nil {
		h.respondWithError(w, store.AsKind(err, store.KindHostNotFound))
		return
	}

	if r.URL.Query().Get("check") == "true" {
		probeErr := h.checker.CheckHost(r.Context(), host)
		host, err = h.store.GetWorkerHostByID(r.Context(), host.HostID)
		if err != nil {
			h.respondWithError(w, err)
			return
		}
		if probeErr != nil {
			h.respondWithJSON(w, statusForKind(store.KindHostUnhealthy), map[string]interface{}{
				"host_id":      host.HostID,
				"healthy":      false,
				"error":        store.KindHostUnhealthy,
				"last_seen_at": host.LastSeenAt,
			})
			return
		}
	}

	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"host_id":      host.HostID,
		"healthy":      host.Healthy,
		"last_seen_at": host.LastSeenAt,
	})
}

// ListHostGPUs handles GET /api/v1/worker-hosts/{id}/gpus
func (h *HostHandler) ListHostGPUs(w http.ResponseWriter, r *http.Request) {
	states, err := h.store.ListGPUStatesByHost(r.Context(), h.getID(r, "host_id"))
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"gpus":  states,
		"count": len(states),
	})
}
