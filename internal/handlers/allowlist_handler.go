package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/malgorath/cyberbrain/internal/store"
	"github.com/malgorath/cyberbrain/internal/store/models"
)

// AllowlistHandler handles the container allowlist and the worker image
// allowlist.
type AllowlistHandler struct {
	BaseHandler
	store store.Store
}

// NewAllowlistHandler creates an allowlist handler
func NewAllowlistHandler(s store.Store) *AllowlistHandler {
	return &AllowlistHandler{store: s}
}

// ContainerEntryRequest is the upsert payload; container_id is the key.
type ContainerEntryRequest struct {
	ContainerID string   `json:"container_id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Enabled     *bool    `json:"enabled,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// toModel builds the allowlist row from the request.
func (req *ContainerEntryRequest) toModel() *models.ContainerAllowlist {
	entry := &models.ContainerAllowlist{
		ContainerID: req.ContainerID,
		Name:        req.Name,
		Description: req.Description,
		Enabled:     true,
		Tags:        req.Tags,
	}
	if req.Enabled != nil {
		entry.Enabled = *req.Enabled
	}
	return entry
}

// UpsertContainer handles POST /api/v1/allowlist
func (h *AllowlistHandler) UpsertContainer(w http.ResponseWriter, r *http.Request) {
	var req ContainerEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithKind(w, store.KindValidation, "invalid request body")
		return
	}
	if req.ContainerID == "" || req.Name == "" {
		h.respondWithKind(w, store.KindValidation, "container_id and name are required")
		return
	}

	entry := req.toModel()
	if err := h.store.UpsertContainerAllowlist(r.Context(), entry); err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, entry)
}

// GetContainer handles GET /api/v1/allowlist/{container_id}
func (h *AllowlistHandler) GetContainer(w http.ResponseWriter, r *http.Request) {
	entry, err := h.store.GetContainerAllowlist(r.Context(), h.getID(r, "container_id"))
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, entry)
}

// DeleteContainer handles DELETE /api/v1/allowlist/{container_id}
func (h *AllowlistHandler) DeleteContainer(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteContainerAllowlist(r.Context(), h.getID(r, "container_id")); err != nil {
		h.respondWithError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListContainers handles GET /api/v1/allowlist
func (h *AllowlistHandler) ListContainers(w http.ResponseWriter, r *http.Request) {
	enabledOnly := r.URL.Query().Get("enabled") == "true"
	entries, err := h.store.ListContainerAllowlist(r.Context(), enabledOnly)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"allowlist": entries,
		"count":     len(entries),
	})
}

// WorkerImageRequest is the create/update payload for spawnable images.
type WorkerImageRequest struct {
	Image            string `json:"image"`
	Tag              string `json:"tag"`
	Enabled          *bool  `json:"enabled,omitempty"`
	RequiresGPU      *bool  `json:"requires_gpu,omitempty"`
	MinVRAMMB        *int   `json:"min_vram_mb,omitempty"`
	AllowCPUFallback *bool  `json:"allow_cpu_fallback,omitempty"`
}

func (req *WorkerImageRequest) apply(img *models.WorkerImageAllowlist) {
	img.Image = req.Image
	img.Tag = req.Tag
	if req.Enabled != nil {
		img.Enabled = *req.Enabled
	}
	if req.RequiresGPU != nil {
		img.RequiresGPU = *req.RequiresGPU
	}
	if req.MinVRAMMB != nil {
		img.MinVRAMMB = *req.MinVRAMMB
	}
	if req.AllowCPUFallback != nil {
		img.AllowCPUFallback = *req.AllowCPUFallback
	}
}

// CreateWorkerImage handles POST /api/v1/worker-images
func (h *AllowlistHandler) CreateWorkerImage(w http.ResponseWriter, r *http.Request) {
	var req WorkerImageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithKind(w, store.KindValidation, "invalid request body")
		return
	}
	if req.Image == "" || req.Tag == "" {
		h.respondWithKind(w, store.KindValidation, "image and tag are required")
		return
	}

	img := &models.WorkerImageAllowlist{Enabled: true}
	req.apply(img)

	if err := h.store.CreateWorkerImage(r.Context(), img); err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusCreated, img)
}

// UpdateWorkerImage handles PUT /api/v1/worker-images/{id}
func (h *AllowlistHandler) UpdateWorkerImage(w http.ResponseWriter, r *http.Request) {
	imageID := h.getID(r, "image_id")

	images, err := h.store.ListWorkerImages(r.Context())
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	var img *models.WorkerImageAllowlist
	for i := range images {
		if images[i].ImageID == imageID {
			img = &images[i]
			break
		}
	}
	if img == nil {
		h.respondWithError(w, store.ErrNotFound)
		return
	}

	var req WorkerImageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithKind(w, store.KindValidation, "invalid request body")
		return
	}
	if req.Image == "" || req.Tag == "" {
		h.respondWithKind(w, store.KindValidation, "image and tag are required")
		return
	}

	req.apply(img)
	if err := h.store.UpdateWorkerImage(r.Context(), img); err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, img)
}

// DeleteWorkerImage handles DELETE /api/v1/worker-images/{id}
func (h *AllowlistHandler) DeleteWorkerImage(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteWorkerImage(r.Context(), h.getID(r, "image_id")); err != nil {
		h.respondWithError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListWorkerImages handles GET /api/v1/worker-images
func (h *AllowlistHandler) ListWorkerImages(w http.ResponseWriter, r *http.Request) {
	images, err := h.store.ListWorkerImages(r.Context())
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"images": images,
		"count":  len(images),
	})
}
