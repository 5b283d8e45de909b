package handlers

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/malgorath/cyberbrain/internal/store"
)

// ArtifactHandler streams artifact bytes from the artifact root.
type ArtifactHandler struct {
	BaseHandler
	store        store.Store
	artifactRoot string
}

// NewArtifactHandler creates an artifact handler confined to the root.
func NewArtifactHandler(s store.Store, artifactRoot string) *ArtifactHandler {
	return &ArtifactHandler{store: s, artifactRoot: artifactRoot}
}

// Download handles GET /api/v1/artifacts/{id}/download. The stored path is
// re-verified against the artifact root before a byte leaves the process.
func (h *ArtifactHandler) Download(w http.ResponseWriter, r *http.Request) {
	artifact, err := h.store.GetRunArtifactByID(r.Context(), h.getID(r, "artifact_id"))
	if err != nil {
		h.respondWithError(w, err)
		return
	}

	cleaned, ok := h.confine(artifact.Path)
	if !ok {
		h.respondWithKind(w, store.KindValidation, "artifact path outside artifact root")
		return
	}

	file, err := os.Open(cleaned)
	if err != nil {
		if os.IsNotExist(err) {
			h.respondWithKind(w, store.KindRunNotFound, "artifact file missing")
			return
		}
		h.respondWithError(w, err)
		return
	}
	defer file.Close()

	contentType := artifact.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", "attachment; filename="+filepath.Base(cleaned))
	w.WriteHeader(http.StatusOK)
	io.Copy(w, file)
}

// confine cleans the path and verifies it stays under the artifact root.
func (h *ArtifactHandler) confine(path string) (string, bool) {
	cleaned := filepath.Clean(path)
	root := filepath.Clean(h.artifactRoot)
	if cleaned != root && !strings.HasPrefix(cleaned, root+string(filepath.Separator)) {
		return "", false
	}
	if strings.Contains(path, "..") {
		return "", false
	}
	return cleaned, true
}
