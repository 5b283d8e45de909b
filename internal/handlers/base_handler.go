package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/malgorath/cyberbrain/internal/store"
)

// ErrorResponse is the stable error envelope: a kind identifier plus a
// short, non-sensitive message.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// BaseHandler provides common functionality for all handlers
type BaseHandler struct{}

// respondWithJSON writes a JSON response
func (h *BaseHandler) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"internal","message":"Failed to marshal response"}`)) // Simple fallback
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

// respondWithError sends the error envelope for err, mapping its stable
// kind onto an HTTP status.
func (h *BaseHandler) respondWithError(w http.ResponseWriter, err error) {
	kind := store.KindOf(err)

	var message string
	var ke *store.KindError
	if errors.As(err, &ke) {
		message = ke.Message
	}
	if message == "" {
		message = defaultMessage(kind)
	}

	h.respondWithJSON(w, statusForKind(kind), ErrorResponse{
		Error:   kind,
		Message: message,
	})
}

// respondWithKind sends an error envelope for a bare kind.
func (h *BaseHandler) respondWithKind(w http.ResponseWriter, kind, message string) {
	h.respondWithJSON(w, statusForKind(kind), ErrorResponse{
		Error:   kind,
		Message: message,
	})
}

// statusForKind maps the stable error kinds onto HTTP statuses.
func statusForKind(kind string) int {
	switch kind {
	case store.KindValidation:
		return http.StatusBadRequest
	case store.KindDirectiveNotFound, store.KindHostNotFound, store.KindRunNotFound, store.KindNotFound:
		return http.StatusNotFound
	case store.KindNoEligibleHost, store.KindInsufficientVRAM:
		return http.StatusConflict
	case store.KindImageNotAllowed:
		return http.StatusForbidden
	case store.KindTimeout:
		return http.StatusGatewayTimeout
	case store.KindCancelled:
		return http.StatusConflict
	case store.KindHostUnhealthy:
		return http.StatusServiceUnavailable
	case store.KindDispatchFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func defaultMessage(kind string) string {
	switch kind {
	case store.KindValidation:
		return "Invalid input data"
	case store.KindDirectiveNotFound:
		return "Directive not found"
	case store.KindHostNotFound:
		return "Worker host not found"
	case store.KindRunNotFound:
		return "Run not found"
	case store.KindNotFound:
		return "Resource not found"
	case store.KindNoEligibleHost:
		return "No eligible worker host"
	case store.KindHostUnhealthy:
		return "Worker host is unhealthy"
	default:
		return "Internal server error"
	}
}

// getID gets a path parameter ID from the request context
func (h *BaseHandler) getID(r *http.Request, key string) string {
	return GetIDFromContext(r, key)
}

// parsePagination reads limit/offset query params with sane bounds.
func parsePagination(r *http.Request) (int, int) {
	limit := 50
	offset := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
