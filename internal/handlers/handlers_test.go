package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/malgorath/cyberbrain/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusForKind(t *testing.T) {
	tests := []struct {
		kind     string
		expected int
	}{
		{store.KindValidation, http.StatusBadRequest},
		{store.KindDirectiveNotFound, http.StatusNotFound},
		{store.KindHostNotFound, http.StatusNotFound},
		{store.KindRunNotFound, http.StatusNotFound},
		{store.KindNoEligibleHost, http.StatusConflict},
		{store.KindInsufficientVRAM, http.StatusConflict},
		{store.KindImageNotAllowed, http.StatusForbidden},
		{store.KindTimeout, http.StatusGatewayTimeout},
		{store.KindHostUnhealthy, http.StatusServiceUnavailable},
		{store.KindDispatchFailed, http.StatusBadGateway},
		{store.KindInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			assert.Equal(t, tt.expected, statusForKind(tt.kind))
		})
	}
}

func TestIsPrivateTCPEndpoint(t *testing.T) {
	tests := []struct {
		endpoint string
		private  bool
	}{
		{"tcp://10.0.0.5:2375", true},
		{"tcp://192.168.1.20:2375", true},
		{"tcp://172.16.4.2:2375", true},
		{"tcp://127.0.0.1:2375", true},
		{"tcp://8.8.8.8:2375", false},
		{"tcp://203.0.113.4:2375", false},
		{"tcp://gpu-box.lan:2375", true},
		{"tcp://gpubox:2375", true},
	}

	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			assert.Equal(t, tt.private, isPrivateTCPEndpoint(tt.endpoint))
		})
	}
}

func TestArtifactConfine(t *testing.T) {
	h := NewArtifactHandler(nil, "/srv/cyberbrain/logs")

	tests := []struct {
		name string
		path string
		ok   bool
	}{
		{"inside root", "/srv/cyberbrain/logs/run_1/report.md", true},
		{"root itself", "/srv/cyberbrain/logs", true},
		{"outside root", "/etc/passwd", false},
		{"traversal", "/srv/cyberbrain/logs/../../etc/passwd", false},
		{"sneaky prefix", "/srv/cyberbrain/logs-evil/file", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := h.confine(tt.path)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestMCPUnknownToolYieldsValidationEvent(t *testing.T) {
	h := NewMCPHandler(nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(`{"tool":"launch_rockets"}`))
	rec := httptest.NewRecorder()

	h.Handle(rec, req)

	body := rec.Body.String()
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, body, "event: error")
	assert.Contains(t, body, store.KindValidation)
	assert.Contains(t, body, "launch_rockets")
	// Exactly one payload event followed by the terminator
	assert.Equal(t, 1, strings.Count(body, "event: error"))
	assert.Equal(t, 1, strings.Count(body, "event: done"))
}

func TestMCPInvalidBody(t *testing.T) {
	h := NewMCPHandler(nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader("not json"))
	rec := httptest.NewRecorder()

	h.Handle(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestKindErrorMessageSurfaces(t *testing.T) {
	h := &BaseHandler{}
	rec := httptest.NewRecorder()

	h.respondWithError(rec, store.NewKindError(store.KindNoEligibleHost, "no selectable worker host"))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), `"error":"no_eligible_host"`)
	assert.Contains(t, rec.Body.String(), "no selectable worker host")
}
