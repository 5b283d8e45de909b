package store

import (
	"errors"
	"fmt"
)

const PostgresdbStoreType = "postgresdb"

// Common errors that can be returned by any store implementation
var (
	ErrNotFound           = errors.New("record not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrAlreadyExists      = errors.New("record already exists")
	ErrConflict           = errors.New("conflicting state")
	ErrInternal           = errors.New("internal error")
	ErrServiceUnavailable = errors.New("service unavailable")
)

// Stable error kind identifiers. These cross every component boundary
// (launcher -> scheduler -> dispatcher) and map directly to HTTP statuses in
// the handlers; they are identifiers, not Go type names.
const (
	KindValidation        = "validation"
	KindDirectiveNotFound = "directive_not_found"
	KindHostNotFound      = "host_not_found"
	KindRunNotFound       = "run_not_found"
	KindNoEligibleHost    = "no_eligible_host"
	KindImageNotAllowed   = "image_not_allowed"
	KindInsufficientVRAM  = "insufficient_vram"
	KindDispatchFailed    = "dispatch_failed"
	KindTimeout           = "timeout"
	KindCancelled         = "cancelled"
	KindHostUnhealthy     = "host_unhealthy"
	KindInternal          = "internal"

	// KindNotFound covers missing entities outside the three the API names
	// explicitly (schedules, artifacts, allowlist entries).
	KindNotFound = "not_found"
)

// KindError carries a stable kind plus a short, non-sensitive message. The
// scheduler loop and dispatcher return these instead of letting exceptions
// propagate out of a tick.
type KindError struct {
	Kind    string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *KindError) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
}

// Unwrap implements the go error causer interface.
func (e *KindError) Unwrap() error { return e.Err }

// NewKindError builds a KindError.
func NewKindError(kind, message string) *KindError {
	return &KindError{Kind: kind, Message: message}
}

// WrapKind wraps err with a stable kind.
func WrapKind(kind, message string, err error) *KindError {
	return &KindError{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the stable kind from an error, defaulting to internal.
func KindOf(err error) string {
	var ke *KindError
	if errors.As(err, &ke) {
		return ke.Kind
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidInput):
		return KindValidation
	}
	return KindInternal
}

// AsKind tags err with kind only when it is a missing-record error;
// anything else keeps its own kind (usually internal). Handlers use this to
// avoid reporting database failures as 404s.
func AsKind(err error, kind string) error {
	if errors.Is(err, ErrNotFound) {
		return &KindError{Kind: kind, Err: err}
	}
	return err
}

// PaginationParams contains common pagination parameters
type PaginationParams struct {
	Limit  int
	Offset int
}

// ModelTokenStats is an aggregation row for /token-stats and /cost-report.
type ModelTokenStats struct {
	ModelID          string `json:"model_id"`
	Calls            int64  `json:"calls"`
	PromptTokens     int64  `json:"prompt_tokens"`
	CompletionTokens int64  `json:"completion_tokens"`
	TotalTokens      int64  `json:"total_tokens"`
}
