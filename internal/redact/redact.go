// Package redact scrubs sensitive material out of log lines before they are
// emitted. It is wired in as a logrus hook when DEBUG_REDACTED_MODE is on.
package redact

import (
	"regexp"

	"github.com/sirupsen/logrus"
)

const placeholder = "[REDACTED]"

// Patterns ordered roughly by specificity. Bearer/basic credentials go
// first; key-value forms keep the key and scrub the value.
var (
	keyValuePattern = regexp.MustCompile(`(?i)\b(api[_-]?key|secret|password|passwd|token|authorization)\b(["']?\s*[:=]\s*)(["']?)[^\s"',;&]+`)
	bearerPattern   = regexp.MustCompile(`(?i)\b(bearer|basic)\s+[A-Za-z0-9._~+/=-]+`)
	skKeyPattern    = regexp.MustCompile(`\bsk-[A-Za-z0-9-]{8,}\b`)
	ipv4Pattern     = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
)

// String scrubs API keys, bearer tokens, passwords and IPv4 addresses from s.
func String(s string) string {
	s = bearerPattern.ReplaceAllString(s, placeholder)
	s = keyValuePattern.ReplaceAllString(s, "${1}${2}${3}"+placeholder)
	s = skKeyPattern.ReplaceAllString(s, placeholder)
	s = ipv4Pattern.ReplaceAllString(s, placeholder)
	return s
}

// Hook rewrites every log entry through the redactor.
type Hook struct{}

// Levels implements logrus.Hook for all levels
func (h *Hook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire implements logrus.Hook
func (h *Hook) Fire(entry *logrus.Entry) error {
	entry.Message = String(entry.Message)
	for key, value := range entry.Data {
		if s, ok := value.(string); ok {
			entry.Data[key] = String(s)
		}
	}
	return nil
}

// Install attaches the redaction hook to the given logger.
func Install(logger *logrus.Logger) {
	logger.AddHook(&Hook{})
}
