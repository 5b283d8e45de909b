package config

import (
	"github.com/catalystcommunity/app-utils-go/env"
)

var (
	// DbUri is the database connection string
	DbUri string

	// Port is the HTTP server port
	Port int

	// CommitOnSuccess determines if transactions should be committed on successful responses (2xx status)
	// Default is true, but can be set to false for testing environments
	CommitOnSuccess = env.GetEnvAsBoolOrDefault("COMMIT_ON_SUCCESS", "true")

	// DebugRedactedMode runs every log line through the redactor before it is
	// emitted. On by default; only disable on an isolated dev box.
	DebugRedactedMode = env.GetEnvAsBoolOrDefault("DEBUG_REDACTED_MODE", "true")

	// ArtifactRoot is the shared directory workers mount read-write as /logs.
	// Each run writes only under <ArtifactRoot>/run_<id>/.
	ArtifactRoot = env.GetEnvOrDefault("ARTIFACT_ROOT", "/srv/cyberbrain/logs")

	// UploadRoot is an optional directory mounted read-only into workers as
	// /uploads. Empty disables the mount.
	UploadRoot = env.GetEnvOrDefault("UPLOAD_ROOT", "")

	// Scheduler tuning
	SchedulerPollSeconds   = env.GetEnvAsIntOrDefault("SCHEDULER_POLL_SECONDS", "15")
	ScheduleClaimTTL       = env.GetEnvAsIntOrDefault("SCHEDULE_CLAIM_TTL_SECONDS", "120")
	ScheduleClaimBatch     = env.GetEnvAsIntOrDefault("SCHEDULE_CLAIM_BATCH", "10")
	ScheduleBackoffSeconds = env.GetEnvAsIntOrDefault("SCHEDULE_CAP_BACKOFF_SECONDS", "60")

	// Host health
	HealthCheckSeconds        = env.GetEnvAsIntOrDefault("HOST_HEALTH_CHECK_SECONDS", "60")
	HealthProbeTimeoutSeconds = env.GetEnvAsIntOrDefault("HOST_HEALTH_PROBE_TIMEOUT_SECONDS", "5")
	HostStalenessSeconds      = env.GetEnvAsIntOrDefault("HOST_STALENESS_SECONDS", "300")

	// SSH tunnel local port range for forwarded Docker endpoints
	TunnelPortMin = env.GetEnvAsIntOrDefault("TUNNEL_PORT_MIN", "42000")
	TunnelPortMax = env.GetEnvAsIntOrDefault("TUNNEL_PORT_MAX", "42999")

	// Default per-job wall clock limit when the directive snapshot carries none
	DefaultJobTimeoutSeconds = env.GetEnvAsIntOrDefault("DEFAULT_JOB_TIMEOUT_SECONDS", "600")

	// Report archive configuration. Terminal run reports are mirrored to the
	// archive store when a type is configured: "filesystem" writes under
	// ARCHIVE_STORE_BASE_PATH, "s3" targets a bucket, "memory" is for tests,
	// empty disables archiving.
	ArchiveStoreType   = env.GetEnvOrDefault("ARCHIVE_STORE_TYPE", "")
	ArchiveStoreBucket = env.GetEnvOrDefault("ARCHIVE_STORE_BUCKET", "cyberbrain-reports")
	ArchiveStorePath   = env.GetEnvOrDefault("ARCHIVE_STORE_BASE_PATH", "./report-archive")
	ArchiveStorePrefix = env.GetEnvOrDefault("ARCHIVE_STORE_PREFIX", "cyberbrain/")

	// Cost report rates, dollars per 1K tokens. MODEL_COST_RATES optionally
	// carries per-model overrides as JSON:
	//   {"llama3:70b": {"prompt_per_1k": 0.004, "completion_per_1k": 0.012}}
	CostPer1KPromptTokens     = env.GetEnvOrDefault("COST_PER_1K_PROMPT_TOKENS", "0.003")
	CostPer1KCompletionTokens = env.GetEnvOrDefault("COST_PER_1K_COMPLETION_TOKENS", "0.015")
	ModelCostRates            = env.GetEnvOrDefault("MODEL_COST_RATES", "")
)
