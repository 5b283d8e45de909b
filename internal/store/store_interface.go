package store

import (
	"context"
	"time"

	"github.com/malgorath/cyberbrain/internal/store/models"
	"gorm.io/gorm"
)

var AppStore Store

// GetDB returns the database connection
func GetDB() *gorm.DB {
	// Convenience accessor used by the transaction middleware
	if store, ok := AppStore.(interface{ GetDB() *gorm.DB }); ok {
		return store.GetDB()
	}
	return nil
}

// RunFilters narrows ListRuns.
type RunFilters struct {
	Status string
	Since  *time.Time
}

type Store interface {
	Initialize() (deferredFunc func(), err error)

	// Directive operations
	CreateDirective(ctx context.Context, directive *models.Directive) error
	GetDirectiveByID(ctx context.Context, directiveID string) (*models.Directive, error)
	GetFirstEnabledDirective(ctx context.Context) (*models.Directive, error)
	UpdateDirective(ctx context.Context, directive *models.Directive) error
	DeleteDirective(ctx context.Context, directiveID string) error
	ListDirectives(ctx context.Context, limit, offset int) ([]models.Directive, error)

	// Run operations. CreateLaunch materializes a run, its jobs, the one-shot
	// schedules, and the scheduled-run bindings in one transaction.
	CreateLaunch(ctx context.Context, run *models.Run, jobs []models.Job, schedules []models.Schedule, bindings []models.ScheduledRun) error
	GetRunByID(ctx context.Context, runID string) (*models.Run, error)
	ListRuns(ctx context.Context, filters RunFilters, limit, offset int) ([]models.Run, error)
	MarkRunRunning(ctx context.Context, runID, hostID string, startedAt time.Time) error
	FinalizeRun(ctx context.Context, run *models.Run) error
	CancelRun(ctx context.Context, runID string) (*models.Run, error)
	AddRunTokens(ctx context.Context, runID string, prompt, completion, total int64) error
	GetLastSuccessfulRun(ctx context.Context) (*models.Run, error)
	ListRunsEndedAfter(ctx context.Context, t time.Time) ([]models.Run, error)
	CountRunningRuns(ctx context.Context) (int64, error)
	CountRunningRunsByJobKind(ctx context.Context, kind string) (int64, error)

	// Job operations
	GetJobByID(ctx context.Context, jobID string) (*models.Job, error)
	ListJobsByRun(ctx context.Context, runID string) ([]models.Job, error)
	MarkJobRunning(ctx context.Context, jobID string, startedAt time.Time) error
	FinalizeJob(ctx context.Context, job *models.Job) error

	// Schedule operations
	CreateSchedule(ctx context.Context, schedule *models.Schedule) error
	GetScheduleByID(ctx context.Context, scheduleID string) (*models.Schedule, error)
	UpdateSchedule(ctx context.Context, schedule *models.Schedule) error
	DeleteSchedule(ctx context.Context, scheduleID string) error
	ListSchedules(ctx context.Context, limit, offset int) ([]models.Schedule, error)
	ClaimDueSchedules(ctx context.Context, now time.Time, claimant string, ttl time.Duration, limit int) ([]models.Schedule, error)
	ReleaseScheduleClaim(ctx context.Context, scheduleID, claimant string) error
	SetScheduleNextRun(ctx context.Context, scheduleID string, lastRunAt, nextRunAt *time.Time) error

	// ScheduledRun operations
	CreateScheduledRun(ctx context.Context, binding *models.ScheduledRun) error
	UpdateScheduledRun(ctx context.Context, binding *models.ScheduledRun) error
	GetPendingScheduledRun(ctx context.Context, scheduleID string) (*models.ScheduledRun, error)
	ListScheduleHistory(ctx context.Context, scheduleID string, limit, offset int) ([]models.ScheduledRun, error)

	// Worker host operations
	CreateWorkerHost(ctx context.Context, host *models.WorkerHost) error
	GetWorkerHostByID(ctx context.Context, hostID string) (*models.WorkerHost, error)
	UpdateWorkerHost(ctx context.Context, host *models.WorkerHost) error
	DeleteWorkerHost(ctx context.Context, hostID string) error
	ListWorkerHosts(ctx context.Context) ([]models.WorkerHost, error)
	AcquireHostSlot(ctx context.Context, hostID string) (bool, error)
	ReleaseHostSlot(ctx context.Context, hostID string) error
	SetHostHealth(ctx context.Context, hostID string, healthy bool, seenAt *time.Time) error

	// GPU state operations
	UpsertGPUState(ctx context.Context, state *models.GPUState) error
	ListGPUStatesByHost(ctx context.Context, hostID string) ([]models.GPUState, error)

	// Container allowlist operations
	UpsertContainerAllowlist(ctx context.Context, entry *models.ContainerAllowlist) error
	GetContainerAllowlist(ctx context.Context, containerID string) (*models.ContainerAllowlist, error)
	DeleteContainerAllowlist(ctx context.Context, containerID string) error
	ListContainerAllowlist(ctx context.Context, enabledOnly bool) ([]models.ContainerAllowlist, error)

	// Worker image allowlist operations
	CreateWorkerImage(ctx context.Context, image *models.WorkerImageAllowlist) error
	GetWorkerImage(ctx context.Context, image, tag string) (*models.WorkerImageAllowlist, error)
	UpdateWorkerImage(ctx context.Context, image *models.WorkerImageAllowlist) error
	DeleteWorkerImage(ctx context.Context, imageID string) error
	ListWorkerImages(ctx context.Context) ([]models.WorkerImageAllowlist, error)

	// Telemetry operations
	CreateRunArtifact(ctx context.Context, artifact *models.RunArtifact) error
	GetRunArtifactByID(ctx context.Context, artifactID string) (*models.RunArtifact, error)
	ListRunArtifacts(ctx context.Context, runID string) ([]models.RunArtifact, error)
	CreateLLMCall(ctx context.Context, call *models.LLMCall) error
	ListLLMCallsByJob(ctx context.Context, jobID string) ([]models.LLMCall, error)
	TokenStatsByModel(ctx context.Context) ([]ModelTokenStats, error)
	CreateWorkerAudit(ctx context.Context, audit *models.WorkerAudit) error
	ListWorkerAuditsByRun(ctx context.Context, runID string) ([]models.WorkerAudit, error)
}
