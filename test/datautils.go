package test

import (
	"context"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/malgorath/cyberbrain/internal/store"
	"github.com/malgorath/cyberbrain/internal/store/models"
)

// DataSetup overrides fields on generated test records.
type DataSetup map[string]any

// createDirective inserts a directive with random values for anything not
// in setup.
func createDirective(ctx context.Context, setup DataSetup) (*models.Directive, error) {
	directive := &models.Directive{
		Name:              "directive-" + gofakeit.UUID(),
		Description:       gofakeit.Sentence(5),
		TaskConfig:        models.JSONB{"timeout_seconds": float64(300)},
		TaskList:          []string{models.TaskLogTriage, models.TaskGPUReport, models.TaskServiceMap},
		MaxConcurrentRuns: 5,
		Enabled:           true,
		Version:           1,
	}

	if v, ok := setup["Name"].(string); ok {
		directive.Name = v
	}
	if v, ok := setup["TaskList"].([]string); ok {
		directive.TaskList = v
	}
	if v, ok := setup["Enabled"].(bool); ok {
		directive.Enabled = v
	}
	if v, ok := setup["ApprovalRequired"].(bool); ok {
		directive.ApprovalRequired = v
	}
	if v, ok := setup["TaskConfig"].(models.JSONB); ok {
		directive.TaskConfig = v
	}

	err := store.AppStore.CreateDirective(ctx, directive)
	return directive, err
}

// createHost inserts a worker host with random values for anything not in
// setup.
func createHost(ctx context.Context, setup DataSetup) (*models.WorkerHost, error) {
	host := &models.WorkerHost{
		Name:           "host-" + gofakeit.UUID(),
		Kind:           models.HostKindLocalSocket,
		Endpoint:       "/var/run/docker.sock",
		MaxConcurrency: 5,
		Enabled:        true,
		Healthy:        true,
	}

	if v, ok := setup["Name"].(string); ok {
		host.Name = v
	}
	if v, ok := setup["Kind"].(string); ok {
		host.Kind = v
	}
	if v, ok := setup["Endpoint"].(string); ok {
		host.Endpoint = v
	}
	if v, ok := setup["MaxConcurrency"].(int); ok {
		host.MaxConcurrency = v
	}
	if v, ok := setup["Enabled"].(bool); ok {
		host.Enabled = v
	}
	if v, ok := setup["Healthy"].(bool); ok {
		host.Healthy = v
	}
	if v, ok := setup["GPUs"].(bool); ok {
		host.GPUs = v
	}
	if v, ok := setup["SSHConfig"].(*models.SSHConfig); ok {
		host.SSHConfig = v
	}

	err := store.AppStore.CreateWorkerHost(ctx, host)
	return host, err
}

// createSchedule inserts a schedule with random values for anything not in
// setup.
func createSchedule(ctx context.Context, setup DataSetup) (*models.Schedule, error) {
	interval := 15
	schedule := &models.Schedule{
		Name:            "schedule-" + gofakeit.UUID(),
		JobKind:         models.TaskLogTriage,
		Enabled:         true,
		Kind:            models.ScheduleKindInterval,
		IntervalMinutes: &interval,
		Timezone:        "UTC",
		Task3Scope:      models.ScopeAllowlist,
	}

	if v, ok := setup["Name"].(string); ok {
		schedule.Name = v
	}
	if v, ok := setup["JobKind"].(string); ok {
		schedule.JobKind = v
	}
	if v, ok := setup["Enabled"].(bool); ok {
		schedule.Enabled = v
	}
	if v, ok := setup["IntervalMinutes"].(*int); ok {
		schedule.IntervalMinutes = v
	}
	if v, ok := setup["DirectiveID"].(*string); ok {
		schedule.DirectiveID = v
	}
	if v, ok := setup["CustomDirectiveText"].(string); ok {
		schedule.CustomDirectiveText = v
	}
	if v, ok := setup["NextRunAt"].(*time.Time); ok {
		schedule.NextRunAt = v
	}

	err := store.AppStore.CreateSchedule(ctx, schedule)
	return schedule, err
}
