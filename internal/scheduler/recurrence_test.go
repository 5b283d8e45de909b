package scheduler

import (
	"testing"
	"time"

	"github.com/malgorath/cyberbrain/internal/store/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(n int) *int       { return &n }
func strPtr(s string) *string { return &s }

func TestNextRunTimeInterval(t *testing.T) {
	s := &models.Schedule{
		Kind:            models.ScheduleKindInterval,
		IntervalMinutes: intPtr(15),
	}
	from := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	next, err := NextRunTime(s, from)
	require.NoError(t, err)
	assert.Equal(t, from.Add(15*time.Minute), next)
}

func TestNextRunTimeOneShot(t *testing.T) {
	s := &models.Schedule{
		Kind:            models.ScheduleKindInterval,
		IntervalMinutes: intPtr(models.OneShotInterval),
	}

	next, err := NextRunTime(s, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, models.FarFuture, next)
}

func TestNextRunTimeCron(t *testing.T) {
	s := &models.Schedule{
		Kind:     models.ScheduleKindCron,
		CronExpr: strPtr("0 3 * * *"),
		Timezone: "UTC",
	}
	from := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	next, err := NextRunTime(s, from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC), next)
}

func TestNextRunTimeCronTimezone(t *testing.T) {
	s := &models.Schedule{
		Kind:     models.ScheduleKindCron,
		CronExpr: strPtr("0 3 * * *"),
		Timezone: "America/New_York",
	}
	// 10:00 UTC on March 1 is 05:00 in New York, so the next 03:00 local
	// firing is March 2, 08:00 UTC (EST is UTC-5)
	from := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	next, err := NextRunTime(s, from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC), next)
}

func TestNextRunTimeMonotonic(t *testing.T) {
	s := &models.Schedule{
		Kind:            models.ScheduleKindInterval,
		IntervalMinutes: intPtr(5),
	}

	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	prev := from
	for i := 0; i < 10; i++ {
		next, err := NextRunTime(s, prev)
		require.NoError(t, err)
		assert.True(t, next.After(prev))
		prev = next
	}
}

func TestNextRunTimeErrors(t *testing.T) {
	tests := []struct {
		name     string
		schedule models.Schedule
	}{
		{"interval without minutes", models.Schedule{Kind: models.ScheduleKindInterval}},
		{"cron without expr", models.Schedule{Kind: models.ScheduleKindCron}},
		{"cron with bad expr", models.Schedule{Kind: models.ScheduleKindCron, CronExpr: strPtr("not a cron")}},
		{"cron with bad timezone", models.Schedule{Kind: models.ScheduleKindCron, CronExpr: strPtr("* * * * *"), Timezone: "Mars/Olympus"}},
		{"unknown kind", models.Schedule{Kind: "sometimes"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NextRunTime(&tt.schedule, time.Now().UTC())
			assert.Error(t, err)
		})
	}
}
