package test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/malgorath/cyberbrain/internal/launcher"
	"github.com/malgorath/cyberbrain/internal/store"
	"github.com/malgorath/cyberbrain/internal/store/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestClaimDueSchedulesExclusive races two claimants for one due row:
// exactly one may observe it.
func TestClaimDueSchedulesExclusive(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	due := now.Add(-time.Minute)

	schedule, err := createSchedule(ctx, DataSetup{"NextRunAt": &due, "CustomDirectiveText": "claim race"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([][]models.Schedule, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			claimant := []string{"claimant-a", "claimant-b"}[idx]
			claimed, err := store.AppStore.ClaimDueSchedules(ctx, now, claimant, 2*time.Minute, 50)
			if !assert.NoError(t, err) {
				return
			}
			results[idx] = claimed
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, claimed := range results {
		for _, s := range claimed {
			if s.ScheduleID == schedule.ScheduleID {
				winners++
			}
		}
	}
	assert.Equal(t, 1, winners, "exactly one claimant must win the row")
}

// TestClaimExpiryAllowsSecondClaimant verifies a crashed claimant's row
// frees itself when the TTL elapses.
func TestClaimExpiryAllowsSecondClaimant(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	due := now.Add(-time.Minute)

	schedule, err := createSchedule(ctx, DataSetup{"NextRunAt": &due, "CustomDirectiveText": "ttl"})
	require.NoError(t, err)

	claimed, err := store.AppStore.ClaimDueSchedules(ctx, now, "crashed-claimant", 500*time.Millisecond, 50)
	require.NoError(t, err)
	require.True(t, containsSchedule(claimed, schedule.ScheduleID))

	// Before expiry the row is invisible to a second claimant
	claimed, err = store.AppStore.ClaimDueSchedules(ctx, now, "second-claimant", time.Minute, 50)
	require.NoError(t, err)
	assert.False(t, containsSchedule(claimed, schedule.ScheduleID))

	// After the TTL the row frees itself without any release call
	later := now.Add(time.Second)
	time.Sleep(600 * time.Millisecond)
	claimed, err = store.AppStore.ClaimDueSchedules(ctx, later, "second-claimant", time.Minute, 50)
	require.NoError(t, err)
	assert.True(t, containsSchedule(claimed, schedule.ScheduleID))
}

// TestReleaseClaimGuardsOnClaimant verifies a stale holder cannot clobber a
// newer claim.
func TestReleaseClaimGuardsOnClaimant(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	due := now.Add(-time.Minute)

	schedule, err := createSchedule(ctx, DataSetup{"NextRunAt": &due, "CustomDirectiveText": "release"})
	require.NoError(t, err)

	claimed, err := store.AppStore.ClaimDueSchedules(ctx, now, "holder", time.Minute, 50)
	require.NoError(t, err)
	require.True(t, containsSchedule(claimed, schedule.ScheduleID))

	// A stranger's release is a no-op
	require.NoError(t, store.AppStore.ReleaseScheduleClaim(ctx, schedule.ScheduleID, "stranger"))
	reloaded, err := store.AppStore.GetScheduleByID(ctx, schedule.ScheduleID)
	require.NoError(t, err)
	assert.Equal(t, "holder", reloaded.ClaimedBy)

	// The holder's release clears the claim
	require.NoError(t, store.AppStore.ReleaseScheduleClaim(ctx, schedule.ScheduleID, "holder"))
	reloaded, err = store.AppStore.GetScheduleByID(ctx, schedule.ScheduleID)
	require.NoError(t, err)
	assert.Empty(t, reloaded.ClaimedBy)
	assert.Nil(t, reloaded.ClaimedUntil)
}

// TestHostSlotCap verifies the guarded counter never exceeds
// max_concurrency (invariant 5).
func TestHostSlotCap(t *testing.T) {
	ctx := context.Background()

	host, err := createHost(ctx, DataSetup{"MaxConcurrency": 2})
	require.NoError(t, err)

	ok, err := store.AppStore.AcquireHostSlot(ctx, host.HostID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.AppStore.AcquireHostSlot(ctx, host.HostID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.AppStore.AcquireHostSlot(ctx, host.HostID)
	require.NoError(t, err)
	assert.False(t, ok, "third acquire must fail at max_concurrency=2")

	require.NoError(t, store.AppStore.ReleaseHostSlot(ctx, host.HostID))
	ok, err = store.AppStore.AcquireHostSlot(ctx, host.HostID)
	require.NoError(t, err)
	assert.True(t, ok)
}

// TestHostDeleteRefusedWhileActive covers the busy-host delete guard.
func TestHostDeleteRefusedWhileActive(t *testing.T) {
	ctx := context.Background()

	host, err := createHost(ctx, nil)
	require.NoError(t, err)

	ok, err := store.AppStore.AcquireHostSlot(ctx, host.HostID)
	require.NoError(t, err)
	require.True(t, ok)

	assert.ErrorIs(t, store.AppStore.DeleteWorkerHost(ctx, host.HostID), store.ErrConflict)

	require.NoError(t, store.AppStore.ReleaseHostSlot(ctx, host.HostID))
	assert.NoError(t, store.AppStore.DeleteWorkerHost(ctx, host.HostID))
}

// TestLaunchSnapshotImmutable verifies a run's snapshot keeps the directive
// content from launch time even after the directive changes.
func TestLaunchSnapshotImmutable(t *testing.T) {
	ctx := context.Background()

	directive, err := createDirective(ctx, DataSetup{"TaskList": []string{models.TaskLogTriage}})
	require.NoError(t, err)

	l := launcher.New(store.AppStore)
	run, err := l.Launch(ctx, launcher.LaunchRequest{DirectiveID: directive.DirectiveID})
	require.NoError(t, err)
	require.Len(t, run.Jobs, 1)
	assert.Equal(t, models.RunStatusPending, run.Status)

	originalName := directive.Name
	directive.Name = originalName + "-mutated"
	require.NoError(t, store.AppStore.UpdateDirective(ctx, directive))

	reloaded, err := store.AppStore.GetRunByID(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, originalName, reloaded.DirectiveSnapshot["name"])
}

// TestLaunchValidation covers the launcher's contract errors.
func TestLaunchValidation(t *testing.T) {
	ctx := context.Background()

	directive, err := createDirective(ctx, DataSetup{"TaskList": []string{models.TaskLogTriage}})
	require.NoError(t, err)

	l := launcher.New(store.AppStore)

	// Task outside the directive's task list
	_, err = l.Launch(ctx, launcher.LaunchRequest{
		DirectiveID: directive.DirectiveID,
		Tasks:       []string{models.TaskGPUReport},
	})
	assert.Equal(t, store.KindValidation, store.KindOf(err))

	// Unknown task kind
	_, err = l.Launch(ctx, launcher.LaunchRequest{
		DirectiveID: directive.DirectiveID,
		Tasks:       []string{"task9"},
	})
	assert.Equal(t, store.KindValidation, store.KindOf(err))

	// Missing directive
	_, err = l.Launch(ctx, launcher.LaunchRequest{
		DirectiveID: "00000000-0000-0000-0000-000000000000",
	})
	assert.Equal(t, store.KindDirectiveNotFound, store.KindOf(err))

	// Missing target host
	_, err = l.Launch(ctx, launcher.LaunchRequest{
		DirectiveID:  directive.DirectiveID,
		TargetHostID: "00000000-0000-0000-0000-000000000000",
	})
	assert.Equal(t, store.KindHostNotFound, store.KindOf(err))
}

// TestRunTerminalTransitionsOneWay verifies terminal states never
// resurrect.
func TestRunTerminalTransitionsOneWay(t *testing.T) {
	ctx := context.Background()

	directive, err := createDirective(ctx, DataSetup{"TaskList": []string{models.TaskLogTriage}})
	require.NoError(t, err)

	l := launcher.New(store.AppStore)
	run, err := l.Launch(ctx, launcher.LaunchRequest{DirectiveID: directive.DirectiveID})
	require.NoError(t, err)

	host, err := createHost(ctx, nil)
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, store.AppStore.MarkRunRunning(ctx, run.RunID, host.HostID, now))

	// Double-start is refused
	assert.ErrorIs(t, store.AppStore.MarkRunRunning(ctx, run.RunID, host.HostID, now), store.ErrConflict)

	ended := now.Add(time.Minute)
	run.Status = models.RunStatusSuccess
	run.EndedAt = &ended
	run.ReportMarkdown = "# done"
	require.NoError(t, store.AppStore.FinalizeRun(ctx, run))

	// A second finalize finds no running row
	assert.ErrorIs(t, store.AppStore.FinalizeRun(ctx, run), store.ErrConflict)

	// Cancelling a terminal run is a no-op returning current state
	cancelled, err := store.AppStore.CancelRun(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusSuccess, cancelled.Status)

	// The report is byte-stable across reads
	first, err := store.AppStore.GetRunByID(ctx, run.RunID)
	require.NoError(t, err)
	second, err := store.AppStore.GetRunByID(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, first.ReportMarkdown, second.ReportMarkdown)
}

// TestRunTokensMatchLLMCalls covers invariant 2: run totals equal the sums
// over attached calls.
func TestRunTokensMatchLLMCalls(t *testing.T) {
	ctx := context.Background()

	directive, err := createDirective(ctx, DataSetup{"TaskList": []string{models.TaskLogTriage}})
	require.NoError(t, err)

	l := launcher.New(store.AppStore)
	run, err := l.Launch(ctx, launcher.LaunchRequest{DirectiveID: directive.DirectiveID})
	require.NoError(t, err)
	require.Len(t, run.Jobs, 1)
	jobID := run.Jobs[0].JobID

	calls := []models.LLMCall{
		{JobID: jobID, ModelID: "llama3:70b", PromptTokens: 900, CompletionTokens: 150, TotalTokens: 1050},
		{JobID: jobID, ModelID: "mistral:7b", PromptTokens: 300, CompletionTokens: 150, TotalTokens: 450},
	}
	var prompt, completion, total int64
	for i := range calls {
		require.NoError(t, store.AppStore.CreateLLMCall(ctx, &calls[i]))
		prompt += calls[i].PromptTokens
		completion += calls[i].CompletionTokens
		total += calls[i].TotalTokens
	}
	require.NoError(t, store.AppStore.AddRunTokens(ctx, run.RunID, prompt, completion, total))

	reloaded, err := store.AppStore.GetRunByID(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, prompt, reloaded.PromptTokens)
	assert.Equal(t, completion, reloaded.CompletionTokens)
	assert.Equal(t, total, reloaded.TotalTokens)

	stored, err := store.AppStore.ListLLMCallsByJob(ctx, jobID)
	require.NoError(t, err)
	var sum int64
	for _, c := range stored {
		sum += c.TotalTokens
	}
	assert.Equal(t, reloaded.TotalTokens, sum)
}

// TestOneShotBindingResolved verifies the launch pre-creates a pending
// binding the claim loop can find.
func TestOneShotBindingResolved(t *testing.T) {
	ctx := context.Background()

	directive, err := createDirective(ctx, DataSetup{"TaskList": []string{models.TaskLogTriage}})
	require.NoError(t, err)

	l := launcher.New(store.AppStore)
	run, err := l.Launch(ctx, launcher.LaunchRequest{DirectiveID: directive.DirectiveID})
	require.NoError(t, err)

	// The launch created one due one-shot schedule bound to the run
	now := time.Now().UTC().Add(time.Second)
	claimed, err := store.AppStore.ClaimDueSchedules(ctx, now, "resolver-test", time.Minute, 100)
	require.NoError(t, err)

	var found *models.Schedule
	for i := range claimed {
		binding, err := store.AppStore.GetPendingScheduledRun(ctx, claimed[i].ScheduleID)
		if err == nil && binding.RunID == run.RunID {
			found = &claimed[i]
			break
		}
	}
	require.NotNil(t, found, "launch schedule must be claimable and bound to the run")
	assert.True(t, found.IsOneShot())

	for i := range claimed {
		_ = store.AppStore.ReleaseScheduleClaim(ctx, claimed[i].ScheduleID, "resolver-test")
	}
}

func containsSchedule(schedules []models.Schedule, id string) bool {
	for _, s := range schedules {
		if s.ScheduleID == id {
			return true
		}
	}
	return false
}
