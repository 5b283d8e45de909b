package hostrouter

import (
	"testing"
	"time"

	"github.com/malgorath/cyberbrain/internal/store/models"
	"github.com/stretchr/testify/assert"
)

func timePtr(t time.Time) *time.Time { return &t }

func TestSortCandidatesOrdersByLoadThenFreshness(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	hosts := []models.WorkerHost{
		{HostID: "c", ActiveRunsCount: 2, LastSeenAt: timePtr(now)},
		{HostID: "a", ActiveRunsCount: 0, LastSeenAt: timePtr(now.Add(-time.Minute))},
		{HostID: "b", ActiveRunsCount: 0, LastSeenAt: timePtr(now)},
	}

	SortCandidates(hosts)

	// Lowest active first; equal load breaks on most recent last_seen
	assert.Equal(t, "b", hosts[0].HostID)
	assert.Equal(t, "a", hosts[1].HostID)
	assert.Equal(t, "c", hosts[2].HostID)
}

func TestSortCandidatesTieBreaksOnID(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	hosts := []models.WorkerHost{
		{HostID: "h2", ActiveRunsCount: 1, LastSeenAt: timePtr(now)},
		{HostID: "h1", ActiveRunsCount: 1, LastSeenAt: timePtr(now)},
	}

	SortCandidates(hosts)
	assert.Equal(t, "h1", hosts[0].HostID)
	assert.Equal(t, "h2", hosts[1].HostID)
}

func TestSortCandidatesDeterministic(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	build := func() []models.WorkerHost {
		return []models.WorkerHost{
			{HostID: "h3", ActiveRunsCount: 1, LastSeenAt: timePtr(now.Add(-30 * time.Second))},
			{HostID: "h1", ActiveRunsCount: 0, LastSeenAt: timePtr(now)},
			{HostID: "h2", ActiveRunsCount: 0, LastSeenAt: timePtr(now)},
		}
	}

	first := build()
	SortCandidates(first)
	for i := 0; i < 5; i++ {
		again := build()
		SortCandidates(again)
		for j := range first {
			assert.Equal(t, first[j].HostID, again[j].HostID)
		}
	}
}

func TestHostStaleness(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	threshold := 5 * time.Minute

	tests := []struct {
		name     string
		lastSeen *time.Time
		stale    bool
	}{
		{"recent", timePtr(now.Add(-time.Minute)), false},
		{"on the edge", timePtr(now.Add(-threshold + time.Second)), false},
		{"past threshold", timePtr(now.Add(-threshold - time.Second)), true},
		{"never seen", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := models.WorkerHost{LastSeenAt: tt.lastSeen, Healthy: true}
			assert.Equal(t, tt.stale, h.IsStale(now, threshold))
		})
	}
}

func TestTrimScheme(t *testing.T) {
	assert.Equal(t, "10.0.0.5:2375", trimScheme("tcp://10.0.0.5:2375"))
	assert.Equal(t, "/var/run/docker.sock", trimScheme("unix:///var/run/docker.sock"))
	assert.Equal(t, "10.0.0.5:2375", trimScheme("10.0.0.5:2375"))
}
