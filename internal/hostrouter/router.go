// Package hostrouter selects worker hosts for runs and keeps their health
// state current.
package hostrouter

import (
	"context"
	"sort"
	"time"

	"github.com/catalystcommunity/app-utils-go/logging"
	"github.com/malgorath/cyberbrain/internal/store"
	"github.com/malgorath/cyberbrain/internal/store/models"
)

// Router picks a worker host for a run and manages the host slot counters.
type Router struct {
	store     store.Store
	staleness time.Duration
}

// NewRouter creates a host router with the given staleness threshold.
func NewRouter(s store.Store, staleness time.Duration) *Router {
	return &Router{store: s, staleness: staleness}
}

// SelectHost picks a host for a run and acquires a slot on it. The caller
// must pair every successful selection with a Release.
//
// An explicit target must exist, be enabled, and carry a GPU when the run
// needs one. Otherwise candidates are enabled, healthy, non-stale hosts with
// free capacity, ordered by active runs ascending, last seen descending,
// then id, so equal fleets behave reproducibly.
func (r *Router) SelectHost(ctx context.Context, targetHostID string, requiresGPU bool) (*models.WorkerHost, error) {
	now := time.Now().UTC()

	if targetHostID != "" {
		host, err := r.store.GetWorkerHostByID(ctx, targetHostID)
		if err != nil {
			return nil, store.AsKind(err, store.KindHostNotFound)
		}
		if !host.Enabled || (requiresGPU && !host.GPUs) {
			return nil, store.NewKindError(store.KindNoEligibleHost, "target host not eligible")
		}
		ok, err := r.store.AcquireHostSlot(ctx, host.HostID)
		if err != nil {
			return nil, store.WrapKind(store.KindInternal, "failed to acquire host slot", err)
		}
		if !ok {
			return nil, store.NewKindError(store.KindNoEligibleHost, "target host has no free capacity")
		}
		return host, nil
	}

	hosts, err := r.store.ListWorkerHosts(ctx)
	if err != nil {
		return nil, store.WrapKind(store.KindInternal, "failed to list hosts", err)
	}

	candidates := make([]models.WorkerHost, 0, len(hosts))
	for _, h := range hosts {
		if !h.Enabled || !h.Healthy || h.IsStale(now, r.staleness) {
			continue
		}
		if h.ActiveRunsCount >= h.MaxConcurrency {
			continue
		}
		if requiresGPU && !h.GPUs {
			continue
		}
		candidates = append(candidates, h)
	}

	SortCandidates(candidates)

	for i := range candidates {
		host := candidates[i]
		ok, err := r.store.AcquireHostSlot(ctx, host.HostID)
		if err != nil {
			return nil, store.WrapKind(store.KindInternal, "failed to acquire host slot", err)
		}
		if ok {
			logging.Log.WithField("host_id", host.HostID).
				WithField("active_runs", host.ActiveRunsCount).
				Debug("Host selected")
			return &host, nil
		}
		// Lost the slot race to another scheduler, try the next candidate
	}

	return nil, store.NewKindError(store.KindNoEligibleHost, "no selectable worker host")
}

// Release returns a host slot after dispatch completes, success or not.
func (r *Router) Release(ctx context.Context, hostID string) {
	if err := r.store.ReleaseHostSlot(ctx, hostID); err != nil {
		logging.Log.WithError(err).WithField("host_id", hostID).Error("Failed to release host slot")
	}
}

func seen(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

// SortCandidates orders hosts by the routing tie-break used in SelectHost.
// Exported for deterministic-routing tests.
func SortCandidates(hosts []models.WorkerHost) {
	sort.SliceStable(hosts, func(i, j int) bool {
		a, b := hosts[i], hosts[j]
		if a.ActiveRunsCount != b.ActiveRunsCount {
			return a.ActiveRunsCount < b.ActiveRunsCount
		}
		at, bt := seen(a.LastSeenAt), seen(b.LastSeenAt)
		if !at.Equal(bt) {
			return at.After(bt)
		}
		return a.HostID < b.HostID
	})
}
