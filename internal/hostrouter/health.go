package hostrouter

import (
	"context"
	"time"

	"github.com/catalystcommunity/app-utils-go/logging"
	"github.com/gammazero/workerpool"
	"github.com/malgorath/cyberbrain/internal/dockerx"
	"github.com/malgorath/cyberbrain/internal/metrics"
	"github.com/malgorath/cyberbrain/internal/store"
	"github.com/malgorath/cyberbrain/internal/store/models"
)

// HealthChecker probes worker host Docker endpoints. A successful ping sets
// healthy=true and refreshes last_seen_at; a failure flips healthy only, so
// staleness keeps dating from the last success.
type HealthChecker struct {
	store        store.Store
	tunnels      *TunnelManager
	probeTimeout time.Duration
	interval     time.Duration
}

// NewHealthChecker creates a health checker sharing the router's tunnel
// manager.
func NewHealthChecker(s store.Store, tunnels *TunnelManager, probeTimeout, interval time.Duration) *HealthChecker {
	return &HealthChecker{
		store:        s,
		tunnels:      tunnels,
		probeTimeout: probeTimeout,
		interval:     interval,
	}
}

// Endpoint resolves the Docker endpoint for a host, establishing the SSH
// tunnel when forwarding credentials are present. Shared with the
// dispatcher so dispatch and probing see the same address.
func (hc *HealthChecker) Endpoint(host *models.WorkerHost) (string, error) {
	if host.HasSSHConfig() {
		return hc.tunnels.Ensure(host)
	}
	return host.Endpoint, nil
}

// CheckHost probes one host and records the outcome. Returns a
// host_unhealthy kind error on failure.
func (hc *HealthChecker) CheckHost(ctx context.Context, host *models.WorkerHost) error {
	endpoint, err := hc.Endpoint(host)
	if err == nil {
		err = dockerx.Ping(ctx, endpoint, hc.probeTimeout)
	}

	if err != nil {
		metrics.RecordHealthProbe(host.Name, false)
		if setErr := hc.store.SetHostHealth(ctx, host.HostID, false, nil); setErr != nil {
			logging.Log.WithError(setErr).WithField("host_id", host.HostID).Error("Failed to record probe failure")
		}
		logging.Log.WithError(err).WithField("host_id", host.HostID).Warn("Host health probe failed")
		return store.WrapKind(store.KindHostUnhealthy, "health probe failed", err)
	}

	metrics.RecordHealthProbe(host.Name, true)
	now := time.Now().UTC()
	if err := hc.store.SetHostHealth(ctx, host.HostID, true, &now); err != nil {
		logging.Log.WithError(err).WithField("host_id", host.HostID).Error("Failed to record probe success")
		return store.WrapKind(store.KindInternal, "failed to record probe", err)
	}
	return nil
}

// CheckAllHosts probes every registered host concurrently.
func (hc *HealthChecker) CheckAllHosts(ctx context.Context) {
	hosts, err := hc.store.ListWorkerHosts(ctx)
	if err != nil {
		logging.Log.WithError(err).Error("Failed to list hosts for health check")
		return
	}

	pool := workerpool.New(5)
	healthy := 0
	results := make(chan bool, len(hosts))
	for i := range hosts {
		host := hosts[i]
		pool.Submit(func() {
			results <- hc.CheckHost(ctx, &host) == nil
		})
	}
	pool.StopWait()
	close(results)
	for ok := range results {
		if ok {
			healthy++
		}
	}

	metrics.HostsHealthy.Set(float64(healthy))
	for _, h := range hosts {
		metrics.HostActiveRuns.WithLabelValues(h.Name).Set(float64(h.ActiveRunsCount))
	}
}

// Start runs periodic health checks until the context is cancelled.
func (hc *HealthChecker) Start(ctx context.Context) {
	ticker := time.NewTicker(hc.interval)
	defer ticker.Stop()

	// Probe once at startup so routing has fresh data immediately
	hc.CheckAllHosts(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hc.CheckAllHosts(ctx)
		}
	}
}
