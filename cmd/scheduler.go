package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/catalystcommunity/app-utils-go/logging"
	"github.com/google/uuid"
	"github.com/malgorath/cyberbrain/internal/config"
	"github.com/malgorath/cyberbrain/internal/dispatcher"
	"github.com/malgorath/cyberbrain/internal/hostrouter"
	"github.com/malgorath/cyberbrain/internal/objects"
	"github.com/malgorath/cyberbrain/internal/scheduler"
	"github.com/malgorath/cyberbrain/internal/store"
	"github.com/malgorath/cyberbrain/internal/store/postgres_store"
	"github.com/urfave/cli/v2"
)

var SchedulerCommand = &cli.Command{
	Name:  "scheduler",
	Usage: "Run the claim loop scheduler",
	Flags: append(flags, schedulerFlags...),
	Action: func(ctx *cli.Context) error {
		return RunScheduler(ctx)
	},
}

var schedulerFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "scheduler-id",
		Usage:   "Claimant identity for this scheduler replica (defaults to hostname-uuid)",
		EnvVars: []string{"CYBERBRAIN_SCHEDULER_ID", "SCHEDULER_ID"},
	},
	&cli.StringFlag{
		Name:    "fleet-file",
		Usage:   "YAML host inventory seeded into the store at startup",
		EnvVars: []string{"CYBERBRAIN_FLEET_FILE", "FLEET_FILE"},
	},
}

func RunScheduler(ctx *cli.Context) error {
	// Set up stores
	store.AppStore = postgres_store.PostgresStore

	deferredStoreFuncs := initStores()
	for _, deferredFunc := range deferredStoreFuncs {
		defer deferredFunc()
	}

	claimant := ctx.String("scheduler-id")
	if claimant == "" {
		hostname, _ := os.Hostname()
		claimant = fmt.Sprintf("%s-%s", hostname, uuid.New().String()[:8])
	}

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Seed the fleet before anything routes
	if fleetFile := ctx.String("fleet-file"); fleetFile != "" {
		ff, err := hostrouter.LoadFleetFile(fleetFile)
		if err != nil {
			return err
		}
		if err := hostrouter.SeedHosts(runCtx, store.AppStore, ff); err != nil {
			return err
		}
	}

	// Explicit process-local handles: tunnels, health, routing, dispatch
	tunnels := hostrouter.NewTunnelManager(config.TunnelPortMin, config.TunnelPortMax)
	defer tunnels.CloseAll()

	staleness := time.Duration(config.HostStalenessSeconds) * time.Second
	router := hostrouter.NewRouter(store.AppStore, staleness)
	checker := hostrouter.NewHealthChecker(
		store.AppStore,
		tunnels,
		time.Duration(config.HealthProbeTimeoutSeconds)*time.Second,
		time.Duration(config.HealthCheckSeconds)*time.Second,
	)

	archive, err := objects.New(objects.Config{
		Type:     config.ArchiveStoreType,
		BasePath: config.ArchiveStorePath,
		Bucket:   config.ArchiveStoreBucket,
		Prefix:   config.ArchiveStorePrefix,
	})
	if err != nil {
		logging.Log.WithError(err).Warn("Report archive unavailable, continuing without it")
		archive = nil
	}

	disp := dispatcher.New(dispatcher.Config{
		Store:          store.AppStore,
		Checker:        checker,
		Archive:        archive,
		ArtifactRoot:   config.ArtifactRoot,
		UploadRoot:     config.UploadRoot,
		DefaultTimeout: time.Duration(config.DefaultJobTimeoutSeconds) * time.Second,
		InstanceID:     claimant,
	})

	loop := scheduler.New(scheduler.Config{
		Store:        store.AppStore,
		Router:       router,
		Dispatcher:   disp,
		Claimant:     claimant,
		PollInterval: time.Duration(config.SchedulerPollSeconds) * time.Second,
		ClaimTTL:     time.Duration(config.ScheduleClaimTTL) * time.Second,
		BatchSize:    config.ScheduleClaimBatch,
		CapBackoff:   time.Duration(config.ScheduleBackoffSeconds) * time.Second,
	})

	// Resource monitoring
	monitor, err := scheduler.NewResourceMonitor(claimant)
	if err != nil {
		logging.Log.WithError(err).Warn("Failed to create resource monitor, continuing without monitoring")
	} else {
		monitor.Start(runCtx)
		defer monitor.Stop()
		go logMonitorPeriodically(runCtx, monitor)
	}

	// Health checks run in every scheduler process
	go checker.Start(runCtx)

	logging.Log.WithField("claimant", claimant).Info("Scheduler starting")
	go loop.Start(runCtx)

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	logging.Log.Infof("Received signal %v, shutting down scheduler", sig)
	cancel()

	// Give in-flight dispatch a moment to record stop attempts
	time.Sleep(2 * time.Second)
	return nil
}

func logMonitorPeriodically(ctx context.Context, monitor *scheduler.ResourceMonitor) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			monitor.LogSummary()
		}
	}
}
