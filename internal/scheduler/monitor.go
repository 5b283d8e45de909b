package scheduler

import (
	"context"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/catalystcommunity/app-utils-go/logging"
	"github.com/malgorath/cyberbrain/internal/metrics"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// ResourceMonitor samples the scheduler process's CPU and memory so a
// saturated replica shows up in metrics before it starts missing ticks.
type ResourceMonitor struct {
	schedulerID string
	startTime   time.Time
	interval    time.Duration

	process *process.Process

	mu         sync.RWMutex
	cpuPercent float64
	memBytes   uint64

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewResourceMonitor creates a monitor for this process.
func NewResourceMonitor(schedulerID string) (*ResourceMonitor, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}

	return &ResourceMonitor{
		schedulerID: schedulerID,
		startTime:   time.Now(),
		interval:    30 * time.Second,
		process:     proc,
		stopCh:      make(chan struct{}),
	}, nil
}

// Start begins sampling until Stop or context cancellation.
func (rm *ResourceMonitor) Start(ctx context.Context) {
	rm.wg.Add(1)
	go rm.loop(ctx)
}

// Stop stops the monitor.
func (rm *ResourceMonitor) Stop() {
	close(rm.stopCh)
	rm.wg.Wait()
}

func (rm *ResourceMonitor) loop(ctx context.Context) {
	defer rm.wg.Done()

	ticker := time.NewTicker(rm.interval)
	defer ticker.Stop()

	rm.collect()

	for {
		select {
		case <-ctx.Done():
			return
		case <-rm.stopCh:
			return
		case <-ticker.C:
			rm.collect()
		}
	}
}

func (rm *ResourceMonitor) collect() {
	cpuPercent, err := rm.process.CPUPercent()
	if err != nil {
		logging.Log.WithError(err).Debug("Failed to sample CPU usage")
		return
	}

	memInfo, err := rm.process.MemoryInfo()
	if err != nil {
		logging.Log.WithError(err).Debug("Failed to sample memory usage")
		return
	}

	rm.mu.Lock()
	rm.cpuPercent = cpuPercent
	rm.memBytes = memInfo.RSS
	rm.mu.Unlock()

	metrics.UpdateSchedulerResourceUsage(rm.schedulerID, cpuPercent, float64(memInfo.RSS))
}

// LogSummary writes a one-line resource summary. Called periodically by the
// scheduler command.
func (rm *ResourceMonitor) LogSummary() {
	rm.mu.RLock()
	cpuPercent := rm.cpuPercent
	memBytes := rm.memBytes
	rm.mu.RUnlock()

	var vmPercent float64
	if vm, err := mem.VirtualMemory(); err == nil {
		vmPercent = vm.UsedPercent
	}

	logging.Log.WithField("scheduler_id", rm.schedulerID).
		WithField("cpu_percent", cpuPercent).
		WithField("memory_mb", memBytes/1024/1024).
		WithField("system_memory_percent", vmPercent).
		WithField("goroutines", runtime.NumGoroutine()).
		WithField("uptime", time.Since(rm.startTime).Round(time.Second)).
		Info("Scheduler resource usage")
}
