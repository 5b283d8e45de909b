// Package dispatcher runs the jobs of a claimed run as ephemeral worker
// containers on the selected host.
package dispatcher

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/catalystcommunity/app-utils-go/logging"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/malgorath/cyberbrain/internal/dockerx"
	"github.com/malgorath/cyberbrain/internal/hostrouter"
	"github.com/malgorath/cyberbrain/internal/metrics"
	"github.com/malgorath/cyberbrain/internal/objects"
	"github.com/malgorath/cyberbrain/internal/store"
	"github.com/malgorath/cyberbrain/internal/store/models"
)

// cancelPollInterval is how often a waiting dispatch checks for operator
// cancellation.
const cancelPollInterval = 5 * time.Second

// Dispatcher owns the worker container lifecycle for runs. It is
// constructed once per scheduler process and handed explicit collaborator
// handles; there are no ambient globals.
type Dispatcher struct {
	store          store.Store
	checker        *hostrouter.HealthChecker
	archive        objects.ArchiveStore
	artifactRoot   string
	uploadRoot     string
	defaultTimeout time.Duration
	instanceID     string
}

// Config wires a dispatcher.
type Config struct {
	Store          store.Store
	Checker        *hostrouter.HealthChecker
	Archive        objects.ArchiveStore
	ArtifactRoot   string
	UploadRoot     string
	DefaultTimeout time.Duration
	InstanceID     string
}

// New creates a dispatcher.
func New(cfg Config) *Dispatcher {
	return &Dispatcher{
		store:          cfg.Store,
		checker:        cfg.Checker,
		archive:        cfg.Archive,
		artifactRoot:   cfg.ArtifactRoot,
		uploadRoot:     cfg.UploadRoot,
		defaultTimeout: cfg.DefaultTimeout,
		instanceID:     cfg.InstanceID,
	}
}

// DispatchRun executes every job of the run in order on the given host and
// rolls the results up into the run's terminal status and report. Job
// failures are recorded on the jobs; only store-level problems surface as an
// error.
func (d *Dispatcher) DispatchRun(ctx context.Context, run *models.Run, host *models.WorkerHost) error {
	logger := logging.Log.WithField("run_id", run.RunID).WithField("host_id", host.HostID)

	jobs, err := d.store.ListJobsByRun(ctx, run.RunID)
	if err != nil {
		return store.WrapKind(store.KindInternal, "failed to load jobs", err)
	}

	required := run.SnapshotRequiredTasks()
	seen := map[string]bool{}
	prereqFailed := ""

	for i := range jobs {
		job := &jobs[i]
		if job.IsTerminal() {
			continue
		}

		if cancelled, cerr := d.runCancelled(ctx, run.RunID); cerr == nil && cancelled {
			d.failJob(ctx, job, store.KindCancelled, "cancelled")
			continue
		}

		if prereqFailed != "" {
			d.failJob(ctx, job, store.KindDispatchFailed, "prerequisite failed: "+prereqFailed)
			continue
		}

		d.runJob(ctx, run, job, host, seen)

		if job.Status == models.JobStatusFailed && required[job.Kind] {
			prereqFailed = job.Kind
		}
	}

	if err := d.finalize(ctx, run); err != nil {
		return err
	}
	logger.Info("Run dispatched")
	return nil
}

// finalize reloads the run, rolls up the terminal status and writes the
// report fields. A run cancelled mid-dispatch keeps its cancelled status.
func (d *Dispatcher) finalize(ctx context.Context, run *models.Run) error {
	current, err := d.store.GetRunByID(ctx, run.RunID)
	if err != nil {
		return store.WrapKind(store.KindInternal, "failed to reload run", err)
	}
	if current.Status == models.RunStatusCancelled {
		return nil
	}

	artifacts, err := d.store.ListRunArtifacts(ctx, run.RunID)
	if err != nil {
		return store.WrapKind(store.KindInternal, "failed to load artifacts", err)
	}

	now := time.Now().UTC()
	current.Status = RollupStatus(current.Jobs)
	current.EndedAt = &now
	current.ReportMarkdown, current.ReportJSON = BuildRunReport(current, current.Jobs, artifacts)

	if err := d.store.FinalizeRun(ctx, current); err != nil {
		return store.WrapKind(store.KindInternal, "failed to finalize run", err)
	}

	if current.StartedAt != nil {
		metrics.RecordRunCompleted(current.Status, now.Sub(*current.StartedAt).Seconds())
	}
	d.archiveReport(ctx, current)
	return nil
}

// archiveReport mirrors the terminal report blobs to the configured archive
// store. Best effort; the database rows stay authoritative.
func (d *Dispatcher) archiveReport(ctx context.Context, run *models.Run) {
	if d.archive == nil {
		return
	}

	prefix := "run_" + run.RunID + "/"
	if err := d.archive.Put(ctx, prefix+"report.md", strings.NewReader(run.ReportMarkdown), "text/markdown"); err != nil {
		logging.Log.WithError(err).WithField("run_id", run.RunID).Warn("Failed to archive markdown report")
	}
	structured, err := run.ReportJSON.Value()
	if err != nil || structured == nil {
		return
	}
	if data, ok := structured.([]byte); ok {
		if err := d.archive.Put(ctx, prefix+"report.json", strings.NewReader(string(data)), "application/json"); err != nil {
			logging.Log.WithError(err).WithField("run_id", run.RunID).Warn("Failed to archive structured report")
		}
	}
}

// runCancelled reports whether the run has been cancelled by an operator.
func (d *Dispatcher) runCancelled(ctx context.Context, runID string) (bool, error) {
	current, err := d.store.GetRunByID(ctx, runID)
	if err != nil {
		return false, err
	}
	return current.Status == models.RunStatusCancelled, nil
}

// runJob drives one worker container from image check to ingestion. Every
// spawn is paired with either a natural exit or a stop attempt, including on
// timeout and panic paths.
func (d *Dispatcher) runJob(ctx context.Context, run *models.Run, job *models.Job, host *models.WorkerHost, seen map[string]bool) {
	logger := logging.Log.WithField("run_id", run.RunID).WithField("job_id", job.JobID).WithField("kind", job.Kind)
	started := time.Now().UTC()

	var cli *client.Client
	containerID, containerImage := "", ""
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("Recovered from panic during dispatch: %v", r)
			if containerID != "" {
				d.stopContainer(ctx, cli, run, job, containerID, containerImage, "panic during dispatch")
				d.removeContainer(ctx, cli, run, job, containerID, containerImage)
			}
			d.failJob(ctx, job, store.KindInternal, "panic during dispatch")
			d.audit(ctx, run, job, models.AuditError, "", "", nil, "", nil, false, "panic during dispatch")
		}
		if cli != nil {
			cli.Close()
		}
		metrics.RecordJobDispatched(job.Kind, job.Status, time.Since(started).Seconds())
	}()

	spec, err := BuildTaskSpec(run, job)
	if err != nil {
		d.failJob(ctx, job, store.KindInternal, "failed to build task spec")
		return
	}

	// Allowlist gate
	img, err := d.store.GetWorkerImage(ctx, spec.Image, spec.Tag)
	if err != nil || !img.Enabled {
		detail := fmt.Sprintf("image not allowed: %s:%s", spec.Image, spec.Tag)
		d.audit(ctx, run, job, models.AuditError, "", spec.Image+":"+spec.Tag, nil, "", nil, false, detail)
		d.failJob(ctx, job, store.KindImageNotAllowed, detail)
		return
	}

	// GPU placement
	var chosenGPU *int
	gpuReason := ""
	if img.RequiresGPU {
		states, err := d.store.ListGPUStatesByHost(ctx, host.HostID)
		if err != nil {
			d.failJob(ctx, job, store.KindInternal, "failed to load gpu states")
			return
		}
		g, reason, ok := PickGPU(states, img.MinVRAMMB)
		if !ok {
			if img.AllowCPUFallback {
				gpuReason = "cpu fallback: " + reason
			} else {
				d.audit(ctx, run, job, models.AuditError, "", img.Ref(), nil, reason, nil, false, "insufficient VRAM")
				d.failJob(ctx, job, store.KindInsufficientVRAM, "insufficient VRAM")
				return
			}
		} else {
			idx := g.DeviceIndex
			chosenGPU = &idx
			gpuReason = reason
		}
	}

	endpoint, err := d.checker.Endpoint(host)
	if err != nil {
		d.audit(ctx, run, job, models.AuditError, "", img.Ref(), chosenGPU, gpuReason, nil, false, "endpoint unavailable")
		d.failJob(ctx, job, store.KindDispatchFailed, "host endpoint unavailable")
		return
	}
	cli, err = dockerx.NewClient(endpoint)
	if err != nil {
		d.audit(ctx, run, job, models.AuditError, "", img.Ref(), chosenGPU, gpuReason, nil, false, "docker client failed")
		d.failJob(ctx, job, store.KindDispatchFailed, "failed to open docker client")
		return
	}

	containerConfig, hostConfig, configSnapshot := d.buildContainerSpec(run, job, spec, img, chosenGPU)

	d.audit(ctx, run, job, models.AuditSpawn, "", img.Ref(), chosenGPU, gpuReason, configSnapshot, true, "")

	containerName := "cyberbrain-job-" + job.JobID
	created, err := cli.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, containerName)
	if err != nil {
		d.audit(ctx, run, job, models.AuditError, "", img.Ref(), chosenGPU, gpuReason, nil, false, shortErr(err))
		d.failJob(ctx, job, store.KindDispatchFailed, "container create failed")
		return
	}
	containerID, containerImage = created.ID, img.Ref()

	now := time.Now().UTC()
	if err := d.store.MarkJobRunning(ctx, job.JobID, now); err != nil {
		d.removeContainer(ctx, cli, run, job, containerID, img.Ref())
		d.failJob(ctx, job, store.KindInternal, "failed to mark job running")
		return
	}
	job.Status = models.JobStatusRunning
	job.StartedAt = &now

	if err := cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		d.audit(ctx, run, job, models.AuditError, containerID, img.Ref(), chosenGPU, gpuReason, nil, false, shortErr(err))
		d.removeContainer(ctx, cli, run, job, containerID, img.Ref())
		d.failJob(ctx, job, store.KindDispatchFailed, "container start failed")
		return
	}
	d.audit(ctx, run, job, models.AuditStart, containerID, img.Ref(), chosenGPU, gpuReason, nil, true, "")

	exitCode, waitKind, waitMsg := d.waitForExit(ctx, cli, run, job, containerID, img.Ref())
	d.removeContainer(ctx, cli, run, job, containerID, img.Ref())
	containerID = ""

	// Ingest whatever the worker managed to produce, success or not
	ingested, err := d.ingestJobOutput(ctx, run, job, seen)
	if err != nil {
		logger.WithError(err).Error("Failed to ingest job output")
		ingested = &ingestResult{}
	}

	job.Result = models.JSONB{
		"exit_code":      exitCode,
		"artifact_count": ingested.ArtifactCount,
		"artifact_paths": ingested.ArtifactPaths,
		"models":         ingested.ModelIDs,
		"total_tokens":   ingested.TotalTokens,
	}

	switch {
	case waitKind != "":
		d.failJob(ctx, job, waitKind, waitMsg)
	case exitCode != 0:
		d.failJob(ctx, job, store.KindInternal, fmt.Sprintf("worker exited with code %d", exitCode))
	default:
		ended := time.Now().UTC()
		job.Status = models.JobStatusSuccess
		job.EndedAt = &ended
		job.ErrorKind = ""
		job.ErrorMessage = ""
		if err := d.store.FinalizeJob(ctx, job); err != nil {
			logger.WithError(err).Error("Failed to finalize job")
		}
	}
}

// buildContainerSpec assembles the fixed-policy container configuration:
// artifact root mounted read-write at /logs, uploads read-only when
// configured, no published ports, no docker socket, labels identifying the
// owning run and job.
func (d *Dispatcher) buildContainerSpec(run *models.Run, job *models.Job, spec TaskSpec, img *models.WorkerImageAllowlist, chosenGPU *int) (*container.Config, *container.HostConfig, models.JSONB) {
	env := make([]string, 0, len(spec.Env)+1)
	for key, value := range spec.Env {
		env = append(env, key+"="+value)
	}

	mounts := []mount.Mount{
		{Type: mount.TypeBind, Source: d.artifactRoot, Target: "/logs"},
	}
	if d.uploadRoot != "" {
		mounts = append(mounts, mount.Mount{Type: mount.TypeBind, Source: d.uploadRoot, Target: "/uploads", ReadOnly: true})
	}

	containerConfig := &container.Config{
		Image: img.Ref(),
		Env:   env,
		Labels: map[string]string{
			"cyberbrain.run_id":   run.RunID,
			"cyberbrain.job_id":   job.JobID,
			"cyberbrain.kind":     spec.Kind,
			"cyberbrain.instance": d.instanceID,
		},
	}

	hostConfig := &container.HostConfig{
		Mounts: mounts,
	}

	if chosenGPU != nil {
		idx := strconv.Itoa(*chosenGPU)
		hostConfig.Resources.DeviceRequests = []container.DeviceRequest{
			{
				Driver:       "nvidia",
				DeviceIDs:    []string{idx},
				Capabilities: [][]string{{"gpu"}},
			},
		}
		containerConfig.Env = append(containerConfig.Env, "NVIDIA_VISIBLE_DEVICES="+idx)
	}

	mountTargets := make([]string, 0, len(mounts))
	for _, m := range mounts {
		target := m.Target
		if m.ReadOnly {
			target += ":ro"
		}
		mountTargets = append(mountTargets, target)
	}
	configSnapshot := models.JSONB{
		"image":  img.Ref(),
		"mounts": mountTargets,
		"labels": containerConfig.Labels,
	}

	return containerConfig, hostConfig, configSnapshot
}

// waitForExit blocks until the container exits, the per-job timeout elapses,
// or the run is cancelled. A non-empty kind marks the failure; the stop
// attempt has already happened by the time it returns.
func (d *Dispatcher) waitForExit(ctx context.Context, cli *client.Client, run *models.Run, job *models.Job, containerID, image string) (int, string, string) {
	timeout := time.Duration(run.SnapshotTimeoutSeconds(int(d.defaultTimeout.Seconds()))) * time.Second

	statusCh, errCh := cli.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	poll := time.NewTicker(cancelPollInterval)
	defer poll.Stop()

	for {
		select {
		case status := <-statusCh:
			return int(status.StatusCode), "", ""

		case err := <-errCh:
			d.audit(ctx, run, job, models.AuditError, containerID, image, nil, "", nil, false, shortErr(err))
			return -1, store.KindDispatchFailed, "error waiting for container"

		case <-timer.C:
			d.stopContainer(ctx, cli, run, job, containerID, image, "timeout")
			return -1, store.KindTimeout, "timeout"

		case <-poll.C:
			if cancelled, err := d.runCancelled(ctx, run.RunID); err == nil && cancelled {
				d.stopContainer(ctx, cli, run, job, containerID, image, "cancelled")
				return -1, store.KindCancelled, "cancelled"
			}

		case <-ctx.Done():
			d.stopContainer(ctx, cli, run, job, containerID, image, "shutdown")
			return -1, store.KindCancelled, "scheduler shutdown"
		}
	}
}

// stopContainer issues a best-effort stop with its own deadline so shutdown
// paths cannot hang on a wedged daemon.
func (d *Dispatcher) stopContainer(ctx context.Context, cli *client.Client, run *models.Run, job *models.Job, containerID, image, reason string) {
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	stopSeconds := 10
	err := cli.ContainerStop(stopCtx, containerID, container.StopOptions{Timeout: &stopSeconds})
	d.audit(ctx, run, job, models.AuditStop, containerID, image, nil, "", nil, err == nil, reason)
	if err != nil {
		logging.Log.WithError(err).WithField("container_id", containerID).Warn("Failed to stop container")
	}
}

// removeContainer removes the worker container after exit or on error paths.
func (d *Dispatcher) removeContainer(ctx context.Context, cli *client.Client, run *models.Run, job *models.Job, containerID, image string) {
	removeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	err := cli.ContainerRemove(removeCtx, containerID, container.RemoveOptions{RemoveVolumes: true, Force: true})
	d.audit(ctx, run, job, models.AuditRemove, containerID, image, nil, "", nil, err == nil, "")
	if err != nil {
		logging.Log.WithError(err).WithField("container_id", containerID).Warn("Failed to remove container")
	}
}

// failJob records a job's terminal failure with its stable error kind.
func (d *Dispatcher) failJob(ctx context.Context, job *models.Job, kind, message string) {
	now := time.Now().UTC()
	job.Status = models.JobStatusFailed
	job.EndedAt = &now
	job.ErrorKind = kind
	job.ErrorMessage = message

	if err := d.store.FinalizeJob(ctx, job); err != nil {
		logging.Log.WithError(err).WithField("job_id", job.JobID).Error("Failed to record job failure")
	}
}

// audit appends a dispatcher audit row. Audit failures are logged, never
// propagated; they must not break dispatch.
func (d *Dispatcher) audit(ctx context.Context, run *models.Run, job *models.Job, op, containerID, image string, chosenGPU *int, gpuReason string, configSnapshot models.JSONB, success bool, detail string) {
	row := &models.WorkerAudit{
		RunID:          &run.RunID,
		JobID:          &job.JobID,
		Operation:      op,
		ContainerID:    containerID,
		Image:          image,
		ChosenGPU:      chosenGPU,
		GPUReason:      gpuReason,
		ConfigSnapshot: configSnapshot,
		Success:        success,
		Detail:         detail,
	}
	if err := d.store.CreateWorkerAudit(ctx, row); err != nil {
		logging.Log.WithError(err).WithField("run_id", run.RunID).Error("Failed to write audit row")
	}
}

// shortErr bounds an error string for audit detail columns.
func shortErr(err error) string {
	if err == nil {
		return ""
	}
	s := err.Error()
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
