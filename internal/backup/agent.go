// Package backup runs backup and restore jobs: it drives a strategy's runner
// into or out of storage and reports each job's state transitions.
package backup

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"dbrb/internal/metrics"
	"dbrb/internal/storage"
	"dbrb/internal/strategy"
	"dbrb/internal/util"
)

// Storage saves and loads artifacts.
type Storage interface {
	Save(ctx context.Context, filename string, r io.Reader, opts storage.SaveOptions) (*storage.SaveResult, error)
	Load(ctx context.Context, location string, isZipped bool, checksum string) (*storage.DownloadStream, error)
}

type Agent struct {
	registry *strategy.Registry
	storage  Storage
	reporter Reporter
	params   strategy.Params

	// Metrics may be nil.
	Metrics *metrics.Collector
	// VolumeUsed measures the datastore volume for the BUILDING report.
	VolumeUsed func(path string) (int64, error)
}

// NewAgent returns an agent. params carries the datastore credentials, data
// directory and runner options shared by every job.
func NewAgent(registry *strategy.Registry, store Storage, reporter Reporter, params strategy.Params) *Agent {
	if reporter == nil {
		reporter = LogReporter{}
	}
	return &Agent{
		registry:   registry,
		storage:    store,
		reporter:   reporter,
		params:     params,
		VolumeUsed: util.VolumeUsed,
	}
}

func (a *Agent) report(ctx context.Context, job *Job, note string) {
	u := Update{
		JobID:    job.ID,
		Type:     job.Type,
		State:    job.State,
		Size:     job.Size,
		Checksum: job.Checksum,
		Location: job.Location,
		Note:     note,
	}
	if err := a.reporter.Report(ctx, u); err != nil {
		slog.Warn("Failed to report job state", "id", job.ID, "state", job.State, "error", err)
	}
}

// terminate moves job to FAILED and sends its terminal report.
func (a *Agent) terminate(ctx context.Context, job *Job, started time.Time, cause error) error {
	if err := job.transition(StateFailed); err != nil {
		return err
	}
	a.report(ctx, job, cause.Error())
	a.Metrics.JobFinished("backup", job.Type, string(StateFailed), time.Since(started))
	slog.Error("Backup failed", "id", job.ID, "type", job.Type, "error", cause)
	return nil
}

func (a *Agent) fail(ctx context.Context, job *Job, started time.Time, cause error) error {
	if err := a.terminate(ctx, job, started, cause); err != nil {
		return err
	}
	return &BackupError{JobID: job.ID, Err: cause}
}

// ExecuteBackup streams a new backup of job.Type into storage. Every job that
// leaves NEW ends in one terminal report. It returns a *BackupError once the
// job has been reported FAILED, except for an unknown type where the
// resolver's error is returned unmodified.
func (a *Agent) ExecuteBackup(ctx context.Context, job *Job) error {
	if job.State != StateNew {
		return fmt.Errorf("%w: job %s is already %s", ErrInvalidTransition, job.ID, job.State)
	}
	started := time.Now()
	a.report(ctx, job, "")

	if err := job.transition(StateBuilding); err != nil {
		return err
	}

	factory, err := a.registry.ResolveBackup(job.Type)
	if err != nil {
		if terr := a.terminate(ctx, job, started, err); terr != nil {
			return terr
		}
		return err
	}
	params := a.params
	params.Filename = job.ID
	r, err := factory(params)
	if err != nil {
		return a.fail(ctx, job, started, fmt.Errorf("failed to build %s runner: %w", job.Type, err))
	}
	defer r.Close()

	if err := r.Start(ctx); err != nil {
		return a.fail(ctx, job, started, fmt.Errorf("failed to start %s: %w", job.Type, err))
	}

	// Report the volume usage so the caller can estimate the backup size
	if used, err := a.VolumeUsed(a.params.DataDir); err != nil {
		slog.Warn("Failed to measure datastore volume", "path", a.params.DataDir, "error", err)
	} else {
		job.Size = used
	}
	a.report(ctx, job, "")

	res, saveErr := a.storage.Save(ctx, r.Manifest(), r, storage.SaveOptions{
		JobID:  job.ID,
		Type:   job.Type,
		Zipped: params.Options.Compress,
		Cipher: string(params.Options.Cipher),
	})
	if res != nil {
		job.Location = res.Location
	}

	// The pipeline is only drained when Save consumed the whole stream
	if saveErr != nil || !res.Success {
		r.Close()
		if saveErr == nil {
			saveErr = fmt.Errorf("%w: %s", storage.ErrIntegrity, res.Note)
		}
		return a.fail(ctx, job, started, saveErr)
	}

	if err := r.CheckProcess(); err != nil {
		return a.fail(ctx, job, started, err)
	}

	job.Checksum = res.Checksum
	job.Size = res.Size
	if err := job.transition(StateCompleted); err != nil {
		return err
	}
	a.report(ctx, job, res.Note)
	a.Metrics.JobFinished("backup", job.Type, string(StateCompleted), time.Since(started))
	slog.Info("Backup completed", "id", job.ID, "type", job.Type, "location", job.Location, "bytes", job.Size, "duration", time.Since(started).Round(time.Millisecond))
	return nil
}
