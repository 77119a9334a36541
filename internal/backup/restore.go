package backup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"dbrb/internal/util"
)

// ExecuteRestore replaces the contents of restoreLocation with the backup
// described by job. An unknown job.Type fails with strategy.ErrUnknownStrategy
// before storage or the filesystem are touched; every later failure is a
// *RestoreError. A failed restore is not rolled back.
func (a *Agent) ExecuteRestore(ctx context.Context, job *Job, restoreLocation string) error {
	factory, err := a.registry.ResolveRestore(job.Type)
	if err != nil {
		return err
	}

	started := time.Now()
	fail := func(err error) error {
		a.Metrics.JobFinished("restore", job.Type, string(StateFailed), time.Since(started))
		slog.Error("Restore failed", "id", job.ID, "type", job.Type, "error", err)
		return &RestoreError{JobID: job.ID, Err: err}
	}

	params := a.params
	params.Filename = job.ID
	params.RestoreLocation = restoreLocation
	rr, err := factory(params)
	if err != nil {
		return fail(err)
	}

	if loc := rr.Location(); loc != "" {
		if err := util.CleanDir(loc); err != nil {
			return fail(fmt.Errorf("failed to clear restore location: %w", err))
		}
	}

	ds, err := a.storage.Load(ctx, job.Location, rr.IsZipped(), job.Checksum)
	if err != nil {
		return fail(err)
	}
	defer ds.Close()

	// Check the manifest before any restore process starts
	if err := ds.Open(ctx); err != nil {
		return fail(err)
	}

	n, err := rr.Restore(ctx, ds)
	if err != nil {
		return fail(err)
	}

	a.Metrics.JobFinished("restore", job.Type, string(StateCompleted), time.Since(started))
	slog.Info("Restore completed", "id", job.ID, "type", job.Type, "location", rr.Location(), "bytes", n, "duration", time.Since(started).Round(time.Millisecond))
	return nil
}
