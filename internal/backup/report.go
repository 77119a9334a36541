package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"dbrb/internal/manifest"
)

// Update is one job status report.
type Update struct {
	JobID    string
	Type     string
	State    State
	Size     int64
	Checksum string
	Location string
	Note     string
}

// Reporter delivers job updates to whoever tracks jobs. The agent does not
// act on reporting errors beyond logging them.
type Reporter interface {
	Report(ctx context.Context, u Update) error
}

type LogReporter struct{}

func (LogReporter) Report(_ context.Context, u Update) error {
	slog.Info("Backup job update",
		"id", u.JobID,
		"type", u.Type,
		"state", u.State,
		"size", u.Size,
		"checksum", u.Checksum,
		"location", u.Location,
		"note", u.Note,
	)
	return nil
}

// StateFileReporter keeps the latest update of each job as yaml in Dir.
type StateFileReporter struct {
	Dir string
}

func StatePath(dir, jobID string) string {
	return filepath.Join(dir, jobID+".state.yaml")
}

func (r StateFileReporter) Report(_ context.Context, u Update) error {
	if err := os.MkdirAll(r.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	return manifest.WriteState(StatePath(r.Dir, u.JobID), &manifest.State{
		JobID:       u.JobID,
		Type:        u.Type,
		State:       string(u.State),
		Size:        u.Size,
		Checksum:    u.Checksum,
		Location:    u.Location,
		Note:        u.Note,
		LastUpdated: time.Now().Unix(),
	})
}

type MultiReporter []Reporter

func (m MultiReporter) Report(ctx context.Context, u Update) error {
	var errs []error
	for _, r := range m {
		if err := r.Report(ctx, u); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
