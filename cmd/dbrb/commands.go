package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"

	"dbrb/internal/backup"
	"dbrb/internal/storage"
)

type jobOutput struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	State    string `json:"state"`
	Location string `json:"location,omitempty"`
	Checksum string `json:"checksum,omitempty"`
	Size     int64  `json:"size"`
}

func runBackup(ctx context.Context, configPath, typ, id string) error {
	if ctx.Err() != nil {
		return fmt.Errorf("backup cancelled before start: %w", ctx.Err())
	}

	e, err := setup(ctx, configPath)
	if err != nil {
		return err
	}
	defer e.close()

	if typ, err = e.jobType(typ); err != nil {
		return err
	}
	if id == "" {
		id = uuid.NewString()
	}

	release, err := e.lock("backup", id)
	if err != nil {
		return err
	}
	defer func() {
		if err := release(); err != nil {
			slog.Warn("Failed to release lock", "error", err)
		}
	}()

	slog.Info("Backup started", "id", id, "type", typ)
	job := backup.NewJob(id, typ)
	if err := e.agent().ExecuteBackup(ctx, job); err != nil {
		return err
	}

	return printJSON(jobOutput{
		ID:       job.ID,
		Type:     job.Type,
		State:    string(job.State),
		Location: job.Location,
		Checksum: job.Checksum,
		Size:     job.Size,
	})
}

func runRestore(ctx context.Context, configPath, typ, id, location, checksum, target string) error {
	e, err := setup(ctx, configPath)
	if err != nil {
		return err
	}
	defer e.close()

	if typ, err = e.jobType(typ); err != nil {
		return err
	}
	if id == "" {
		if _, filename, err := storage.ParseLocation(location); err == nil {
			id = filename
		}
	}
	if target == "" {
		target = e.cfg.Datastore.DataDir
	}

	release, err := e.lock("restore", id)
	if err != nil {
		return err
	}
	defer func() {
		if err := release(); err != nil {
			slog.Warn("Failed to release lock", "error", err)
		}
	}()

	slog.Info("Restore started", "id", id, "type", typ, "location", location, "target", target)
	job := &backup.Job{ID: id, Type: typ, State: backup.StateCompleted, Location: location, Checksum: checksum}
	if err := e.agent().ExecuteRestore(ctx, job, target); err != nil {
		return err
	}
	fmt.Printf("restored %s into %s\n", location, target)
	return nil
}

func runVerify(ctx context.Context, configPath, location, checksum string) error {
	e, err := setup(ctx, configPath)
	if err != nil {
		return err
	}
	defer e.close()

	m, err := e.storage.Verify(ctx, location, checksum)
	if err != nil {
		return fmt.Errorf("verification failed: %w", err)
	}
	fmt.Printf("verified %s: %d bytes in %d segments\n", location, m.Size, len(m.Segments))
	return nil
}

func printJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}
