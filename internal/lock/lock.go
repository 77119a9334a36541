// Package lock serialises jobs on one instance with a pid file.
package lock

import (
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"
)

var ErrLocked = errors.New("another job holds the instance lock")

type Entry struct {
	Pid       int    `yaml:"pid"`
	Operation string `yaml:"operation"`
	JobID     string `yaml:"job_id"`
	StartedAt string `yaml:"started_at"`
}

func Read(path string) (*Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var entry Entry
	if err := yaml.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to parse lock file %s: %w", path, err)
	}
	return &entry, nil
}

func writeLock(path string, entry *Entry) error {
	data, err := yaml.Marshal(entry)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || !errors.Is(err, syscall.ESRCH)
}

// Acquire takes the lock for one job, reclaiming it from a dead holder.
// The returned release function is safe to call more than once.
func Acquire(lockPath, operation, jobID string) (func() error, error) {
	existing, err := Read(lockPath)
	if err != nil {
		return nil, err
	}

	if existing != nil && isProcessAlive(existing.Pid) {
		return nil, fmt.Errorf("%w: pid %d is running %s %s (started %s)",
			ErrLocked, existing.Pid, existing.Operation, existing.JobID, existing.StartedAt)
	}

	entry := &Entry{
		Pid:       os.Getpid(),
		Operation: operation,
		JobID:     jobID,
		StartedAt: time.Now().Format(time.RFC3339),
	}
	if err := writeLock(lockPath, entry); err != nil {
		return nil, fmt.Errorf("failed to write lock file: %w", err)
	}

	release := func() error {
		if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}

	return release, nil
}
