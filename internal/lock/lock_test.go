package lock

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireAndRelease(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "dbrb.lock")

	release, err := Acquire(lockPath, "backup", "job-1")
	require.NoError(t, err)

	entry, err := Read(lockPath)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), entry.Pid)
	assert.Equal(t, "backup", entry.Operation)
	assert.Equal(t, "job-1", entry.JobID)
	assert.NotEmpty(t, entry.StartedAt)

	require.NoError(t, release())
	_, err = os.Stat(lockPath)
	assert.True(t, os.IsNotExist(err))
}

func TestAcquireBlockedByLivePid(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "dbrb.lock")

	release, err := Acquire(lockPath, "backup", "job-1")
	require.NoError(t, err)
	defer release()

	_, err = Acquire(lockPath, "restore", "job-2")
	assert.ErrorIs(t, err, ErrLocked)
	assert.Contains(t, err.Error(), "backup job-1")
}

func TestAcquireReclaimsStaleLock(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "dbrb.lock")

	stale := &Entry{Pid: 999999999, Operation: "backup", JobID: "old", StartedAt: "2024-01-01T00:00:00Z"}
	require.NoError(t, writeLock(lockPath, stale))

	release, err := Acquire(lockPath, "restore", "new")
	require.NoError(t, err)

	entry, err := Read(lockPath)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), entry.Pid)
	assert.Equal(t, "new", entry.JobID)

	require.NoError(t, release())
}

func TestReadMissing(t *testing.T) {
	entry, err := Read(filepath.Join(t.TempDir(), "dbrb.lock"))
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestReleaseIdempotent(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "dbrb.lock")

	release, err := Acquire(lockPath, "backup", "job-1")
	require.NoError(t, err)

	require.NoError(t, release())
	require.NoError(t, release())
}
