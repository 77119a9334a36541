package backup

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dbrb/internal/manifest"
	"dbrb/internal/remote"
)

func TestTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    State
		to      State
		wantErr bool
	}{
		{name: "new to building", from: StateNew, to: StateBuilding},
		{name: "building to completed", from: StateBuilding, to: StateCompleted},
		{name: "building to failed", from: StateBuilding, to: StateFailed},
		{name: "new to completed", from: StateNew, to: StateCompleted, wantErr: true},
		{name: "new to failed", from: StateNew, to: StateFailed, wantErr: true},
		{name: "completed to failed", from: StateCompleted, to: StateFailed, wantErr: true},
		{name: "failed to completed", from: StateFailed, to: StateCompleted, wantErr: true},
		{name: "completed to building", from: StateCompleted, to: StateBuilding, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := &Job{ID: "x", State: tt.from}
			err := job.transition(tt.to)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTransition)
				assert.Equal(t, tt.from, job.State)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.to, job.State)
		})
	}
}

func TestTerminal(t *testing.T) {
	assert.False(t, NewJob("a", "MySQLDump").Terminal())
	assert.True(t, (&Job{State: StateCompleted}).Terminal())
	assert.True(t, (&Job{State: StateFailed}).Terminal())
}

func TestStateFileReporter(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run")
	r := StateFileReporter{Dir: dir}

	require.NoError(t, r.Report(context.Background(), Update{JobID: "abc", State: StateBuilding, Size: 10}))
	require.NoError(t, r.Report(context.Background(), Update{JobID: "abc", State: StateCompleted, Checksum: "ff", Note: "done"}))

	state, err := manifest.ReadState(StatePath(dir, "abc"))
	require.NoError(t, err)
	assert.Equal(t, "COMPLETED", state.State)
	assert.Equal(t, "ff", state.Checksum)
	assert.Equal(t, "done", state.Note)
	assert.NotZero(t, state.LastUpdated)
}

type failingReporter struct{}

func (failingReporter) Report(context.Context, Update) error { return errors.New("rpc unavailable") }

func TestMultiReporter(t *testing.T) {
	rec := &recordingReporter{}
	m := MultiReporter{failingReporter{}, LogReporter{}, rec}

	err := m.Report(context.Background(), Update{JobID: "abc", State: StateNew})
	assert.ErrorContains(t, err, "rpc unavailable")
	assert.Equal(t, []State{StateNew}, rec.states())
}

func TestReportErrorsDoNotFailJob(t *testing.T) {
	a := newTestAgent(remote.NewMemory(), failingReporter{})
	job := NewJob("j", "Echo")

	require.NoError(t, a.ExecuteBackup(context.Background(), job))
	assert.Equal(t, StateCompleted, job.State)
}
