package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dbrb.log")
	var console bytes.Buffer

	logger, file, err := NewLogger(path, slog.LevelInfo, &console)
	require.NoError(t, err)
	defer file.Close()

	logger.With("job", "123").Debug("segment verified", "segment", "123_00000000")
	logger.Info("backup completed", "bytes", 42)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"segment verified"`)
	assert.Contains(t, string(data), `"job":"123"`)
	assert.Contains(t, string(data), `"msg":"backup completed"`)

	assert.NotContains(t, console.String(), "segment verified")
	assert.Contains(t, console.String(), "backup completed")
	assert.Contains(t, console.String(), "bytes=42")
}

func TestNewLoggerBadPath(t *testing.T) {
	_, _, err := NewLogger(filepath.Join(t.TempDir(), "missing", "dbrb.log"), slog.LevelInfo, &bytes.Buffer{})
	assert.ErrorContains(t, err, "failed to open log file")
}
