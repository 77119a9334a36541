package util

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"dbrb/internal/logging"
)

func RunDir(baseDir string) string {
	return filepath.Join(baseDir, "run")
}

func LogDir(baseDir string) string {
	return filepath.Join(baseDir, "logs")
}

func LogPath(baseDir string, now time.Time) string {
	return filepath.Join(LogDir(baseDir), fmt.Sprintf("%s.log", now.Format("2006-01-02")))
}

func SetupDirectories(dirs ...string) error {
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

func SetupLogging(logPath string, level slog.Level) (*slog.Logger, *os.File, error) {
	logDir := filepath.Dir(logPath)
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	logger, logFile, err := logging.NewLogger(logPath, level, os.Stdout)
	if err != nil {
		return nil, nil, err
	}

	return logger, logFile, nil
}

// CleanDir removes everything inside dir, creating dir if it is missing.
func CleanDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read directory %s: %w", dir, err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return fmt.Errorf("failed to remove %s: %w", e.Name(), err)
		}
	}
	return nil
}

// VolumeUsed returns the bytes in use on the filesystem holding path.
func VolumeUsed(path string) (int64, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return 0, fmt.Errorf("failed to stat filesystem of %s: %w", path, err)
	}
	return int64(st.Blocks-st.Bfree) * int64(st.Bsize), nil
}
