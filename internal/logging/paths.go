package logging

import (
	"os"
	"path/filepath"
)

// DefaultLogDir returns ~/.mdsentry/logs, or a temp dir fallback.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".mdsentry", "logs")
	}
	return filepath.Join(home, ".mdsentry", "logs")
}

// DefaultLogPath returns the log file shared by every mdsentry command.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "mdsentry.log")
}
