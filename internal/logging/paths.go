package logging

import (
	"os"
	"path/filepath"
)

// DefaultLogDir returns the default log directory (~/.nrtindex/logs/).
// Falls back to the temp directory if the home directory is unavailable.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".nrtindex", "logs")
	}
	return filepath.Join(home, ".nrtindex", "logs")
}

// DefaultLogPath returns the default engine log path.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "nrtindex.log")
}
