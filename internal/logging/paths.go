package logging

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultLogDir returns the default log directory (~/.janus/logs/).
// Falls back to the temp directory if the home directory is unavailable.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".janus", "logs")
	}
	return filepath.Join(home, ".janus", "logs")
}

// DefaultLogPath returns the default janus log file path.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "janus.log")
}

// EnsureLogDir creates the log directory if it doesn't exist.
func EnsureLogDir() error {
	return os.MkdirAll(DefaultLogDir(), 0o755)
}

// FindLogFile resolves the log file to read: an explicit path if given
// and present, otherwise the default location.
func FindLogFile(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit, nil
		}
		return "", fmt.Errorf("log file not found: %s", explicit)
	}

	global := DefaultLogPath()
	if _, err := os.Stat(global); err == nil {
		return global, nil
	}
	return "", fmt.Errorf("no log file found, expected at: %s", global)
}
