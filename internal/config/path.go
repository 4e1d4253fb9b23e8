package config

import (
	"os"
	"path/filepath"
)

// DefaultDataDir returns the directory holding state-transfer spools when
// none is configured: $XDG_DATA_HOME/vrlog, then ~/.vrlog, then ./data.
func DefaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "vrlog")
	}
	homeDir, err := os.UserHomeDir()
	if err != nil || homeDir == "" || !isDir(homeDir) {
		return "./data"
	}
	return filepath.Join(homeDir, ".vrlog")
}

// SpoolDir returns the pebble directory under dataDir.
func SpoolDir(dataDir string) string {
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}
	return filepath.Join(dataDir, "spool")
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}
