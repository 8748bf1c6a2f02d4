// ABOUTME: XDG-based data directory resolution for the graphrund daemon.
// ABOUTME: Checks XDG_DATA_HOME, falls back to ~/.local/share/graphrund.
package main

import (
	"fmt"
	"os"
	"path/filepath"
)

// defaultDataDir returns the default directory for run storage (events,
// snapshots, and the SQLite query index). It checks XDG_DATA_HOME first,
// then falls back to ~/.local/share/graphrund.
func defaultDataDir() (string, error) {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "graphrund"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}

	return filepath.Join(home, ".local", "share", "graphrund"), nil
}
