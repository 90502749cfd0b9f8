// Package testutil provides common test utilities.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// SetupTestHome creates an isolated $HOME directory for tests.
// This matters because:
// - PIDTracker reads/writes its pids.json under the state dir
// - Config reads/writes ~/.config/mcpconn/config.yaml
// - Orphan cleanup runs on NewSupervisor() and could signal real processes
//
// The temp directory is automatically cleaned up when the test ends.
func SetupTestHome(t *testing.T) string {
	t.Helper()

	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpHome, ".config"))

	configDir := filepath.Join(tmpHome, ".config", "mcpconn")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("create test config dir: %v", err)
	}

	return tmpHome
}

// WriteTestConfig writes a configuration file with the given file name into
// the isolated $HOME config directory and returns its path.
func WriteTestConfig(t *testing.T, name, body string) string {
	t.Helper()

	home := os.Getenv("HOME")
	if home == "" {
		t.Fatal("HOME not set - call SetupTestHome first")
	}

	configPath := filepath.Join(home, ".config", "mcpconn", name)
	if err := os.WriteFile(configPath, []byte(body), 0644); err != nil {
		t.Fatalf("write test config: %v", err)
	}

	return configPath
}
