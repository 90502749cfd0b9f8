package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatch_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("servers: {}\n"), 0644))

	ctx, cancel := context.WithCancel(context.Background())
	reloads := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, 20*time.Millisecond, nil, func(cfg *Config) { reloads <- cfg })
	}()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	// Let the watcher register before writing.
	time.Sleep(100 * time.Millisecond)

	// Unrelated files in the same directory are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x"), 0644))

	// Bad content is skipped.
	require.NoError(t, os.WriteFile(path, []byte("servers: [not, a, map"), 0644))
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte(`
servers:
  calc:
    command: python3
`), 0644))

	select {
	case cfg := <-reloads:
		require.NotNil(t, cfg.GetServer("calc"))
		assert.Equal(t, "python3", cfg.GetServer("calc").Command)
	case <-time.After(3 * time.Second):
		t.Fatal("no reload after config change")
	}
}

func TestWatch_MissingDirectory(t *testing.T) {
	err := Watch(context.Background(), filepath.Join(t.TempDir(), "nope", "config.yaml"), 0, nil, func(*Config) {})
	assert.Error(t, err)
}
