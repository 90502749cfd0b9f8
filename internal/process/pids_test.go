package process

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPIDTracker_AddAndRemove(t *testing.T) {
	dir := t.TempDir()

	pt, err := NewPIDTracker(dir, nil)
	require.NoError(t, err)

	require.NoError(t, pt.Add("calc", 12345, "/usr/bin/python3"))

	// Verify it was saved
	pt2, err := NewPIDTracker(dir, nil)
	require.NoError(t, err)
	entry, ok := pt2.pids["calc"]
	require.True(t, ok, "expected calc to be tracked")
	assert.Equal(t, 12345, entry.PID)
	assert.Equal(t, "/usr/bin/python3", entry.Command)

	require.NoError(t, pt.Remove("calc", 99999))
	_, ok = pt.Tracked("calc")
	assert.True(t, ok, "a different pid leaves the entry alone")

	require.NoError(t, pt.Remove("calc", 12345))
	require.NoError(t, pt.Remove("calc", 12345), "removing twice is harmless")

	pt3, err := NewPIDTracker(dir, nil)
	require.NoError(t, err)
	_, ok = pt3.Tracked("calc")
	assert.False(t, ok)
}

func TestPIDTracker_EmptyDir(t *testing.T) {
	_, err := NewPIDTracker("", nil)
	assert.Error(t, err)
}

func TestPIDTracker_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, pidsFile), []byte("{not json"), 0600))

	pt, err := NewPIDTracker(dir, nil)
	require.NoError(t, err)
	assert.Empty(t, pt.pids)
}

func TestPIDTracker_CleanupOrphans_ProcessGone(t *testing.T) {
	pt, err := NewPIDTracker(t.TempDir(), nil)
	require.NoError(t, err)

	// Add a PID that doesn't exist (highly unlikely PID)
	pt.pids["gone"] = pidEntry{PID: 999999, Command: "/usr/bin/fake", StartedAt: time.Now().Add(-time.Hour)}

	assert.Equal(t, 0, pt.CleanupOrphans())
	_, ok := pt.Tracked("gone")
	assert.False(t, ok, "entry should be removed from tracking")
}

func TestPIDTracker_CleanupOrphans_SkipsSelf(t *testing.T) {
	pt, err := NewPIDTracker(t.TempDir(), nil)
	require.NoError(t, err)

	pt.pids["self"] = pidEntry{PID: os.Getpid(), Command: os.Args[0]}
	assert.Equal(t, 0, pt.CleanupOrphans())
}

func TestPIDTracker_CleanupOrphans_KillsLiveOrphan(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("signals not supported")
	}
	sleepPath, err := exec.LookPath("sleep")
	if err != nil {
		t.Skip("sleep not available")
	}

	cmd := exec.Command(sleepPath, "30")
	require.NoError(t, cmd.Start())
	t.Cleanup(func() { _ = cmd.Process.Kill() })

	dir := t.TempDir()
	pt, err := NewPIDTracker(dir, nil)
	require.NoError(t, err)
	require.NoError(t, pt.Add("orphan", cmd.Process.Pid, sleepPath))

	// A fresh tracker, as on the next run, finds and signals it.
	next, err := NewPIDTracker(dir, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, next.CleanupOrphans())

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()
	select {
	case err := <-waitErr:
		assert.Error(t, err, "sleep should have been terminated by a signal")
	case <-time.After(5 * time.Second):
		t.Fatal("orphan was not terminated")
	}
}

func TestPIDTracker_CleanupOrphans_CommandMismatch(t *testing.T) {
	if _, err := os.Stat("/proc/self/cmdline"); err != nil {
		t.Skip("/proc not available")
	}
	pt, err := NewPIDTracker(t.TempDir(), nil)
	require.NoError(t, err)

	// A live PID whose command differs is treated as reused and left alone.
	pt.pids["reused"] = pidEntry{PID: os.Getppid(), Command: "/some/other/server"}
	assert.Equal(t, 0, pt.CleanupOrphans())
}
