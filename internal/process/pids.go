package process

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Bigsy/mcpconn/internal/logging"
)

const pidsFile = "pids.json"

type pidEntry struct {
	PID       int       `json:"pid"`
	Command   string    `json:"command"`
	StartedAt time.Time `json:"startedAt"`
}

// PIDTracker tracks running server PIDs to detect and clean up orphans.
type PIDTracker struct {
	path string
	log  *zap.SugaredLogger
	mu   sync.Mutex
	pids map[string]pidEntry // server name -> entry
}

// NewPIDTracker creates a PID tracker backed by dir/pids.json.
func NewPIDTracker(dir string, log *zap.SugaredLogger) (*PIDTracker, error) {
	if dir == "" {
		return nil, fmt.Errorf("pid tracker: empty state dir")
	}
	pt := &PIDTracker{
		path: filepath.Join(dir, pidsFile),
		log:  logging.OrNop(log),
		pids: make(map[string]pidEntry),
	}

	// Load existing PIDs
	pt.load()

	return pt, nil
}

// load reads PIDs from the tracking file.
func (pt *PIDTracker) load() {
	data, err := os.ReadFile(pt.path)
	if err != nil {
		// File doesn't exist or can't be read, start fresh
		return
	}

	if err := json.Unmarshal(data, &pt.pids); err != nil {
		pt.log.Warnf("failed to parse PID file %s: %v", pt.path, err)
		pt.pids = make(map[string]pidEntry)
	}
}

// save writes PIDs to the tracking file. Callers hold pt.mu.
func (pt *PIDTracker) save() error {
	if err := os.MkdirAll(filepath.Dir(pt.path), 0700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(pt.pids, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(pt.path, data, 0600)
}

// Add tracks a new PID for a server.
func (pt *PIDTracker) Add(name string, pid int, command string) error {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.pids[name] = pidEntry{PID: pid, Command: command, StartedAt: time.Now()}
	return pt.save()
}

// Remove stops tracking pid for a server. An entry that has since been
// replaced by a newer process is left alone.
func (pt *PIDTracker) Remove(name string, pid int) error {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	if e, ok := pt.pids[name]; !ok || e.PID != pid {
		return nil
	}
	delete(pt.pids, name)
	return pt.save()
}

// Tracked returns the PID recorded for a server.
func (pt *PIDTracker) Tracked(name string) (int, bool) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	e, ok := pt.pids[name]
	return e.PID, ok
}

// CleanupOrphans signals processes recorded by a previous run that are still
// alive and still running the recorded command. Returns the number signalled.
func (pt *PIDTracker) CleanupOrphans() int {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	killed := 0
	for name, e := range pt.pids {
		if e.PID != os.Getpid() && isProcessRunning(e.PID) && commandMatches(e.PID, e.Command) {
			pt.log.Infof("found orphan process: server=%s pid=%d, terminating", name, e.PID)
			if err := killProcess(e.PID); err != nil {
				pt.log.Warnf("failed to kill orphan pid=%d: %v", e.PID, err)
			} else {
				killed++
			}
		}
		// Remove from tracking either way
		delete(pt.pids, name)
	}

	if err := pt.save(); err != nil {
		pt.log.Warnf("failed to save PID file after cleanup: %v", err)
	}

	return killed
}

// isProcessRunning checks if a process with the given PID exists.
func isProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	// Signal 0 doesn't send a signal but checks if the process exists
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

// commandMatches guards against PID reuse. Where /proc is unavailable the
// recorded PID is trusted.
func commandMatches(pid int, command string) bool {
	data, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "cmdline"))
	if err != nil {
		return !procAvailable()
	}
	argv0, _, _ := bytes.Cut(data, []byte{0})
	return filepath.Base(string(argv0)) == filepath.Base(command)
}

func procAvailable() bool {
	_, err := os.Stat("/proc/self/cmdline")
	return err == nil
}

// killProcess sends SIGTERM without waiting; orphans are reaped by init.
func killProcess(pid int) error {
	process, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return process.Signal(syscall.SIGTERM)
}
