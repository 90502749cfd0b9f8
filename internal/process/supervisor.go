// Package process provides process lifecycle management for stdio tool servers.
package process

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Bigsy/mcpconn/internal/config"
	"github.com/Bigsy/mcpconn/internal/events"
	"github.com/Bigsy/mcpconn/internal/logging"
)

// DefaultStderrLines is how many trailing stderr lines a Handle keeps.
const DefaultStderrLines = 200

// Spec describes the subprocess to launch.
type Spec struct {
	Name    string
	Command string
	Args    []string
	Env     map[string]string
	Dir     string
}

// SpecFromServer builds a Spec from a configured server.
func SpecFromServer(srv config.Server) Spec {
	return Spec{
		Name:    srv.Name,
		Command: srv.Command,
		Args:    srv.Args,
		Env:     srv.Env,
		Dir:     srv.Cwd,
	}
}

// Options tunes the supervisor. Zero values fall back to the config defaults.
type Options struct {
	StartupGrace     time.Duration
	TerminateTimeout time.Duration
	// StateDir holds the PID file. Empty disables orphan tracking.
	StateDir    string
	StderrLines int
}

func (o *Options) applyDefaults() {
	if o.StartupGrace <= 0 {
		o.StartupGrace = config.DefaultStartupGrace
	}
	if o.TerminateTimeout <= 0 {
		o.TerminateTimeout = config.DefaultTerminateTimeout
	}
	if o.StderrLines <= 0 {
		o.StderrLines = DefaultStderrLines
	}
}

// SpawnError reports a subprocess that could not be started or exited during
// the startup grace window.
type SpawnError struct {
	Name     string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *SpawnError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "spawn %s", e.Name)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	} else {
		fmt.Fprintf(&b, ": exited during startup with code %d", e.ExitCode)
	}
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		fmt.Fprintf(&b, ": %s", stderr)
	}
	return b.String()
}

func (e *SpawnError) Unwrap() error { return e.Err }

// Supervisor launches tool server processes and tracks the live ones by name.
type Supervisor struct {
	bus        *events.Bus
	log        *zap.SugaredLogger
	opts       Options
	pidTracker *PIDTracker
	handles    map[string]*Handle
	mu         sync.RWMutex
}

// NewSupervisor creates a new process supervisor.
// When a state dir is configured it also cleans up orphan processes from previous runs.
func NewSupervisor(bus *events.Bus, log *zap.SugaredLogger, opts Options) *Supervisor {
	log = logging.OrNop(log)
	opts.applyDefaults()

	s := &Supervisor{
		bus:     bus,
		log:     log,
		opts:    opts,
		handles: make(map[string]*Handle),
	}

	if opts.StateDir != "" {
		pt, err := NewPIDTracker(opts.StateDir, log)
		if err != nil {
			log.Warnf("failed to create PID tracker: %v", err)
		} else {
			if killed := pt.CleanupOrphans(); killed > 0 {
				log.Infof("cleaned up %d orphan process(es)", killed)
			}
			s.pidTracker = pt
		}
	}
	return s
}

// Spawn starts a subprocess with stdin, stdout and stderr piped, waits out the
// startup grace window and fails with a *SpawnError if the child already exited.
// ctx bounds only the spawn itself; the child outlives it.
func (s *Supervisor) Spawn(ctx context.Context, spec Spec) (*Handle, error) {
	if spec.Command == "" {
		return nil, &SpawnError{Name: spec.Name, ExitCode: -1, Err: fmt.Errorf("empty command")}
	}

	s.mu.Lock()
	if h, exists := s.handles[spec.Name]; exists && !h.Exited() {
		s.mu.Unlock()
		return nil, fmt.Errorf("server %s is already running (pid %d)", spec.Name, h.PID())
	}
	s.mu.Unlock()

	log := s.log.With("server", spec.Name)
	log.Infof("starting server: cmd=%s args=%v", spec.Command, spec.Args)

	cmd := exec.Command(spec.Command, spec.Args...)
	if spec.Dir != "" {
		cmd.Dir = spec.Dir
	}
	cmd.Env = buildEnv(spec.Env)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &SpawnError{Name: spec.Name, ExitCode: -1, Err: fmt.Errorf("stdin pipe: %w", err)}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &SpawnError{Name: spec.Name, ExitCode: -1, Err: fmt.Errorf("stdout pipe: %w", err)}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &SpawnError{Name: spec.Name, ExitCode: -1, Err: fmt.Errorf("stderr pipe: %w", err)}
	}

	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Name: spec.Name, ExitCode: -1, Err: fmt.Errorf("start process: %w", err)}
	}

	h := newHandle(spec.Name, cmd, stdin, stdout, s.opts, s.bus, log)
	go h.readStderr(stderr)
	go h.watchProcess()

	// A child that dies inside the grace window is a spawn failure.
	select {
	case <-h.done:
	case <-time.After(s.opts.StartupGrace):
	case <-ctx.Done():
		h.Terminate()
		return nil, &SpawnError{Name: spec.Name, ExitCode: h.ExitCode(), Stderr: h.Stderr(), Err: ctx.Err()}
	}

	if h.Exited() {
		h.waitStderr(s.opts.StartupGrace)
		h.closePipes()
		serr := &SpawnError{Name: spec.Name, ExitCode: h.ExitCode(), Stderr: h.Stderr()}
		log.Warnf("server exited during startup: code=%d", serr.ExitCode)
		return nil, serr
	}

	s.mu.Lock()
	s.handles[spec.Name] = h
	s.mu.Unlock()

	if s.pidTracker != nil {
		if err := s.pidTracker.Add(spec.Name, h.PID(), spec.Command); err != nil {
			log.Warnf("failed to track PID: %v", err)
		}
	}
	go s.forget(h)

	log.Infof("server started: pid=%d", h.PID())
	return h, nil
}

// forget drops the handle and its PID record once the process exits.
func (s *Supervisor) forget(h *Handle) {
	<-h.done

	s.mu.Lock()
	if s.handles[h.name] == h {
		delete(s.handles, h.name)
	}
	s.mu.Unlock()

	if s.pidTracker != nil {
		if err := s.pidTracker.Remove(h.name, h.PID()); err != nil {
			s.log.Warnf("failed to remove PID tracking for %s: %v", h.name, err)
		}
	}
}

// Get returns the live handle for a server, or nil if not running.
func (s *Supervisor) Get(name string) *Handle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handles[name]
}

// TerminateAll stops all running processes in parallel.
func (s *Supervisor) TerminateAll() {
	s.mu.RLock()
	handles := make([]*Handle, 0, len(s.handles))
	for _, h := range s.handles {
		handles = append(handles, h)
	}
	s.mu.RUnlock()

	var wg sync.WaitGroup
	for _, h := range handles {
		wg.Add(1)
		go func(h *Handle) {
			defer wg.Done()
			h.Terminate()
		}(h)
	}
	wg.Wait()
}

// RunningCount returns the number of running processes.
func (s *Supervisor) RunningCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, h := range s.handles {
		if !h.Exited() {
			count++
		}
	}
	return count
}

// buildEnv creates the environment for a subprocess with PATH augmentation.
func buildEnv(customEnv map[string]string) []string {
	// Start with current environment
	env := os.Environ()

	// Augment PATH with common binary locations
	pathDirs := []string{
		"/opt/homebrew/bin",
		"/usr/local/bin",
		"/usr/bin",
		"/bin",
	}

	for i, e := range env {
		if strings.HasPrefix(e, "PATH=") {
			currentPath := strings.TrimPrefix(e, "PATH=")
			env[i] = "PATH=" + strings.Join(pathDirs, ":") + ":" + currentPath
			break
		}
	}

	for k, v := range customEnv {
		found := false
		prefix := k + "="
		for i, e := range env {
			if strings.HasPrefix(e, prefix) {
				env[i] = prefix + v
				found = true
				break
			}
		}
		if !found {
			env = append(env, prefix+v)
		}
	}

	return env
}
