package process

import (
	"bufio"
	"errors"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Bigsy/mcpconn/internal/events"
)

// Handle represents a spawned server process.
type Handle struct {
	name    string
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  io.ReadCloser
	bus     *events.Bus
	log     *zap.SugaredLogger
	timeout time.Duration

	startedAt time.Time
	done      chan struct{} // closed when process exits
	stderrEOF chan struct{} // closed when the stderr drain finishes

	stateMu  sync.RWMutex
	exitCode int
	signal   string
	exitedAt time.Time

	tailMu   sync.Mutex
	tail     []string
	tailSize int

	termOnce sync.Once
	termErr  error
	pipeOnce sync.Once
}

func newHandle(name string, cmd *exec.Cmd, stdin io.WriteCloser, stdout io.ReadCloser, opts Options, bus *events.Bus, log *zap.SugaredLogger) *Handle {
	return &Handle{
		name:      name,
		cmd:       cmd,
		stdin:     stdin,
		stdout:    stdout,
		bus:       bus,
		log:       log,
		timeout:   opts.TerminateTimeout,
		startedAt: time.Now(),
		done:      make(chan struct{}),
		stderrEOF: make(chan struct{}),
		exitCode:  -1,
		tail:      make([]string, 0, opts.StderrLines),
		tailSize:  opts.StderrLines,
	}
}

// Name returns the server name.
func (h *Handle) Name() string {
	return h.name
}

// Stdin is the write end of the child's standard input.
func (h *Handle) Stdin() io.WriteCloser {
	return h.stdin
}

// Stdout is the read end of the child's standard output.
func (h *Handle) Stdout() io.ReadCloser {
	return h.stdout
}

// PID returns the process ID.
func (h *Handle) PID() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// StartedAt returns when the process started.
func (h *Handle) StartedAt() time.Time {
	return h.startedAt
}

// Done is closed when the process exits.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Exited reports whether the process has exited.
func (h *Handle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// ExitCode returns the exit code, or -1 while running or when killed by a signal.
func (h *Handle) ExitCode() int {
	h.stateMu.RLock()
	defer h.stateMu.RUnlock()
	return h.exitCode
}

// LastExit describes how the process ended, or nil while it runs.
func (h *Handle) LastExit() *events.LastExit {
	if !h.Exited() {
		return nil
	}
	h.stateMu.RLock()
	defer h.stateMu.RUnlock()
	return &events.LastExit{Code: h.exitCode, Signal: h.signal, Timestamp: h.exitedAt}
}

// Stderr returns the captured tail of the child's standard error.
func (h *Handle) Stderr() string {
	h.tailMu.Lock()
	defer h.tailMu.Unlock()
	return strings.Join(h.tail, "\n")
}

// Terminate stops the process: SIGTERM, then SIGKILL once the terminate
// timeout elapses. It always waits for the process to be reaped. Calling it
// again, or on an exited process, returns the first result.
func (h *Handle) Terminate() error {
	h.termOnce.Do(func() {
		h.termErr = h.terminate()
	})
	return h.termErr
}

func (h *Handle) terminate() error {
	defer h.closePipes()

	if h.Exited() || h.cmd.Process == nil {
		return nil
	}

	if err := h.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		h.log.Warnf("SIGTERM failed: %v", err)
	}

	select {
	case <-h.done:
		h.log.Debugf("process exited after SIGTERM")
		return nil
	case <-time.After(h.timeout):
	}

	h.log.Warnf("process did not exit within %v, sending SIGKILL", h.timeout)
	if err := h.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		h.log.Warnf("SIGKILL failed: %v", err)
	}
	<-h.done
	return nil
}

// closePipes releases the parent's ends of the child's pipes.
func (h *Handle) closePipes() {
	h.pipeOnce.Do(func() {
		h.stdin.Close()
		h.stdout.Close()
	})
}

// readStderr drains stderr into the tail buffer and publishes log events.
func (h *Handle) readStderr(stderr io.ReadCloser) {
	defer close(h.stderrEOF)
	defer stderr.Close()

	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()

		h.tailMu.Lock()
		h.tail = append(h.tail, line)
		if len(h.tail) > h.tailSize {
			h.tail = h.tail[len(h.tail)-h.tailSize:]
		}
		h.tailMu.Unlock()

		h.log.Debugf("stderr: %s", line)
		if h.bus != nil {
			h.bus.Publish(events.NewLogReceivedEvent(h.name, line))
		}
	}
}

// waitStderr waits up to d for the stderr drain to reach EOF.
func (h *Handle) waitStderr(d time.Duration) {
	select {
	case <-h.stderrEOF:
	case <-time.After(d):
	}
}

// watchProcess monitors the process for exit. It reaps with Process.Wait
// rather than Cmd.Wait so the pipes stay readable until drained.
func (h *Handle) watchProcess() {
	state, err := h.cmd.Process.Wait()

	h.stateMu.Lock()
	h.exitedAt = time.Now()
	if state != nil {
		h.exitCode = state.ExitCode()
		if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			h.signal = ws.Signal().String()
		}
	}
	h.stateMu.Unlock()

	// Signal that process has exited
	close(h.done)

	if err != nil {
		h.log.Warnf("wait failed: %v", err)
	}
	h.log.Infof("process exited: code=%d signal=%s", h.ExitCode(), h.signal)
}
