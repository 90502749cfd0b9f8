package client

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Bigsy/mcpconn/internal/events"
	"github.com/Bigsy/mcpconn/internal/mcp"
	"github.com/Bigsy/mcpconn/internal/process"
)

// connection is the client's view of one tool server: its process, its
// transport and the session driving the protocol over it.
type connection struct {
	name string
	log  *zap.SugaredLogger
	bus  *events.Bus

	handle    *process.Handle
	transport *mcp.StdioTransport
	session   *mcp.Session
	runDone   chan struct{} // closed when the read loop returns

	mu        sync.Mutex
	state     events.ConnState
	lastErr   error
	toolCount int
	startedAt time.Time
}

func newConnection(name string, bus *events.Bus, log *zap.SugaredLogger) *connection {
	return &connection{
		name:  name,
		bus:   bus,
		log:   log,
		state: events.StateDisconnected,
	}
}

func (c *connection) getState() events.ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// setState records a transition and publishes it. Terminal states are sticky
// and Closing only leads to a terminal state.
func (c *connection) setState(state events.ConnState, err error) bool {
	c.mu.Lock()
	old := c.state
	if old.IsTerminal() || old == state || (old == events.StateClosing && !state.IsTerminal()) {
		c.mu.Unlock()
		return false
	}
	c.state = state
	if err != nil {
		c.lastErr = err
	}
	status := c.statusLocked()
	c.mu.Unlock()

	c.log.Debugf("state %s -> %s", old, state)
	if c.bus != nil {
		c.bus.Publish(events.NewStateChangedEvent(c.name, old, state, status))
	}
	return true
}

// beginClosing moves a live connection to Closing. It reports false when the
// connection is already closing or finished.
func (c *connection) beginClosing() bool {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()
	if state == events.StateClosing || state.IsTerminal() {
		return false
	}
	return c.setState(events.StateClosing, nil)
}

// closing reports whether Close or Disconnect has claimed the connection.
func (c *connection) closing() bool {
	s := c.getState()
	return s == events.StateClosing || s.IsTerminal()
}

// attach records the pieces built during setup.
func (c *connection) attach(h *process.Handle, tr *mcp.StdioTransport, sess *mcp.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handle = h
	c.transport = tr
	c.session = sess
	if h != nil {
		c.startedAt = h.StartedAt()
	}
}

func (c *connection) parts() (*process.Handle, *mcp.StdioTransport, *mcp.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle, c.transport, c.session
}

func (c *connection) status() events.ServerStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

func (c *connection) statusLocked() events.ServerStatus {
	s := events.ServerStatus{
		Name:      c.name,
		State:     c.state,
		ToolCount: c.toolCount,
		StartedAt: c.startedAt,
	}
	if c.handle != nil {
		s.PID = c.handle.PID()
		s.LastExit = c.handle.LastExit()
	}
	if c.lastErr != nil {
		s.Error = c.lastErr.Error()
	}
	return s
}

// startReadLoop runs the correlator's read loop until the transport closes.
func (c *connection) startReadLoop(corr *mcp.Correlator) {
	done := make(chan struct{})
	c.mu.Lock()
	c.runDone = done
	c.mu.Unlock()
	go func() {
		defer close(done)
		if err := corr.Run(context.Background()); err != nil {
			c.log.Debugf("read loop ended: %v", err)
		}
	}()
}

// release closes the transport, terminates the process and waits for the
// read loop. Safe to call on a partially built connection and more than once.
func (c *connection) release() {
	h, tr, _ := c.parts()
	c.mu.Lock()
	runDone := c.runDone
	c.mu.Unlock()

	if tr != nil {
		tr.Close()
	}
	if h != nil {
		if err := h.Terminate(); err != nil {
			c.log.Warnf("terminate: %v", err)
		}
	}
	if runDone != nil {
		<-runDone
	}
}

// shutdown performs the polite close sequence: shutdown notification, a
// short grace pause, then process termination.
func (c *connection) shutdown(ctx context.Context, grace time.Duration) {
	h, _, sess := c.parts()
	if sess != nil && h != nil && !h.Exited() {
		sendCtx, cancel := context.WithTimeout(ctx, time.Second)
		if err := sess.Shutdown(sendCtx); err != nil {
			c.log.Debugf("shutdown notification: %v", err)
		}
		cancel()

		select {
		case <-h.Done():
		case <-time.After(grace):
		case <-ctx.Done():
		}
	}

	// Signal the child before its stdin closes.
	if h != nil {
		if err := h.Terminate(); err != nil {
			c.log.Warnf("terminate: %v", err)
		}
	}
	c.release()
	c.setState(events.StateClosed, nil)
	c.log.Infof("disconnected")
}
