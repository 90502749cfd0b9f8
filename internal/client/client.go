// Package client is the facade over supervised stdio tool servers: it
// connects them, keeps the registry of their tools and routes tool calls.
package client

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Bigsy/mcpconn/internal/config"
	"github.com/Bigsy/mcpconn/internal/events"
	"github.com/Bigsy/mcpconn/internal/logging"
	"github.com/Bigsy/mcpconn/internal/mcp"
	"github.com/Bigsy/mcpconn/internal/process"
)

// MaxConcurrentConnects bounds parallel setup in ConnectAll.
const MaxConcurrentConnects = 8

var (
	// ErrAlreadyConnected is returned when a name is already connected or connecting.
	ErrAlreadyConnected = errors.New("already connected")
	// ErrClientClosed is returned by operations after Close.
	ErrClientClosed = errors.New("client closed")
)

// Options configures a Client.
type Options struct {
	ClientInfo mcp.ClientInfo
	Timeouts   config.Timeouts
	// StateDir holds the PID file used for orphan cleanup. Empty disables it.
	StateDir string
	Bus      *events.Bus
	Log      *zap.SugaredLogger
	// OnNotification receives server notifications in addition to the bus.
	OnNotification func(server string, msg mcp.Message)
}

// OptionsFromConfig derives client options from a loaded config.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		ClientInfo: mcp.ClientInfo{Name: cfg.ClientInfo.Name, Version: cfg.ClientInfo.Version},
		Timeouts:   cfg.Timeouts,
		StateDir:   cfg.StateDir,
	}
}

// Client owns every connection and the tool registry built from them.
type Client struct {
	opts       Options
	log        *zap.SugaredLogger
	bus        *events.Bus
	supervisor *process.Supervisor
	registry   *mcp.Registry

	mu         sync.RWMutex
	conns      map[string]*connection // Ready connections
	connecting map[string]*connection // connections in setup
	closed     bool

	bg sync.WaitGroup // background tool refreshes
}

// New creates a client. Nothing is spawned until Connect.
func New(opts Options) *Client {
	log := logging.OrNop(opts.Log)
	if opts.ClientInfo.Name == "" {
		opts.ClientInfo = mcp.ClientInfo{Name: "mcpconn", Version: "0.1.0"}
	}
	t := &opts.Timeouts
	if t.StartupGrace <= 0 {
		t.StartupGrace = config.Duration(config.DefaultStartupGrace)
	}
	if t.Terminate <= 0 {
		t.Terminate = config.Duration(config.DefaultTerminateTimeout)
	}
	if t.Request <= 0 {
		t.Request = config.Duration(config.DefaultRequestTimeout)
	}
	if t.ShutdownGrace <= 0 {
		t.ShutdownGrace = config.Duration(config.DefaultShutdownGrace)
	}
	if t.MaxConsecutiveTimeouts <= 0 {
		t.MaxConsecutiveTimeouts = config.DefaultMaxConsecutiveTimeouts
	}

	return &Client{
		opts: opts,
		log:  log,
		bus:  opts.Bus,
		supervisor: process.NewSupervisor(opts.Bus, log, process.Options{
			StartupGrace:     t.StartupGrace.Std(),
			TerminateTimeout: t.Terminate.Std(),
			StateDir:         opts.StateDir,
		}),
		registry:   mcp.NewRegistry(),
		conns:      make(map[string]*connection),
		connecting: make(map[string]*connection),
	}
}

// Connect spawns command with args as server name, performs the handshake and
// discovers its tools. On any failure the process is terminated and nothing
// is registered.
func (c *Client) Connect(ctx context.Context, name, command string, args ...string) error {
	return c.ConnectServer(ctx, config.Server{Name: name, Command: command, Args: args})
}

// ConnectServer connects a configured server.
func (c *Client) ConnectServer(ctx context.Context, srv config.Server) error {
	if err := config.ValidateName(srv.Name); err != nil {
		return fmt.Errorf("connect %q: %w", srv.Name, err)
	}

	log := c.log.With("server", srv.Name)
	conn := newConnection(srv.Name, c.bus, log)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	if _, ok := c.conns[srv.Name]; ok {
		c.mu.Unlock()
		return fmt.Errorf("connect %s: %w", srv.Name, ErrAlreadyConnected)
	}
	if _, ok := c.connecting[srv.Name]; ok {
		c.mu.Unlock()
		return fmt.Errorf("connect %s: %w", srv.Name, ErrAlreadyConnected)
	}
	c.connecting[srv.Name] = conn
	c.mu.Unlock()

	err := c.setup(ctx, conn, srv)

	c.mu.Lock()
	delete(c.connecting, srv.Name)
	if err == nil && c.closed {
		err = ErrClientClosed
	}
	if err == nil {
		c.conns[srv.Name] = conn
	} else {
		c.registry.Remove(srv.Name)
	}
	c.mu.Unlock()

	if err != nil {
		conn.release()
		conn.setState(events.StateFailed, err)
		log.Warnf("connect failed: %v", err)
		return err
	}

	conn.setState(events.StateReady, nil)
	go c.monitor(conn)
	log.Infof("connected: %d tool(s)", conn.status().ToolCount)
	return nil
}

// setup runs Spawning, Handshaking and Discovering for conn.
func (c *Client) setup(ctx context.Context, conn *connection, srv config.Server) error {
	t := c.opts.Timeouts

	conn.setState(events.StateSpawning, nil)
	h, err := c.supervisor.Spawn(ctx, process.SpecFromServer(srv))
	if err != nil {
		return err
	}

	tr := mcp.NewStdioTransport(h.Stdin(), h.Stdout(), conn.log)
	corr := mcp.NewCorrelator(tr, conn.log, mcp.CorrelatorOptions{
		RequestTimeout:         t.Request.Std(),
		MaxConsecutiveTimeouts: t.MaxConsecutiveTimeouts,
		OnNotification:         c.notificationHandler(srv.Name),
	})
	sess := mcp.NewSession(srv.Name, corr)
	conn.attach(h, tr, sess)
	conn.startReadLoop(corr)
	if conn.closing() {
		return ErrClientClosed
	}

	conn.setState(events.StateHandshaking, nil)
	if err := sess.Initialize(ctx, c.opts.ClientInfo); err != nil {
		return err
	}
	if conn.closing() {
		return ErrClientClosed
	}

	conn.setState(events.StateDiscovering, nil)
	return c.discover(ctx, conn)
}

// discover lists the tools of conn and replaces its registry entries.
func (c *Client) discover(ctx context.Context, conn *connection) error {
	_, _, sess := conn.parts()
	tools, err := sess.ListTools(ctx)
	if err != nil {
		return err
	}

	descs := make([]mcp.ToolDescriptor, 0, len(tools))
	evTools := make([]events.Tool, 0, len(tools))
	for _, t := range tools {
		descs = append(descs, mcp.NewToolDescriptor(conn.name, t))
		evTools = append(evTools, events.Tool{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}
	// Registry entries change only under c.mu, so a connection removed while
	// tools/list was in flight cannot bring its tools back.
	c.mu.Lock()
	current := !c.closed && (c.conns[conn.name] == conn || c.connecting[conn.name] == conn)
	if current {
		err = c.registry.Populate(conn.name, descs)
	}
	c.mu.Unlock()
	if !current {
		if conn.closing() {
			return ErrClientClosed
		}
		return fmt.Errorf("%s: %w", conn.name, mcp.ErrNotConnected)
	}
	if err != nil {
		return &mcp.DiscoveryError{Server: conn.name, Err: err}
	}

	conn.mu.Lock()
	conn.toolCount = len(descs)
	conn.mu.Unlock()

	if c.bus != nil {
		c.bus.Publish(events.NewToolsUpdatedEvent(conn.name, evTools))
	}
	return nil
}

// monitor tears a Ready connection down when its process dies or its read
// loop fails.
func (c *Client) monitor(conn *connection) {
	h, _, sess := conn.parts()
	var cause error
	select {
	case <-h.Done():
		cause = fmt.Errorf("process exited with code %d", h.ExitCode())
	case <-sess.Correlator().Done():
		cause = sess.Correlator().Err()
	}

	if conn.getState() != events.StateReady {
		return
	}

	c.mu.Lock()
	if c.conns[conn.name] == conn {
		delete(c.conns, conn.name)
		c.registry.Remove(conn.name)
	}
	c.mu.Unlock()

	conn.log.Warnf("connection lost: %v", cause)
	if conn.setState(events.StateFailed, cause) && c.bus != nil {
		c.bus.Publish(events.NewErrorEvent(conn.name, cause, "connection lost"))
	}
	conn.release()
}

func (c *Client) notificationHandler(server string) mcp.NotificationHandler {
	return func(msg mcp.Message) {
		if c.bus != nil {
			c.bus.Publish(events.NewNotificationEvent(server, msg.Method, msg.Params))
		}
		if c.opts.OnNotification != nil {
			c.opts.OnNotification(server, msg)
		}
		if msg.Method == "notifications/tools/list_changed" {
			c.refreshAsync(server)
			return
		}
		c.log.Debugf("notification from %s: %s", server, msg.Method)
	}
}

// refreshAsync rediscovers a server's tools off the read loop.
func (c *Client) refreshAsync(server string) {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return
	}

	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.Timeouts.Request.Std())
		defer cancel()
		if err := c.RefreshTools(ctx, server); err != nil && !errors.Is(err, mcp.ErrNotConnected) {
			c.log.Warnf("refresh tools for %s: %v", server, err)
		}
	}()
}

// RefreshTools re-runs tools/list on a Ready server and replaces its entries.
func (c *Client) RefreshTools(ctx context.Context, server string) error {
	conn, err := c.ready(server)
	if err != nil {
		return err
	}
	return c.discover(ctx, conn)
}

// ConnectAll connects servers in parallel. Disabled servers are skipped. The
// result holds one error per server that failed; the rest stay connected.
func (c *Client) ConnectAll(ctx context.Context, servers []config.Server) map[string]error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs = make(map[string]error)
	)
	g.SetLimit(MaxConcurrentConnects)

	for _, srv := range servers {
		if !srv.IsEnabled() {
			continue
		}
		g.Go(func() error {
			if err := c.ConnectServer(ctx, srv); err != nil {
				mu.Lock()
				errs[srv.Name] = err
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

func (c *Client) ready(server string) (*connection, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, ErrClientClosed
	}
	conn, ok := c.conns[server]
	if !ok || conn.getState() != events.StateReady {
		return nil, fmt.Errorf("%s: %w", server, mcp.ErrNotConnected)
	}
	return conn, nil
}

// CallTool invokes tool on server and returns its text result.
func (c *Client) CallTool(ctx context.Context, server, tool string, args map[string]any) (string, error) {
	conn, err := c.ready(server)
	if err != nil {
		return "", err
	}
	conn.log.Debugf("calling tool %s", tool)
	_, _, sess := conn.parts()
	return sess.CallTool(ctx, tool, args)
}

// CallQualified invokes a tool by its "server.tool" name.
func (c *Client) CallQualified(ctx context.Context, qualified string, args map[string]any) (string, error) {
	d, err := c.registry.Lookup(qualified)
	if err != nil {
		return "", err
	}
	return c.CallTool(ctx, d.Server, d.Name, args)
}

// ListTools returns every discovered tool.
func (c *Client) ListTools() []mcp.ToolDescriptor {
	return c.registry.All()
}

// Lookup finds a tool by its qualified name.
func (c *Client) Lookup(qualified string) (mcp.ToolDescriptor, error) {
	return c.registry.Lookup(qualified)
}

// State returns the state of a named connection.
func (c *Client) State(name string) events.ConnState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if conn, ok := c.conns[name]; ok {
		return conn.getState()
	}
	if conn, ok := c.connecting[name]; ok {
		return conn.getState()
	}
	return events.StateDisconnected
}

// Servers returns a status snapshot of every connection, sorted by name.
func (c *Client) Servers() []events.ServerStatus {
	c.mu.RLock()
	out := make([]events.ServerStatus, 0, len(c.conns)+len(c.connecting))
	for _, conn := range c.conns {
		out = append(out, conn.status())
	}
	for _, conn := range c.connecting {
		out = append(out, conn.status())
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Disconnect closes one connection.
func (c *Client) Disconnect(ctx context.Context, name string) error {
	c.mu.Lock()
	conn, ok := c.conns[name]
	if ok {
		delete(c.conns, name)
		c.registry.Remove(name)
	}
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s: %w", name, mcp.ErrNotConnected)
	}

	c.closeConn(ctx, conn)
	return nil
}

func (c *Client) closeConn(ctx context.Context, conn *connection) {
	if !conn.beginClosing() {
		conn.release()
		return
	}
	conn.shutdown(ctx, c.opts.Timeouts.ShutdownGrace.Std())
}

// Close shuts every connection down in parallel, whatever its state. It
// never fails; per-connection problems are logged. Calling it again is a
// no-op.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conns := make([]*connection, 0, len(c.conns)+len(c.connecting))
	for _, conn := range c.conns {
		conns = append(conns, conn)
	}
	for _, conn := range c.connecting {
		conns = append(conns, conn)
	}
	c.conns = make(map[string]*connection)
	c.mu.Unlock()

	start := time.Now()
	var g errgroup.Group
	for _, conn := range conns {
		g.Go(func() error {
			c.closeConn(ctx, conn)
			return nil
		})
	}
	_ = g.Wait()

	c.bg.Wait()
	c.supervisor.TerminateAll()
	c.mu.Lock()
	c.registry.Clear()
	c.mu.Unlock()

	c.log.Infof("closed %d connection(s) in %v", len(conns), time.Since(start).Round(time.Millisecond))
	return nil
}
