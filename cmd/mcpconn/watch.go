package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Bigsy/mcpconn/internal/client"
	"github.com/Bigsy/mcpconn/internal/config"
	"github.com/Bigsy/mcpconn/internal/events"
	"github.com/Bigsy/mcpconn/internal/theme"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep servers connected and reconnect when the config changes",
	Long: `Connect every enabled server and keep the connections open. When the config
file changes, all connections are closed and the new server list is connected.

Runs until interrupted (Ctrl-C) or terminated.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

// watcher owns the current client and swaps it on reload.
type watcher struct {
	out io.Writer
	log *zap.SugaredLogger

	mu      sync.Mutex
	client  *client.Client
	cleanup func()
}

func (w *watcher) connect(ctx context.Context, cfg *config.Config) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cleanup != nil {
		w.cleanup()
	}
	w.client, w.cleanup = newClient(cfg, w.log)
	errs := w.client.ConnectAll(ctx, cfg.EnabledServers())
	printStatus(w.out, w.client, errs)
}

func (w *watcher) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cleanup != nil {
		w.cleanup()
		w.cleanup = nil
	}
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, path, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			log.Infof("received signal %v, shutting down", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	w := &watcher{out: cmd.OutOrStdout(), log: log}
	defer w.close()
	w.connect(ctx, cfg)

	return config.Watch(ctx, path, config.DefaultDebounce, log, func(newCfg *config.Config) {
		if ctx.Err() != nil {
			return
		}
		fmt.Fprintln(w.out, theme.New().Muted.Render("config changed, reconnecting"))
		w.connect(ctx, newCfg)
	})
}

// printStatus writes one line per connection plus one per failed server.
func printStatus(out io.Writer, c *client.Client, errs map[string]error) {
	th := theme.New()
	for _, s := range c.Servers() {
		fmt.Fprintf(out, "%s %s %s\n", th.StatusPill(s.State), s.Name,
			th.Muted.Render(fmt.Sprintf("pid=%d tools=%d", s.PID, s.ToolCount)))
	}
	for _, name := range sortedKeys(errs) {
		fmt.Fprintf(out, "%s %s %s\n", th.StatusPill(events.StateFailed), name, th.Danger.Render(errs[name].Error()))
	}
}
