package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Bigsy/mcpconn/internal/client"
	"github.com/Bigsy/mcpconn/internal/config"
	"github.com/Bigsy/mcpconn/internal/events"
	"github.com/Bigsy/mcpconn/internal/logging"
	"github.com/Bigsy/mcpconn/internal/mcp"
)

// Version information (set at build time via ldflags)
var (
	version = "dev"
	commit  = "unknown"
)

var (
	configPath string
	logLevel   string
	debugWire  bool
)

var rootCmd = &cobra.Command{
	Use:   "mcpconn",
	Short: "Connect to stdio MCP tool servers",
	Long: `mcpconn spawns the tool servers listed in its config, performs the MCP
handshake over their stdin/stdout and discovers the tools they expose.

Logs go to stderr; command output goes to stdout.`,
	Version: fmt.Sprintf("%s (commit: %s)", version, commit),
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		mcp.DebugLogging = debugWire
	},
}

func init() {
	// Disable automatic completion command
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	// Suppress errors from being printed twice
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (default: ~/.config/mcpconn/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "warn", "Log level (debug, info, warn, error, off)")
	rootCmd.PersistentFlags().BoolVar(&debugWire, "debug", false, "Log raw protocol messages at debug level")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// resolveConfigPath returns the --config path or the default location.
func resolveConfigPath() (string, error) {
	if configPath != "" {
		return config.ExpandPath(configPath)
	}
	return config.ConfigPath()
}

func loadConfig() (*config.Config, string, error) {
	path, err := resolveConfigPath()
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.LoadFrom(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, path, nil
}

func newLogger() (*zap.SugaredLogger, error) {
	level := logLevel
	if debugWire {
		level = "debug"
	}
	return logging.New(level)
}

// newClient builds a client for cfg with its own event bus. The returned
// cleanup closes the client and then the bus.
func newClient(cfg *config.Config, log *zap.SugaredLogger) (*client.Client, func()) {
	log = logging.OrNop(log)
	bus := events.NewBus(log)
	bus.Subscribe(func(e events.Event) {
		if l, ok := e.(events.LogReceivedEvent); ok {
			log.Debugf("[%s] %s", l.ServerName(), l.Line)
		}
	})

	opts := client.OptionsFromConfig(cfg)
	opts.Bus = bus
	opts.Log = log
	c := client.New(opts)

	return c, func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.Terminate.Std()*2)
		defer cancel()
		c.Close(ctx)
		bus.Close()
	}
}
