package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Bigsy/mcpconn/internal/config"
)

var serversJSON bool

var serversCmd = &cobra.Command{
	Use:   "servers",
	Short: "List configured servers",
	Long: `List all configured tool servers without starting them.

By default, outputs a human-readable table. Use --json for machine-readable output.

Examples:
  mcpconn servers
  mcpconn servers --json`,
	Args: cobra.NoArgs,
	RunE: runServers,
}

func init() {
	serversCmd.Flags().BoolVar(&serversJSON, "json", false, "Output as JSON")
	rootCmd.AddCommand(serversCmd)
}

func runServers(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	servers := cfg.ServerList()
	if serversJSON {
		return outputJSON(cmd.OutOrStdout(), servers)
	}
	return outputTable(cmd.OutOrStdout(), servers)
}

func outputJSON(w io.Writer, servers []config.Server) error {
	type serverView struct {
		Name    string            `json:"name"`
		Command string            `json:"command"`
		Args    []string          `json:"args,omitempty"`
		Cwd     string            `json:"cwd,omitempty"`
		Env     map[string]string `json:"env,omitempty"`
		Enabled bool              `json:"enabled"`
	}

	views := make([]serverView, len(servers))
	for i, srv := range servers {
		views[i] = serverView{
			Name:    srv.Name,
			Command: srv.Command,
			Args:    srv.Args,
			Cwd:     srv.Cwd,
			Env:     srv.Env,
			Enabled: srv.IsEnabled(),
		}
	}

	data, err := json.MarshalIndent(views, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(w, string(data))
	return nil
}

func outputTable(w io.Writer, servers []config.Server) error {
	if len(servers) == 0 {
		fmt.Fprintln(w, "No servers configured")
		return nil
	}

	nameWidth := 4 // "NAME"
	cmdWidth := 7  // "COMMAND"
	for _, srv := range servers {
		nameWidth = max(nameWidth, len(srv.Name))
		cmdWidth = max(cmdWidth, len(formatCommand(srv)))
	}
	// Cap widths for readability
	cmdWidth = min(cmdWidth, 50)

	fmt.Fprintf(w, "%-*s  %-*s  %s\n", nameWidth, "NAME", cmdWidth, "COMMAND", "ENABLED")
	for _, srv := range servers {
		cmdStr := formatCommand(srv)
		if len(cmdStr) > cmdWidth {
			cmdStr = cmdStr[:cmdWidth-3] + "..."
		}
		enabled := "yes"
		if !srv.IsEnabled() {
			enabled = "no"
		}
		fmt.Fprintf(w, "%-*s  %-*s  %s\n", nameWidth, srv.Name, cmdWidth, cmdStr, enabled)
	}
	return nil
}

func formatCommand(srv config.Server) string {
	if len(srv.Args) == 0 {
		return srv.Command
	}
	return srv.Command + " " + strings.Join(srv.Args, " ")
}
