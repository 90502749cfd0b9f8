package main

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/Bigsy/mcpconn/internal/theme"
)

var toolsJSON bool

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Connect all enabled servers and list their tools",
	Long: `Connect every enabled server, print the discovered tools and disconnect.

Servers that fail to connect are reported on stderr; the rest are listed.

Examples:
  mcpconn tools
  mcpconn tools --json`,
	Args: cobra.NoArgs,
	RunE: runTools,
}

func init() {
	toolsCmd.Flags().BoolVar(&toolsJSON, "json", false, "Output as JSON")
	rootCmd.AddCommand(toolsCmd)
}

type toolView struct {
	Name        string         `json:"name"`
	Server      string         `json:"server"`
	Tool        string         `json:"tool"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

func runTools(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	c, cleanup := newClient(cfg, log)
	defer cleanup()

	errs := c.ConnectAll(cmd.Context(), cfg.EnabledServers())
	reportConnectErrors(cmd, errs)

	if toolsJSON {
		tools := c.ListTools()
		views := make([]toolView, len(tools))
		for i, t := range tools {
			views[i] = toolView{
				Name:        t.QualifiedName,
				Server:      t.Server,
				Tool:        t.Name,
				Description: t.Description,
				InputSchema: t.InputSchema,
			}
		}
		data, err := json.MarshalIndent(views, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}

	th := theme.New()
	fmt.Fprint(cmd.OutOrStdout(), th.Summary(c.ToolsSummary()))
	fmt.Fprintln(cmd.OutOrStdout(), th.Muted.Render(fmt.Sprintf("(%d tokens)", c.SummaryTokens())))
	return nil
}

// reportConnectErrors prints one line per failed server to stderr, sorted by name.
func reportConnectErrors(cmd *cobra.Command, errs map[string]error) {
	th := theme.New()
	for _, name := range sortedKeys(errs) {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s %s: %v\n", th.Danger.Render("✖"), name, errs[name])
	}
}

func sortedKeys(errs map[string]error) []string {
	names := make([]string, 0, len(errs))
	for name := range errs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
