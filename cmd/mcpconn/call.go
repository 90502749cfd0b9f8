package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Bigsy/mcpconn/internal/mcp"
)

var callArgs string

var callCmd = &cobra.Command{
	Use:   "call <server.tool>",
	Short: "Call one tool and print its text result",
	Long: `Connect the named server, call one of its tools and print the text result.

Only the server that owns the tool is started.

Examples:
  mcpconn call calculator.add --args '{"a": 2, "b": 3}'
  mcpconn call filesystem.read_file --args '{"path": "notes.txt"}'`,
	Args: cobra.ExactArgs(1),
	RunE: runCall,
}

func init() {
	callCmd.Flags().StringVarP(&callArgs, "args", "a", "{}", "Tool arguments as a JSON object")
	rootCmd.AddCommand(callCmd)
}

func runCall(cmd *cobra.Command, args []string) error {
	server, tool, ok := mcp.SplitQualifiedName(args[0])
	if !ok {
		return fmt.Errorf("invalid tool name %q: expected server.tool", args[0])
	}

	var toolArgs map[string]any
	if err := json.Unmarshal([]byte(callArgs), &toolArgs); err != nil {
		return fmt.Errorf("invalid --args: %w", err)
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	srv := cfg.GetServer(server)
	if srv == nil {
		return fmt.Errorf("server %q not found in config", server)
	}

	log, err := newLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	c, cleanup := newClient(cfg, log)
	defer cleanup()

	if err := c.ConnectServer(cmd.Context(), *srv); err != nil {
		return fmt.Errorf("connect %s: %w", server, err)
	}
	if _, err := c.Lookup(args[0]); err != nil {
		return err
	}

	text, err := c.CallTool(cmd.Context(), server, tool, toolArgs)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), text)
	return nil
}
