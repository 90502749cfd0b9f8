package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Bigsy/mcpconn/internal/config"
	"github.com/Bigsy/mcpconn/internal/mcptest"
	"github.com/Bigsy/mcpconn/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// TestHelperProcess runs the fake MCP server when the test binary is re-executed.
func TestHelperProcess(t *testing.T) {
	mcptest.RunHelperProcess(t)
}

// writeConfig saves a config holding servers to a temp file and returns its path.
func writeConfig(t *testing.T, servers ...config.Server) string {
	t.Helper()
	cfg := config.NewConfig()
	cfg.Timeouts.StartupGrace = config.Duration(100 * time.Millisecond)
	cfg.Timeouts.Terminate = config.Duration(500 * time.Millisecond)
	cfg.Timeouts.ShutdownGrace = config.Duration(20 * time.Millisecond)
	for _, s := range servers {
		cfg.Servers[s.Name] = s
	}

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, config.SaveTo(cfg, path))
	return path
}

// runCLI executes the root command in-process with the given args.
// Returns stdout, stderr, and any error.
func runCLI(t *testing.T, configFile string, args ...string) (string, string, error) {
	t.Helper()

	// Flag variables persist between executions.
	configPath, logLevel, debugWire = "", "warn", false
	toolsJSON, serversJSON, callArgs = false, false, "{}"

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(append([]string{"--config", configFile, "--log-level", "off"}, args...))
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	err := rootCmd.Execute()
	return testutil.StripANSI(stdout.String()), testutil.StripANSI(stderr.String()), err
}

func TestServersCmd_Table(t *testing.T) {
	path := writeConfig(t,
		config.Server{Name: "calculator", Command: "python3", Args: []string{"calculator_server.py"}},
		config.Server{Name: "filesystem", Command: "python3", Args: []string{"file_server.py"}, Disabled: true},
	)

	stdout, _, err := runCLI(t, path, "servers")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "NAME")
	assert.Contains(t, lines[1], "calculator")
	assert.Contains(t, lines[1], "python3 calculator_server.py")
	assert.True(t, strings.HasSuffix(lines[1], "yes"))
	assert.True(t, strings.HasSuffix(lines[2], "no"))
}

func TestServersCmd_Empty(t *testing.T) {
	stdout, _, err := runCLI(t, writeConfig(t), "servers")
	require.NoError(t, err)
	assert.Equal(t, "No servers configured\n", stdout)
}

func TestServersCmd_JSON(t *testing.T) {
	path := writeConfig(t, config.Server{Name: "calculator", Command: "python3"})

	stdout, _, err := runCLI(t, path, "servers", "--json")
	require.NoError(t, err)

	var views []map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &views))
	require.Len(t, views, 1)
	assert.Equal(t, "calculator", views[0]["name"])
	assert.Equal(t, true, views[0]["enabled"])
}

func TestToolsCmd_Summary(t *testing.T) {
	path := writeConfig(t,
		mcptest.ServerConfig(t, "calc", mcptest.CalculatorConfig()),
		mcptest.ServerConfig(t, "broken", mcptest.ExitImmediatelyConfig(2, "missing dependency")),
	)

	stdout, stderr, err := runCLI(t, path, "tools")
	require.NoError(t, err)

	assert.Contains(t, stdout, "Available tools (via JSON-RPC):")
	assert.Contains(t, stdout, "- calc.add: Add two numbers")
	assert.Contains(t, stdout, "  Parameters: a, b")
	assert.Contains(t, stdout, "tokens)")
	assert.Contains(t, stderr, "broken")
	assert.Contains(t, stderr, "missing dependency")
}

func TestToolsCmd_JSON(t *testing.T) {
	path := writeConfig(t, mcptest.ServerConfig(t, "calc", mcptest.CalculatorConfig()))

	stdout, _, err := runCLI(t, path, "tools", "--json")
	require.NoError(t, err)

	var views []toolView
	require.NoError(t, json.Unmarshal([]byte(stdout), &views))
	require.Len(t, views, 2)
	assert.Equal(t, "calc.add", views[0].Name)
	assert.Equal(t, "calc", views[0].Server)
	assert.Equal(t, "add", views[0].Tool)
	assert.NotNil(t, views[0].InputSchema)
}

func TestToolsCmd_NoServers(t *testing.T) {
	stdout, _, err := runCLI(t, writeConfig(t), "tools")
	require.NoError(t, err)
	assert.Contains(t, stdout, "No tools available.")
}

func TestCallCmd(t *testing.T) {
	path := writeConfig(t, mcptest.ServerConfig(t, "calc", mcptest.CalculatorConfig()))

	stdout, _, err := runCLI(t, path, "call", "calc.add", "--args", `{"a": 2, "b": 3}`)
	require.NoError(t, err)
	assert.Equal(t, "5\n", stdout)
}

func TestCallCmd_ToolError(t *testing.T) {
	path := writeConfig(t, mcptest.ServerConfig(t, "tools", mcptest.ToolErrorConfig("explode", "boom")))

	_, _, err := runCLI(t, path, "call", "tools.explode")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestCallCmd_BadInput(t *testing.T) {
	path := writeConfig(t, mcptest.ServerConfig(t, "calc", mcptest.CalculatorConfig()))

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"unqualified name", []string{"call", "add"}, "expected server.tool"},
		{"unknown server", []string{"call", "ghost.add"}, `server "ghost" not found`},
		{"bad args", []string{"call", "calc.add", "--args", "{nope"}, "invalid --args"},
		{"unknown tool", []string{"call", "calc.subtract"}, "tool not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := runCLI(t, path, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestWatcher_ReconnectSwapsServers(t *testing.T) {
	first, err := config.LoadFrom(writeConfig(t,
		mcptest.ServerConfig(t, "calc", mcptest.CalculatorConfig()),
		mcptest.ServerConfig(t, "broken", mcptest.ExitImmediatelyConfig(1, "nope")),
	))
	require.NoError(t, err)
	second, err := config.LoadFrom(writeConfig(t, mcptest.ServerConfig(t, "fs", mcptest.FilesystemConfig("x"))))
	require.NoError(t, err)

	var out bytes.Buffer
	w := &watcher{out: &out, log: nil}
	defer w.close()

	w.connect(t.Context(), first)
	got := testutil.StripANSI(out.String())
	assert.Regexp(t, `READY\s+calc`, got)
	assert.Regexp(t, `FAILED\s+broken`, got)

	out.Reset()
	w.connect(t.Context(), second)
	got = testutil.StripANSI(out.String())
	assert.Regexp(t, `READY\s+fs`, got)
	assert.NotContains(t, got, "calc")
}
