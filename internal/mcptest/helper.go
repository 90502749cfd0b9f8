// Package mcptest provides test infrastructure for MCP client testing.
package mcptest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"testing"
	"time"

	"github.com/Bigsy/mcpconn/internal/config"
	"github.com/Bigsy/mcpconn/internal/mcptest/fakeserver"
)

// FakeServerConfig is an alias for fakeserver.Config for convenience.
type FakeServerConfig = fakeserver.Config

// Tool is an alias for fakeserver.Tool for convenience.
type Tool = fakeserver.Tool

// JSONRPCError is an alias for fakeserver.JSONRPCError for convenience.
type JSONRPCError = fakeserver.JSONRPCError

// ContentBlock is an alias for fakeserver.ContentBlock for convenience.
type ContentBlock = fakeserver.ContentBlock

const (
	helperEnv    = "GO_WANT_HELPER_PROCESS"
	helperCfgEnv = "FAKE_MCP_CFG"
)

// ServerConfig returns a config.Server that re-execs the test binary as a fake
// MCP server. The calling package must define a TestHelperProcess that calls
// RunHelperProcess.
func ServerConfig(t *testing.T, name string, cfg FakeServerConfig) config.Server {
	t.Helper()

	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal fake server config: %v", err)
	}

	return config.Server{
		Name:    name,
		Command: os.Args[0],
		Args:    []string{"-test.run=TestHelperProcess", "--"},
		Env: map[string]string{
			helperEnv:    "1",
			helperCfgEnv: string(cfgJSON),
		},
	}
}

// StartFakeServer spawns a fake MCP server as a subprocess using the test helper pattern.
// Returns stdin (write to server), stdout (read from server), and a stop function.
// The stop function is also registered as a t.Cleanup.
func StartFakeServer(t *testing.T, cfg FakeServerConfig) (stdin io.WriteCloser, stdout io.ReadCloser, stop func()) {
	t.Helper()

	srv := ServerConfig(t, "fake", cfg)
	cmd := exec.Command(srv.Command, srv.Args...)
	cmd.Env = os.Environ()
	for k, v := range srv.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		t.Fatalf("stdin pipe: %v", err)
	}

	stdout, err = cmd.StdoutPipe()
	if err != nil {
		t.Fatalf("stdout pipe: %v", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		t.Fatalf("stderr pipe: %v", err)
	}

	if err := cmd.Start(); err != nil {
		t.Fatalf("start fake server: %v", err)
	}

	// Drain stderr to prevent deadlock
	go io.Copy(io.Discard, stderr)

	stop = func() {
		// Close stdin to signal graceful shutdown
		_ = stdin.Close()

		done := make(chan error, 1)
		go func() { done <- cmd.Wait() }()

		select {
		case <-time.After(2 * time.Second):
			// Force kill if it doesn't exit gracefully
			_ = cmd.Process.Kill()
			<-done
		case <-done:
			// Process exited
		}
	}

	t.Cleanup(stop)
	return stdin, stdout, stop
}

// Pipe runs fakeserver.Serve in-process and returns the client's ends of the
// connection. Closing clientIn ends the server loop.
func Pipe(t *testing.T, cfg FakeServerConfig) (clientIn io.WriteCloser, clientOut io.ReadCloser, done <-chan error) {
	t.Helper()

	// Client writes to serverIn, server reads from serverIn
	serverIn, clientWriter := io.Pipe()
	// Server writes to clientOut, client reads from clientOut
	clientReader, serverOut := io.Pipe()

	ch := make(chan error, 1)
	go func() {
		err := fakeserver.Serve(context.Background(), serverIn, serverOut, cfg)
		serverOut.Close()
		serverIn.Close()
		ch <- err
	}()

	t.Cleanup(func() {
		clientWriter.Close()
		clientReader.Close()
	})
	return clientWriter, clientReader, ch
}

// RunHelperProcess implements the fake MCP server when invoked as a subprocess.
// Other packages call this from their own TestHelperProcess:
//
//	func TestHelperProcess(t *testing.T) {
//	    mcptest.RunHelperProcess(t)
//	}
//
// The test re-exec pattern uses os.Args[0] with -test.run=TestHelperProcess to
// spawn the fake server process. This allows integration tests to run real subprocess
// communication without external dependencies.
func RunHelperProcess(t *testing.T) {
	if os.Getenv(helperEnv) != "1" {
		return
	}

	cfgJSON := os.Getenv(helperCfgEnv)
	if cfgJSON == "" {
		os.Exit(2)
	}

	var cfg fakeserver.Config
	if err := json.Unmarshal([]byte(cfgJSON), &cfg); err != nil {
		os.Exit(2)
	}

	if cfg.IgnoreSIGTERM {
		signal.Ignore(syscall.SIGTERM)
	}
	if cfg.StderrMessage != "" {
		fmt.Fprintln(os.Stderr, cfg.StderrMessage)
	}
	if cfg.ExitImmediately {
		os.Exit(cfg.ExitCode)
	}

	err := fakeserver.Serve(context.Background(), os.Stdin, os.Stdout, cfg)
	if cfg.HangOnExit {
		time.Sleep(time.Hour)
	}
	if err != nil {
		os.Exit(1)
	}
	os.Exit(0)
}
