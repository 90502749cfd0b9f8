package mcptest

import (
	"encoding/json"
	"time"
)

// Common test configurations for fake MCP servers.

// DefaultConfig returns a minimal working fake server configuration.
func DefaultConfig() FakeServerConfig {
	return FakeServerConfig{
		Tools: []Tool{
			{Name: "read_file", Description: "Read a file from disk"},
			{Name: "write_file", Description: "Write content to a file"},
		},
	}
}

// EmptyToolsConfig returns a config with no tools.
func EmptyToolsConfig() FakeServerConfig {
	return FakeServerConfig{
		Tools: []Tool{},
	}
}

// numberSchema is an input schema with two numeric properties a and b.
var numberSchema = json.RawMessage(`{"type":"object","properties":{"a":{"type":"number"},"b":{"type":"number"}},"required":["a","b"]}`)

// CalculatorConfig returns a server exposing add and multiply over arguments a and b.
func CalculatorConfig() FakeServerConfig {
	return FakeServerConfig{
		Tools: []Tool{
			{Name: "add", Description: "Add two numbers", InputSchema: numberSchema},
			{Name: "multiply", Description: "Multiply two numbers", InputSchema: numberSchema},
		},
		Calculator: true,
	}
}

// ContactsConfig returns a server whose create_contact tool declares its
// parameters out of alphabetical order.
func ContactsConfig() FakeServerConfig {
	return FakeServerConfig{
		Tools: []Tool{
			{Name: "create_contact", Description: "Create a contact",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"first_name":{"type":"string"},"last_name":{"type":"string"},"email":{"type":"string"},"role":{"type":"string"}}}`)},
		},
	}
}

// FilesystemConfig returns a server exposing read_file with a fixed result.
func FilesystemConfig(contents string) FakeServerConfig {
	return FakeServerConfig{
		Tools: []Tool{
			{Name: "read_file", Description: "Read a file from disk",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}}}`)},
		},
		ToolResults: map[string]string{"read_file": contents},
	}
}

// ToolErrorConfig returns a server whose tool reports a tool-level error.
func ToolErrorConfig(tool, message string) FakeServerConfig {
	return FakeServerConfig{
		Tools:      []Tool{{Name: tool}},
		ToolErrors: map[string]string{tool: message},
	}
}

// ToolContentConfig returns a server whose tool answers with the given content blocks.
func ToolContentConfig(tool string, content []ContentBlock) FakeServerConfig {
	return FakeServerConfig{
		Tools:       []Tool{{Name: tool}},
		ToolContent: map[string][]ContentBlock{tool: content},
	}
}

// SlowInitConfig returns a config that delays the initialize response.
func SlowInitConfig(delay time.Duration) FakeServerConfig {
	return FakeServerConfig{
		Tools: []Tool{{Name: "test_tool"}},
		Delays: map[string]time.Duration{
			"initialize": delay,
		},
	}
}

// SlowToolsListConfig returns a config that delays the tools/list response.
func SlowToolsListConfig(delay time.Duration) FakeServerConfig {
	return FakeServerConfig{
		Tools: []Tool{{Name: "test_tool"}},
		Delays: map[string]time.Duration{
			"tools/list": delay,
		},
	}
}

// SilentMethodConfig returns a config that never answers method.
func SilentMethodConfig(method string) FakeServerConfig {
	cfg := CalculatorConfig()
	cfg.IgnoreMethods = []string{method}
	return cfg
}

// CrashOnInitConfig returns a config that crashes on initialize.
func CrashOnInitConfig(exitCode int) FakeServerConfig {
	return FakeServerConfig{
		CrashOnMethod: "initialize",
		CrashExitCode: exitCode,
	}
}

// CrashOnNthRequestConfig returns a config that crashes on the Nth request.
func CrashOnNthRequestConfig(n, exitCode int) FakeServerConfig {
	return FakeServerConfig{
		Tools:             []Tool{{Name: "test_tool"}},
		CrashOnNthRequest: n,
		CrashExitCode:     exitCode,
	}
}

// ExitImmediatelyConfig returns a config that writes stderr and exits before serving.
func ExitImmediatelyConfig(exitCode int, stderr string) FakeServerConfig {
	return FakeServerConfig{
		ExitImmediately: true,
		ExitCode:        exitCode,
		StderrMessage:   stderr,
	}
}

// StubbornConfig returns a config whose process ignores SIGTERM and stays
// alive after its input ends, forcing a kill.
func StubbornConfig() FakeServerConfig {
	cfg := DefaultConfig()
	cfg.IgnoreSIGTERM = true
	cfg.HangOnExit = true
	return cfg
}

// ErrorOnInitConfig returns a config that returns an error on initialize.
func ErrorOnInitConfig(code int, message string) FakeServerConfig {
	return FakeServerConfig{
		Errors: map[string]JSONRPCError{
			"initialize": {Code: code, Message: message},
		},
	}
}

// ErrorOnMethodConfig returns a calculator that answers method with a JSON-RPC error.
func ErrorOnMethodConfig(method string, code int, message string) FakeServerConfig {
	cfg := CalculatorConfig()
	cfg.Errors = map[string]JSONRPCError{method: {Code: code, Message: message}}
	return cfg
}

// NotificationBeforeResponseConfig returns a config that sends a notification before each response.
// Tests that clients properly skip notifications when waiting for responses.
func NotificationBeforeResponseConfig() FakeServerConfig {
	cfg := CalculatorConfig()
	cfg.SendNotificationBeforeResponse = true
	return cfg
}

// MismatchedIDConfig returns a config that sends a response with wrong ID before the correct one.
// Tests that clients properly match response IDs.
func MismatchedIDConfig() FakeServerConfig {
	cfg := CalculatorConfig()
	cfg.SendMismatchedIDFirst = true
	return cfg
}

// ServerRequestConfig returns a config that sends a server-to-client request before each response.
func ServerRequestConfig() FakeServerConfig {
	cfg := CalculatorConfig()
	cfg.SendRequestBeforeResponse = true
	return cfg
}

// ListChangedConfig returns a config that announces a tool list change after the handshake.
func ListChangedConfig() FakeServerConfig {
	cfg := CalculatorConfig()
	cfg.NotifyAfterInitialized = []string{"notifications/tools/list_changed"}
	return cfg
}

// MalformedResponseConfig returns a config that sends invalid JSON.
func MalformedResponseConfig() FakeServerConfig {
	return FakeServerConfig{
		Malformed: true,
	}
}

// EchoToolsConfig returns a config that echoes tool calls back as text.
// Useful for testing tool call routing.
func EchoToolsConfig() FakeServerConfig {
	return FakeServerConfig{
		Tools: []Tool{
			{Name: "echo", Description: "Echo the input back"},
			{Name: "greet", Description: "Return a greeting"},
		},
		EchoToolCalls: true,
	}
}
