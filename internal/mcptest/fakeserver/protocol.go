// Package fakeserver provides a fake MCP tool server for testing.
package fakeserver

import (
	"encoding/json"
	"io"
	"time"
)

// Config controls the fake server's behavior.
type Config struct {
	// Tools to return from tools/list
	Tools []Tool `json:"tools"`

	// Per-method delays (simulate slow responses)
	// NOTE: Use short delays (10-50ms) in tests to avoid slow suite.
	Delays map[string]time.Duration `json:"delays"`

	// Per-method forced errors (JSON-RPC error responses)
	Errors map[string]JSONRPCError `json:"errors"`

	// Methods the server reads but never answers.
	IgnoreMethods []string `json:"ignoreMethods"`

	// Crash behavior
	CrashOnMethod     string `json:"crashOnMethod"`     // crash when this method is called
	CrashOnNthRequest int    `json:"crashOnNthRequest"` // crash on Nth request (0 = never)
	CrashExitCode     int    `json:"crashExitCode"`     // exit code when crashing

	// Startup behavior
	StderrMessage   string `json:"stderrMessage"`   // written to stderr before serving
	ExitImmediately bool   `json:"exitImmediately"` // exit with ExitCode before reading anything
	ExitCode        int    `json:"exitCode"`

	// Shutdown behavior, applied by the helper process only.
	IgnoreSIGTERM bool `json:"ignoreSigterm"`
	HangOnExit    bool `json:"hangOnExit"` // keep the process alive after the input stream ends

	// Protocol edge cases for stream realism
	// These options test that the client handles interleaved messages correctly.
	SendNotificationBeforeResponse bool     `json:"sendNotificationBeforeResponse"` // send a notification before each response
	SendMismatchedIDFirst          bool     `json:"sendMismatchedIDFirst"`          // send a response with wrong ID before correct one
	SendRequestBeforeResponse      bool     `json:"sendRequestBeforeResponse"`      // send a server-to-client request before each response
	NotifyAfterInitialized         []string `json:"notifyAfterInitialized"`         // notification methods sent once the handshake completes

	// Protocol edge cases
	Malformed bool `json:"malformed"` // write invalid JSON

	// Tool call handling
	ToolHandler   ToolHandler               `json:"-"`             // Custom handler for tools/call (not JSON-serializable)
	ToolResults   map[string]string         `json:"toolResults"`   // tool -> text result
	ToolErrors    map[string]string         `json:"toolErrors"`    // tool -> text returned with isError set
	ToolContent   map[string][]ContentBlock `json:"toolContent"`   // tool -> raw content blocks
	Calculator    bool                      `json:"calculator"`    // add/multiply compute over arguments a and b
	EchoToolCalls bool                      `json:"echoToolCalls"` // If true, tools/call returns the tool name and arguments as text
}

// Tool represents an MCP tool definition.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"` // sent as written, key order included
}

// JSONRPCError represents a JSON-RPC 2.0 error.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// rpcRequest is a JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// rpcResponse is a JSON-RPC 2.0 response.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// rpcNotification is a JSON-RPC 2.0 notification.
type rpcNotification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// rpcServerRequest is a request the server sends to the client.
type rpcServerRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
}

// InitializeResult is the result of the initialize request.
type InitializeResult struct {
	ProtocolVersion string       `json:"protocolVersion"`
	ServerInfo      ServerInfo   `json:"serverInfo"`
	Capabilities    Capabilities `json:"capabilities"`
}

// ServerInfo describes the server.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Capabilities describes server capabilities.
type Capabilities struct {
	Tools *ToolsCapability `json:"tools,omitempty"`
}

// ToolsCapability indicates the server supports tools.
type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// ToolsListResult is the result of tools/list.
type ToolsListResult struct {
	Tools []Tool `json:"tools"`
}

// ToolCallParams is the params for tools/call.
type ToolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolCallResult is the result of tools/call.
type ToolCallResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// ContentBlock represents a content block in a tool result.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	Data string `json:"data,omitempty"`
}

// ToolHandler is a function that handles a tool call.
type ToolHandler func(name string, arguments json.RawMessage) ([]ContentBlock, bool, error)

func writeLine(out io.Writer, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	out.Write(append(data, '\n'))
}

// writeNoise emits the interleaved messages configured for stream realism.
func writeNoise(out io.Writer, cfg Config, isError bool) {
	if cfg.SendNotificationBeforeResponse {
		writeLine(out, rpcNotification{JSONRPC: "2.0", Method: "test/noise"})
	}
	if cfg.SendRequestBeforeResponse {
		writeLine(out, rpcServerRequest{JSONRPC: "2.0", ID: "srv-1", Method: "sampling/createMessage"})
	}
	if cfg.SendMismatchedIDFirst {
		fake := rpcResponse{JSONRPC: "2.0", ID: json.RawMessage(`"not-a-real-id"`)}
		if isError {
			fake.Error = &JSONRPCError{Code: -1, Message: "wrong"}
		} else {
			fake.Result = json.RawMessage(`{}`)
		}
		writeLine(out, fake)
	}
}

// writeResponse writes a JSON-RPC response with NDJSON framing.
func writeResponse(out io.Writer, id json.RawMessage, result any, cfg Config) error {
	writeNoise(out, cfg, false)

	resultJSON, err := json.Marshal(result)
	if err != nil {
		return err
	}
	writeLine(out, rpcResponse{JSONRPC: "2.0", ID: id, Result: resultJSON})
	return nil
}

// writeErrorResponse writes a JSON-RPC error response with NDJSON framing.
func writeErrorResponse(out io.Writer, id json.RawMessage, rpcErr JSONRPCError, cfg Config) error {
	writeNoise(out, cfg, true)
	writeLine(out, rpcResponse{JSONRPC: "2.0", ID: id, Error: &rpcErr})
	return nil
}
