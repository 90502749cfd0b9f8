package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
)

// JSON-RPC error codes
const (
	ErrCodeParseError     = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

var (
	// ErrNotConnected is returned for calls against a server with no ready connection.
	ErrNotConnected = errors.New("not connected")
	// ErrTimeout is returned when a reply does not arrive within the request timeout.
	ErrTimeout = errors.New("request timed out")
	// ErrToolNotFound is returned by registry lookups for unknown qualified names.
	ErrToolNotFound = errors.New("tool not found")
	// ErrEndOfStream is returned when the server closes its output.
	ErrEndOfStream = errors.New("end of stream")
	// ErrConnectionFailed is returned once the read loop has stopped or too
	// many consecutive requests timed out.
	ErrConnectionFailed = errors.New("connection failed")
	// ErrTransportClosed is returned by Send and Receive after Close.
	ErrTransportClosed = errors.New("transport closed")
)

// RPCError represents a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// NewRPCError creates a new RPC error with optional data.
func NewRPCError(code int, message string, data any) *RPCError {
	err := &RPCError{Code: code, Message: message}
	if data != nil {
		if dataBytes, jsonErr := json.Marshal(data); jsonErr == nil {
			err.Data = dataBytes
		}
	}
	return err
}

// DecodeError reports a line that is not a valid JSON-RPC message.
type DecodeError struct {
	Line string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode message %q: %v", truncate(e.Line, 200), e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ProtocolError reports a reply that is well-formed JSON but violates the
// expected message shape.
type ProtocolError struct {
	Detail string
	Line   string
}

func (e *ProtocolError) Error() string {
	if e.Line == "" {
		return "protocol error: " + e.Detail
	}
	return fmt.Sprintf("protocol error: %s: %s", e.Detail, truncate(e.Line, 200))
}

// HandshakeError reports a failed initialize exchange.
type HandshakeError struct {
	Server string
	Err    error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("handshake with %s: %v", e.Server, e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// DiscoveryError reports a failed tools/list exchange.
type DiscoveryError struct {
	Server string
	Err    error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("tool discovery on %s: %v", e.Server, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// ToolInvocationError carries an error reported by a server for a tool call,
// either as a JSON-RPC error object or as a result flagged isError.
type ToolInvocationError struct {
	Server  string
	Tool    string
	Code    int
	Message string
}

func (e *ToolInvocationError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("tool %s.%s failed (%d): %s", e.Server, e.Tool, e.Code, e.Message)
	}
	return fmt.Sprintf("tool %s.%s failed: %s", e.Server, e.Tool, e.Message)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
