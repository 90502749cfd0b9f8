// Package mcp implements the client side of MCP over stdio: message framing,
// request/response correlation, tool discovery and the tool registry.
package mcp

import (
	"context"
	"encoding/json"
)

// ProtocolVersion is the MCP protocol version sent in initialize.
const ProtocolVersion = "2024-11-05"

// Transport is the interface for MCP transports.
type Transport interface {
	// Send writes one message and returns once it is flushed.
	Send(ctx context.Context, msg Message) error
	// Receive reads the next message.
	Receive(ctx context.Context) (Message, error)
	// Close closes the transport.
	Close() error
}

// Tool is a tool definition as listed by a server.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ClientInfo identifies this client in the initialize request.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}
