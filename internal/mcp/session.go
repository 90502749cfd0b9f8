package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Result texts for tool calls that return no usable text.
const (
	EmptyResultText  = "(empty response)"
	NoTextResultText = "(no text result)"
)

// Session drives the MCP exchanges of one connection over a Correlator.
type Session struct {
	server string
	c      *Correlator

	serverName    string
	serverVersion string
}

// NewSession creates a session for the named server.
func NewSession(server string, c *Correlator) *Session {
	return &Session{server: server, c: c}
}

// Correlator returns the session's correlator.
func (s *Session) Correlator() *Correlator {
	return s.c
}

// initializeParams is the params for the initialize request.
type initializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      ClientInfo     `json:"clientInfo"`
}

// initializeResult is the result of the initialize request.
type initializeResult struct {
	ProtocolVersion string     `json:"protocolVersion"`
	Capabilities    any        `json:"capabilities"`
	ServerInfo      serverInfo `json:"serverInfo"`
}

type serverInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// toolsListResult is the result of tools/list.
type toolsListResult struct {
	Tools *[]Tool `json:"tools"`
}

// toolCallParams is the params for tools/call.
type toolCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// toolCallResult is the result of tools/call.
type toolCallResult struct {
	Content []json.RawMessage `json:"content"`
	IsError bool              `json:"isError,omitempty"`
}

type textBlock struct {
	Text *string `json:"text"`
}

// Initialize performs the initialize request and, once it succeeds, sends
// notifications/initialized. Failures are *HandshakeError.
func (s *Session) Initialize(ctx context.Context, info ClientInfo) error {
	params := initializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities: map[string]any{
			"tools":     map[string]any{},
			"resources": map[string]any{},
			"prompts":   map[string]any{},
		},
		ClientInfo: info,
	}

	resp, err := s.c.Call(ctx, "initialize", params)
	if err != nil {
		return &HandshakeError{Server: s.server, Err: err}
	}
	if resp.Error != nil {
		return &HandshakeError{Server: s.server, Err: resp.Error}
	}
	if !resp.HasResult() {
		return &HandshakeError{Server: s.server, Err: &ProtocolError{Detail: "initialize reply has no result"}}
	}

	var result initializeResult
	if err := json.Unmarshal(resp.Result, &result); err == nil {
		s.serverName = result.ServerInfo.Name
		s.serverVersion = result.ServerInfo.Version
	}

	if err := s.c.Notify(ctx, "notifications/initialized", map[string]any{}); err != nil {
		return &HandshakeError{Server: s.server, Err: err}
	}
	return nil
}

// ServerInfo returns information about the connected server.
func (s *Session) ServerInfo() (name, version string) {
	return s.serverName, s.serverVersion
}

// ListTools requests the server's tool list. Failures are *DiscoveryError.
func (s *Session) ListTools(ctx context.Context) ([]Tool, error) {
	resp, err := s.c.Call(ctx, "tools/list", map[string]any{})
	if err != nil {
		return nil, &DiscoveryError{Server: s.server, Err: err}
	}
	if resp.Error != nil {
		return nil, &DiscoveryError{Server: s.server, Err: resp.Error}
	}
	if !resp.HasResult() {
		return nil, &DiscoveryError{Server: s.server, Err: &ProtocolError{Detail: "tools/list reply has no result"}}
	}

	var result toolsListResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, &DiscoveryError{Server: s.server, Err: &ProtocolError{Detail: "tools/list result: " + err.Error(), Line: string(resp.Result)}}
	}
	if result.Tools == nil {
		return nil, &DiscoveryError{Server: s.server, Err: &ProtocolError{Detail: "tools/list result has no tools array", Line: string(resp.Result)}}
	}
	return *result.Tools, nil
}

// CallTool invokes tool and returns the text of the first content block.
// A JSON-RPC error or an isError result is a *ToolInvocationError.
func (s *Session) CallTool(ctx context.Context, tool string, args map[string]any) (string, error) {
	if args == nil {
		args = map[string]any{}
	}
	resp, err := s.c.Call(ctx, "tools/call", toolCallParams{Name: tool, Arguments: args})
	if err != nil {
		return "", fmt.Errorf("call %s.%s: %w", s.server, tool, err)
	}
	if resp.Error != nil {
		return "", &ToolInvocationError{Server: s.server, Tool: tool, Code: resp.Error.Code, Message: resp.Error.Message}
	}
	if !resp.HasResult() {
		return "", &ProtocolError{Detail: fmt.Sprintf("tools/call reply for %s.%s has neither result nor error", s.server, tool)}
	}

	var result toolCallResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return "", &ProtocolError{Detail: "tools/call result: " + err.Error(), Line: string(resp.Result)}
	}

	text := firstText(result.Content)
	if result.IsError {
		return "", &ToolInvocationError{Server: s.server, Tool: tool, Message: allText(result.Content, text)}
	}
	return text, nil
}

func firstText(content []json.RawMessage) string {
	if len(content) == 0 {
		return EmptyResultText
	}
	var block textBlock
	if err := json.Unmarshal(content[0], &block); err != nil || block.Text == nil {
		return NoTextResultText
	}
	return *block.Text
}

// allText joins every text block; fallback is used when there is none.
func allText(content []json.RawMessage, fallback string) string {
	var parts []string
	for _, raw := range content {
		var block textBlock
		if err := json.Unmarshal(raw, &block); err == nil && block.Text != nil {
			parts = append(parts, *block.Text)
		}
	}
	if len(parts) == 0 {
		return fallback
	}
	return strings.Join(parts, "\n")
}

// Shutdown sends notifications/shutdown. No reply is expected.
func (s *Session) Shutdown(ctx context.Context) error {
	return s.c.Notify(ctx, "notifications/shutdown", map[string]any{})
}
