package mcp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// QualifiedName joins a server and tool name as "server.tool".
func QualifiedName(server, tool string) string {
	return server + "." + tool
}

// SplitQualifiedName splits "server.tool" at the first dot. Server names
// never contain a dot, tool names may.
func SplitQualifiedName(qualified string) (server, tool string, ok bool) {
	server, tool, ok = strings.Cut(qualified, ".")
	if !ok || server == "" || tool == "" {
		return "", "", false
	}
	return server, tool, true
}

// ToolDescriptor is a discovered tool addressed by its qualified name.
type ToolDescriptor struct {
	QualifiedName string
	Server        string
	Name          string
	Description   string
	InputSchema   map[string]any
	// Parameters lists the schema's property names in declared order.
	Parameters []string
}

// NewToolDescriptor builds a descriptor from a listed tool. A schema that is
// not a JSON object is dropped.
func NewToolDescriptor(server string, t Tool) ToolDescriptor {
	d := ToolDescriptor{
		QualifiedName: QualifiedName(server, t.Name),
		Server:        server,
		Name:          t.Name,
		Description:   t.Description,
	}
	if len(t.InputSchema) > 0 {
		var schema map[string]any
		if err := json.Unmarshal(t.InputSchema, &schema); err == nil {
			d.InputSchema = schema
			d.Parameters = propertyOrder(t.InputSchema)
		}
	}
	return d
}

// ParameterNames returns the property names of the input schema in the
// order the server declared them.
func (d ToolDescriptor) ParameterNames() []string {
	return d.Parameters
}

// propertyOrder walks the "properties" object of a JSON schema and returns
// its keys as written. Maps lose that order, so the tokens are read directly.
func propertyOrder(schema json.RawMessage) []string {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(schema, &top); err != nil {
		return nil
	}
	props, ok := top["properties"]
	if !ok {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(props))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return nil
	}
	var names []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil
		}
		name, ok := tok.(string)
		if !ok {
			return nil
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil
		}
		names = append(names, name)
	}
	return names
}

// Registry holds the discovered tools of every connected server. Entries of
// one server are replaced together.
type Registry struct {
	mu      sync.RWMutex
	servers []string
	tools   map[string][]ToolDescriptor
	index   map[string]ToolDescriptor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string][]ToolDescriptor),
		index: make(map[string]ToolDescriptor),
	}
}

// Populate replaces every entry of server with tools, keeping their order.
// Descriptors are re-keyed under server regardless of their Server field.
func (r *Registry) Populate(server string, tools []ToolDescriptor) error {
	seen := make(map[string]bool, len(tools))
	entries := make([]ToolDescriptor, 0, len(tools))
	for _, t := range tools {
		if t.Name == "" {
			return fmt.Errorf("populate %s: tool with empty name", server)
		}
		t.Server = server
		t.QualifiedName = QualifiedName(server, t.Name)
		if seen[t.QualifiedName] {
			return fmt.Errorf("populate %s: duplicate tool %s", server, t.Name)
		}
		seen[t.QualifiedName] = true
		entries = append(entries, t)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeLocked(server)
	r.servers = append(r.servers, server)
	r.tools[server] = entries
	for _, t := range entries {
		r.index[t.QualifiedName] = t
	}
	return nil
}

// Remove drops every entry of server.
func (r *Registry) Remove(server string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(server)
}

func (r *Registry) removeLocked(server string) {
	old, ok := r.tools[server]
	if !ok {
		return
	}
	for _, t := range old {
		delete(r.index, t.QualifiedName)
	}
	delete(r.tools, server)
	for i, s := range r.servers {
		if s == server {
			r.servers = append(r.servers[:i], r.servers[i+1:]...)
			break
		}
	}
}

// Lookup finds a tool by qualified name.
func (r *Registry) Lookup(qualified string) (ToolDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.index[qualified]
	if !ok {
		return ToolDescriptor{}, fmt.Errorf("%s: %w", qualified, ErrToolNotFound)
	}
	return t, nil
}

// All returns every tool, grouped by server in population order.
func (r *Registry) All() []ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := make([]ToolDescriptor, 0, len(r.index))
	for _, s := range r.servers {
		all = append(all, r.tools[s]...)
	}
	return all
}

// ForServer returns the tools of one server.
func (r *Registry) ForServer(server string) []ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]ToolDescriptor(nil), r.tools[server]...)
}

// Servers returns the servers with registered tools in population order.
func (r *Registry) Servers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.servers...)
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.index)
}

// Clear drops every entry.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.servers = nil
	r.tools = make(map[string][]ToolDescriptor)
	r.index = make(map[string]ToolDescriptor)
}
