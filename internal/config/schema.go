// Package config provides configuration schema and persistence for mcpconn.
package config

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// SchemaVersion is the current config schema version.
const SchemaVersion = 1

// Default timing values. They mirror the behaviour tool servers have come to
// expect: a short startup grace, a few seconds to exit after SIGTERM.
const (
	DefaultStartupGrace           = 500 * time.Millisecond
	DefaultTerminateTimeout       = 3 * time.Second
	DefaultRequestTimeout         = 30 * time.Second
	DefaultShutdownGrace          = 100 * time.Millisecond
	DefaultMaxConsecutiveTimeouts = 3
)

// Server describes one stdio tool server.
type Server struct {
	Name     string            `json:"name" yaml:"name"`
	Command  string            `json:"command" yaml:"command"`
	Args     []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Cwd      string            `json:"cwd,omitempty" yaml:"cwd,omitempty"`
	Env      map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Disabled bool              `json:"disabled,omitempty" yaml:"disabled,omitempty"`
}

// IsEnabled returns whether the server should be connected.
func (s Server) IsEnabled() bool {
	return !s.Disabled
}

// Timeouts groups every bound the client applies to a connection.
type Timeouts struct {
	StartupGrace           Duration `json:"startupGrace,omitempty" yaml:"startupGrace,omitempty"`
	Terminate              Duration `json:"terminate,omitempty" yaml:"terminate,omitempty"`
	Request                Duration `json:"request,omitempty" yaml:"request,omitempty"`
	ShutdownGrace          Duration `json:"shutdownGrace,omitempty" yaml:"shutdownGrace,omitempty"`
	MaxConsecutiveTimeouts int      `json:"maxConsecutiveTimeouts,omitempty" yaml:"maxConsecutiveTimeouts,omitempty"`
}

// ClientInfo is advertised to servers during initialize.
type ClientInfo struct {
	Name    string `json:"name" yaml:"name"`
	Version string `json:"version" yaml:"version"`
}

// Config is the root configuration structure.
type Config struct {
	SchemaVersion int               `json:"schemaVersion" yaml:"schemaVersion"`
	ClientInfo    ClientInfo        `json:"clientInfo" yaml:"clientInfo"`
	Servers       map[string]Server `json:"servers" yaml:"servers"`
	Timeouts      Timeouts          `json:"timeouts" yaml:"timeouts"`
	// StateDir holds runtime bookkeeping such as the PID file. Empty disables it.
	StateDir     string    `json:"stateDir,omitempty" yaml:"stateDir,omitempty"`
	LastModified time.Time `json:"lastModified,omitempty" yaml:"lastModified,omitempty"`
}

// NewConfig creates a new empty configuration with default values.
func NewConfig() *Config {
	cfg := &Config{
		SchemaVersion: SchemaVersion,
		Servers:       make(map[string]Server),
	}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.SchemaVersion == 0 {
		c.SchemaVersion = SchemaVersion
	}
	if c.Servers == nil {
		c.Servers = make(map[string]Server)
	}
	if c.ClientInfo.Name == "" {
		c.ClientInfo.Name = "mcpconn"
	}
	if c.ClientInfo.Version == "" {
		c.ClientInfo.Version = "0.1.0"
	}
	t := &c.Timeouts
	if t.StartupGrace <= 0 {
		t.StartupGrace = Duration(DefaultStartupGrace)
	}
	if t.Terminate <= 0 {
		t.Terminate = Duration(DefaultTerminateTimeout)
	}
	if t.Request <= 0 {
		t.Request = Duration(DefaultRequestTimeout)
	}
	if t.ShutdownGrace <= 0 {
		t.ShutdownGrace = Duration(DefaultShutdownGrace)
	}
	if t.MaxConsecutiveTimeouts <= 0 {
		t.MaxConsecutiveTimeouts = DefaultMaxConsecutiveTimeouts
	}
}

// ServerList returns the servers as a slice, sorted by name for display.
func (c *Config) ServerList() []Server {
	servers := make([]Server, 0, len(c.Servers))
	for _, s := range c.Servers {
		servers = append(servers, s)
	}
	sort.Slice(servers, func(i, j int) bool {
		return servers[i].Name < servers[j].Name
	})
	return servers
}

// EnabledServers returns enabled servers sorted by name.
func (c *Config) EnabledServers() []Server {
	all := c.ServerList()
	enabled := all[:0]
	for _, s := range all {
		if s.IsEnabled() {
			enabled = append(enabled, s)
		}
	}
	return enabled
}

// GetServer returns a server by name, or nil if not found.
func (c *Config) GetServer(name string) *Server {
	if s, ok := c.Servers[name]; ok {
		return &s
	}
	return nil
}

// Duration is a time.Duration that reads and writes as a string like "3s".
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON accepts a duration string or a number of nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return d.parse(s)
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("duration must be a string or integer: %s", string(data))
	}
	*d = Duration(n)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", value.Line)
	}
	if value.Tag == "!!int" {
		var n int64
		if err := value.Decode(&n); err != nil {
			return err
		}
		*d = Duration(n)
		return nil
	}
	return d.parse(value.Value)
}

func (d *Duration) parse(s string) error {
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}
