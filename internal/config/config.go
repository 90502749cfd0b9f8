package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	configDir  = ".config/mcpconn"
	configFile = "config.yaml"
)

// ConfigPath returns the full path to the default config file.
func ConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, configDir, configFile), nil
}

// Load reads the configuration from the default path.
// Returns a new empty config if the file doesn't exist.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// LoadFrom reads the configuration from a specific path.
// Files ending in .json are decoded as JSON, everything else as YAML.
// Returns a new empty config if the file doesn't exist.
func LoadFrom(path string) (*Config, error) {
	path, err := ExpandPath(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewConfig(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if isJSON(path) {
		err = json.Unmarshal(data, &cfg)
	} else {
		err = yaml.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()

	// Backfill Server.Name from map keys
	for name, srv := range cfg.Servers {
		if srv.Name == "" {
			srv.Name = name
			cfg.Servers[name] = srv
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// Save writes the configuration to the default path atomically.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return SaveTo(cfg, path)
}

// SaveTo writes the configuration to a specific path atomically.
// Uses a temp file + rename pattern for atomic writes.
func SaveTo(cfg *Config, path string) error {
	path, err := ExpandPath(path)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	cfg.LastModified = time.Now()

	var data []byte
	if isJSON(path) {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	tmpFile := path + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0600); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}

	if err := os.Rename(tmpFile, path); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("rename config: %w", err)
	}

	return nil
}

// ExpandPath expands a leading "~/" to the user's home directory.
func ExpandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("get home dir: %w", err)
		}
		return filepath.Join(home, path[2:]), nil
	}
	return path, nil
}

func isJSON(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}

// ValidateName checks if a server name is usable as the prefix of a qualified tool name.
// Names must be non-empty, contain no '.' and no whitespace.
func ValidateName(name string) error {
	if name == "" {
		return errors.New("name cannot be empty")
	}
	if strings.Contains(name, ".") {
		return errors.New("name cannot contain '.'")
	}
	if strings.ContainsAny(name, " \t\r\n") {
		return errors.New("name cannot contain whitespace")
	}
	return nil
}

// Validate checks every server entry.
func (c *Config) Validate() error {
	var errs []error
	for key, srv := range c.Servers {
		if srv.Name != key {
			errs = append(errs, fmt.Errorf("server %q: name %q does not match its key", key, srv.Name))
			continue
		}
		if err := ValidateName(key); err != nil {
			errs = append(errs, fmt.Errorf("server %q: %w", key, err))
		}
		if srv.Command == "" {
			errs = append(errs, fmt.Errorf("server %q: command is required", key))
		}
	}
	return errors.Join(errs...)
}

// AddServer adds a new server to the config.
// Returns an error if a server with the same name already exists.
func (c *Config) AddServer(srv Server) error {
	if err := ValidateName(srv.Name); err != nil {
		return fmt.Errorf("invalid name: %w", err)
	}
	if srv.Command == "" {
		return errors.New("command is required")
	}
	if _, exists := c.Servers[srv.Name]; exists {
		return fmt.Errorf("server with name %q already exists", srv.Name)
	}
	if c.Servers == nil {
		c.Servers = make(map[string]Server)
	}
	c.Servers[srv.Name] = srv
	return nil
}

// DeleteServer removes a server from the config.
func (c *Config) DeleteServer(name string) error {
	if _, exists := c.Servers[name]; !exists {
		return fmt.Errorf("server %q not found", name)
	}
	delete(c.Servers, name)
	return nil
}
