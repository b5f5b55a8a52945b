package mcplink

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig describes one tool server: how to launch it and how to talk to
// it. It is immutable once handed to a connection.
type ServerConfig struct {
	// Name uniquely identifies the server within a manager.
	Name string

	// Command and Args launch the server process.
	Command string
	Args    []string

	// Env entries are merged over the inherited process environment.
	Env map[string]string

	// Transport selects the transport kind. Only "stdio" is implemented;
	// other values are valid configuration but fail at connect time.
	Transport string

	// Timeout bounds each request/response round-trip. Zero means 30s.
	Timeout time.Duration
}

// Config holds the server descriptors loaded from a configuration file.
type Config struct {
	Servers []ServerConfig
}

// yamlConfig mirrors the on-disk shape. Timeout is a Go duration string
// ("30s", "1m").
type yamlConfig struct {
	Servers []struct {
		Name      string            `yaml:"name"`
		Command   string            `yaml:"command"`
		Args      []string          `yaml:"args"`
		Env       map[string]string `yaml:"env"`
		Transport string            `yaml:"transport"`
		Timeout   string            `yaml:"timeout"`
	} `yaml:"servers"`
}

// LoadConfig reads a YAML server-descriptor file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}

	var raw yamlConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg := Config{Servers: make([]ServerConfig, 0, len(raw.Servers))}
	for i, s := range raw.Servers {
		if s.Name == "" {
			return Config{}, fmt.Errorf("server %d: name is required", i)
		}
		if s.Command == "" {
			return Config{}, fmt.Errorf("server %s: command is required", s.Name)
		}
		var timeout time.Duration
		if s.Timeout != "" {
			timeout, err = time.ParseDuration(s.Timeout)
			if err != nil {
				return Config{}, fmt.Errorf("server %s: invalid timeout %q: %w", s.Name, s.Timeout, err)
			}
		}
		cfg.Servers = append(cfg.Servers, ServerConfig{
			Name:      s.Name,
			Command:   s.Command,
			Args:      s.Args,
			Env:       s.Env,
			Transport: s.Transport,
			Timeout:   timeout,
		})
	}
	return cfg, nil
}
