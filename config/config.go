// Package config loads the host configuration from YAML. The file wires
// provider instances, plugins and pipeline behavior; everything has a
// usable zero default so a missing file yields a working in-memory setup.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the root of the YAML document.
type Config struct {
	Logging   LoggingConfig    `yaml:"logging"`
	Session   SessionConfig    `yaml:"session"`
	Pipeline  PipelineConfig   `yaml:"pipeline"`
	Providers []ProviderConfig `yaml:"providers"`
	Plugins   []PluginConfig   `yaml:"plugins"`
}

// LoggingConfig selects log verbosity and output format.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is text or json.
	Format string `yaml:"format"`
}

// SessionConfig selects the persistence backend.
type SessionConfig struct {
	// Path of the SQLite database. Empty keeps everything in memory.
	Path string `yaml:"path"`
	// ArtifactPath of the artifact database. Empty reuses Path; when both
	// are empty artifacts stay in memory.
	ArtifactPath string `yaml:"artifact_path"`
}

// PipelineConfig tunes the built-in event handling.
type PipelineConfig struct {
	SystemPrompt string `yaml:"system_prompt"`
	HistoryLimit int    `yaml:"history_limit"`
	Streaming    bool   `yaml:"streaming"`
	SuppressLow  bool   `yaml:"suppress_low"`
	AckUploads   bool   `yaml:"ack_uploads"`
}

// ProviderConfig declares one backend instance.
type ProviderConfig struct {
	// ID names the instance; it must be unique and must not be "primary".
	ID string `yaml:"id"`
	// Type selects the registered factory, e.g. openai or anthropic.
	Type string `yaml:"type"`
	// Primary marks the instance the "primary" alias resolves to.
	Primary bool `yaml:"primary"`
	// Settings are passed verbatim to the factory.
	Settings map[string]any `yaml:"settings"`
}

// PluginConfig declares one plugin entry.
type PluginConfig struct {
	Name string `yaml:"name"`
	// Disabled skips auto-activation without unregistering the plugin.
	Disabled bool `yaml:"disabled"`
	// Settings become the plugin's config blob.
	Settings map[string]any `yaml:"settings"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Logging:  LoggingConfig{Level: "info", Format: "text"},
		Pipeline: PipelineConfig{HistoryLimit: 50},
	}
}

// Load reads and validates the file at path. A missing file is not an
// error; the defaults are returned instead.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML document.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints the YAML schema cannot express.
func (c *Config) Validate() error {
	if c.Pipeline.HistoryLimit < 0 {
		return fmt.Errorf("pipeline.history_limit must not be negative")
	}

	seen := make(map[string]bool, len(c.Providers))
	primaries := 0
	for i, p := range c.Providers {
		if p.ID == "" {
			return fmt.Errorf("providers[%d]: id is required", i)
		}
		if p.ID == "primary" {
			return fmt.Errorf("providers[%d]: id %q is reserved", i, p.ID)
		}
		if p.Type == "" {
			return fmt.Errorf("provider %s: type is required", p.ID)
		}
		if seen[p.ID] {
			return fmt.Errorf("provider %s: duplicate id", p.ID)
		}
		seen[p.ID] = true
		if p.Primary {
			primaries++
		}
	}
	if primaries > 1 {
		return fmt.Errorf("at most one provider may be primary, got %d", primaries)
	}

	names := make(map[string]bool, len(c.Plugins))
	for i, p := range c.Plugins {
		if p.Name == "" {
			return fmt.Errorf("plugins[%d]: name is required", i)
		}
		if names[p.Name] {
			return fmt.Errorf("plugin %s: duplicate name", p.Name)
		}
		names[p.Name] = true
	}
	return nil
}

// PrimaryID returns the id of the provider marked primary, if any.
func (c *Config) PrimaryID() (string, bool) {
	for _, p := range c.Providers {
		if p.Primary {
			return p.ID, true
		}
	}
	return "", false
}

// Plugin returns the entry for name, if present.
func (c *Config) Plugin(name string) (PluginConfig, bool) {
	for _, p := range c.Plugins {
		if p.Name == name {
			return p, true
		}
	}
	return PluginConfig{}, false
}
