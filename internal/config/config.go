// Package config loads bomstore settings from YAML with environment
// overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// DefaultPath is looked up in the working directory when --config is not given.
const DefaultPath = ".bomstore.yaml"

// Config holds all bomstore settings.
type Config struct {
	// Project is the component store opened when --project is not given.
	Project string `yaml:"project" json:"project"`
	// NameWidth is the component name field width used by create.
	NameWidth int16 `yaml:"name_width" json:"name_width"`

	Log     LoggingConfig `yaml:"log" json:"log"`
	Compact CompactConfig `yaml:"compact" json:"compact"`
}

// CompactConfig configures compaction.
type CompactConfig struct {
	// Backup writes a snapshot of the pair before rewriting it.
	Backup bool `yaml:"backup" json:"backup"`
	// BackupDir is where snapshots go; relative paths are taken from the
	// project directory.
	BackupDir string `yaml:"backup_dir" json:"backup_dir,omitempty"`
}

// DefaultConfig returns the settings used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Project:   "bom.prd",
		NameWidth: 20,
		Log: LoggingConfig{
			Level:    "info",
			Encoding: "console",
		},
		Compact: CompactConfig{
			Backup:    true,
			BackupDir: "backups",
		},
	}
}

// Load reads configuration from path. A missing file yields the defaults.
// Environment overrides apply either way.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to path as YAML.
func (c *Config) Save(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies BOMSTORE_* environment variables.
func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("BOMSTORE_PROJECT"); v != "" {
		c.Project = v
	}
	if v := os.Getenv("BOMSTORE_NAME_WIDTH"); v != "" {
		w, err := strconv.ParseInt(v, 10, 16)
		if err != nil {
			return fmt.Errorf("BOMSTORE_NAME_WIDTH: %w", err)
		}
		c.NameWidth = int16(w)
	}
	if v := os.Getenv("BOMSTORE_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("BOMSTORE_BACKUP_DIR"); v != "" {
		c.Compact.BackupDir = v
	}
	return nil
}

// Validate checks the configuration for values no command can use.
func (c *Config) Validate() error {
	if c.Project == "" {
		return fmt.Errorf("project must not be empty")
	}
	if c.NameWidth <= 0 {
		return fmt.Errorf("name_width must be positive, got %d", c.NameWidth)
	}
	if _, err := c.Log.ZapLevel(); err != nil {
		return err
	}
	switch c.Log.Encoding {
	case "console", "json":
	default:
		return fmt.Errorf("log.encoding must be console or json, got %q", c.Log.Encoding)
	}
	return nil
}
