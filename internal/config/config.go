package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models checkline.yml.
type Config struct {
	Venue struct {
		Name           string `yaml:"name"`
		DefaultManager string `yaml:"default_manager"`
	} `yaml:"venue"`
	Catalog struct {
		// Path to a custom template catalog; empty means the built-in one.
		Path string `yaml:"path"`
	} `yaml:"catalog"`
	Escalation struct {
		// Consecutive fails before the recheck interval is halved.
		FailThreshold int `yaml:"fail_threshold"`
		// Consecutive passes under an override before it clears.
		DeescalatePasses int `yaml:"deescalate_passes"`
		// Shortest override interval installable, in minutes.
		FloorMinutes int `yaml:"floor_minutes"`
	} `yaml:"escalation"`
	Reports struct {
		// Inspector pack lookback window, in days.
		LookbackDays int `yaml:"lookback_days"`
		// Per-section row cap in the inspector pack.
		SectionRowCap int `yaml:"section_row_cap"`
	} `yaml:"reports"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Venue.Name == "" {
		return fmt.Errorf("config.venue.name is required")
	}
	if c.Escalation.FailThreshold <= 0 {
		return fmt.Errorf("config.escalation.fail_threshold must be positive")
	}
	if c.Escalation.DeescalatePasses <= 0 {
		return fmt.Errorf("config.escalation.deescalate_passes must be positive")
	}
	if c.Escalation.FloorMinutes <= 0 {
		return fmt.Errorf("config.escalation.floor_minutes must be positive")
	}
	if c.Reports.LookbackDays <= 0 {
		return fmt.Errorf("config.reports.lookback_days must be positive")
	}
	if c.Reports.SectionRowCap <= 0 {
		return fmt.Errorf("config.reports.section_row_cap must be positive")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "checkline.yml")
}

// Load reads config from the workspace, falling back to defaults when the
// file does not exist.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// GenerateDefault returns the default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `venue:
  name: My Venue
  default_manager: duty-manager

catalog:
  path: ""

escalation:
  fail_threshold: 2
  deescalate_passes: 3
  floor_minutes: 30

reports:
  lookback_days: 30
  section_row_cap: 40
`
