package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models faceline.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Recognition struct {
		SpoofThreshold float64 `yaml:"spoof_threshold"`
		MatchThreshold float64 `yaml:"match_threshold"`
	} `yaml:"recognition"`
	Camera struct {
		Width  int    `yaml:"width"`
		Height int    `yaml:"height"`
		Facing string `yaml:"facing"`
	} `yaml:"camera"`
	Kiosk struct {
		RefreshSeconds int `yaml:"refresh_seconds"`
		HistoryDays    int `yaml:"history_days"`
	} `yaml:"kiosk"`
	Webhooks []WebhookConfig `yaml:"webhooks,omitempty"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret,omitempty"`
	Events         []string `yaml:"events,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with fl config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Recognition.SpoofThreshold < 0 || c.Recognition.SpoofThreshold > 1 {
		return fmt.Errorf("config.recognition.spoof_threshold must be in [0,1]")
	}
	if c.Recognition.MatchThreshold < 0 || c.Recognition.MatchThreshold > 1 {
		return fmt.Errorf("config.recognition.match_threshold must be in [0,1]")
	}
	if c.Camera.Width < 0 || c.Camera.Height < 0 {
		return fmt.Errorf("config.camera dimensions must be positive")
	}
	if c.Kiosk.RefreshSeconds < 0 {
		return fmt.Errorf("config.kiosk.refresh_seconds must be positive")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		for _, evt := range hook.Events {
			if evt == "" {
				return fmt.Errorf("config.webhooks[%d] has empty event filter entry", i)
			}
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "faceline.yml")
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
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

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /v1

recognition:
  spoof_threshold: 0.01
  match_threshold: 0.25

camera:
  width: 640
  height: 480
  facing: user

kiosk:
  refresh_seconds: 30
  history_days: 7
`
