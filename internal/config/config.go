package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const appDirName = "gmail-customlist"

// ListConfig holds the custom list orchestration settings
type ListConfig struct {
	// PageSizeLimit caps how many descriptors one page may carry; extra ones are dropped with a warning
	PageSizeLimit int `json:"page_size_limit" yaml:"page_size_limit"`

	// DiagnosticDelay is how long after a rewrite the host error banner is inspected
	DiagnosticDelay string `json:"diagnostic_delay" yaml:"diagnostic_delay"`

	// ResolveConcurrency bounds concurrent identifier lookups per pass
	ResolveConcurrency int `json:"resolve_concurrency" yaml:"resolve_concurrency"`
}

// ActivationConfig holds the navigation shim settings
type ActivationConfig struct {
	// Timeout restores the search box even if the host never signals acceptance
	Timeout string `json:"timeout" yaml:"timeout"`

	// RouteParams are appended to every activation route
	RouteParams map[string]string `json:"route_params,omitempty" yaml:"route_params,omitempty"`
}

// LogConfig controls logging
type LogConfig struct {
	File    string `json:"file" yaml:"file"`
	Level   string `json:"level" yaml:"level"`
	Console bool   `json:"console" yaml:"console"`
}

// Config holds all configuration for the custom list runtime and CLI
type Config struct {
	Credentials string `json:"credentials" yaml:"credentials"`
	Token       string `json:"token" yaml:"token"`

	// CachePath is the sqlite identifier cache; empty keeps lookups in memory only
	CachePath string `json:"cache_path" yaml:"cache_path"`

	List       ListConfig       `json:"list" yaml:"list"`
	Activation ActivationConfig `json:"activation" yaml:"activation"`
	Log        LogConfig        `json:"log" yaml:"log"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		List:       DefaultListConfig(),
		Activation: DefaultActivationConfig(),
		Log: LogConfig{
			File:  filepath.Join(DefaultLogDir(), "customlist.log"),
			Level: "info",
		},
	}
}

// DefaultListConfig returns default orchestration settings
func DefaultListConfig() ListConfig {
	return ListConfig{
		PageSizeLimit:      50,
		DiagnosticDelay:    "1s",
		ResolveConcurrency: 8,
	}
}

// DefaultActivationConfig returns default activation settings
func DefaultActivationConfig() ActivationConfig {
	return ActivationConfig{
		Timeout: "15s",
	}
}

// LoadConfig loads configuration from a JSON or YAML file over the defaults.
// A missing file is not an error.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()
	if configPath == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if isYAML(configPath) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", configPath, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// applyDefaults fills zero values a partial file left behind
func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.List.PageSizeLimit == 0 {
		c.List.PageSizeLimit = def.List.PageSizeLimit
	}
	if c.List.DiagnosticDelay == "" {
		c.List.DiagnosticDelay = def.List.DiagnosticDelay
	}
	if c.List.ResolveConcurrency == 0 {
		c.List.ResolveConcurrency = def.List.ResolveConcurrency
	}
	if c.Activation.Timeout == "" {
		c.Activation.Timeout = def.Activation.Timeout
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
}

// Validate rejects settings the runtime cannot work with
func (c *Config) Validate() error {
	if c.List.PageSizeLimit < 0 {
		return fmt.Errorf("list.page_size_limit must be positive, got %d", c.List.PageSizeLimit)
	}
	if c.List.ResolveConcurrency < 0 {
		return fmt.Errorf("list.resolve_concurrency must be positive, got %d", c.List.ResolveConcurrency)
	}
	if _, err := time.ParseDuration(c.List.DiagnosticDelay); err != nil {
		return fmt.Errorf("list.diagnostic_delay: %w", err)
	}
	if d, err := time.ParseDuration(c.Activation.Timeout); err != nil {
		return fmt.Errorf("activation.timeout: %w", err)
	} else if d <= 0 {
		return fmt.Errorf("activation.timeout must be positive")
	}
	return nil
}

// GetDiagnosticDelay returns the parsed banner inspection delay
func (c *Config) GetDiagnosticDelay() time.Duration {
	if d, err := time.ParseDuration(c.List.DiagnosticDelay); err == nil && d >= 0 {
		return d
	}
	return time.Second
}

// GetActivationTimeout returns the parsed activation fallback timeout
func (c *Config) GetActivationTimeout() time.Duration {
	if d, err := time.ParseDuration(c.Activation.Timeout); err == nil && d > 0 {
		return d
	}
	return 15 * time.Second
}

// DefaultConfigPath returns the default configuration file path
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", appDirName, "config.json")
}

// DefaultCredentialPaths returns the default paths for credentials and token
func DefaultCredentialPaths() (string, string) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", ""
	}

	configDir := filepath.Join(home, ".config", appDirName)
	return filepath.Join(configDir, "credentials.json"), filepath.Join(configDir, "token.json")
}

// DefaultCacheDir returns the default cache directory path
func DefaultCacheDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", appDirName, "cache")
}

// DefaultLogDir returns the default log directory path
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", appDirName)
}

// SaveConfig saves the configuration as JSON, or YAML for .yaml/.yml paths
func (c *Config) SaveConfig(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	var data []byte
	var err error
	if isYAML(path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
