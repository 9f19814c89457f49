// Package config loads and validates sweepnet configuration from YAML
// files, layered over built-in defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweepnet/sweepnet/internal/errors"
	"github.com/sweepnet/sweepnet/internal/presets"
)

// Config represents the complete sweepnet configuration.
type Config struct {
	Scanning ScanningConfig `yaml:"scanning" json:"scanning"`
	API      APIConfig      `yaml:"api" json:"api"`
	Logging  LoggingConfig  `yaml:"logging" json:"logging"`
}

// ScanningConfig holds default scan settings. CLI flags override these
// per invocation.
type ScanningConfig struct {
	// Default preset name (fast, balanced, accurate, stealth).
	DefaultPreset string `yaml:"default_preset" json:"default_preset"`

	// Default ports spec when none is given.
	DefaultPorts string `yaml:"default_ports" json:"default_ports"`

	// Default scan type (connect, syn).
	DefaultScanType string `yaml:"default_scan_type" json:"default_scan_type"`

	// Concurrency override; 0 keeps the preset value.
	Concurrency uint32 `yaml:"concurrency" json:"concurrency"`

	// Rate limit override in probes per second; 0 keeps the preset value.
	RateLimit uint32 `yaml:"rate_limit" json:"rate_limit"`
}

// APIConfig holds the embedded API server settings.
type APIConfig struct {
	// Enable the API server for the serve command.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Listen address.
	ListenAddr string `yaml:"listen_addr" json:"listen_addr"`

	// Listen port.
	Port int `yaml:"port" json:"port"`

	// Graceful shutdown timeout.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`

	// Request timeout for scan submissions.
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`

	// CORS settings.
	CORS CORSConfig `yaml:"cors" json:"cors"`
}

// CORSConfig holds CORS settings for the API server.
type CORSConfig struct {
	Enabled        bool     `yaml:"enabled" json:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods" json:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers" json:"allowed_headers"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Log level (debug, info, warn, error).
	Level string `yaml:"level" json:"level"`

	// Log format (text, json).
	Format string `yaml:"format" json:"format"`

	// Log output (stdout, stderr, file path).
	Output string `yaml:"output" json:"output"`
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Scanning: ScanningConfig{
			DefaultPreset:   presets.Default,
			DefaultPorts:    "22,80,443,8080,8443",
			DefaultScanType: "connect",
		},
		API: APIConfig{
			Enabled:         true,
			ListenAddr:      "127.0.0.1",
			Port:            8080,
			ShutdownTimeout: 30 * time.Second,
			RequestTimeout:  10 * time.Minute,
			CORS: CORSConfig{
				Enabled:        true,
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "OPTIONS"},
				AllowedHeaders: []string{"Content-Type"},
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// Load loads configuration from a YAML file layered over defaults. A
// missing file is not an error; the defaults are returned.
func Load(path string) (*Config, error) {
	config := Default()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapConfigError(errors.CodeConfiguration,
			"failed to read config file", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, errors.WrapConfigError(errors.CodeConfiguration,
			"failed to parse config file", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.WrapConfigError(errors.CodeConfiguration,
			"failed to create config directory", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.WrapConfigError(errors.CodeConfiguration,
			"failed to marshal config", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.WrapConfigError(errors.CodeConfiguration,
			"failed to write config file", err)
	}
	return nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if _, err := presets.Lookup(c.Scanning.DefaultPreset); err != nil {
		return errors.ErrConfigInvalid("scanning.default_preset", c.Scanning.DefaultPreset)
	}

	switch c.Scanning.DefaultScanType {
	case "connect", "syn":
	default:
		return errors.ErrConfigInvalid("scanning.default_scan_type", c.Scanning.DefaultScanType)
	}

	if c.API.Enabled {
		if c.API.Port <= 0 || c.API.Port > 65535 {
			return errors.ErrConfigInvalid("api.port", c.API.Port)
		}
		if c.API.ListenAddr == "" {
			return errors.ErrConfigMissing("api.listen_addr")
		}
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return errors.ErrConfigInvalid("logging.level", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"text": true,
		"json": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return errors.ErrConfigInvalid("logging.format", c.Logging.Format)
	}

	return nil
}

// GetAPIAddress returns the full API listen address.
func (c *Config) GetAPIAddress() string {
	return fmt.Sprintf("%s:%d", c.API.ListenAddr, c.API.Port)
}

// IsAPIEnabled reports whether the API server should start.
func (c *Config) IsAPIEnabled() bool {
	return c.API.Enabled
}
