// Package config handles loading and validation of the alicorn service
// configuration from YAML files and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/alicorn-scan/alicorn/internal/db"
	"github.com/alicorn-scan/alicorn/internal/errors"
)

// Config represents the complete service configuration.
type Config struct {
	// Database configuration
	Database db.Config `yaml:"database" json:"database"`

	// API server configuration
	API APIConfig `yaml:"api" json:"api"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`

	// Saved comparison persistence
	Saved SavedConfig `yaml:"saved" json:"saved"`

	// GeoIP enrichment
	GeoIP GeoIPConfig `yaml:"geoip" json:"geoip"`

	// Reverse-DNS enrichment
	Resolve ResolveConfig `yaml:"resolve" json:"resolve"`
}

// APIConfig holds API server settings.
type APIConfig struct {
	// Listen address
	ListenAddr string `yaml:"listen_addr" json:"listen_addr"`

	// Listen port
	Port int `yaml:"port" json:"port"`

	// Request timeout
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`

	// CORS settings
	CORS CORSConfig `yaml:"cors" json:"cors"`
}

// CORSConfig holds CORS settings.
type CORSConfig struct {
	// Enable CORS
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Allowed origins
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Log level (debug, info, warn, error)
	Level string `yaml:"level" json:"level"`

	// Log format (text, json)
	Format string `yaml:"format" json:"format"`

	// Log output (stdout, stderr, file path)
	Output string `yaml:"output" json:"output"`

	// Enable request logging for API
	RequestLogging bool `yaml:"request_logging" json:"request_logging"`
}

// SavedConfig holds saved-comparison persistence settings.
type SavedConfig struct {
	// Path to the JSON file backing the saved comparison store
	Path string `yaml:"path" json:"path"`
}

// GeoIPConfig holds GeoIP enrichment settings.
type GeoIPConfig struct {
	// Enable GeoIP lookups
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Lookup endpoint base URL
	Endpoint string `yaml:"endpoint" json:"endpoint"`

	// API token, if the provider requires one
	Token string `yaml:"token" json:"token"`

	// Lookup timeout
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// ResolveConfig holds reverse-DNS enrichment settings.
type ResolveConfig struct {
	// Enable PTR lookups
	Enabled bool `yaml:"enabled" json:"enabled"`

	// DNS server address (host:port)
	Server string `yaml:"server" json:"server"`

	// Lookup timeout
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// Default configuration values.
const (
	defaultAPIPort        = 8080
	defaultRequestTimeout = 30 * time.Second
	defaultLookupTimeout  = 2 * time.Second
)

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Database: db.DefaultConfig(),
		API: APIConfig{
			ListenAddr:     "127.0.0.1",
			Port:           defaultAPIPort,
			RequestTimeout: defaultRequestTimeout,
			CORS: CORSConfig{
				Enabled:        true,
				AllowedOrigins: []string{"*"},
			},
		},
		Logging: LoggingConfig{
			Level:          "info",
			Format:         "text",
			Output:         "stdout",
			RequestLogging: true,
		},
		Saved: SavedConfig{
			Path: "saved_comparisons.json",
		},
		GeoIP: GeoIPConfig{
			Enabled:  false,
			Endpoint: "https://ipinfo.io",
			Timeout:  defaultLookupTimeout,
		},
		Resolve: ResolveConfig{
			Enabled: false,
			Server:  "127.0.0.1:53",
			Timeout: defaultLookupTimeout,
		},
	}
}

// Load reads configuration from the given YAML file, applies environment
// overrides, and validates the result. An empty path returns the defaults
// with environment overrides applied.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnvOverrides applies ALICORN_* environment variables on top of the
// file configuration. Only connectivity-critical settings are overridable
// this way; everything else belongs in the file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ALICORN_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("ALICORN_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("ALICORN_DB_NAME"); v != "" {
		cfg.Database.Database = v
	}
	if v := os.Getenv("ALICORN_DB_USER"); v != "" {
		cfg.Database.Username = v
	}
	if v := os.Getenv("ALICORN_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("ALICORN_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}
	if v := os.Getenv("ALICORN_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for missing or inconsistent values.
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return errors.NewConfigError("database host is required", "database.host")
	}
	if c.Database.Database == "" {
		return errors.NewConfigError("database name is required", "database.database")
	}
	if c.Database.Username == "" {
		return errors.NewConfigError("database username is required", "database.username")
	}
	if c.API.Port < 1 || c.API.Port > 65535 {
		return errors.NewConfigError(
			fmt.Sprintf("invalid API port %d", c.API.Port), "api.port")
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return errors.NewConfigError(
			fmt.Sprintf("invalid log level %q", c.Logging.Level), "logging.level")
	}
	if c.GeoIP.Enabled && c.GeoIP.Endpoint == "" {
		return errors.NewConfigError("geoip endpoint is required when geoip is enabled", "geoip.endpoint")
	}
	return nil
}

// Save writes the configuration to the given path as YAML. Used by the
// setup wizard.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}
	return nil
}
