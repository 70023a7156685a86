package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/marmos91/vengine/pkg/adapter/resp"
)

// Config represents the complete vengine configuration.
//
// This structure captures all configurable aspects of the server:
//   - Logging configuration
//   - Server-wide settings (shutdown, metrics endpoint)
//   - Keyspace selection and configuration (store-specific)
//   - Protocol adapter configurations
//
// Configuration sources (in order of precedence):
//  1. Environment variables (VENGINE_*)
//  2. Configuration file (YAML or TOML)
//  3. Default values (lowest priority)
//
// Keyspace Configuration Pattern:
// Each keyspace implementation defines its own configuration type. The
// Config struct holds type-specific sections (keyspace.memory,
// keyspace.badger) and only the section matching the selected type is used.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging"`

	// Server contains server-wide settings
	Server ServerConfig `mapstructure:"server"`

	// Keyspace specifies the store backing GET/SET/DEL/EXISTS/DBSIZE
	Keyspace KeyspaceConfig `mapstructure:"keyspace"`

	// Adapters contains protocol adapter configurations
	Adapters AdaptersConfig `mapstructure:"adapters"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR, CRITICAL (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR CRITICAL debug info warn error critical"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required"`
}

// ServerConfig contains server-wide settings.
type ServerConfig struct {
	// ShutdownTimeout is the maximum time to wait for each adapter to stop
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0"`

	// Metrics configures the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// MetricsConfig configures the Prometheus HTTP endpoint.
type MetricsConfig struct {
	// Enabled turns on metrics collection and the /metrics endpoint
	Enabled bool `mapstructure:"enabled"`

	// Host is the interface the metrics endpoint binds
	Host string `mapstructure:"host"`

	// Port is the metrics HTTP port
	Port int `mapstructure:"port" validate:"min=0,max=65535"`
}

// KeyspaceConfig specifies keyspace configuration.
//
// The Type field determines which store implementation is used.
// Only the corresponding type-specific configuration section is used.
type KeyspaceConfig struct {
	// Type specifies which keyspace implementation to use
	// Valid values: memory, badger, none
	Type string `mapstructure:"type" validate:"required,oneof=memory badger none"`

	// Memory contains memory-specific configuration
	// Only used when Type = "memory"
	Memory map[string]any `mapstructure:"memory"`

	// Badger contains BadgerDB-specific configuration
	// Only used when Type = "badger"
	Badger map[string]any `mapstructure:"badger"`
}

// AdaptersConfig contains all protocol adapter configurations.
type AdaptersConfig struct {
	// RESP contains RESP protocol configuration.
	// Uses the resp.RESPConfig type directly to avoid duplication.
	RESP resp.RESPConfig `mapstructure:"resp"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (VENGINE_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v, configPath); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use VENGINE_ prefix and underscores
	// Example: VENGINE_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("VENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Booleans whose zero value is a legitimate explicit choice get their
	// defaults here, where viper can tell "unset" from "false".
	v.SetDefault("adapters.resp.enabled", true)
	v.SetDefault("adapters.resp.no_delay", true)

	// AutomaticEnv only sees keys viper already knows; bind the rest so
	// they can be set without a config file.
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/vengine/config.{yaml,toml}
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// envKeys are the scalar keys that may be set purely from the environment.
var envKeys = []string{
	"logging.level",
	"logging.format",
	"logging.output",
	"server.shutdown_timeout",
	"server.metrics.enabled",
	"server.metrics.host",
	"server.metrics.port",
	"keyspace.type",
	"adapters.resp.host",
	"adapters.resp.port",
	"adapters.resp.workers",
	"adapters.resp.max_connections",
	"adapters.resp.read_buffer_min",
	"adapters.resp.read_buffer_max",
	"adapters.resp.accept_rate",
	"adapters.resp.accept_burst",
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper, configPath string) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found is acceptable - use defaults
			return nil
		}
		if configPath != "" && os.IsNotExist(err) {
			return fmt.Errorf("config file not found: %s", configPath)
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "vengine")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "vengine")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
