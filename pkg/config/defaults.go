package config

import (
	"strings"
	"time"

	"github.com/marmos91/vengine/pkg/adapter/resp"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", nil) are replaced with defaults
//   - Explicit values are preserved
//   - Booleans are left alone: their defaults come from viper in Load and
//     from GetDefaultConfig, so an explicit false survives
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyKeyspaceDefaults(&cfg.Keyspace)
	applyRESPDefaults(&cfg.Adapters.RESP)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyServerDefaults sets server defaults.
func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}
}

// applyKeyspaceDefaults sets keyspace defaults.
func applyKeyspaceDefaults(cfg *KeyspaceConfig) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}
	cfg.Type = strings.ToLower(cfg.Type)

	if cfg.Memory == nil {
		cfg.Memory = make(map[string]any)
	}
	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}

	// Defaults for every store type, so generated config files show them
	if _, ok := cfg.Memory["max_keys"]; !ok {
		cfg.Memory["max_keys"] = 0
	}
	if _, ok := cfg.Badger["index_cache_mb"]; !ok {
		cfg.Badger["index_cache_mb"] = 16
	}
	if _, ok := cfg.Badger["block_cache_mb"]; !ok {
		cfg.Badger["block_cache_mb"] = 32
	}
	if _, ok := cfg.Badger["num_versions_to_keep"]; !ok {
		cfg.Badger["num_versions_to_keep"] = 1
	}
}

// applyRESPDefaults sets RESP adapter defaults.
func applyRESPDefaults(cfg *resp.RESPConfig) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 7777
	}
	if cfg.Backlog == 0 {
		cfg.Backlog = 512
	}
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = 30 * time.Second
	}
	if cfg.Workers == 0 {
		cfg.Workers = 3
	}
	if cfg.ReadBufferMin == 0 {
		cfg.ReadBufferMin = 64 * 1024
	}
	if cfg.ReadBufferMax == 0 {
		cfg.ReadBufferMax = 20 * 1024 * 1024
	}
	if cfg.ReadChunkSize == 0 {
		cfg.ReadChunkSize = 64 * 1024
	}

	// MaxConnections, AcceptRate and AcceptBurst default to 0 (unlimited)

	if cfg.Protocol == "" {
		cfg.Protocol = "resp"
	}
	cfg.Protocol = strings.ToLower(cfg.Protocol)

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.MetricsLogInterval == 0 {
		cfg.MetricsLogInterval = 5 * time.Minute
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		Keyspace: KeyspaceConfig{
			Memory: make(map[string]any),
			Badger: make(map[string]any),
		},
		Adapters: AdaptersConfig{
			RESP: resp.RESPConfig{
				Enabled: true,
				NoDelay: true,
			},
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
