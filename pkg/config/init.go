package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"text/template"
)

// InitConfig writes a commented default configuration file to the default
// location ($XDG_CONFIG_HOME/vengine/config.yaml).
//
// Parameters:
//   - force: overwrite an existing file
//
// Returns the path written, or an error if the file already exists and
// force is false.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes the default configuration file to path, creating
// parent directories as needed.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	content, err := generateConfigYAML(GetDefaultConfig())
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, content, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// generateConfigYAML renders cfg through the commented template.
func generateConfigYAML(cfg *Config) ([]byte, error) {
	var buf bytes.Buffer
	if err := configTemplate.Execute(&buf, cfg); err != nil {
		return nil, fmt.Errorf("failed to render config template: %w", err)
	}
	return buf.Bytes(), nil
}

var configTemplate = template.Must(template.New("config").Parse(`# vengine Configuration File
#
# Values can be overridden with environment variables using the VENGINE_
# prefix and underscores for nesting, e.g. VENGINE_LOGGING_LEVEL=DEBUG.

logging:
  # DEBUG, INFO, WARN, ERROR, CRITICAL
  level: {{ .Logging.Level }}
  # text or json
  format: {{ .Logging.Format }}
  # stdout, stderr, or a file path
  output: {{ .Logging.Output }}

server:
  # Maximum time each adapter gets to stop
  shutdown_timeout: {{ .Server.ShutdownTimeout }}
  metrics:
    enabled: {{ .Server.Metrics.Enabled }}
    host: "{{ .Server.Metrics.Host }}"
    port: {{ .Server.Metrics.Port }}

keyspace:
  # memory, badger, or none (PING and ECHO only)
  type: {{ .Keyspace.Type }}
  memory:
    # 0 means unlimited
    max_keys: {{ index .Keyspace.Memory "max_keys" }}
  badger:
    # Always in-memory; nothing is written to disk
    index_cache_mb: {{ index .Keyspace.Badger "index_cache_mb" }}
    block_cache_mb: {{ index .Keyspace.Badger "block_cache_mb" }}
    num_versions_to_keep: {{ index .Keyspace.Badger "num_versions_to_keep" }}

adapters:
  resp:
    enabled: {{ .Adapters.RESP.Enabled }}
    host: {{ .Adapters.RESP.Host }}
    port: {{ .Adapters.RESP.Port }}
    backlog: {{ .Adapters.RESP.Backlog }}
    # TCP keepalive idle time and probe interval, 0 disables
    keepalive: {{ .Adapters.RESP.KeepAlive }}
    no_delay: {{ .Adapters.RESP.NoDelay }}
    # Goroutines executing commands; connections are pinned by id
    workers: {{ .Adapters.RESP.Workers }}
    # Per-connection read buffer bounds in bytes. A request larger than
    # read_buffer_max closes the connection.
    read_buffer_min: {{ .Adapters.RESP.ReadBufferMin }}
    read_buffer_max: {{ .Adapters.RESP.ReadBufferMax }}
    read_chunk_size: {{ .Adapters.RESP.ReadChunkSize }}
    # 0 means unlimited
    max_connections: {{ .Adapters.RESP.MaxConnections }}
    # New connections per second, 0 means unlimited
    accept_rate: {{ .Adapters.RESP.AcceptRate }}
    accept_burst: {{ .Adapters.RESP.AcceptBurst }}
    protocol: {{ .Adapters.RESP.Protocol }}
    shutdown_timeout: {{ .Adapters.RESP.ShutdownTimeout }}
    # 0 disables periodic metrics logging
    metrics_log_interval: {{ .Adapters.RESP.MetricsLogInterval }}
`))
