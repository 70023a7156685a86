package config

import (
	"github.com/marmos91/vengine/pkg/metrics"
	promMetrics "github.com/marmos91/vengine/pkg/metrics/prometheus"
)

// MetricsResult holds the metrics components built from configuration.
type MetricsResult struct {
	// Server exposes /metrics. nil when metrics are disabled.
	Server *metrics.Server

	// RESPMetrics is handed to the RESP adapter. Never nil.
	RESPMetrics metrics.RESPMetrics
}

// InitializeMetrics builds the metrics stack described by cfg.Server.Metrics.
//
// When disabled, no registry or HTTP server is created and the adapter gets
// the no-op collector. When enabled, the global Prometheus registry is
// initialized before any collector registers with it.
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Server.Metrics.Enabled {
		return &MetricsResult{RESPMetrics: metrics.NewNoopRESPMetrics()}
	}

	metrics.InitRegistry()

	return &MetricsResult{
		Server: metrics.NewServer(metrics.ServerConfig{
			Host: cfg.Server.Metrics.Host,
			Port: cfg.Server.Metrics.Port,
		}),
		RESPMetrics: promMetrics.NewRESPMetrics(),
	}
}
