package config

import (
	"fmt"

	"github.com/marmos91/vengine/pkg/adapter"
	"github.com/marmos91/vengine/pkg/adapter/resp"
	"github.com/marmos91/vengine/pkg/metrics"
)

// CreateAdapters creates all enabled protocol adapters from the configuration.
//
// Parameters:
//   - cfg: The complete vengine configuration
//   - respMetrics: Optional RESP metrics collector (nil = no metrics)
//
// Returns:
//   - []adapter.Adapter: List of enabled adapters ready to be added to the server
//   - error: Any error during adapter creation
func CreateAdapters(cfg *Config, respMetrics metrics.RESPMetrics) ([]adapter.Adapter, error) {
	var adapters []adapter.Adapter

	if cfg.Adapters.RESP.Enabled {
		respAdapter, err := resp.New(cfg.Adapters.RESP, respMetrics)
		if err != nil {
			return nil, fmt.Errorf("failed to create RESP adapter: %w", err)
		}
		adapters = append(adapters, respAdapter)
	}

	if len(adapters) == 0 {
		return nil, fmt.Errorf("no adapters enabled in configuration")
	}

	return adapters, nil
}
