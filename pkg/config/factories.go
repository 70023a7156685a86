package config

import (
	"context"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/marmos91/vengine/pkg/keyspace"
	"github.com/marmos91/vengine/pkg/keyspace/badger"
	"github.com/marmos91/vengine/pkg/keyspace/memory"
)

// CreateKeyspace creates the keyspace selected by the configuration.
//
// This factory function uses the Type field to determine which store
// implementation to create, then decodes the type-specific options from the
// corresponding map and passes them to the store's constructor.
//
// Supported types:
//   - "memory": pkg/keyspace/memory (mutex-guarded map)
//   - "badger": pkg/keyspace/badger (in-memory BadgerDB)
//   - "none": no keyspace; only PING and ECHO are served
//
// Parameters:
//   - ctx: Context for initialization operations
//   - cfg: Keyspace configuration
//
// Returns:
//   - keyspace.Store: Initialized store, nil for "none"
//   - error: Configuration or initialization error
func CreateKeyspace(ctx context.Context, cfg *KeyspaceConfig) (keyspace.Store, error) {
	switch cfg.Type {
	case "memory":
		return createMemoryKeyspace(cfg.Memory)
	case "badger":
		return createBadgerKeyspace(ctx, cfg.Badger)
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown keyspace type: %q", cfg.Type)
	}
}

// createMemoryKeyspace creates a map-backed keyspace.
func createMemoryKeyspace(options map[string]any) (keyspace.Store, error) {
	var storeCfg memory.Config
	if err := decodeOptions(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("invalid memory keyspace config: %w", err)
	}

	if storeCfg.MaxKeys < 0 {
		return nil, fmt.Errorf("memory keyspace: max_keys must be >= 0, got %d", storeCfg.MaxKeys)
	}

	return memory.New(storeCfg), nil
}

// createBadgerKeyspace creates an in-memory BadgerDB keyspace.
func createBadgerKeyspace(ctx context.Context, options map[string]any) (keyspace.Store, error) {
	var storeCfg badger.Config
	if err := decodeOptions(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("invalid badger keyspace config: %w", err)
	}

	if storeCfg.IndexCacheMB < 0 || storeCfg.BlockCacheMB < 0 {
		return nil, fmt.Errorf("badger keyspace: cache sizes must be >= 0")
	}
	if storeCfg.NumVersionsToKeep < 0 {
		return nil, fmt.Errorf("badger keyspace: num_versions_to_keep must be >= 0")
	}

	store, err := badger.New(ctx, storeCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger keyspace: %w", err)
	}

	return store, nil
}

// decodeOptions decodes a type-specific option map into a store config.
//
// Input is weakly typed: values set through environment variables arrive
// as strings. Unknown keys are rejected so that typos surface at startup.
func decodeOptions(options map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(options)
}
