// Package keyspace defines the key/value store the built-in data commands
// operate on.
//
// One Store is shared by every worker of every adapter, so implementations
// must be safe for concurrent use. Keys and values are opaque byte strings;
// the empty key is valid.
package keyspace

import (
	"context"
	"errors"
)

var (
	// ErrFull is returned by Set when a new key would exceed the store's
	// configured key limit. Overwriting an existing key never fails this way.
	ErrFull = errors.New("keyspace is full")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("keyspace is closed")
)

// Store is the keyspace contract.
type Store interface {
	// Get returns a copy of the value stored at key. found is false when
	// the key does not exist.
	Get(ctx context.Context, key []byte) (value []byte, found bool, err error)

	// Set stores value at key, replacing any previous value. The store
	// keeps its own copy of both slices.
	Set(ctx context.Context, key, value []byte) error

	// Delete removes keys and returns how many existed. A key repeated in
	// keys is counted once.
	Delete(ctx context.Context, keys ...[]byte) (int, error)

	// Exists returns how many of keys exist. A key repeated in keys is
	// counted every time it appears.
	Exists(ctx context.Context, keys ...[]byte) (int, error)

	// Len returns the number of keys.
	Len(ctx context.Context) (int, error)

	// Close releases the store's resources. Further calls return ErrClosed.
	Close() error
}
