package memory

import (
	"context"
	"sync"

	"github.com/marmos91/vengine/pkg/keyspace"
)

// Config holds the memory keyspace options.
type Config struct {
	// MaxKeys caps the number of keys. 0 means unlimited.
	MaxKeys int `mapstructure:"max_keys"`
}

// Store is a map-backed keyspace guarded by a RWMutex.
type Store struct {
	mu      sync.RWMutex
	data    map[string][]byte
	maxKeys int
	closed  bool
}

// New creates an empty memory keyspace.
func New(cfg Config) *Store {
	return &Store{
		data:    make(map[string][]byte),
		maxKeys: cfg.MaxKeys,
	}
}

var _ keyspace.Store = (*Store)(nil)

func (s *Store) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, false, keyspace.ErrClosed
	}

	v, ok := s.data[string(key)]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (s *Store) Set(ctx context.Context, key, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return keyspace.ErrClosed
	}

	k := string(key)
	if _, exists := s.data[k]; !exists && s.maxKeys > 0 && len(s.data) >= s.maxKeys {
		return keyspace.ErrFull
	}

	s.data[k] = append(make([]byte, 0, len(value)), value...)
	return nil
}

func (s *Store) Delete(ctx context.Context, keys ...[]byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, keyspace.ErrClosed
	}

	removed := 0
	for _, key := range keys {
		k := string(key)
		if _, ok := s.data[k]; ok {
			delete(s.data, k)
			removed++
		}
	}
	return removed, nil
}

func (s *Store) Exists(ctx context.Context, keys ...[]byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, keyspace.ErrClosed
	}

	count := 0
	for _, key := range keys {
		if _, ok := s.data[string(key)]; ok {
			count++
		}
	}
	return count, nil
}

func (s *Store) Len(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, keyspace.ErrClosed
	}
	return len(s.data), nil
}

// Close drops all keys.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return keyspace.ErrClosed
	}
	s.closed = true
	s.data = nil
	return nil
}
