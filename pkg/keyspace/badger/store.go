package badger

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/marmos91/vengine/internal/logger"
	"github.com/marmos91/vengine/pkg/keyspace"
)

// Keys are stored under a prefix so the empty user key maps to a non-empty
// badger key (badger rejects empty keys).
//
// Key Namespace:
//
//	"k:" + <user key>  -> value
var keyPrefix = []byte("k:")

// Config holds the badger keyspace options.
type Config struct {
	// IndexCacheMB is badger's index cache size in MB (default: 16).
	IndexCacheMB int64 `mapstructure:"index_cache_mb"`

	// BlockCacheMB is badger's block cache size in MB (default: 32).
	BlockCacheMB int64 `mapstructure:"block_cache_mb"`

	// NumVersionsToKeep is how many versions of a key badger retains
	// (default: 1).
	NumVersionsToKeep int `mapstructure:"num_versions_to_keep"`
}

// Store is a keyspace backed by an in-memory BadgerDB instance.
//
// The database never touches disk: it is opened with WithInMemory(true) and
// its contents are lost on Close.
type Store struct {
	db     *badger.DB
	closed atomic.Bool
}

var _ keyspace.Store = (*Store)(nil)

// New opens an in-memory badger keyspace.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	indexCacheMB := cfg.IndexCacheMB
	if indexCacheMB == 0 {
		indexCacheMB = 16
	}
	blockCacheMB := cfg.BlockCacheMB
	if blockCacheMB == 0 {
		blockCacheMB = 32
	}
	versions := cfg.NumVersionsToKeep
	if versions == 0 {
		versions = 1
	}

	opts := badger.DefaultOptions("").
		WithInMemory(true).
		WithLogger(badgerLogger{log: logger.Default().Named("badger")}).
		WithLoggingLevel(badger.WARNING).
		WithCompression(options.None).
		WithNumVersionsToKeep(versions).
		WithIndexCacheSize(indexCacheMB << 20).
		WithBlockCacheSize(blockCacheMB << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory BadgerDB: %w", err)
	}

	return &Store{db: db}, nil
}

func dbKey(key []byte) []byte {
	k := make([]byte, 0, len(keyPrefix)+len(key))
	k = append(k, keyPrefix...)
	return append(k, key...)
}

func (s *Store) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed.Load() {
		return keyspace.ErrClosed
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	if err := s.check(ctx); err != nil {
		return nil, false, err
	}

	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(dbKey(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get: %w", err)
	}

	if value == nil {
		value = []byte{}
	}
	return value, true, nil
}

func (s *Store) Set(ctx context.Context, key, value []byte) error {
	if err := s.check(ctx); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(dbKey(key), append([]byte(nil), value...))
	})
	if err != nil {
		return fmt.Errorf("set: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, keys ...[]byte) (int, error) {
	if err := s.check(ctx); err != nil {
		return 0, err
	}

	removed := 0
	err := s.db.Update(func(txn *badger.Txn) error {
		removed = 0
		for _, key := range keys {
			k := dbKey(key)

			// Pending deletes in this txn read as not found, so a key
			// repeated in keys is only counted once.
			_, err := txn.Get(k)
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}

			if err := txn.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("delete: %w", err)
	}
	return removed, nil
}

func (s *Store) Exists(ctx context.Context, keys ...[]byte) (int, error) {
	if err := s.check(ctx); err != nil {
		return 0, err
	}

	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		for _, key := range keys {
			_, err := txn.Get(dbKey(key))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("exists: %w", err)
	}
	return count, nil
}

func (s *Store) Len(ctx context.Context) (int, error) {
	if err := s.check(ctx); err != nil {
		return 0, err
	}

	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = keyPrefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("len: %w", err)
	}
	return count, nil
}

// Close shuts the database down; all keys are discarded.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return keyspace.ErrClosed
	}
	return s.db.Close()
}

// badgerLogger routes badger's internal logging through the process logger.
type badgerLogger struct {
	log *logger.Logger
}

func (l badgerLogger) Errorf(format string, args ...any)   { l.log.Error(format, args...) }
func (l badgerLogger) Warningf(format string, args ...any) { l.log.Warn(format, args...) }
func (l badgerLogger) Infof(format string, args ...any)    { l.log.Info(format, args...) }
func (l badgerLogger) Debugf(format string, args ...any)   { l.log.Debug(format, args...) }
