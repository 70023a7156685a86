package testing

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/vengine/pkg/keyspace"
)

// StoreTestSuite exercises the keyspace.Store contract, independent of the
// backend.
//
// Usage:
//
//	func TestMyStore(t *testing.T) {
//	    suite := &kstesting.StoreTestSuite{
//	        NewStore: func(t *testing.T) keyspace.Store {
//	            return mystore.New()
//	        },
//	    }
//	    suite.Run(t)
//	}
type StoreTestSuite struct {
	// NewStore creates a fresh, empty store for each test.
	NewStore func(t *testing.T) keyspace.Store
}

// Run executes all tests in the suite.
func (suite *StoreTestSuite) Run(t *testing.T) {
	t.Run("Get_NotFound", suite.testGetNotFound)
	t.Run("SetGet", suite.testSetGet)
	t.Run("Set_Overwrite", suite.testSetOverwrite)
	t.Run("Set_CopiesInput", suite.testSetCopiesInput)
	t.Run("EmptyKeyAndValue", suite.testEmptyKeyAndValue)
	t.Run("Delete", suite.testDelete)
	t.Run("Exists", suite.testExists)
	t.Run("Len", suite.testLen)
	t.Run("ConcurrentAccess", suite.testConcurrentAccess)
	t.Run("CancelledContext", suite.testCancelledContext)
	t.Run("Close", suite.testClose)
}

func (suite *StoreTestSuite) newStore(t *testing.T) keyspace.Store {
	store := suite.NewStore(t)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func (suite *StoreTestSuite) testGetNotFound(t *testing.T) {
	store := suite.newStore(t)

	value, found, err := store.Get(context.Background(), []byte("missing"))
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, value)
}

func (suite *StoreTestSuite) testSetGet(t *testing.T) {
	ctx := context.Background()
	store := suite.newStore(t)

	require.NoError(t, store.Set(ctx, []byte("greeting"), []byte("hello")))

	value, found, err := store.Get(ctx, []byte("greeting"))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("hello"), value)
}

func (suite *StoreTestSuite) testSetOverwrite(t *testing.T) {
	ctx := context.Background()
	store := suite.newStore(t)

	require.NoError(t, store.Set(ctx, []byte("k"), []byte("v1")))
	require.NoError(t, store.Set(ctx, []byte("k"), []byte("v2")))

	value, _, err := store.Get(ctx, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), value)

	n, err := store.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func (suite *StoreTestSuite) testSetCopiesInput(t *testing.T) {
	ctx := context.Background()
	store := suite.newStore(t)

	key := []byte("k")
	value := []byte("original")
	require.NoError(t, store.Set(ctx, key, value))
	copy(value, "mutated!")

	got, _, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), got)

	// Mutating the returned copy must not affect the store either.
	got[0] = 'X'
	again, _, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), again)
}

func (suite *StoreTestSuite) testEmptyKeyAndValue(t *testing.T) {
	ctx := context.Background()
	store := suite.newStore(t)

	require.NoError(t, store.Set(ctx, []byte{}, []byte{}))

	value, found, err := store.Get(ctx, []byte{})
	require.NoError(t, err)
	assert.True(t, found)
	assert.Empty(t, value)
}

func (suite *StoreTestSuite) testDelete(t *testing.T) {
	ctx := context.Background()
	store := suite.newStore(t)

	require.NoError(t, store.Set(ctx, []byte("a"), []byte("1")))
	require.NoError(t, store.Set(ctx, []byte("b"), []byte("2")))

	removed, err := store.Delete(ctx, []byte("a"), []byte("a"), []byte("missing"))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, found, err := store.Get(ctx, []byte("a"))
	require.NoError(t, err)
	assert.False(t, found)

	_, found, err = store.Get(ctx, []byte("b"))
	require.NoError(t, err)
	assert.True(t, found)
}

func (suite *StoreTestSuite) testExists(t *testing.T) {
	ctx := context.Background()
	store := suite.newStore(t)

	require.NoError(t, store.Set(ctx, []byte("a"), []byte("1")))

	count, err := store.Exists(ctx, []byte("a"), []byte("a"), []byte("b"))
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = store.Exists(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func (suite *StoreTestSuite) testLen(t *testing.T) {
	ctx := context.Background()
	store := suite.newStore(t)

	for i := 0; i < 25; i++ {
		require.NoError(t, store.Set(ctx, []byte(fmt.Sprintf("key-%d", i)), []byte("v")))
	}

	n, err := store.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 25, n)

	_, err = store.Delete(ctx, []byte("key-0"))
	require.NoError(t, err)

	n, err = store.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 24, n)
}

func (suite *StoreTestSuite) testConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	store := suite.newStore(t)

	const goroutines = 8
	const perGoroutine = 50

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				key := []byte(fmt.Sprintf("g%d-%d", g, i))
				if err := store.Set(ctx, key, key); err != nil {
					t.Errorf("set %s: %v", key, err)
					return
				}
				if _, _, err := store.Get(ctx, key); err != nil {
					t.Errorf("get %s: %v", key, err)
					return
				}
			}
		}(g)
	}
	wg.Wait()

	n, err := store.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, goroutines*perGoroutine, n)
}

func (suite *StoreTestSuite) testCancelledContext(t *testing.T) {
	store := suite.newStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := store.Set(ctx, []byte("k"), []byte("v"))
	assert.ErrorIs(t, err, context.Canceled)

	_, _, err = store.Get(ctx, []byte("k"))
	assert.ErrorIs(t, err, context.Canceled)
}

func (suite *StoreTestSuite) testClose(t *testing.T) {
	ctx := context.Background()
	store := suite.NewStore(t)

	require.NoError(t, store.Close())

	_, _, err := store.Get(ctx, []byte("k"))
	assert.ErrorIs(t, err, keyspace.ErrClosed)
	assert.ErrorIs(t, store.Set(ctx, []byte("k"), []byte("v")), keyspace.ErrClosed)
	assert.ErrorIs(t, store.Close(), keyspace.ErrClosed)
}
