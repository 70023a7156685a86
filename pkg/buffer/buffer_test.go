package buffer

import (
	"bytes"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fill(t *testing.T, b *FramedBuffer, data []byte) {
	t.Helper()
	region := b.Reserve(len(data))
	require.GreaterOrEqual(t, len(region), len(data))
	copy(region, data)
	b.Commit(len(data))
}

func TestNew(t *testing.T) {
	t.Run("ValidBounds", func(t *testing.T) {
		b, err := New(16, 64)
		require.NoError(t, err)
		assert.Equal(t, 16, b.Cap())
		assert.Equal(t, 0, b.Len())
		assert.Empty(t, b.View())
	})

	t.Run("EqualBounds", func(t *testing.T) {
		_, err := New(32, 32)
		require.NoError(t, err)
	})

	t.Run("RejectsZeroMin", func(t *testing.T) {
		_, err := New(0, 64)
		require.ErrorIs(t, err, ErrInvalidBounds)
	})

	t.Run("RejectsMinAboveMax", func(t *testing.T) {
		_, err := New(128, 64)
		require.ErrorIs(t, err, ErrInvalidBounds)
	})
}

func TestReserve(t *testing.T) {
	t.Run("FitsWithoutGrowth", func(t *testing.T) {
		b, _ := New(16, 64)
		region := b.Reserve(10)
		assert.Len(t, region, 16)
		assert.Equal(t, 16, b.Cap())
	})

	t.Run("DoublesUntilHintFits", func(t *testing.T) {
		b, _ := New(16, 1024)
		fill(t, b, bytes.Repeat([]byte{'a'}, 10))

		region := b.Reserve(50)
		// 16 -> 32 -> 64: 54 bytes free
		assert.Equal(t, 64, b.Cap())
		assert.Len(t, region, 54)
		assert.Equal(t, bytes.Repeat([]byte{'a'}, 10), b.View())
	})

	t.Run("CapsAtMaxSize", func(t *testing.T) {
		b, _ := New(16, 40)
		fill(t, b, bytes.Repeat([]byte{'x'}, 16))

		region := b.Reserve(100)
		assert.Equal(t, 40, b.Cap())
		assert.Len(t, region, 24)
	})

	t.Run("SaturatedReturnsEmptyRegion", func(t *testing.T) {
		b, _ := New(8, 16)
		fill(t, b, bytes.Repeat([]byte{'x'}, 16))

		assert.True(t, b.Saturated())
		assert.Empty(t, b.Reserve(1))
		assert.Equal(t, 16, b.Cap())
	})
}

func TestCommitPanicsPastCapacity(t *testing.T) {
	b, _ := New(8, 16)
	b.Reserve(4)
	assert.Panics(t, func() { b.Commit(9) })
	assert.Panics(t, func() { b.Commit(-1) })
}

func TestDiscard(t *testing.T) {
	t.Run("ShiftsRemainderToFront", func(t *testing.T) {
		b, _ := New(8, 64)
		fill(t, b, []byte("0123456789"))

		b.Discard(3)
		assert.Equal(t, []byte("3456789"), b.View())
		assert.Equal(t, 7, b.Len())
	})

	t.Run("ShrinksToMinSizeBelowHalf", func(t *testing.T) {
		b, _ := New(16, 256)
		fill(t, b, bytes.Repeat([]byte{'z'}, 200))
		require.Equal(t, 256, b.Cap())

		// 5 bytes remain, below 16/2
		b.Discard(195)
		assert.Equal(t, 16, b.Cap())
		assert.Equal(t, bytes.Repeat([]byte{'z'}, 5), b.View())
	})

	t.Run("KeepsCapacityAtOrAboveHalf", func(t *testing.T) {
		b, _ := New(16, 256)
		fill(t, b, bytes.Repeat([]byte{'z'}, 200))

		// 8 bytes remain, exactly 16/2
		b.Discard(192)
		assert.Equal(t, 256, b.Cap())
		assert.Equal(t, 8, b.Len())
	})

	t.Run("DiscardAll", func(t *testing.T) {
		b, _ := New(16, 64)
		fill(t, b, []byte("PING"))
		b.Discard(4)
		assert.Equal(t, 0, b.Len())
		assert.Equal(t, 16, b.Cap())
	})

	t.Run("PanicsOutOfRange", func(t *testing.T) {
		b, _ := New(16, 64)
		fill(t, b, []byte("abc"))
		assert.Panics(t, func() { b.Discard(0) })
		assert.Panics(t, func() { b.Discard(4) })
	})
}

// TestBoundsHoldUnderRandomOperations drives random reserve/commit/discard
// sequences and checks capacity stays within [minSize, maxSize] and the
// occupied bytes match a reference model.
func TestBoundsHoldUnderRandomOperations(t *testing.T) {
	bounds := []struct{ min, max int }{
		{1, 1},
		{4, 64},
		{16, 1000},
		{64, 64 << 10},
	}

	for _, bd := range bounds {
		rng := rand.New(rand.NewPCG(uint64(bd.min), uint64(bd.max)))
		b, err := New(bd.min, bd.max)
		require.NoError(t, err)

		var model []byte
		for step := 0; step < 5000; step++ {
			switch rng.IntN(3) {
			case 0, 1:
				hint := rng.IntN(bd.max*2 + 1)
				region := b.Reserve(hint)
				n := 0
				if len(region) > 0 {
					n = rng.IntN(len(region) + 1)
				}
				for i := 0; i < n; i++ {
					region[i] = byte(rng.UintN(256))
				}
				model = append(model, region[:n]...)
				b.Commit(n)
			case 2:
				if b.Len() == 0 {
					continue
				}
				n := rng.IntN(b.Len()) + 1
				b.Discard(n)
				model = model[n:]
			}

			require.LessOrEqual(t, b.Cap(), bd.max, "step %d", step)
			require.GreaterOrEqual(t, b.Cap(), bd.min, "step %d", step)
			require.LessOrEqual(t, b.Len(), b.Cap(), "step %d", step)
			require.True(t, bytes.Equal(model, b.View()), "step %d: content diverged", step)
		}
	}
}
