// Package buffer implements the growable per-connection read buffer.
//
// A FramedBuffer accumulates raw socket reads until the protocol parser can
// consume whole requests from the front. It owns one contiguous byte store
// whose capacity stays within [minSize, maxSize]:
//
//   - Reserve grows the store geometrically (doubling, capped at maxSize)
//     when the unused tail cannot hold the requested read.
//   - Discard shifts unconsumed bytes to the front. When fewer than
//     minSize/2 bytes remain, the store is replaced by a fresh minSize
//     store so a single oversized request does not keep per-connection
//     memory inflated.
//
// Typical read cycle:
//
//	region := buf.Reserve(64 << 10)
//	n, err := unix.Read(fd, region)
//	buf.Commit(n)
//	cmds, consumed, err := parser.Parse(buf.View())
//	if consumed > 0 {
//	    buf.Discard(consumed)
//	}
//
// Thread safety:
// A FramedBuffer is not safe for concurrent use. The reactor's I/O
// goroutine is its only user.
package buffer

import (
	"errors"
	"fmt"
)

// ErrInvalidBounds is returned by New when minSize/maxSize are unusable.
var ErrInvalidBounds = errors.New("invalid buffer bounds")

// FramedBuffer is a growable byte buffer with bounded capacity.
type FramedBuffer struct {
	minSize int
	maxSize int

	// size is the number of occupied bytes at the front of buf.
	size int

	// buf's length is the store capacity; bytes past size are writable.
	buf []byte
}

// New creates a FramedBuffer with an initial store of minSize bytes.
// Requires 0 < minSize <= maxSize.
func New(minSize, maxSize int) (*FramedBuffer, error) {
	if minSize <= 0 || minSize > maxSize {
		return nil, fmt.Errorf("%w: min=%d max=%d (need 0 < min <= max)", ErrInvalidBounds, minSize, maxSize)
	}

	return &FramedBuffer{
		minSize: minSize,
		maxSize: maxSize,
		buf:     make([]byte, minSize),
	}, nil
}

// Reserve returns the writable region directly after the occupied bytes,
// growing the store if fewer than hint bytes are free.
//
// The region is at least hint bytes unless maxSize has been reached, in
// which case it is whatever remains and may be empty. An empty region
// means the buffer is saturated: the caller must stop reading from the
// connection or reject it.
//
// The region is only valid until the next Reserve or Discard.
func (b *FramedBuffer) Reserve(hint int) []byte {
	remain := b.growIfNeeded(hint)
	return b.buf[b.size : b.size+remain]
}

// Commit marks n bytes of the last reserved region as occupied.
// Writing past the store is a programming error and panics.
func (b *FramedBuffer) Commit(n int) {
	if n < 0 || b.size+n > len(b.buf) {
		panic(fmt.Sprintf("buffer: commit %d bytes exceeds capacity (size=%d cap=%d)", n, b.size, len(b.buf)))
	}
	b.size += n
}

// View returns the occupied bytes. The slice aliases the store and is only
// valid until the next Reserve or Discard.
func (b *FramedBuffer) View() []byte {
	return b.buf[:b.size]
}

// Discard drops the first n occupied bytes and compacts the store.
// Requires 0 < n <= Len(); violations panic.
func (b *FramedBuffer) Discard(n int) {
	if n <= 0 || n > b.size {
		panic(fmt.Sprintf("buffer: discard %d bytes out of range (size=%d)", n, b.size))
	}

	remaining := b.size - n
	if remaining < b.minSize/2 {
		fresh := make([]byte, b.minSize)
		copy(fresh, b.buf[n:b.size])
		b.buf = fresh
	} else {
		copy(b.buf, b.buf[n:b.size])
	}
	b.size = remaining
}

// Len returns the number of occupied bytes.
func (b *FramedBuffer) Len() int {
	return b.size
}

// Cap returns the current store capacity.
func (b *FramedBuffer) Cap() int {
	return len(b.buf)
}

// MinSize returns the configured lower capacity bound.
func (b *FramedBuffer) MinSize() int {
	return b.minSize
}

// MaxSize returns the configured upper capacity bound.
func (b *FramedBuffer) MaxSize() int {
	return b.maxSize
}

// Saturated reports whether the store is at maxSize and completely full.
func (b *FramedBuffer) Saturated() bool {
	return len(b.buf) >= b.maxSize && b.size == len(b.buf)
}

// growIfNeeded doubles the store until hint bytes are free or maxSize is
// hit, and returns the number of free bytes afterwards.
func (b *FramedBuffer) growIfNeeded(hint int) int {
	capacity := len(b.buf)
	remain := capacity - b.size

	for remain < hint {
		if capacity >= b.maxSize {
			break
		}

		capacity *= 2
		if capacity > b.maxSize {
			capacity = b.maxSize
		}
		remain = capacity - b.size
	}

	if capacity > len(b.buf) {
		grown := make([]byte, capacity)
		copy(grown, b.buf[:b.size])
		b.buf = grown
	}

	return remain
}
