// Package bufpool provides size-classed reusable byte slices for reply
// payloads.
//
// Workers take a buffer, append serialized replies to it and hand it to the
// reactor inside a Reply. The reactor returns it with Put once every byte
// has reached the socket. Most replies are a handful of bytes (+PONG, :1),
// bulk replies for stored values can be larger.
//
// Thread Safety:
// All operations are safe for concurrent use (backed by sync.Pool).
package bufpool

import (
	"sync"
)

const (
	// smallBufferSize covers status, integer and short bulk replies.
	smallBufferSize = 4 << 10 // 4KB

	// mediumBufferSize covers pipelined batches and moderate bulk values.
	mediumBufferSize = 64 << 10 // 64KB

	// largeBufferSize covers large bulk values.
	largeBufferSize = 1 << 20 // 1MB
)

type bufferPool struct {
	small  sync.Pool
	medium sync.Pool
	large  sync.Pool
}

var globalBufferPool = &bufferPool{
	small: sync.Pool{
		New: func() any {
			buf := make([]byte, 0, smallBufferSize)
			return &buf
		},
	},
	medium: sync.Pool{
		New: func() any {
			buf := make([]byte, 0, mediumBufferSize)
			return &buf
		},
	},
	large: sync.Pool{
		New: func() any {
			buf := make([]byte, 0, largeBufferSize)
			return &buf
		},
	},
}

// get returns an empty slice with capacity of at least size.
// Requests above largeBufferSize are allocated directly and never pooled.
func (p *bufferPool) get(size int) []byte {
	var bufPtr *[]byte

	switch {
	case size <= smallBufferSize:
		bufPtr = p.small.Get().(*[]byte)
	case size <= mediumBufferSize:
		bufPtr = p.medium.Get().(*[]byte)
	case size <= largeBufferSize:
		bufPtr = p.large.Get().(*[]byte)
	default:
		return make([]byte, 0, size)
	}

	return (*bufPtr)[:0]
}

// put recycles buf if its capacity matches a size class exactly. Slices that
// grew past their class through append are left to the garbage collector.
func (p *bufferPool) put(buf []byte) {
	if buf == nil {
		return
	}

	empty := buf[:0]
	switch cap(buf) {
	case smallBufferSize:
		p.small.Put(&empty)
	case mediumBufferSize:
		p.medium.Put(&empty)
	case largeBufferSize:
		p.large.Put(&empty)
	}
}

// Get returns a zero-length slice with capacity of at least size.
//
// Usage:
//
//	buf := bufpool.Get(0)
//	buf = append(buf, "+PONG\r\n"...)
//	// ... hand buf off, the final owner calls Put ...
func Get(size int) []byte {
	return globalBufferPool.get(size)
}

// Put returns a buffer obtained from Get. buf must not be used afterwards.
func Put(buf []byte) {
	globalBufferPool.put(buf)
}
