//go:build linux

package reactor

import (
	"net"

	"golang.org/x/sys/unix"

	"github.com/marmos91/vengine/internal/bufpool"
	"github.com/marmos91/vengine/pkg/buffer"
)

// outbound is a reply payload not yet fully written.
type outbound struct {
	buf []byte
	off int
}

// conn is the reactor's per-connection state. Only the I/O goroutine
// touches it.
type conn struct {
	id    uint64
	fd    int
	peer  *net.TCPAddr
	state State

	// in accumulates request bytes until they parse.
	in *buffer.FramedBuffer

	// pending holds replies behind a short write, in reply order.
	pending []outbound

	// writeArmed is set while EPOLLOUT is registered.
	writeArmed bool
}

// releasePending returns queued payloads to the pool and reports how many
// replies were discarded.
func (c *conn) releasePending() int {
	n := len(c.pending)
	for _, o := range c.pending {
		bufpool.Put(o.buf)
	}
	c.pending = nil
	return n
}

// connTag is the low half of a connection id, carried in the epoll data
// next to the fd.
func connTag(id uint64) int32 {
	return int32(uint32(id))
}

func connEvent(c *conn, events uint32) unix.EpollEvent {
	return unix.EpollEvent{Events: events, Fd: int32(c.fd), Pad: connTag(c.id)}
}
