//go:build linux

package reactor

import (
	"context"
	"errors"
	"net"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/marmos91/vengine/internal/bufpool"
	"github.com/marmos91/vengine/internal/logger"
	"github.com/marmos91/vengine/internal/ratelimiter"
	"github.com/marmos91/vengine/pkg/buffer"
	"github.com/marmos91/vengine/pkg/metrics"
	"github.com/marmos91/vengine/pkg/protocol"
	"github.com/marmos91/vengine/pkg/task"
	"github.com/marmos91/vengine/pkg/worker"
)

const maxEvents = 256

type lifecycle int

const (
	lifecycleCreated lifecycle = iota
	lifecycleServing
	lifecycleClosed
)

// Reactor is the epoll-based event loop.
//
// Thread safety:
// Deliver, Stop, Addr and ActiveConnections are safe for concurrent use.
// Everything else runs on the I/O goroutine inside Serve.
type Reactor struct {
	cfg        Config
	registry   *task.Registry
	dispatcher Dispatcher
	log        *logger.Logger
	metrics    metrics.RESPMetrics
	limiter    *ratelimiter.Limiter

	parser     protocol.Parser
	serializer protocol.Serializer

	epfd     int
	listenFD int
	stopFD   int
	wakeFD   int
	addr     *net.TCPAddr

	// I/O goroutine only.
	conns  map[int]*conn
	byID   map[uint64]*conn
	nextID uint64

	// mu guards state and replies, and serializes eventfd writes against
	// teardown closing them.
	mu       sync.Mutex
	state    lifecycle
	released bool // closed by Stop before Serve
	replies  []worker.Reply

	active atomic.Int32
	done   chan struct{}
}

// New binds the listening socket and prepares the event loop. Bind and
// listen failures are returned here, before Serve.
func New(cfg Config, opts Options) (*Reactor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}

	parser, err := protocol.NewParser(cfg.Protocol)
	if err != nil {
		return nil, err
	}
	serializer, err := protocol.NewSerializer(cfg.Protocol)
	if err != nil {
		return nil, err
	}

	r := &Reactor{
		cfg:        cfg,
		registry:   opts.Registry,
		dispatcher: opts.Dispatcher,
		log:        opts.Logger.Named("reactor"),
		metrics:    opts.Metrics,
		limiter:    opts.AcceptLimiter,
		parser:     parser,
		serializer: serializer,
		epfd:       -1,
		listenFD:   -1,
		stopFD:     -1,
		wakeFD:     -1,
		conns:      make(map[int]*conn),
		byID:       make(map[uint64]*conn),
		done:       make(chan struct{}),
	}
	if err := r.setup(); err != nil {
		r.closeFDs()
		return nil, err
	}

	return r, nil
}

func (r *Reactor) setup() error {
	var err error

	if r.epfd, err = unix.EpollCreate1(unix.EPOLL_CLOEXEC); err != nil {
		return err
	}
	if r.stopFD, err = newEventFD(); err != nil {
		return err
	}
	if r.wakeFD, err = newEventFD(); err != nil {
		return err
	}
	if r.listenFD, r.addr, err = listenTCP(r.cfg.Host, r.cfg.Port, r.cfg.Backlog); err != nil {
		return err
	}

	for _, fd := range []int{r.stopFD, r.wakeFD, r.listenFD} {
		ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
		if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
			return err
		}
	}
	return nil
}

// Addr returns the bound listening address.
func (r *Reactor) Addr() *net.TCPAddr {
	return r.addr
}

// ActiveConnections returns the number of open connections.
func (r *Reactor) ActiveConnections() int32 {
	return r.active.Load()
}

// Done is closed once the loop has exited and every socket is closed.
func (r *Reactor) Done() <-chan struct{} {
	return r.done
}

// Serve runs the event loop on the calling goroutine until Stop is called
// or ctx is cancelled. It returns nil on a requested shutdown.
func (r *Reactor) Serve(ctx context.Context) error {
	r.mu.Lock()
	switch r.state {
	case lifecycleServing:
		r.mu.Unlock()
		return ErrAlreadyServing
	case lifecycleClosed:
		released := r.released
		r.mu.Unlock()
		if released {
			return ErrClosed
		}
		return ErrAlreadyServing
	}
	r.state = lifecycleServing
	r.mu.Unlock()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	go func() {
		select {
		case <-ctx.Done():
			r.log.Debug("Reactor context done: %v", ctx.Err())
			r.Stop()
		case <-r.done:
		}
	}()

	r.log.Info("Reactor listening on %s", r.addr)
	err := r.loop()

	r.teardown()
	close(r.done)
	r.log.Info("Reactor stopped")
	return err
}

// Stop requests shutdown. It returns immediately; wait on Done or for
// Serve to return. On a reactor that never served, Stop releases its
// sockets directly. Safe to call more than once.
func (r *Reactor) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case lifecycleCreated:
		r.state = lifecycleClosed
		r.released = true
		r.closeFDs()
		close(r.done)
	case lifecycleServing:
		if err := signalEventFD(r.stopFD); err != nil {
			r.log.Error("Failed to signal reactor stop: %v", err)
		}
	}
}

// Deliver queues a reply for its connection and wakes the loop. Called by
// workers. Replies delivered after shutdown are dropped.
func (r *Reactor) Deliver(reply worker.Reply) {
	r.mu.Lock()
	if r.state == lifecycleClosed {
		r.mu.Unlock()
		bufpool.Put(reply.Payload)
		r.metrics.RecordReplyDropped(metrics.DropReasonClosed)
		return
	}

	// A non-empty queue already has a wake pending.
	wasEmpty := len(r.replies) == 0
	r.replies = append(r.replies, reply)
	if wasEmpty {
		if err := signalEventFD(r.wakeFD); err != nil {
			r.log.Error("Failed to wake reactor: %v", err)
		}
	}
	r.mu.Unlock()
}

func (r *Reactor) loop() error {
	events := make([]unix.EpollEvent, maxEvents)

	for {
		n, err := unix.EpollWait(r.epfd, events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			r.log.Error("epoll_wait failed: %v", err)
			return err
		}

		stopping := false
		for i := 0; i < n; i++ {
			ev := events[i]
			fd := int(ev.Fd)

			switch fd {
			case r.stopFD:
				drainEventFD(r.stopFD)
				stopping = true
			case r.wakeFD:
				drainEventFD(r.wakeFD)
				r.drainReplies()
			case r.listenFD:
				r.acceptAll()
			default:
				r.handleConnEvent(ev)
			}
		}

		if stopping {
			r.log.Debug("Reactor stop signal received")
			return nil
		}
	}
}

// handleConnEvent ignores events whose tag does not match the connection
// now holding the fd: it was closed and the fd reused within one batch.
func (r *Reactor) handleConnEvent(ev unix.EpollEvent) {
	c, ok := r.conns[int(ev.Fd)]
	if !ok || ev.Pad != connTag(c.id) {
		return
	}

	events := ev.Events

	if events&(unix.EPOLLIN|unix.EPOLLRDHUP|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
		r.handleRead(c)
	}
	if c.state == StateOpen && events&unix.EPOLLOUT != 0 {
		r.flush(c)
	}
}

// acceptAll drains the listener's accept queue.
func (r *Reactor) acceptAll() {
	for {
		nfd, sa, err := unix.Accept4(r.listenFD, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			switch err {
			case unix.EAGAIN:
				return
			case unix.EINTR, unix.ECONNABORTED:
				continue
			default:
				r.log.Warn("Error accepting connection: %v", err)
				return
			}
		}

		peer := sockaddrToTCP(sa)

		if !r.limiter.Admit() {
			_ = unix.Close(nfd)
			r.metrics.RecordConnectionRejected(metrics.RejectReasonRate)
			r.log.Debug("Connection from %s rejected: accept rate exceeded", peer)
			continue
		}
		if r.cfg.MaxConnections > 0 && len(r.conns) >= r.cfg.MaxConnections {
			_ = unix.Close(nfd)
			r.metrics.RecordConnectionRejected(metrics.RejectReasonLimit)
			r.log.Warn("Connection from %s rejected: limit of %d reached", peer, r.cfg.MaxConnections)
			continue
		}

		r.open(nfd, peer)
	}
}

func (r *Reactor) open(fd int, peer *net.TCPAddr) {
	in, err := buffer.New(r.cfg.ReadBufferMin, r.cfg.ReadBufferMax)
	if err != nil {
		// Bounds were validated in New.
		_ = unix.Close(fd)
		r.log.Error("Failed to allocate read buffer: %v", err)
		return
	}

	r.nextID++
	c := &conn{
		id:    r.nextID,
		fd:    fd,
		peer:  peer,
		state: StateConnecting,
		in:    in,
	}

	if err := configureConn(fd, r.cfg.NoDelay, r.cfg.KeepAlive); err != nil {
		r.log.Debug("Connection %d: socket options: %v", c.id, err)
	}

	ev := connEvent(c, unix.EPOLLIN|unix.EPOLLRDHUP)
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		_ = unix.Close(fd)
		r.log.Error("Connection %d: epoll registration failed: %v", c.id, err)
		return
	}

	c.state = StateOpen
	r.conns[fd] = c
	r.byID[c.id] = c

	active := r.active.Add(1)
	r.metrics.RecordConnectionAccepted()
	r.metrics.SetActiveConnections(active)
	r.log.Debug("Connection %d accepted from %s (active: %d)", c.id, peer, active)
}

// handleRead performs one read and dispatches whatever parses.
func (r *Reactor) handleRead(c *conn) {
	region := c.in.Reserve(r.cfg.ReadChunkSize)
	if len(region) == 0 {
		r.log.Warn("Connection %d: request exceeds read buffer limit of %d bytes", c.id, c.in.MaxSize())
		r.closeConn(c, "read buffer saturated")
		return
	}

	var n int
	var err error
	for {
		n, err = unix.Read(c.fd, region)
		if err != unix.EINTR {
			break
		}
	}

	switch {
	case err == unix.EAGAIN:
		return
	case err != nil:
		r.closeConn(c, "read error: "+err.Error())
		return
	case n == 0:
		r.closeConn(c, "end of stream")
		return
	}

	c.in.Commit(n)
	r.metrics.RecordBytesTransferred("read", uint64(n))

	r.dispatch(c)
}

// dispatch parses the buffered bytes and submits the complete commands as
// one work item.
func (r *Reactor) dispatch(c *conn) {
	cmds, consumed, err := r.parser.Parse(c.in.View())
	if err != nil {
		r.metrics.RecordProtocolError()
		r.log.Warn("Connection %d from %s: %v", c.id, c.peer, err)
		r.closeConn(c, "protocol error")
		return
	}

	if consumed > 0 {
		c.in.Discard(consumed)
	}
	if len(cmds) == 0 {
		return
	}

	for _, cmd := range cmds {
		r.metrics.RecordCommand(r.commandLabel(cmd.Name))
	}

	item := worker.WorkItem{
		ConnID:     c.id,
		Tasks:      r.registry.BuildAll(cmds),
		Serializer: r.serializer,
	}

	if err := r.dispatcher.Submit(item); err != nil {
		if errors.Is(err, worker.ErrPoolStopped) {
			r.metrics.RecordReplyDropped(metrics.DropReasonPoolStopped)
			r.log.Warn("Connection %d: worker pool stopped, %d command(s) dropped", c.id, len(cmds))
			return
		}
		r.log.Error("Connection %d: submit failed: %v", c.id, err)
	}
}

func (r *Reactor) commandLabel(name string) string {
	if r.registry.Has(name) {
		return strings.ToLower(name)
	}
	return "unknown"
}

// drainReplies swaps the reply queue out under the lock and writes each
// reply outside it.
func (r *Reactor) drainReplies() {
	r.mu.Lock()
	batch := r.replies
	r.replies = nil
	r.mu.Unlock()

	for _, reply := range batch {
		c, ok := r.byID[reply.ConnID]
		if !ok || c.state != StateOpen {
			bufpool.Put(reply.Payload)
			r.metrics.RecordReplyDropped(metrics.DropReasonClosed)
			r.log.Debug("Reply for closed connection %d dropped", reply.ConnID)
			continue
		}
		r.send(c, reply.Payload)
	}
}

// send writes payload, queueing any remainder behind a short write.
func (r *Reactor) send(c *conn, payload []byte) {
	if len(c.pending) > 0 {
		c.pending = append(c.pending, outbound{buf: payload})
		return
	}

	n, err := r.write(c, payload)
	if err != nil {
		bufpool.Put(payload)
		r.closeConn(c, "write error: "+err.Error())
		return
	}
	if n == len(payload) {
		bufpool.Put(payload)
		return
	}

	c.pending = append(c.pending, outbound{buf: payload, off: n})
	r.armWrite(c, true)
}

// flush writes queued replies after EPOLLOUT.
func (r *Reactor) flush(c *conn) {
	for len(c.pending) > 0 {
		head := &c.pending[0]

		n, err := r.write(c, head.buf[head.off:])
		if err != nil {
			r.closeConn(c, "write error: "+err.Error())
			return
		}
		head.off += n
		if head.off < len(head.buf) {
			return
		}

		bufpool.Put(head.buf)
		c.pending[0] = outbound{}
		c.pending = c.pending[1:]
	}

	c.pending = nil
	r.armWrite(c, false)
}

// write performs non-blocking writes until p is sent or the socket is
// full. EAGAIN is not an error: it returns the bytes written so far.
func (r *Reactor) write(c *conn, p []byte) (int, error) {
	written := 0
	for written < len(p) {
		n, err := unix.Write(c.fd, p[written:])
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			break
		}
		if err != nil {
			return written, err
		}
		written += n
	}

	if written > 0 {
		r.metrics.RecordBytesTransferred("write", uint64(written))
	}
	return written, nil
}

func (r *Reactor) armWrite(c *conn, on bool) {
	if c.writeArmed == on {
		return
	}

	events := uint32(unix.EPOLLIN | unix.EPOLLRDHUP)
	if on {
		events |= unix.EPOLLOUT
	}

	ev := connEvent(c, events)
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, c.fd, &ev); err != nil {
		r.closeConn(c, "epoll modify failed: "+err.Error())
		return
	}
	c.writeArmed = on
}

// closeConn moves c through Closing to Closed and forgets it.
func (r *Reactor) closeConn(c *conn, reason string) {
	if c.state == StateClosing || c.state == StateClosed {
		return
	}
	c.state = StateClosing

	_ = unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, c.fd, nil)
	if err := unix.Close(c.fd); err != nil {
		r.log.Debug("Connection %d: close: %v", c.id, err)
	}

	delete(r.conns, c.fd)
	delete(r.byID, c.id)
	for i := c.releasePending(); i > 0; i-- {
		r.metrics.RecordReplyDropped(metrics.DropReasonClosed)
	}
	c.state = StateClosed

	active := r.active.Add(-1)
	r.metrics.RecordConnectionClosed()
	r.metrics.SetActiveConnections(active)
	r.log.Debug("Connection %d from %s closed: %s (active: %d)", c.id, c.peer, reason, active)
}

// teardown closes every connection and descriptor. Runs on the I/O
// goroutine after the loop returns.
func (r *Reactor) teardown() {
	for _, c := range r.conns {
		r.closeConn(c, "shutdown")
	}

	r.mu.Lock()
	r.state = lifecycleClosed
	pending := r.replies
	r.replies = nil
	r.closeFDs()
	r.mu.Unlock()

	for _, reply := range pending {
		bufpool.Put(reply.Payload)
		r.metrics.RecordReplyDropped(metrics.DropReasonClosed)
	}
}

func (r *Reactor) closeFDs() {
	for _, fd := range []*int{&r.listenFD, &r.wakeFD, &r.stopFD, &r.epfd} {
		if *fd >= 0 {
			_ = unix.Close(*fd)
			*fd = -1
		}
	}
}
