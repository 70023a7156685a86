// Package reactor implements the single-threaded network event loop.
//
// One I/O goroutine, pinned to its OS thread, owns the listening socket,
// every accepted socket, the connection table and each connection's read
// buffer. It blocks only in the platform readiness wait and reacts to four
// kinds of events:
//
//   - listener readable: accept, assign a fresh connection id, register
//   - connection readable: read into the FramedBuffer, parse, build tasks,
//     submit one WorkItem per read to the worker pool
//   - wake signal: drain the reply queue and write each reply to its
//     connection, dropping replies whose connection is gone
//   - stop signal: close every socket and return
//
// Two hand-offs cross goroutines and nothing else does: WorkItems move to
// the pool through Dispatcher.Submit, and Replies move back through
// Deliver, which appends to a mutex-guarded queue and raises the wake
// signal. Workers never touch sockets.
//
// Connection lifecycle:
//
//	Connecting -> Open -> Closing -> Closed
//
// Open becomes Closing on end-of-stream, on a protocol error (no reply is
// sent) or on any read/write error. Closed connections are removed from
// the table; replies that arrive for them later are dropped silently.
//
// The implementation uses epoll and eventfd and is Linux only. On other
// platforms New returns ErrUnsupportedPlatform.
package reactor

import (
	"errors"
	"fmt"
	"time"

	"github.com/marmos91/vengine/internal/logger"
	"github.com/marmos91/vengine/internal/ratelimiter"
	"github.com/marmos91/vengine/pkg/buffer"
	"github.com/marmos91/vengine/pkg/metrics"
	"github.com/marmos91/vengine/pkg/protocol"
	"github.com/marmos91/vengine/pkg/task"
	"github.com/marmos91/vengine/pkg/worker"
)

var (
	// ErrUnsupportedPlatform is returned by New where epoll is unavailable.
	ErrUnsupportedPlatform = errors.New("reactor requires linux (epoll)")

	// ErrAlreadyServing is returned by Serve when the loop is running or
	// already ran.
	ErrAlreadyServing = errors.New("reactor already serving")

	// ErrClosed is returned by Serve after Stop released a reactor that
	// never served.
	ErrClosed = errors.New("reactor closed")
)

// Config holds the listening endpoint and per-connection buffer settings.
// The reactor applies no defaults: every field is supplied by the caller.
type Config struct {
	// Host to bind. Empty binds all IPv4 interfaces.
	Host string

	// Port to bind. 0 picks an ephemeral port (see Addr).
	Port int

	// Backlog is the listen(2) accept queue length.
	Backlog int

	// KeepAlive is the TCP keepalive idle time and probe interval.
	// 0 disables keepalive.
	KeepAlive time.Duration

	// NoDelay disables Nagle's algorithm on accepted sockets.
	NoDelay bool

	// ReadBufferMin and ReadBufferMax bound each connection's
	// FramedBuffer capacity.
	ReadBufferMin int
	ReadBufferMax int

	// ReadChunkSize is the number of bytes requested per read.
	ReadChunkSize int

	// MaxConnections caps open connections. Connections accepted beyond
	// the cap are closed immediately. 0 means unlimited.
	MaxConnections int

	// Protocol selects the parser and serializer.
	Protocol protocol.Type
}

// Validate checks Config for values the reactor cannot run with.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be 0-65535", c.Port)
	}
	if c.Backlog <= 0 {
		return fmt.Errorf("invalid backlog %d: must be > 0", c.Backlog)
	}
	if c.KeepAlive < 0 {
		return fmt.Errorf("invalid keepalive %v: must be >= 0", c.KeepAlive)
	}
	if c.ReadBufferMin <= 0 || c.ReadBufferMin > c.ReadBufferMax {
		return fmt.Errorf("%w: read_buffer_min=%d read_buffer_max=%d",
			buffer.ErrInvalidBounds, c.ReadBufferMin, c.ReadBufferMax)
	}
	if c.ReadChunkSize <= 0 {
		return fmt.Errorf("invalid read chunk size %d: must be > 0", c.ReadChunkSize)
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("invalid max connections %d: must be >= 0", c.MaxConnections)
	}
	return nil
}

// Dispatcher accepts work items from the I/O goroutine. *worker.Pool
// implements it.
type Dispatcher interface {
	Submit(item worker.WorkItem) error
}

// Options are the reactor's collaborators.
type Options struct {
	// Registry builds tasks from parsed commands. Required.
	Registry *task.Registry

	// Dispatcher executes work items. Required.
	Dispatcher Dispatcher

	// Logger receives reactor diagnostics. nil uses logger.Default().
	Logger *logger.Logger

	// Metrics records connection and traffic statistics. nil disables
	// metrics.
	Metrics metrics.RESPMetrics

	// AcceptLimiter throttles accepted connections. nil admits all.
	AcceptLimiter *ratelimiter.Limiter
}

func (o *Options) validate() error {
	if o.Registry == nil {
		return errors.New("reactor requires a task registry")
	}
	if o.Dispatcher == nil {
		return errors.New("reactor requires a dispatcher")
	}
	if o.Logger == nil {
		o.Logger = logger.Default()
	}
	if o.Metrics == nil {
		o.Metrics = metrics.NewNoopRESPMetrics()
	}
	return nil
}

// State is a connection's lifecycle stage.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}
