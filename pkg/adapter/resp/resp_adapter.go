package resp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/vengine/internal/logger"
	"github.com/marmos91/vengine/internal/ratelimiter"
	"github.com/marmos91/vengine/pkg/keyspace"
	"github.com/marmos91/vengine/pkg/metrics"
	"github.com/marmos91/vengine/pkg/protocol"
	_ "github.com/marmos91/vengine/pkg/protocol/resp"
	"github.com/marmos91/vengine/pkg/reactor"
	"github.com/marmos91/vengine/pkg/task"
	"github.com/marmos91/vengine/pkg/worker"
)

// RESPAdapter implements the adapter.Adapter interface for the RESP
// command protocol.
//
// Architecture:
// The adapter assembles three pieces at Serve time and owns their
// lifecycles:
//   - a task.Registry with the built-in commands plus the keyspace
//     commands when a keyspace was injected
//   - a worker.Pool executing work items off the I/O goroutine
//   - a reactor.Reactor owning every socket
//
// Replies flow from the pool back into the reactor through a SinkFunc that
// calls Reactor.Deliver.
//
// Shutdown flow:
//  1. Context cancelled or Stop() called
//  2. Reactor stops: listener and every connection closed
//  3. Pool stops: queued work items finish, their replies are dropped
//  4. Wait for the workers (up to ShutdownTimeout)
//
// Thread safety:
// All methods are safe for concurrent use. The shutdown mechanism uses
// sync.Once to ensure idempotent behavior even if Stop() is called
// multiple times.
type RESPAdapter struct {
	config RESPConfig

	// protocolType is the parsed config.Protocol.
	protocolType protocol.Type

	store   keyspace.Store
	metrics metrics.RESPMetrics
	log     *logger.Logger

	// mu guards reactor, which exists only while serving.
	mu      sync.Mutex
	reactor *reactor.Reactor

	// boundPort is the listening port once the reactor is bound.
	boundPort atomic.Int32

	// ready is closed once the listener is bound.
	ready chan struct{}

	// shutdownOnce ensures shutdown is only initiated once
	shutdownOnce sync.Once

	// shutdown signals that graceful shutdown has been initiated
	shutdown chan struct{}

	// served is closed when Serve returns.
	served chan struct{}
}

// RESPConfig holds configuration parameters for the RESP adapter.
//
// Default values (applied by New if zero):
//   - Host: 127.0.0.1
//   - Backlog: 512
//   - KeepAlive: 30s
//   - Workers: 3
//   - ReadBufferMin: 64KiB
//   - ReadBufferMax: 20MiB
//   - ReadChunkSize: 64KiB
//   - Protocol: resp
//   - ShutdownTimeout: 30s
//   - MetricsLogInterval: 5m
//
// Port is left alone so that 0 binds an ephemeral port; pkg/config
// defaults it to 7777. NoDelay and Enabled also default to true in
// pkg/config, so that an explicit false in a configuration file survives.
type RESPConfig struct {
	// Enabled controls whether the RESP adapter is active.
	Enabled bool `mapstructure:"enabled"`

	// Host is the interface to bind. Empty binds all IPv4 interfaces.
	Host string `mapstructure:"host" validate:"omitempty,ip|hostname"`

	// Port is the TCP port to listen on. 0 picks an ephemeral port.
	Port int `mapstructure:"port" validate:"min=0,max=65535"`

	// Backlog is the listen(2) accept queue length.
	Backlog int `mapstructure:"backlog" validate:"min=0"`

	// KeepAlive is the TCP keepalive idle time and probe interval.
	KeepAlive time.Duration `mapstructure:"keepalive" validate:"min=0"`

	// NoDelay disables Nagle's algorithm on accepted sockets.
	NoDelay bool `mapstructure:"no_delay"`

	// Workers is the number of worker goroutines executing commands.
	Workers int `mapstructure:"workers" validate:"min=0"`

	// ReadBufferMin and ReadBufferMax bound each connection's read buffer.
	// A request that does not fit in ReadBufferMax closes the connection.
	ReadBufferMin int `mapstructure:"read_buffer_min" validate:"min=0"`
	ReadBufferMax int `mapstructure:"read_buffer_max" validate:"min=0"`

	// ReadChunkSize is the number of bytes requested per socket read.
	ReadChunkSize int `mapstructure:"read_chunk_size" validate:"min=0"`

	// MaxConnections limits concurrent client connections. Connections
	// beyond the limit are closed right after accept. 0 means unlimited.
	MaxConnections int `mapstructure:"max_connections" validate:"min=0"`

	// AcceptRate limits accepted connections per second. 0 means unlimited.
	AcceptRate uint `mapstructure:"accept_rate"`

	// AcceptBurst is the number of connections accepted back to back before
	// AcceptRate applies. 0 means AcceptRate.
	AcceptBurst uint `mapstructure:"accept_burst"`

	// Protocol selects the wire protocol. Only "resp" is supported.
	Protocol string `mapstructure:"protocol" validate:"omitempty,oneof=resp"`

	// ShutdownTimeout is the maximum duration to wait for the workers to
	// finish queued commands during graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0"`

	// MetricsLogInterval is the interval at which to log adapter metrics.
	// 0 disables periodic metrics logging.
	MetricsLogInterval time.Duration `mapstructure:"metrics_log_interval" validate:"min=0"`
}

// applyDefaults fills in zero values with sensible defaults.
func (c *RESPConfig) applyDefaults() {
	// Enabled and NoDelay defaults live in pkg/config.

	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.Backlog <= 0 {
		c.Backlog = 512
	}
	if c.KeepAlive == 0 {
		c.KeepAlive = 30 * time.Second
	}
	if c.Workers <= 0 {
		c.Workers = 3
	}
	if c.ReadBufferMin <= 0 {
		c.ReadBufferMin = 64 * 1024
	}
	if c.ReadBufferMax <= 0 {
		c.ReadBufferMax = 20 * 1024 * 1024
	}
	if c.ReadChunkSize <= 0 {
		c.ReadChunkSize = 64 * 1024
	}
	if c.Protocol == "" {
		c.Protocol = protocol.RESP.String()
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	if c.MetricsLogInterval == 0 {
		c.MetricsLogInterval = 5 * time.Minute
	}
}

// reactorConfig maps the adapter configuration onto the reactor's.
func (c *RESPConfig) reactorConfig(t protocol.Type) reactor.Config {
	return reactor.Config{
		Host:           c.Host,
		Port:           c.Port,
		Backlog:        c.Backlog,
		KeepAlive:      c.KeepAlive,
		NoDelay:        c.NoDelay,
		ReadBufferMin:  c.ReadBufferMin,
		ReadBufferMax:  c.ReadBufferMax,
		ReadChunkSize:  c.ReadChunkSize,
		MaxConnections: c.MaxConnections,
		Protocol:       t,
	}
}

// New creates a new RESPAdapter with the specified configuration.
//
// The adapter is created in a stopped state. Call SetKeyspace() to inject
// the shared store, then Serve() to start accepting connections.
//
// Parameters:
//   - config: Adapter configuration. Zero values are replaced with defaults.
//   - respMetrics: Optional metrics collector (nil for no metrics)
//
// Returns an error when the configuration cannot be served: an unknown
// protocol, inverted read buffer bounds, or out-of-range values.
func New(config RESPConfig, respMetrics metrics.RESPMetrics) (*RESPAdapter, error) {
	config.applyDefaults()

	t, err := protocol.ParseType(config.Protocol)
	if err != nil {
		return nil, fmt.Errorf("invalid RESP config: %w", err)
	}

	rc := config.reactorConfig(t)
	if err := rc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid RESP config: %w", err)
	}
	if config.ShutdownTimeout <= 0 {
		return nil, fmt.Errorf("invalid RESP config: shutdown timeout %v must be > 0", config.ShutdownTimeout)
	}

	if respMetrics == nil {
		respMetrics = metrics.NewNoopRESPMetrics()
	}

	if config.MaxConnections > 0 {
		logger.Debug("RESP connection limit: %d", config.MaxConnections)
	} else {
		logger.Debug("RESP connection limit: unlimited")
	}

	return &RESPAdapter{
		config:       config,
		protocolType: t,
		metrics:      respMetrics,
		log:          logger.Default().Named("resp"),
		ready:        make(chan struct{}),
		shutdown:     make(chan struct{}),
		served:       make(chan struct{}),
	}, nil
}

// SetKeyspace injects the shared keyspace. A nil store leaves only the
// stateless commands (PING, ECHO) registered.
//
// Thread safety:
// Called exactly once before Serve(), no synchronization needed.
func (s *RESPAdapter) SetKeyspace(store keyspace.Store) {
	s.store = store
	logger.Debug("RESP keyspace configured")
}

// Serve builds the command registry, the worker pool and the reactor, then
// runs the reactor until the context is cancelled or Stop is called.
//
// Returns:
//   - nil on graceful shutdown
//   - error if the listener cannot be bound or the workers outlive
//     ShutdownTimeout
//
// Thread safety:
// Serve() should only be called once per RESPAdapter instance.
func (s *RESPAdapter) Serve(ctx context.Context) error {
	defer close(s.served)

	registry := task.NewRegistry()
	if s.store != nil {
		if err := task.RegisterKeyspace(registry, s.store); err != nil {
			return fmt.Errorf("failed to register keyspace commands: %w", err)
		}
	}

	var r *reactor.Reactor
	pool, err := worker.New(s.config.Workers, worker.SinkFunc(func(reply worker.Reply) {
		r.Deliver(reply)
	}), worker.Options{Logger: s.log, Metrics: s.metrics})
	if err != nil {
		return fmt.Errorf("failed to create RESP worker pool: %w", err)
	}

	var limiter *ratelimiter.Limiter
	if s.config.AcceptRate > 0 {
		limiter = ratelimiter.New(s.config.AcceptRate, s.config.AcceptBurst)
	}

	r, err = reactor.New(s.config.reactorConfig(s.protocolType), reactor.Options{
		Registry:      registry,
		Dispatcher:    pool,
		Logger:        s.log,
		Metrics:       s.metrics,
		AcceptLimiter: limiter,
	})
	if err != nil {
		pool.Stop()
		_ = pool.Wait(context.Background())
		return fmt.Errorf("failed to create RESP listener on %s: %w",
			net.JoinHostPort(s.config.Host, fmt.Sprint(s.config.Port)), err)
	}

	s.mu.Lock()
	s.reactor = r
	s.mu.Unlock()

	// A Stop that ran before the reactor was published.
	select {
	case <-s.shutdown:
		r.Stop()
	default:
	}

	s.boundPort.Store(int32(r.Addr().Port))
	close(s.ready)

	logger.Info("RESP server listening on %s", r.Addr())
	logger.Debug("RESP config: workers=%d max_connections=%d read_buffer=%d-%d accept_rate=%d",
		s.config.Workers, s.config.MaxConnections, s.config.ReadBufferMin, s.config.ReadBufferMax, s.config.AcceptRate)

	go func() {
		select {
		case <-ctx.Done():
			logger.Info("RESP shutdown signal received: %v", ctx.Err())
			s.initiateShutdown()
		case <-s.shutdown:
		}
	}()

	if s.config.MetricsLogInterval > 0 {
		go s.logMetrics(ctx)
	}

	serveErr := r.Serve(context.Background())
	if errors.Is(serveErr, reactor.ErrClosed) {
		// Stopped before the loop started.
		serveErr = nil
	}
	s.initiateShutdown()

	return errors.Join(serveErr, s.gracefulShutdown(pool))
}

// initiateShutdown stops the reactor. Safe to call multiple times.
func (s *RESPAdapter) initiateShutdown() {
	s.shutdownOnce.Do(func() {
		logger.Debug("RESP shutdown initiated")
		close(s.shutdown)

		s.mu.Lock()
		r := s.reactor
		s.mu.Unlock()

		if r != nil {
			r.Stop()
		}
	})
}

// gracefulShutdown stops the pool and waits for queued items to finish.
func (s *RESPAdapter) gracefulShutdown(pool *worker.Pool) error {
	logger.Info("RESP graceful shutdown: waiting for workers (timeout: %v)", s.config.ShutdownTimeout)

	pool.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if err := pool.Wait(ctx); err != nil {
		logger.Warn("RESP shutdown timeout exceeded: workers still running after %v", s.config.ShutdownTimeout)
		return fmt.Errorf("RESP shutdown timeout: %w", err)
	}

	logger.Info("RESP graceful shutdown complete")
	return nil
}

// Stop initiates graceful shutdown and waits until Serve has returned or
// ctx is done.
//
// Thread safety:
// Safe to call concurrently from multiple goroutines.
func (s *RESPAdapter) Stop(ctx context.Context) error {
	s.initiateShutdown()

	if ctx == nil {
		ctx = context.Background()
	}

	select {
	case <-s.served:
		return nil
	case <-ctx.Done():
		logger.Warn("RESP shutdown context cancelled: %v", ctx.Err())
		return ctx.Err()
	}
}

// logMetrics periodically logs adapter metrics. Exits when the context is
// cancelled or the adapter shuts down.
func (s *RESPAdapter) logMetrics(ctx context.Context) {
	ticker := time.NewTicker(s.config.MetricsLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdown:
			return
		case <-ticker.C:
			logger.Info("RESP metrics: active_connections=%d", s.GetActiveConnections())
		}
	}
}

// Ready is closed once the listener is bound and Port reports the real
// port.
func (s *RESPAdapter) Ready() <-chan struct{} {
	return s.ready
}

// GetActiveConnections returns the current number of open connections.
func (s *RESPAdapter) GetActiveConnections() int32 {
	s.mu.Lock()
	r := s.reactor
	s.mu.Unlock()

	if r == nil {
		return 0
	}
	return r.ActiveConnections()
}

// Port returns the bound TCP port once serving, else the configured one.
func (s *RESPAdapter) Port() int {
	if p := s.boundPort.Load(); p != 0 {
		return int(p)
	}
	return s.config.Port
}

// Protocol returns "RESP" as the protocol identifier.
func (s *RESPAdapter) Protocol() string {
	return "RESP"
}
