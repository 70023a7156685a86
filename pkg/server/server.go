package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/vengine/internal/logger"
	"github.com/marmos91/vengine/pkg/adapter"
	"github.com/marmos91/vengine/pkg/keyspace"
)

// ErrAlreadyServed is returned by Serve on every call after the first.
var ErrAlreadyServed = errors.New("server already served")

// DefaultStopTimeout bounds each adapter's Stop during shutdown.
const DefaultStopTimeout = 30 * time.Second

// Server manages the lifecycle of multiple protocol adapters that share a
// common keyspace.
//
// Lifecycle:
//  1. Creation: New() with the keyspace
//  2. Registration: AddAdapter() for each protocol
//  3. Startup: Serve() starts all adapters concurrently
//  4. Shutdown: Context cancellation stops every adapter, then the
//     keyspace is closed
//
// Thread safety:
// Server is safe for concurrent use. Serve() should only be called once per
// server instance.
//
// Example usage:
//
//	srv := server.New(store)
//	a, _ := resp.New(respConfig, respMetrics)
//	srv.AddAdapter(a)
//
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer cancel()
//
//	if err := srv.Serve(ctx); err != nil && err != context.Canceled {
//	    log.Fatal(err)
//	}
type Server struct {
	// keyspace is shared by every adapter. May be nil.
	keyspace keyspace.Store

	// runID identifies this process instance in logs and metrics.
	runID string

	// stopTimeout bounds each adapter's Stop.
	stopTimeout time.Duration

	// mu protects the adapters slice and serving flag
	mu       sync.RWMutex
	adapters []adapter.Adapter
	served   bool
}

// New creates a Server around the shared keyspace. store may be nil, in
// which case adapters serve only stateless commands.
//
// Returns a configured but not yet started Server with a fresh run id.
func New(store keyspace.Store) *Server {
	return &Server{
		keyspace:    store,
		runID:       uuid.NewString(),
		stopTimeout: DefaultStopTimeout,
		adapters:    make([]adapter.Adapter, 0, 2),
	}
}

// RunID returns the random identifier generated for this server instance.
func (s *Server) RunID() string {
	return s.runID
}

// SetStopTimeout overrides the per-adapter stop timeout. Values <= 0 are
// ignored.
func (s *Server) SetStopTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	s.stopTimeout = d
	s.mu.Unlock()
}

// AddAdapter registers a protocol adapter with the server and injects the
// shared keyspace into it.
//
// Returns:
//   - error if another adapter already serves the same protocol or port,
//     or Serve() has already been called
//
// Panics if the adapter is nil (programmer error).
func (s *Server) AddAdapter(a adapter.Adapter) error {
	if a == nil {
		panic("adapter cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.served {
		return fmt.Errorf("cannot add %s adapter after Serve()", a.Protocol())
	}

	protocol := a.Protocol()
	port := a.Port()

	for _, existing := range s.adapters {
		if existing.Protocol() == protocol {
			return fmt.Errorf("adapter for protocol %s already registered", protocol)
		}
		// Port 0 binds an ephemeral port and never conflicts.
		if port != 0 && existing.Port() == port {
			return fmt.Errorf("port %d already in use by %s adapter", port, existing.Protocol())
		}
	}

	a.SetKeyspace(s.keyspace)
	s.adapters = append(s.adapters, a)

	logger.Info("Registered %s adapter on port %d", protocol, port)
	return nil
}

// Serve starts all registered adapters and blocks until the context is
// cancelled or an adapter fails.
//
// Shutdown behavior:
// When the context is cancelled or an adapter fails, every adapter gets a
// Stop() call in reverse registration order, Serve waits for all of them,
// then closes the keyspace.
//
// Returns:
//   - context.Canceled (or the context's error) after a requested shutdown
//   - the first adapter error if an adapter failed
//   - ErrAlreadyServed on a second call
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	if s.served {
		s.mu.Unlock()
		return ErrAlreadyServed
	}
	s.served = true
	if len(s.adapters) == 0 {
		s.mu.Unlock()
		return fmt.Errorf("no adapters registered; call AddAdapter() before Serve()")
	}
	adapters := make([]adapter.Adapter, len(s.adapters))
	copy(adapters, s.adapters)
	s.mu.Unlock()

	logger.Info("Starting vengine server %s with %d adapter(s)", s.runID, len(adapters))

	// Buffered so a failing adapter never blocks.
	errChan := make(chan adapterError, len(adapters))

	var wg sync.WaitGroup
	for _, adp := range adapters {
		wg.Add(1)
		go func(a adapter.Adapter) {
			defer wg.Done()

			protocol := a.Protocol()
			logger.Info("Starting %s adapter on port %d", protocol, a.Port())

			err := a.Serve(ctx)
			switch {
			case err == nil && ctx.Err() == nil:
				// Returning on its own is a failure as far as the server is
				// concerned: the others must stop too.
				errChan <- adapterError{protocol: protocol, err: errors.New("stopped unexpectedly")}
			case err == nil:
				logger.Info("%s adapter stopped", protocol)
			case errors.Is(err, context.Canceled) || ctx.Err() != nil:
				logger.Debug("%s adapter stopped: %v", protocol, err)
			default:
				logger.Error("%s adapter failed: %v", protocol, err)
				errChan <- adapterError{protocol: protocol, err: err}
			}
		}(adp)
	}

	var shutdownErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received (reason: %v)", ctx.Err())
		s.stopAllAdapters(adapters)
		shutdownErr = ctx.Err()

	case adapterErr := <-errChan:
		logger.Error("Adapter %s failed: %v - initiating shutdown of all adapters",
			adapterErr.protocol, adapterErr.err)
		s.stopAllAdapters(adapters)
		shutdownErr = fmt.Errorf("%s adapter error: %w", adapterErr.protocol, adapterErr.err)
	}

	logger.Debug("Waiting for all adapters to complete shutdown")
	wg.Wait()

	if s.keyspace != nil {
		if err := s.keyspace.Close(); err != nil {
			logger.Warn("Error closing keyspace: %v", err)
		}
	}

	logger.Info("vengine server stopped")
	return shutdownErr
}

// adapterError pairs an adapter protocol name with its error.
type adapterError struct {
	protocol string
	err      error
}

// stopAllAdapters stops adapters in reverse registration order, logging
// errors and continuing with the rest.
func (s *Server) stopAllAdapters(adapters []adapter.Adapter) {
	s.mu.RLock()
	timeout := s.stopTimeout
	s.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	logger.Info("Initiating graceful shutdown of %d adapter(s)", len(adapters))

	for i := len(adapters) - 1; i >= 0; i-- {
		adp := adapters[i]
		protocol := adp.Protocol()

		logger.Debug("Stopping %s adapter (port %d)", protocol, adp.Port())
		if err := adp.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Error stopping %s adapter: %v", protocol, err)
		}
	}
}

// Adapters returns a snapshot of currently registered adapters.
func (s *Server) Adapters() []adapter.Adapter {
	s.mu.RLock()
	defer s.mu.RUnlock()

	adapters := make([]adapter.Adapter, len(s.adapters))
	copy(adapters, s.adapters)
	return adapters
}
