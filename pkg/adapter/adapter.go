package adapter

import (
	"context"

	"github.com/marmos91/vengine/pkg/keyspace"
)

// Adapter represents a protocol-specific front end managed by server.Server.
//
// Each adapter speaks one wire protocol and provides a unified interface for
// lifecycle management. All adapters share the same keyspace, so a key set
// through one adapter is visible through every other.
//
// Lifecycle:
//  1. Creation: Adapter is created with protocol-specific configuration
//  2. Keyspace injection: SetKeyspace() provides the shared store
//  3. Startup: Serve() binds, serves and blocks until shutdown
//  4. Shutdown: Stop() initiates graceful shutdown with timeout
//
// Thread safety:
// Implementations must be safe for concurrent use. SetKeyspace() is called
// once before Serve(), but Stop() may be called concurrently with Serve().
type Adapter interface {
	// Serve starts the protocol server and blocks until the context is cancelled
	// or an unrecoverable error occurs.
	//
	// When the context is cancelled, Serve must initiate graceful shutdown:
	//   - Stop accepting new connections
	//   - Let queued commands finish (with timeout)
	//   - Clean up resources
	//
	// If Serve returns before context cancellation, server.Server treats it as
	// a fatal error and stops all other adapters.
	//
	// Parameters:
	//   - ctx: Controls the server lifecycle. Cancellation triggers shutdown.
	//
	// Returns:
	//   - nil on graceful shutdown
	//   - error if startup fails or shutdown is not graceful
	Serve(ctx context.Context) error

	// SetKeyspace injects the shared keyspace.
	//
	// Called exactly once by server.Server before Serve(). A nil store is
	// allowed: the adapter then serves only commands that need no state.
	//
	// Thread safety:
	// Called before Serve(), no synchronization needed.
	SetKeyspace(store keyspace.Store)

	// Stop initiates graceful shutdown of the protocol server.
	//
	// Implementations must:
	//   - Be safe to call multiple times (idempotent)
	//   - Be safe to call concurrently with Serve()
	//   - Respect the context timeout for shutdown operations
	//
	// Parameters:
	//   - ctx: Controls the shutdown timeout.
	//
	// Returns:
	//   - nil if shutdown completed successfully
	//   - error if shutdown exceeded timeout or encountered errors
	Stop(ctx context.Context) error

	// Protocol returns the human-readable protocol name for logging and metrics.
	Protocol() string

	// Port returns the TCP port the adapter is listening on. Before Serve()
	// has bound its socket this is the configured port, which may be 0.
	Port() int
}
