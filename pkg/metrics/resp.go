package metrics

import (
	"time"
)

// Reasons passed to RecordConnectionRejected.
const (
	RejectReasonLimit = "limit"
	RejectReasonRate  = "rate"
)

// Reasons passed to RecordReplyDropped.
const (
	DropReasonClosed      = "closed"
	DropReasonPoolStopped = "pool_stopped"
)

// RESPMetrics provides observability for the RESP adapter: its reactor and
// its worker pool.
//
// This interface is optional - if not provided to the adapter, a no-op
// implementation is used with zero overhead.
//
// Example usage:
//
//	// With metrics enabled
//	m := prometheus.NewRESPMetrics()
//	adapter := resp.New(config, m)
//
//	// Without metrics (no-op)
//	adapter := resp.New(config, nil)
//
// Thread safety:
// Implementations must be safe for concurrent use. The reactor calls from
// its I/O goroutine, workers from theirs.
type RESPMetrics interface {
	// RecordConnectionAccepted increments the accepted connections counter.
	RecordConnectionAccepted()

	// RecordConnectionClosed increments the closed connections counter.
	RecordConnectionClosed()

	// RecordConnectionRejected counts a connection closed right after
	// accept.
	//
	// Parameters:
	//   - reason: RejectReasonLimit or RejectReasonRate
	RecordConnectionRejected(reason string)

	// SetActiveConnections updates the current connection count.
	SetActiveConnections(count int32)

	// RecordProtocolError counts a connection closed for malformed framing.
	RecordProtocolError()

	// RecordCommand counts one dispatched command.
	//
	// Parameters:
	//   - name: lower-cased command name, or "unknown" for unregistered
	//     names (bounds label cardinality)
	RecordCommand(name string)

	// RecordWorkItem records the execution of one work item.
	//
	// Parameters:
	//   - commands: number of tasks in the item
	//   - duration: time from first task start to reply hand-off
	RecordWorkItem(commands int, duration time.Duration)

	// SetWorkerQueueDepth reports the number of items waiting on a worker.
	SetWorkerQueueDepth(worker int, depth int)

	// RecordReplyDropped counts a reply that never reached its socket.
	//
	// Parameters:
	//   - reason: DropReasonClosed or DropReasonPoolStopped
	RecordReplyDropped(reason string)

	// RecordBytesTransferred records socket traffic.
	//
	// Parameters:
	//   - direction: "read" or "write"
	//   - bytes: Number of bytes transferred
	RecordBytesTransferred(direction string, bytes uint64)
}

// NewNoopRESPMetrics returns a RESPMetrics that discards everything.
func NewNoopRESPMetrics() RESPMetrics {
	return noopRESPMetrics{}
}

type noopRESPMetrics struct{}

func (noopRESPMetrics) RecordConnectionAccepted()                             {}
func (noopRESPMetrics) RecordConnectionClosed()                               {}
func (noopRESPMetrics) RecordConnectionRejected(reason string)                {}
func (noopRESPMetrics) SetActiveConnections(count int32)                      {}
func (noopRESPMetrics) RecordProtocolError()                                  {}
func (noopRESPMetrics) RecordCommand(name string)                             {}
func (noopRESPMetrics) RecordWorkItem(commands int, duration time.Duration)   {}
func (noopRESPMetrics) SetWorkerQueueDepth(worker int, depth int)             {}
func (noopRESPMetrics) RecordReplyDropped(reason string)                      {}
func (noopRESPMetrics) RecordBytesTransferred(direction string, bytes uint64) {}
