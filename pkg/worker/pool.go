// Package worker implements the fixed-size pool that executes tasks off
// the reactor's I/O goroutine.
//
// Each worker owns a private FIFO queue guarded by a mutex and a condition
// variable. Connections are pinned to workers (connID mod N), so all work
// items of one connection run on the same worker in submission order. The
// worker turns each item into exactly one Reply, holding the concatenated
// serialized outputs of the item's tasks, and hands it to the ReplySink.
//
// Submission never blocks: queues are unbounded.
//
// Lifecycle:
//
//	pool, err := worker.New(4, sink, worker.Options{})
//	...
//	err = pool.Submit(item)     // from the reactor
//	...
//	pool.Stop()                  // sentinel per worker, further Submit fails
//	err = pool.Wait(ctx)         // join
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/vengine/internal/bufpool"
	"github.com/marmos91/vengine/internal/logger"
	"github.com/marmos91/vengine/pkg/metrics"
	"github.com/marmos91/vengine/pkg/protocol"
	"github.com/marmos91/vengine/pkg/task"
)

var (
	// ErrPoolStopped is returned by Assign and Submit after Stop.
	ErrPoolStopped = errors.New("worker pool stopped")

	// ErrInvalidSize is returned by New for a pool of zero workers.
	ErrInvalidSize = errors.New("worker pool size must be at least 1")
)

// WorkItem is the unit submitted to a worker: the tasks built from one
// read event on one connection, in parse order.
type WorkItem struct {
	ConnID     uint64
	Tasks      []task.Task
	Serializer protocol.Serializer
}

// Reply carries the serialized outputs of one WorkItem back to its
// connection. Payload comes from bufpool; the final owner returns it with
// bufpool.Put.
type Reply struct {
	ConnID  uint64
	Payload []byte
}

// ReplySink receives finished replies. Deliver is called from worker
// goroutines and must not block for long.
type ReplySink interface {
	Deliver(reply Reply)
}

// SinkFunc adapts a function to ReplySink.
type SinkFunc func(reply Reply)

func (f SinkFunc) Deliver(reply Reply) { f(reply) }

// Options configures optional pool collaborators.
type Options struct {
	// Logger receives pool diagnostics. nil uses logger.Default().
	Logger *logger.Logger

	// Metrics records work item execution. nil disables metrics.
	Metrics metrics.RESPMetrics
}

// Pool is a fixed set of single-goroutine workers.
//
// Thread safety:
// Assign, Submit and Stop are safe for concurrent use. The worker count is
// immutable; each worker's stopped flag is written once.
type Pool struct {
	workers []*worker
	sink    ReplySink
	log     *logger.Logger
	metrics metrics.RESPMetrics

	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates and starts a pool of n workers delivering to sink.
func New(n int, sink ReplySink, opts Options) (*Pool, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidSize, n)
	}
	if sink == nil {
		return nil, errors.New("worker pool requires a reply sink")
	}

	p := &Pool{
		workers: make([]*worker, n),
		sink:    sink,
		log:     opts.Logger,
		metrics: opts.Metrics,
	}
	if p.log == nil {
		p.log = logger.Default()
	}
	if p.metrics == nil {
		p.metrics = metrics.NewNoopRESPMetrics()
	}

	for i := range p.workers {
		w := newWorker(i, p)
		p.workers[i] = w
		p.wg.Add(1)
		go w.run()
	}

	p.log.Debug("Worker pool started with %d workers", n)
	return p, nil
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return len(p.workers)
}

// Index returns the worker a connection is pinned to. It is pure: the same
// id always maps to the same worker for a given pool size.
func (p *Pool) Index(connID uint64) int {
	return int(connID % uint64(len(p.workers)))
}

// Assign returns the worker index for connID, or ErrPoolStopped if that
// worker no longer accepts work.
func (p *Pool) Assign(connID uint64) (int, error) {
	idx := p.Index(connID)
	if p.workers[idx].isStopped() {
		return idx, ErrPoolStopped
	}
	return idx, nil
}

// Submit enqueues item on the worker its connection is pinned to. It never
// blocks. After Stop it returns ErrPoolStopped and the item is discarded.
func (p *Pool) Submit(item WorkItem) error {
	return p.workers[p.Index(item.ConnID)].enqueue(item)
}

// Stop asks every worker to exit once the items already queued ahead of
// the stop request have run. It does not wait; see Wait. Safe to call more
// than once.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		for _, w := range p.workers {
			w.stop()
		}
		p.log.Debug("Worker pool stop requested")
	})
}

// Wait blocks until every worker goroutine has exited or ctx is done.
func (p *Pool) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for workers: %w", ctx.Err())
	}
}

// entry is a queue slot; sentinel marks the stop request.
type entry struct {
	item     WorkItem
	sentinel bool
}

type worker struct {
	id   int
	pool *Pool

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []entry
	stopped bool
}

func newWorker(id int, pool *Pool) *worker {
	w := &worker{id: id, pool: pool}
	w.cond = sync.NewCond(&w.mu)
	return w
}

func (w *worker) isStopped() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stopped
}

func (w *worker) enqueue(item WorkItem) error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return ErrPoolStopped
	}
	w.queue = append(w.queue, entry{item: item})
	// Published under mu so it cannot overwrite fetch's reset.
	w.pool.metrics.SetWorkerQueueDepth(w.id, len(w.queue))
	w.mu.Unlock()

	w.cond.Signal()
	return nil
}

func (w *worker) stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	w.queue = append(w.queue, entry{sentinel: true})
	w.mu.Unlock()

	w.cond.Signal()
}

// fetch blocks until the queue is non-empty and takes all of it.
func (w *worker) fetch() []entry {
	w.mu.Lock()
	defer w.mu.Unlock()

	for len(w.queue) == 0 {
		w.cond.Wait()
	}

	batch := w.queue
	w.queue = nil
	w.pool.metrics.SetWorkerQueueDepth(w.id, 0)
	return batch
}

func (w *worker) run() {
	defer w.pool.wg.Done()

	ctx := context.Background()
	for {
		batch := w.fetch()

		exit := false
		for _, e := range batch {
			if e.sentinel {
				exit = true
				continue
			}
			w.execute(ctx, e.item)
		}

		if exit {
			w.pool.log.Debug("Worker %d exiting", w.id)
			return
		}
	}
}

// execute runs the item's tasks in order and delivers one Reply.
func (w *worker) execute(ctx context.Context, item WorkItem) {
	start := time.Now()

	payload := bufpool.Get(0)
	for _, t := range item.Tasks {
		out := w.runTask(ctx, item.ConnID, t)
		payload = item.Serializer.Serialize(payload, out)
	}

	w.pool.metrics.RecordWorkItem(len(item.Tasks), time.Since(start))
	w.pool.sink.Deliver(Reply{ConnID: item.ConnID, Payload: payload})
}

// runTask runs t, converting a panic into an internal-error output so one
// faulty command cannot take the worker down.
func (w *worker) runTask(ctx context.Context, connID uint64, t task.Task) (out protocol.Output) {
	defer func() {
		if r := recover(); r != nil {
			w.pool.log.Error("Panic in task for connection %d on worker %d: %v", connID, w.id, r)
			out = task.InternalError
		}
	}()

	out = t.Run(ctx)
	if out == nil {
		w.pool.log.Error("Task for connection %d on worker %d returned no output", connID, w.id)
		out = task.InternalError
	}
	return out
}
