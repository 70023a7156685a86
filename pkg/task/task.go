// Package task holds the unit-of-work model and the command registry.
//
// A Task is built from one parsed protocol.Command and runs on exactly one
// worker goroutine. Running it produces a protocol.Output which the worker
// serializes immediately into the reply for its work item.
//
// The Registry maps lower-cased command names to Constructors. Unknown
// names never fail dispatch: Build returns a task whose output is the
// error reply "unknown command: <name>". Argument validation is each
// task's own business, not the registry's.
package task

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/marmos91/vengine/pkg/protocol"
)

// Task is an executable unit of work.
//
// Run must not retain ctx beyond its return and must not touch any socket.
// A Task runs to completion once started; ctx is only consulted by tasks
// that call into cancellable collaborators such as the keyspace.
type Task interface {
	Run(ctx context.Context) protocol.Output
}

// Constructor builds a Task from a parsed command.
type Constructor func(cmd protocol.Command) Task

// Func adapts an ordinary function to the Task interface.
type Func func(ctx context.Context) protocol.Output

func (f Func) Run(ctx context.Context) protocol.Output {
	return f(ctx)
}

// Registry maps command names to constructors.
//
// Thread safety:
// Register and Build may be called concurrently. In practice all
// registration happens before the reactor starts and Build runs on the
// I/O goroutine.
type Registry struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
}

// NewRegistry creates a registry holding the built-in commands (PING, ECHO).
func NewRegistry() *Registry {
	r := &Registry{ctors: make(map[string]Constructor)}
	registerBuiltins(r)
	return r
}

// Register adds a constructor for name (case-insensitive).
// Returns an error if name is empty, ctor is nil or name is taken.
func (r *Registry) Register(name string, ctor Constructor) error {
	if name == "" {
		return fmt.Errorf("cannot register command with empty name")
	}
	if ctor == nil {
		return fmt.Errorf("cannot register nil constructor for %q", name)
	}

	key := strings.ToLower(name)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.ctors[key]; exists {
		return fmt.Errorf("command %q already registered", key)
	}
	r.ctors[key] = ctor
	return nil
}

// Build returns the Task for cmd. Unrecognized names yield the
// unknown-command task.
func (r *Registry) Build(cmd protocol.Command) Task {
	key := strings.ToLower(cmd.Name)

	r.mu.RLock()
	ctor, ok := r.ctors[key]
	r.mu.RUnlock()

	if !ok {
		return unknownCommand{name: key}
	}
	return ctor(cmd)
}

// BuildAll builds one Task per command, preserving order.
func (r *Registry) BuildAll(cmds []protocol.Command) []Task {
	tasks := make([]Task, len(cmds))
	for i, cmd := range cmds {
		tasks[i] = r.Build(cmd)
	}
	return tasks
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.ctors[strings.ToLower(name)]
	return ok
}

// Commands returns the registered names, sorted.
func (r *Registry) Commands() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.ctors))
	for name := range r.ctors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
