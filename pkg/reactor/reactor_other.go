//go:build !linux

package reactor

import (
	"context"
	"net"

	"github.com/marmos91/vengine/internal/bufpool"
	"github.com/marmos91/vengine/pkg/worker"
)

// Reactor is unavailable on this platform.
type Reactor struct{}

// New always fails with ErrUnsupportedPlatform.
func New(cfg Config, opts Options) (*Reactor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return nil, ErrUnsupportedPlatform
}

func (r *Reactor) Addr() *net.TCPAddr { return nil }

func (r *Reactor) ActiveConnections() int32 { return 0 }

func (r *Reactor) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

func (r *Reactor) Serve(ctx context.Context) error { return ErrUnsupportedPlatform }

func (r *Reactor) Stop() {}

func (r *Reactor) Deliver(reply worker.Reply) { bufpool.Put(reply.Payload) }
