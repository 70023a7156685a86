package task

import (
	"context"

	"github.com/marmos91/vengine/pkg/protocol"
)

func registerBuiltins(r *Registry) {
	// Fresh registry: names cannot collide.
	_ = r.Register("ping", newPing)
	_ = r.Register("echo", newEcho)
}

// ping replies +PONG, or echoes its single argument as a bulk string.
type ping struct {
	args [][]byte
}

func newPing(cmd protocol.Command) Task {
	return ping{args: cmd.Args}
}

func (p ping) Run(context.Context) protocol.Output {
	switch len(p.args) {
	case 0:
		return Status("PONG")
	case 1:
		return Bulk(p.args[0])
	default:
		return WrongArity("ping")
	}
}

type echo struct {
	args [][]byte
}

func newEcho(cmd protocol.Command) Task {
	return echo{args: cmd.Args}
}

func (e echo) Run(context.Context) protocol.Output {
	if len(e.args) != 1 {
		return WrongArity("echo")
	}
	return Bulk(e.args[0])
}

// unknownCommand is built for every name the registry does not know.
type unknownCommand struct {
	name string
}

func (u unknownCommand) Run(context.Context) protocol.Output {
	return Error("unknown command: " + u.name)
}
