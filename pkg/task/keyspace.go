package task

import (
	"context"
	"errors"

	"github.com/marmos91/vengine/internal/logger"
	"github.com/marmos91/vengine/pkg/keyspace"
	"github.com/marmos91/vengine/pkg/protocol"
)

// RegisterKeyspace adds the data commands operating on store:
//
//	GET key            -> bulk value or nil
//	SET key value      -> +OK
//	DEL key [key ...]  -> integer removed
//	EXISTS key [key..] -> integer present
//	DBSIZE             -> integer key count
func RegisterKeyspace(r *Registry, store keyspace.Store) error {
	if store == nil {
		return errors.New("cannot register keyspace commands without a store")
	}

	cmds := []struct {
		name string
		run  func(ctx context.Context, store keyspace.Store, args [][]byte) protocol.Output
	}{
		{"get", runGet},
		{"set", runSet},
		{"del", runDel},
		{"exists", runExists},
		{"dbsize", runDBSize},
	}

	for _, c := range cmds {
		run := c.run
		err := r.Register(c.name, func(cmd protocol.Command) Task {
			return Func(func(ctx context.Context) protocol.Output {
				return run(ctx, store, cmd.Args)
			})
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func runGet(ctx context.Context, store keyspace.Store, args [][]byte) protocol.Output {
	if len(args) != 1 {
		return WrongArity("get")
	}

	value, found, err := store.Get(ctx, args[0])
	if err != nil {
		return storeError("get", err)
	}
	if !found {
		return Nil
	}
	return Bulk(value)
}

func runSet(ctx context.Context, store keyspace.Store, args [][]byte) protocol.Output {
	if len(args) != 2 {
		return WrongArity("set")
	}

	if err := store.Set(ctx, args[0], args[1]); err != nil {
		return storeError("set", err)
	}
	return OK
}

func runDel(ctx context.Context, store keyspace.Store, args [][]byte) protocol.Output {
	if len(args) == 0 {
		return WrongArity("del")
	}

	removed, err := store.Delete(ctx, args...)
	if err != nil {
		return storeError("del", err)
	}
	return Integer(removed)
}

func runExists(ctx context.Context, store keyspace.Store, args [][]byte) protocol.Output {
	if len(args) == 0 {
		return WrongArity("exists")
	}

	count, err := store.Exists(ctx, args...)
	if err != nil {
		return storeError("exists", err)
	}
	return Integer(count)
}

func runDBSize(ctx context.Context, store keyspace.Store, args [][]byte) protocol.Output {
	if len(args) != 0 {
		return WrongArity("dbsize")
	}

	n, err := store.Len(ctx)
	if err != nil {
		return storeError("dbsize", err)
	}
	return Integer(n)
}

// storeError maps keyspace failures to client-visible errors. Only
// conditions the client can act on are spelled out.
func storeError(cmd string, err error) protocol.Output {
	switch {
	case errors.Is(err, keyspace.ErrFull):
		return Error(keyspace.ErrFull.Error())
	case errors.Is(err, keyspace.ErrClosed):
		return Error(keyspace.ErrClosed.Error())
	default:
		logger.Error("%s failed: %v", cmd, err)
		return InternalError
	}
}
