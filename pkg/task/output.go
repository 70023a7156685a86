package task

import "github.com/marmos91/vengine/pkg/protocol"

// Status is a simple-string output (+OK, +PONG).
type Status string

func (s Status) WriteReply(w protocol.ReplyWriter) { w.SimpleString(string(s)) }

// Error is an error-reply output.
type Error string

func (e Error) WriteReply(w protocol.ReplyWriter) { w.Error(string(e)) }

// Integer is an integer output.
type Integer int64

func (n Integer) WriteReply(w protocol.ReplyWriter) { w.Integer(int64(n)) }

// Bulk is a binary-safe string output.
type Bulk []byte

func (b Bulk) WriteReply(w protocol.ReplyWriter) { w.Bulk(b) }

type nilOutput struct{}

func (nilOutput) WriteReply(w protocol.ReplyWriter) { w.Nil() }

// Nil is the absent-value output.
var Nil protocol.Output = nilOutput{}

// Array is an ordered list of outputs.
type Array []protocol.Output

func (a Array) WriteReply(w protocol.ReplyWriter) {
	w.Array(len(a))
	for _, elem := range a {
		elem.WriteReply(w)
	}
}

// OK is the canonical success status.
const OK = Status("OK")

// WrongArity returns the error output for a command called with a bad
// number of arguments.
func WrongArity(name string) Error {
	return Error("wrong number of arguments for '" + name + "' command")
}

// InternalError is returned in place of the output of a task that failed
// unexpectedly.
const InternalError = Error("internal error")
