// Package protocol defines the wire-protocol abstraction shared by the
// reactor, the task registry and the worker pool.
//
// A protocol contributes two halves:
//
//   - Parser turns the bytes accumulated for a connection into complete
//     Commands and reports exactly how many bytes they occupied. Parsers are
//     resumable: a truncated trailing request is left unconsumed.
//   - Serializer turns a task's Output into reply bytes.
//
// Implementations register a creator pair for their Type (see Register) and
// consumers obtain instances through NewParser / NewSerializer, so the
// reactor never names a concrete protocol.
package protocol

import (
	"fmt"
	"strings"
)

// Type identifies a wire protocol.
type Type int

const (
	// RESP is the length-prefixed request/reply protocol:
	//   request: *<argc>\r\n then argc x $<len>\r\n<bytes>\r\n
	//   replies: + - : $ *
	RESP Type = iota
)

// String returns the configuration name of the protocol type.
func (t Type) String() string {
	switch t {
	case RESP:
		return "resp"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

// ParseType maps a configuration name to a Type (case-insensitive).
func ParseType(name string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "resp", "":
		return RESP, nil
	default:
		return 0, fmt.Errorf("unknown protocol type %q", name)
	}
}

// Command is one parsed request: a name and its ordered arguments.
// Commands are immutable once parsed; Args never alias the read buffer.
type Command struct {
	Name string
	Args [][]byte
}

// Parser converts a byte view into complete commands.
//
// Parse returns every complete command found at the front of view, in
// order, together with the number of bytes they occupy. A partial trailing
// command is not an error: it is simply not consumed. Malformed framing
// returns a *ProtocolError; commands parsed before the fault are discarded
// along with the connection.
//
// Parse must not retain view.
type Parser interface {
	Parse(view []byte) (cmds []Command, consumed int, err error)
}

// ReplyWriter receives the reply values an Output is made of.
// Array announces count further values that follow as its elements.
type ReplyWriter interface {
	SimpleString(s string)
	Error(msg string)
	Integer(n int64)
	Bulk(b []byte)
	Nil()
	Array(count int)
}

// Output is the result of running a task. It describes itself to a
// ReplyWriter so that any protocol can encode it.
type Output interface {
	WriteReply(w ReplyWriter)
}

// Serializer encodes Outputs into reply bytes.
//
// Serialize appends the encoding of out to dst and returns the extended
// slice. It is pure and cannot fail for well-formed outputs.
type Serializer interface {
	Serialize(dst []byte, out Output) []byte
}
