package protocol

import (
	"errors"
	"fmt"
)

// ErrUnknownProtocol is returned by NewParser / NewSerializer for a Type no
// implementation has registered.
var ErrUnknownProtocol = errors.New("unknown protocol")

// ProtocolError reports malformed framing. It is fatal to the connection
// that produced the bytes and to nothing else.
type ProtocolError struct {
	// Offset is the byte position in the parsed view where the fault was
	// detected.
	Offset int

	// Reason describes what the parser expected.
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error at offset %d: %s", e.Offset, e.Reason)
}

// IsProtocolError reports whether err is or wraps a *ProtocolError.
func IsProtocolError(err error) bool {
	var perr *ProtocolError
	return errors.As(err, &perr)
}
