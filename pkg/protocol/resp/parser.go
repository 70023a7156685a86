// Package resp implements the RESP request parser and reply serializer.
//
// Request framing:
//
//	*<argc>\r\n
//	$<len>\r\n<len bytes>\r\n    (argc times, first is the command name)
//
// Reply encodings:
//
//	+<text>\r\n          simple string
//	-<text>\r\n          error
//	:<int>\r\n           integer
//	$<len>\r\n<bytes>\r\n bulk string
//	$-1\r\n              nil
//	*<count>\r\n         array header, count values follow
//
// Importing this package registers protocol.RESP with the protocol
// creator registry.
package resp

import (
	"fmt"

	"github.com/marmos91/vengine/pkg/protocol"
)

const (
	// MaxArgs bounds the argument count of one request.
	MaxArgs = 1 << 20

	// MaxBulkLen bounds the length of one argument.
	MaxBulkLen = 512 << 20
)

func init() {
	protocol.Register(protocol.RESP,
		func() protocol.Parser { return NewParser() },
		func() protocol.Serializer { return NewSerializer() },
	)
}

// Parser is a resumable RESP request parser. It is stateless: everything
// not yet consumed stays in the caller's buffer, so one Parser may be
// shared freely.
type Parser struct{}

// NewParser creates a RESP parser.
func NewParser() *Parser {
	return &Parser{}
}

// Parse implements protocol.Parser.
//
// Parsing stops at the first incomplete request. On malformed framing it
// returns a *protocol.ProtocolError and no commands; the caller closes the
// connection without attempting to resynchronize.
func (p *Parser) Parse(view []byte) ([]protocol.Command, int, error) {
	var cmds []protocol.Command
	consumed := 0

	for consumed < len(view) {
		c := cursor{buf: view, pos: consumed}

		cmd, complete, err := c.command()
		if err != nil {
			return nil, 0, err
		}
		if !complete {
			break
		}

		cmds = append(cmds, cmd)
		consumed = c.pos
	}

	return cmds, consumed, nil
}

// cursor walks one request. Methods return complete=false when the buffer
// ends before the element does.
type cursor struct {
	buf []byte
	pos int
}

func (c *cursor) command() (protocol.Command, bool, error) {
	argc, ok, err := c.number('*', MaxArgs)
	if err != nil || !ok {
		return protocol.Command{}, false, err
	}
	if argc == 0 {
		return protocol.Command{}, false, c.fault("zero-argument command")
	}

	name, ok, err := c.bulk()
	if err != nil || !ok {
		return protocol.Command{}, false, err
	}

	args := make([][]byte, 0, argc-1)
	for i := 1; i < argc; i++ {
		arg, ok, err := c.bulk()
		if err != nil || !ok {
			return protocol.Command{}, false, err
		}
		args = append(args, arg)
	}

	return protocol.Command{Name: string(name), Args: args}, true, nil
}

// number reads <sentinel><decimal>\r\n.
func (c *cursor) number(sentinel byte, limit int) (int, bool, error) {
	if c.pos >= len(c.buf) {
		return 0, false, nil
	}
	if c.buf[c.pos] != sentinel {
		return 0, false, c.fault(fmt.Sprintf("expected '%c', got %q", sentinel, c.buf[c.pos]))
	}

	start := c.pos + 1
	if start >= len(c.buf) {
		return 0, false, nil
	}

	i := start
	n := 0
	for i < len(c.buf) && c.buf[i] >= '0' && c.buf[i] <= '9' {
		n = n*10 + int(c.buf[i]-'0')
		if n > limit {
			c.pos = start
			return 0, false, c.fault(fmt.Sprintf("count exceeds limit %d", limit))
		}
		i++
	}

	if i == start {
		c.pos = start
		return 0, false, c.fault("expected a non-negative integer")
	}
	if i+2 > len(c.buf) {
		return 0, false, nil
	}
	if c.buf[i] != '\r' || c.buf[i+1] != '\n' {
		c.pos = i
		return 0, false, c.fault(`expected "\r\n"`)
	}

	c.pos = i + 2
	return n, true, nil
}

// bulk reads $<len>\r\n<len bytes>\r\n and returns a copy of the payload.
func (c *cursor) bulk() ([]byte, bool, error) {
	n, ok, err := c.number('$', MaxBulkLen)
	if err != nil || !ok {
		return nil, false, err
	}

	if len(c.buf)-c.pos < n+2 {
		return nil, false, nil
	}

	end := c.pos + n
	if c.buf[end] != '\r' || c.buf[end+1] != '\n' {
		c.pos = end
		return nil, false, c.fault(`expected "\r\n" after argument`)
	}

	arg := make([]byte, n)
	copy(arg, c.buf[c.pos:end])
	c.pos = end + 2

	return arg, true, nil
}

func (c *cursor) fault(reason string) error {
	return &protocol.ProtocolError{Offset: c.pos, Reason: reason}
}
