package resp

import (
	"strconv"

	"github.com/marmos91/vengine/pkg/protocol"
)

// ReplyBuilder appends RESP reply encodings to a byte slice. It implements
// protocol.ReplyWriter.
type ReplyBuilder struct {
	buf []byte
}

// NewReplyBuilder creates a builder appending to dst.
func NewReplyBuilder(dst []byte) *ReplyBuilder {
	return &ReplyBuilder{buf: dst}
}

// Bytes returns the accumulated encoding.
func (b *ReplyBuilder) Bytes() []byte {
	return b.buf
}

// SimpleString appends +s\r\n.
func (b *ReplyBuilder) SimpleString(s string) {
	b.line('+', s)
}

// Error appends -msg\r\n.
func (b *ReplyBuilder) Error(msg string) {
	b.line('-', msg)
}

// Integer appends :n\r\n.
func (b *ReplyBuilder) Integer(n int64) {
	b.buf = append(b.buf, ':')
	b.buf = strconv.AppendInt(b.buf, n, 10)
	b.buf = append(b.buf, '\r', '\n')
}

// Bulk appends $len\r\nbytes\r\n.
func (b *ReplyBuilder) Bulk(p []byte) {
	b.buf = append(b.buf, '$')
	b.buf = strconv.AppendInt(b.buf, int64(len(p)), 10)
	b.buf = append(b.buf, '\r', '\n')
	b.buf = append(b.buf, p...)
	b.buf = append(b.buf, '\r', '\n')
}

// Nil appends $-1\r\n.
func (b *ReplyBuilder) Nil() {
	b.buf = append(b.buf, "$-1\r\n"...)
}

// Array appends *count\r\n.
func (b *ReplyBuilder) Array(count int) {
	b.buf = append(b.buf, '*')
	b.buf = strconv.AppendInt(b.buf, int64(count), 10)
	b.buf = append(b.buf, '\r', '\n')
}

// line appends a single-line reply. CR and LF in s become spaces so the
// text cannot terminate the line early.
func (b *ReplyBuilder) line(prefix byte, s string) {
	b.buf = append(b.buf, prefix)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\r' || c == '\n' {
			c = ' '
		}
		b.buf = append(b.buf, c)
	}
	b.buf = append(b.buf, '\r', '\n')
}

// Serializer encodes task outputs as RESP replies.
type Serializer struct{}

// NewSerializer creates a RESP serializer.
func NewSerializer() *Serializer {
	return &Serializer{}
}

// Serialize implements protocol.Serializer.
func (s *Serializer) Serialize(dst []byte, out protocol.Output) []byte {
	b := ReplyBuilder{buf: dst}
	out.WriteReply(&b)
	return b.buf
}
