package protocol

import (
	"fmt"
	"sync"
)

// ParserCreator builds a Parser. Each connection gets its own instance.
type ParserCreator func() Parser

// SerializerCreator builds a Serializer.
type SerializerCreator func() Serializer

type codec struct {
	parser     ParserCreator
	serializer SerializerCreator
}

var (
	codecsMu sync.RWMutex
	codecs   = make(map[Type]codec)
)

// Register installs the creators for a protocol type. Implementations call
// it from init. Registering the same Type twice panics.
func Register(t Type, parser ParserCreator, serializer SerializerCreator) {
	if parser == nil || serializer == nil {
		panic(fmt.Sprintf("protocol: nil creator registered for %s", t))
	}

	codecsMu.Lock()
	defer codecsMu.Unlock()

	if _, dup := codecs[t]; dup {
		panic(fmt.Sprintf("protocol: %s registered twice", t))
	}
	codecs[t] = codec{parser: parser, serializer: serializer}
}

// NewParser creates a Parser for t.
func NewParser(t Type) (Parser, error) {
	c, err := lookup(t)
	if err != nil {
		return nil, err
	}
	return c.parser(), nil
}

// NewSerializer creates a Serializer for t.
func NewSerializer(t Type) (Serializer, error) {
	c, err := lookup(t)
	if err != nil {
		return nil, err
	}
	return c.serializer(), nil
}

// Registered reports whether an implementation for t is linked in.
func Registered(t Type) bool {
	_, err := lookup(t)
	return err == nil
}

func lookup(t Type) (codec, error) {
	codecsMu.RLock()
	defer codecsMu.RUnlock()

	c, ok := codecs[t]
	if !ok {
		return codec{}, fmt.Errorf("%w: %s", ErrUnknownProtocol, t)
	}
	return c, nil
}
