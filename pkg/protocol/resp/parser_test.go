package resp

import (
	"bytes"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/vengine/pkg/buffer"
	"github.com/marmos91/vengine/pkg/protocol"
)

func cmd(name string, args ...string) protocol.Command {
	c := protocol.Command{Name: name, Args: make([][]byte, 0, len(args))}
	for _, a := range args {
		c.Args = append(c.Args, []byte(a))
	}
	return c
}

func TestParseSingleCommand(t *testing.T) {
	p := NewParser()

	cmds, consumed, err := p.Parse([]byte("*1\r\n$4\r\nPING\r\n"))
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	assert.Equal(t, "PING", cmds[0].Name)
	assert.Empty(t, cmds[0].Args)
	assert.Equal(t, 14, consumed)
}

func TestParseWithArguments(t *testing.T) {
	p := NewParser()
	input := []byte("*3\r\n$3\r\nSET\r\n$3\r\nkey\r\n$0\r\n\r\n")

	cmds, consumed, err := p.Parse(input)
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	assert.Equal(t, cmd("SET", "key", ""), cmds[0])
	assert.Equal(t, len(input), consumed)
}

func TestParseBinarySafeArgument(t *testing.T) {
	p := NewParser()
	payload := []byte("a\r\nb\x00c")

	cmds, _, err := p.Parse(AppendRequest(nil, "ECHO", payload))
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	assert.Equal(t, payload, cmds[0].Args[0])
}

func TestParseArgumentsDoNotAliasInput(t *testing.T) {
	p := NewParser()
	input := []byte("*2\r\n$4\r\nECHO\r\n$2\r\nhi\r\n")

	cmds, _, err := p.Parse(input)
	require.NoError(t, err)

	for i := range input {
		input[i] = 'x'
	}
	assert.Equal(t, "ECHO", cmds[0].Name)
	assert.Equal(t, []byte("hi"), cmds[0].Args[0])
}

func TestParsePipelined(t *testing.T) {
	p := NewParser()
	var input []byte
	for i := 0; i < 3; i++ {
		input = AppendRequest(input, "PING")
	}
	partial := []byte("*1\r\n$4\r\nPI")
	input = append(input, partial...)

	cmds, consumed, err := p.Parse(input)
	require.NoError(t, err)
	assert.Len(t, cmds, 3)
	assert.Equal(t, len(input)-len(partial), consumed)
}

func TestParseIncomplete(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"sentinel only", "*"},
		{"count without terminator", "*1"},
		{"count with CR only", "*1\r"},
		{"missing argument header", "*1\r\n"},
		{"argument sentinel only", "*1\r\n$"},
		{"argument length unterminated", "*1\r\n$4"},
		{"argument body truncated", "*1\r\n$4\r\nPI"},
		{"argument terminator missing", "*1\r\n$4\r\nPING"},
		{"argument terminator half", "*1\r\n$4\r\nPING\r"},
		{"missing second argument", "*2\r\n$4\r\nPING"},
		{"second argument truncated", "*2\r\n$4\r\nECHO\r\n$5\r\nhel"},
	}

	p := NewParser()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmds, consumed, err := p.Parse([]byte(tt.input))
			require.NoError(t, err)
			assert.Empty(t, cmds)
			assert.Zero(t, consumed)
		})
	}
}

func TestParseMalformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"zero arguments", "*0\r\n"},
		{"wrong request sentinel", "+PING\r\n"},
		{"inline command", "PING\r\n"},
		{"wrong argument sentinel", "*1\r\n+PING\r\n"},
		{"non-numeric count", "*x\r\n"},
		{"negative count", "*-1\r\n"},
		{"count bad terminator", "*1\n$4\r\nPING\r\n"},
		{"length bad terminator", "*1\r\n$4\rxPING\r\n"},
		{"non-numeric length", "*1\r\n$abc\r\n"},
		{"argument longer than length", "*1\r\n$3\r\nPING\r\n"},
		{"argument bad terminator", "*1\r\n$4\r\nPINGxx"},
		{"count exceeds limit", "*99999999999\r\n"},
		{"fault after valid command", "*1\r\n$4\r\nPING\r\n*0\r\n"},
	}

	p := NewParser()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmds, consumed, err := p.Parse([]byte(tt.input))
			require.Error(t, err)
			assert.True(t, protocol.IsProtocolError(err))
			assert.Empty(t, cmds)
			assert.Zero(t, consumed)
		})
	}
}

func TestProtocolErrorOffset(t *testing.T) {
	_, _, err := NewParser().Parse([]byte("*1\r\n$4\r\nPINGxx"))

	var perr *protocol.ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 12, perr.Offset)
}

func randomCommands(rng *rand.Rand, n int) []protocol.Command {
	cmds := make([]protocol.Command, n)
	for i := range cmds {
		name := make([]byte, 1+rng.IntN(8))
		for j := range name {
			name[j] = byte('A' + rng.IntN(26))
		}

		args := make([][]byte, rng.IntN(4))
		for j := range args {
			arg := make([]byte, rng.IntN(40))
			for k := range arg {
				arg[k] = byte(rng.UintN(256))
			}
			args[j] = arg
		}
		cmds[i] = protocol.Command{Name: string(name), Args: args}
	}
	return cmds
}

func encodeAll(cmds []protocol.Command) []byte {
	var out []byte
	for _, c := range cmds {
		out = append(out, EncodeRequest(c)...)
	}
	return out
}

// normalize maps empty argument lists to a non-nil empty slice for
// comparison with parser output.
func normalize(cmds []protocol.Command) []protocol.Command {
	out := make([]protocol.Command, len(cmds))
	for i, c := range cmds {
		args := make([][]byte, len(c.Args))
		for j, a := range c.Args {
			args[j] = append([]byte{}, a...)
		}
		out[i] = protocol.Command{Name: c.Name, Args: args}
	}
	return out
}

func TestRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	p := NewParser()

	for iter := 0; iter < 200; iter++ {
		want := randomCommands(rng, 1+rng.IntN(6))
		wire := encodeAll(want)

		got, consumed, err := p.Parse(wire)
		require.NoError(t, err)
		assert.Equal(t, len(wire), consumed)
		assert.Equal(t, normalize(want), normalize(got))
	}
}

// TestSplitAtEveryOffset feeds a pipelined stream through a FramedBuffer in
// two reads split at each possible offset and checks the parsed result
// matches a single-shot parse.
func TestSplitAtEveryOffset(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	want := normalize(randomCommands(rng, 5))
	wire := encodeAll(want)
	p := NewParser()

	feed := func(buf *buffer.FramedBuffer, chunk []byte) []protocol.Command {
		region := buf.Reserve(len(chunk))
		require.GreaterOrEqual(t, len(region), len(chunk))
		copy(region, chunk)
		buf.Commit(len(chunk))

		cmds, consumed, err := p.Parse(buf.View())
		require.NoError(t, err)
		if consumed > 0 {
			buf.Discard(consumed)
		}
		return cmds
	}

	for split := 0; split <= len(wire); split++ {
		buf, err := buffer.New(16, 1<<16)
		require.NoError(t, err)

		var got []protocol.Command
		got = append(got, feed(buf, wire[:split])...)
		got = append(got, feed(buf, wire[split:])...)

		require.Equal(t, want, normalize(got), "split at %d", split)
		require.Zero(t, buf.Len(), "split at %d", split)
	}
}

func TestAppendRequest(t *testing.T) {
	got := AppendRequest([]byte("prefix"), "SET", []byte("k"), []byte("v"))
	assert.True(t, bytes.Equal([]byte("prefix*3\r\n$3\r\nSET\r\n$1\r\nk\r\n$1\r\nv\r\n"), got))
}
