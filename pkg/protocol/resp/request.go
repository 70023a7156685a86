package resp

import (
	"strconv"

	"github.com/marmos91/vengine/pkg/protocol"
)

// AppendRequest appends the RESP request framing of name and args to dst.
//
// Example:
//
//	buf := resp.AppendRequest(nil, "SET", []byte("k"), []byte("v"))
//	// *3\r\n$3\r\nSET\r\n$1\r\nk\r\n$1\r\nv\r\n
func AppendRequest(dst []byte, name string, args ...[]byte) []byte {
	dst = append(dst, '*')
	dst = strconv.AppendInt(dst, int64(len(args)+1), 10)
	dst = append(dst, '\r', '\n')

	dst = appendArg(dst, []byte(name))
	for _, arg := range args {
		dst = appendArg(dst, arg)
	}
	return dst
}

// EncodeRequest returns the RESP request framing of cmd.
func EncodeRequest(cmd protocol.Command) []byte {
	return AppendRequest(nil, cmd.Name, cmd.Args...)
}

func appendArg(dst, arg []byte) []byte {
	dst = append(dst, '$')
	dst = strconv.AppendInt(dst, int64(len(arg)), 10)
	dst = append(dst, '\r', '\n')
	dst = append(dst, arg...)
	return append(dst, '\r', '\n')
}
