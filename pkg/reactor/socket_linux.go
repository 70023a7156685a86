//go:build linux

package reactor

import (
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"time"

	"golang.org/x/sys/unix"
)

// listenTCP creates a non-blocking listening socket bound to host:port.
func listenTCP(host string, port, backlog int) (int, *net.TCPAddr, error) {
	resolved, err := net.ResolveTCPAddr("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return -1, nil, fmt.Errorf("resolve %s: %w", host, err)
	}

	domain := unix.AF_INET
	var sa unix.Sockaddr
	if ip4 := resolved.IP.To4(); ip4 != nil || resolved.IP == nil {
		addr := &unix.SockaddrInet4{Port: resolved.Port}
		if ip4 != nil {
			copy(addr.Addr[:], ip4)
		}
		sa = addr
	} else {
		domain = unix.AF_INET6
		addr := &unix.SockaddrInet6{Port: resolved.Port}
		copy(addr.Addr[:], resolved.IP.To16())
		sa = addr
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return -1, nil, fmt.Errorf("socket: %w", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return -1, nil, fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return -1, nil, fmt.Errorf("bind %s: %w", resolved, err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		_ = unix.Close(fd)
		return -1, nil, fmt.Errorf("listen %s: %w", resolved, err)
	}

	bound, err := unix.Getsockname(fd)
	if err != nil {
		_ = unix.Close(fd)
		return -1, nil, fmt.Errorf("getsockname: %w", err)
	}

	return fd, sockaddrToTCP(bound), nil
}

// configureConn applies per-connection socket options.
func configureConn(fd int, noDelay bool, keepAlive time.Duration) error {
	if noDelay {
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
			return fmt.Errorf("TCP_NODELAY: %w", err)
		}
	}

	if keepAlive > 0 {
		secs := int(keepAlive / time.Second)
		if secs < 1 {
			secs = 1
		}
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1); err != nil {
			return fmt.Errorf("SO_KEEPALIVE: %w", err)
		}
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, secs); err != nil {
			return fmt.Errorf("TCP_KEEPIDLE: %w", err)
		}
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, secs); err != nil {
			return fmt.Errorf("TCP_KEEPINTVL: %w", err)
		}
	}
	return nil
}

func sockaddrToTCP(sa unix.Sockaddr) *net.TCPAddr {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IP(append([]byte(nil), a.Addr[:]...)), Port: a.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: net.IP(append([]byte(nil), a.Addr[:]...)), Port: a.Port}
	default:
		return &net.TCPAddr{}
	}
}

// newEventFD creates a non-blocking eventfd used as a cross-goroutine
// signal into the epoll loop.
func newEventFD() (int, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return -1, fmt.Errorf("eventfd: %w", err)
	}
	return fd, nil
}

// signalEventFD increments the eventfd counter, making it readable.
func signalEventFD(fd int) error {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	for {
		_, err := unix.Write(fd, buf[:])
		if err == unix.EINTR {
			continue
		}
		// EAGAIN means the counter is saturated: already readable.
		if err == unix.EAGAIN {
			return nil
		}
		return err
	}
}

// drainEventFD resets the eventfd counter.
func drainEventFD(fd int) {
	var buf [8]byte
	for {
		_, err := unix.Read(fd, buf[:])
		if err == unix.EINTR {
			continue
		}
		return
	}
}
