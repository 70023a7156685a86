//go:build linux

package resp

import (
	"context"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/vengine/pkg/adapter"
	"github.com/marmos91/vengine/pkg/keyspace/memory"
)

var _ adapter.Adapter = (*RESPAdapter)(nil)

func testConfig() RESPConfig {
	return RESPConfig{
		Enabled:         true,
		Host:            "127.0.0.1",
		Port:            0,
		NoDelay:         true,
		Workers:         2,
		ReadBufferMin:   256,
		ReadBufferMax:   1 << 20,
		ReadChunkSize:   4096,
		ShutdownTimeout: 2 * time.Second,
	}
}

// startAdapter serves a in the background and waits until it is bound.
func startAdapter(t *testing.T, a *RESPAdapter) (context.CancelFunc, <-chan error) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx) }()

	select {
	case <-a.Ready():
	case err := <-done:
		cancel()
		t.Fatalf("Serve returned early: %v", err)
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("adapter did not bind")
	}
	t.Cleanup(cancel)
	return cancel, done
}

func dial(t *testing.T, a *RESPAdapter) net.Conn {
	t.Helper()
	c, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", fmt.Sprint(a.Port())))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func exchange(t *testing.T, c net.Conn, req, want string) {
	t.Helper()
	_, err := c.Write([]byte(req))
	require.NoError(t, err)

	require.NoError(t, c.SetReadDeadline(time.Now().Add(5*time.Second)))
	buf := make([]byte, len(want))
	_, err = io.ReadFull(c, buf)
	require.NoError(t, err)
	assert.Equal(t, want, string(buf))
}

func TestNewAppliesDefaults(t *testing.T) {
	a, err := New(RESPConfig{}, nil)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", a.config.Host)
	assert.Equal(t, 512, a.config.Backlog)
	assert.Equal(t, 3, a.config.Workers)
	assert.Equal(t, 64*1024, a.config.ReadBufferMin)
	assert.Equal(t, 20*1024*1024, a.config.ReadBufferMax)
	assert.Equal(t, "resp", a.config.Protocol)
	assert.Equal(t, 30*time.Second, a.config.ShutdownTimeout)
	assert.Equal(t, "RESP", a.Protocol())
	assert.Equal(t, 0, a.Port())
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*RESPConfig)
	}{
		{"UnknownProtocol", func(c *RESPConfig) { c.Protocol = "jsonrpc" }},
		{"InvertedBuffers", func(c *RESPConfig) { c.ReadBufferMin = 4096; c.ReadBufferMax = 1024 }},
		{"BadPort", func(c *RESPConfig) { c.Port = 70000 }},
		{"NegativeShutdownTimeout", func(c *RESPConfig) { c.ShutdownTimeout = -time.Second }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			_, err := New(cfg, nil)
			require.Error(t, err)
		})
	}
}

func TestServeWithKeyspace(t *testing.T) {
	a, err := New(testConfig(), nil)
	require.NoError(t, err)
	a.SetKeyspace(memory.New(memory.Config{}))

	startAdapter(t, a)
	c := dial(t, a)

	exchange(t, c, "*3\r\n$3\r\nSET\r\n$1\r\nk\r\n$2\r\nv1\r\n", "+OK\r\n")
	exchange(t, c, "*2\r\n$3\r\nGET\r\n$1\r\nk\r\n", "$2\r\nv1\r\n")
	exchange(t, c, "*1\r\n$6\r\nDBSIZE\r\n", ":1\r\n")

	// The keyspace is shared across connections.
	exchange(t, dial(t, a), "*2\r\n$6\r\nEXISTS\r\n$1\r\nk\r\n", ":1\r\n")

	require.Eventually(t, func() bool { return a.GetActiveConnections() == 2 }, 5*time.Second, time.Millisecond)
}

func TestServeWithoutKeyspace(t *testing.T) {
	a, err := New(testConfig(), nil)
	require.NoError(t, err)

	startAdapter(t, a)
	c := dial(t, a)

	exchange(t, c, "*1\r\n$4\r\nPING\r\n", "+PONG\r\n")
	exchange(t, c, "*2\r\n$3\r\nGET\r\n$1\r\nk\r\n", "-unknown command: get\r\n")
}

func TestContextCancelShutsDown(t *testing.T) {
	a, err := New(testConfig(), nil)
	require.NoError(t, err)

	cancel, done := startAdapter(t, a)
	c := dial(t, a)
	exchange(t, c, "*1\r\n$4\r\nPING\r\n", "+PONG\r\n")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}

	require.NoError(t, c.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err = c.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, int32(0), a.GetActiveConnections())
}

func TestStop(t *testing.T) {
	a, err := New(testConfig(), nil)
	require.NoError(t, err)

	_, done := startAdapter(t, a)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Stop(ctx))
	require.NoError(t, a.Stop(ctx))
	require.NoError(t, <-done)
}

func TestStopBeforeServe(t *testing.T) {
	a, err := New(testConfig(), nil)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- a.Serve(context.Background()) }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Stop(ctx))
	require.NoError(t, <-done)
}

func TestServeFailsOnBoundPort(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	cfg := testConfig()
	cfg.Port = l.Addr().(*net.TCPAddr).Port
	a, err := New(cfg, nil)
	require.NoError(t, err)

	require.Error(t, a.Serve(context.Background()))
}
