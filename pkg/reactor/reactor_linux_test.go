//go:build linux

package reactor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/marmos91/vengine/internal/ratelimiter"
	"github.com/marmos91/vengine/pkg/buffer"
	"github.com/marmos91/vengine/pkg/keyspace/memory"
	"github.com/marmos91/vengine/pkg/metrics"
	"github.com/marmos91/vengine/pkg/protocol"
	"github.com/marmos91/vengine/pkg/protocol/resp"
	"github.com/marmos91/vengine/pkg/task"
	"github.com/marmos91/vengine/pkg/worker"
)

// countingMetrics records the counters the tests assert on.
type countingMetrics struct {
	metrics.RESPMetrics

	accepted       atomic.Int64
	closed         atomic.Int64
	rejected       sync.Map // reason -> *atomic.Int64
	protocolErrors atomic.Int64
	dropped        sync.Map // reason -> *atomic.Int64
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{RESPMetrics: metrics.NewNoopRESPMetrics()}
}

func bump(m *sync.Map, key string) {
	v, _ := m.LoadOrStore(key, new(atomic.Int64))
	v.(*atomic.Int64).Add(1)
}

func load(m *sync.Map, key string) int64 {
	v, ok := m.Load(key)
	if !ok {
		return 0
	}
	return v.(*atomic.Int64).Load()
}

func (m *countingMetrics) RecordConnectionAccepted() { m.accepted.Add(1) }
func (m *countingMetrics) RecordConnectionClosed() { m.closed.Add(1) }
func (m *countingMetrics) RecordConnectionRejected(reason string) { bump(&m.rejected, reason) }
func (m *countingMetrics) RecordProtocolError() { m.protocolErrors.Add(1) }
func (m *countingMetrics) RecordReplyDropped(reason string) { bump(&m.dropped, reason) }

type testEnv struct {
	reactor  *Reactor
	pool     *worker.Pool
	registry *task.Registry
	metrics  *countingMetrics
	served   chan error
}

func testConfig() Config {
	return Config{
		Host:          "127.0.0.1",
		Port:          0,
		Backlog:       128,
		NoDelay:       true,
		ReadBufferMin: 64,
		ReadBufferMax: 8 << 20,
		ReadChunkSize: 4096,
		Protocol:      protocol.RESP,
	}
}

// newEnv builds a registry, a pool and a reactor without serving.
func newEnv(t *testing.T, cfg Config, workers int) *testEnv {
	t.Helper()

	registry := task.NewRegistry()
	require.NoError(t, task.RegisterKeyspace(registry, memory.New(memory.Config{})))

	env := &testEnv{
		registry: registry,
		metrics:  newCountingMetrics(),
		served:   make(chan error, 1),
	}

	pool, err := worker.New(workers, worker.SinkFunc(func(rep worker.Reply) {
		env.reactor.Deliver(rep)
	}), worker.Options{})
	require.NoError(t, err)
	env.pool = pool

	r, err := New(cfg, Options{
		Registry:   registry,
		Dispatcher: pool,
		Metrics:    env.metrics,
	})
	require.NoError(t, err)
	env.reactor = r

	t.Cleanup(func() {
		r.Stop()
		<-r.Done()
		pool.Stop()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = pool.Wait(ctx)
	})
	return env
}

// startEnv builds an env and runs Serve in the background.
func startEnv(t *testing.T, cfg Config, workers int) *testEnv {
	t.Helper()
	env := newEnv(t, cfg, workers)
	go func() { env.served <- env.reactor.Serve(context.Background()) }()
	return env
}

func (e *testEnv) dial(t *testing.T) net.Conn {
	t.Helper()
	c, err := net.Dial("tcp", e.reactor.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func readN(t *testing.T, r io.Reader, c net.Conn, n int) string {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(10*time.Second)))
	buf := make([]byte, n)
	_, err := io.ReadFull(r, buf)
	require.NoError(t, err)
	return string(buf)
}

func roundTrip(t *testing.T, c net.Conn, req, want string) {
	t.Helper()
	_, err := c.Write([]byte(req))
	require.NoError(t, err)
	assert.Equal(t, want, readN(t, c, c, len(want)))
}

// expectClosed reads until the server closes the connection.
func expectClosed(t *testing.T, c net.Conn) {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(5*time.Second)))
	buf := make([]byte, 4096)
	for {
		_, err := c.Read(buf)
		if err == nil {
			continue
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			t.Fatal("connection still open")
		}
		return
	}
}

// expectSilence asserts nothing arrives within d and the connection stays up.
func expectSilence(t *testing.T, c net.Conn, d time.Duration) {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(d)))
	buf := make([]byte, 64)
	n, err := c.Read(buf)
	require.Error(t, err, "unexpected reply %q", buf[:n])
	var ne net.Error
	require.True(t, errors.As(err, &ne) && ne.Timeout(), "expected timeout, got %v", err)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"NegativePort", func(c *Config) { c.Port = -1 }},
		{"PortTooLarge", func(c *Config) { c.Port = 70000 }},
		{"ZeroBacklog", func(c *Config) { c.Backlog = 0 }},
		{"NegativeKeepAlive", func(c *Config) { c.KeepAlive = -time.Second }},
		{"ZeroBufferMin", func(c *Config) { c.ReadBufferMin = 0 }},
		{"MinAboveMax", func(c *Config) { c.ReadBufferMin = 2048; c.ReadBufferMax = 1024 }},
		{"ZeroChunk", func(c *Config) { c.ReadChunkSize = 0 }},
		{"NegativeMaxConnections", func(c *Config) { c.MaxConnections = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}

	cfg := testConfig()
	require.NoError(t, cfg.Validate())
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(testConfig(), Options{Dispatcher: nil, Registry: task.NewRegistry()})
	require.Error(t, err)

	_, err = New(testConfig(), Options{})
	require.Error(t, err)
}

func TestNewRejectsUnknownProtocol(t *testing.T) {
	pool, err := worker.New(1, worker.SinkFunc(func(worker.Reply) {}), worker.Options{})
	require.NoError(t, err)
	defer pool.Stop()

	cfg := testConfig()
	cfg.Protocol = protocol.Type(99)
	_, err = New(cfg, Options{Registry: task.NewRegistry(), Dispatcher: pool})
	require.ErrorIs(t, err, protocol.ErrUnknownProtocol)
}

func TestNewFailsOnBoundPort(t *testing.T) {
	env := newEnv(t, testConfig(), 1)

	cfg := testConfig()
	cfg.Port = env.reactor.Addr().Port
	_, err := New(cfg, Options{Registry: env.registry, Dispatcher: env.pool})
	require.Error(t, err)
}

func TestPing(t *testing.T) {
	env := startEnv(t, testConfig(), 2)
	c := env.dial(t)

	roundTrip(t, c, "*1\r\n$4\r\nPING\r\n", "+PONG\r\n")
	roundTrip(t, c, "*2\r\n$4\r\nping\r\n$5\r\nhello\r\n", "$5\r\nhello\r\n")
}

func TestUnknownCommand(t *testing.T) {
	env := startEnv(t, testConfig(), 2)
	c := env.dial(t)

	roundTrip(t, c, "*1\r\n$3\r\nFOO\r\n", "-unknown command: foo\r\n")
	// The connection survives.
	roundTrip(t, c, "*1\r\n$4\r\nPING\r\n", "+PONG\r\n")
}

func TestUnknownCommandNameWithLineBreaks(t *testing.T) {
	env := startEnv(t, testConfig(), 2)
	c := env.dial(t)

	// The name is "x\r\n+PONG\r\n"; it must come back as one error line.
	roundTrip(t, c, "*1\r\n$10\r\nx\r\n+PONG\r\n\r\n", "-unknown command: x  +pong  \r\n")
	roundTrip(t, c, "*1\r\n$4\r\nPING\r\n", "+PONG\r\n")
	expectSilence(t, c, 100*time.Millisecond)
}

func TestStaleEventForReusedFDIsIgnored(t *testing.T) {
	env := newEnv(t, testConfig(), 1)
	r := env.reactor

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})

	in, err := buffer.New(64, 1024)
	require.NoError(t, err)
	c := &conn{id: 42, fd: fds[0], state: StateOpen, in: in}
	r.conns[c.fd] = c
	r.byID[c.id] = c
	t.Cleanup(func() {
		delete(r.conns, c.fd)
		delete(r.byID, c.id)
	})

	_, err = unix.Write(fds[1], []byte("*1\r\n"))
	require.NoError(t, err)

	// Tagged for the connection that held the fd before.
	r.handleConnEvent(unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(c.fd), Pad: connTag(41)})
	assert.Equal(t, 0, c.in.Len())

	r.handleConnEvent(connEvent(c, unix.EPOLLIN))
	assert.Equal(t, 4, c.in.Len())
}

func TestPipelinedCommandsShareOneReply(t *testing.T) {
	env := startEnv(t, testConfig(), 2)
	c := env.dial(t)

	req := resp.AppendRequest(nil, "SET", []byte("k"), []byte("v"))
	req = resp.AppendRequest(req, "GET", []byte("k"))
	req = resp.AppendRequest(req, "DEL", []byte("k"), []byte("k"))
	req = resp.AppendRequest(req, "EXISTS", []byte("k"))
	req = resp.AppendRequest(req, "PING")

	roundTrip(t, c, string(req), "+OK\r\n$1\r\nv\r\n:1\r\n:0\r\n+PONG\r\n")
}

func TestIncompleteRequestWaitsForRest(t *testing.T) {
	env := startEnv(t, testConfig(), 1)
	c := env.dial(t)

	_, err := c.Write([]byte("*1\r\n$4\r\nPI"))
	require.NoError(t, err)
	expectSilence(t, c, 100*time.Millisecond)

	roundTrip(t, c, "NG\r\n", "+PONG\r\n")
}

func TestProtocolErrorClosesWithoutReply(t *testing.T) {
	env := startEnv(t, testConfig(), 1)
	c := env.dial(t)

	_, err := c.Write([]byte("*0\r\n"))
	require.NoError(t, err)

	require.NoError(t, c.SetReadDeadline(time.Now().Add(5*time.Second)))
	n, err := c.Read(make([]byte, 16))
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, io.EOF)

	require.Eventually(t, func() bool { return env.metrics.protocolErrors.Load() == 1 }, 5*time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return env.reactor.ActiveConnections() == 0 }, 5*time.Second, time.Millisecond)
}

func TestPerConnectionOrderingUnderInterleaving(t *testing.T) {
	env := startEnv(t, testConfig(), 1)

	const n = 100
	clients := []net.Conn{env.dial(t), env.dial(t)}
	requests := make([][]byte, len(clients))
	expected := make([]string, len(clients))

	for ci := range clients {
		var want strings.Builder
		for i := 0; i < n; i++ {
			msg := fmt.Sprintf("c%d-%d", ci, i)
			requests[ci] = resp.AppendRequest(requests[ci], "ECHO", []byte(msg))
			fmt.Fprintf(&want, "$%d\r\n%s\r\n", len(msg), msg)
		}
		expected[ci] = want.String()
	}

	readers := make([]*bufio.Reader, len(clients))
	results := make([]string, len(clients))
	var wg sync.WaitGroup
	for ci, c := range clients {
		readers[ci] = bufio.NewReader(c)
		wg.Add(1)
		go func(ci int, c net.Conn) {
			defer wg.Done()
			_ = c.SetReadDeadline(time.Now().Add(10 * time.Second))
			buf := make([]byte, len(expected[ci]))
			if _, err := io.ReadFull(readers[ci], buf); err != nil {
				t.Errorf("client %d: %v", ci, err)
				return
			}
			results[ci] = string(buf)
		}(ci, c)
	}

	// Alternate small chunks so requests split at arbitrary byte offsets.
	const chunk = 7
	offsets := make([]int, len(clients))
	for remaining := true; remaining; {
		remaining = false
		for ci, c := range clients {
			if offsets[ci] >= len(requests[ci]) {
				continue
			}
			end := min(offsets[ci]+chunk, len(requests[ci]))
			_, err := c.Write(requests[ci][offsets[ci]:end])
			require.NoError(t, err)
			offsets[ci] = end
			remaining = remaining || end < len(requests[ci])
		}
	}

	wg.Wait()
	for ci := range clients {
		assert.Equal(t, expected[ci], results[ci], "client %d", ci)
	}
}

func TestManyPingsAcrossConnections(t *testing.T) {
	env := startEnv(t, testConfig(), 1)

	const n = 100
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		c := env.dial(t)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < n; j++ {
				if _, err := c.Write([]byte("*1\r\n$4\r\nPING\r\n")); err != nil {
					t.Errorf("write: %v", err)
					return
				}
			}
			want := strings.Repeat("+PONG\r\n", n)
			_ = c.SetReadDeadline(time.Now().Add(10 * time.Second))
			buf := make([]byte, len(want))
			if _, err := io.ReadFull(c, buf); err != nil {
				t.Errorf("read: %v", err)
				return
			}
			assert.Equal(t, want, string(buf))
		}()
	}
	wg.Wait()
}

func TestReplyForClosedConnectionIsDropped(t *testing.T) {
	env := newEnv(t, testConfig(), 1)

	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, env.registry.Register("slow", func(protocol.Command) task.Task {
		return task.Func(func(context.Context) protocol.Output {
			close(started)
			<-release
			return task.OK
		})
	}))
	go func() { env.served <- env.reactor.Serve(context.Background()) }()

	c := env.dial(t)
	_, err := c.Write([]byte("*1\r\n$4\r\nSLOW\r\n"))
	require.NoError(t, err)
	<-started

	require.NoError(t, c.Close())
	require.Eventually(t, func() bool { return env.reactor.ActiveConnections() == 0 }, 5*time.Second, time.Millisecond)

	close(release)
	require.Eventually(t, func() bool {
		return load(&env.metrics.dropped, metrics.DropReasonClosed) == 1
	}, 5*time.Second, time.Millisecond)

	// Other connections are unaffected.
	roundTrip(t, env.dial(t), "*1\r\n$4\r\nPING\r\n", "+PONG\r\n")
}

func TestStoppedPoolKeepsConnectionOpen(t *testing.T) {
	env := startEnv(t, testConfig(), 1)
	c := env.dial(t)
	roundTrip(t, c, "*1\r\n$4\r\nPING\r\n", "+PONG\r\n")

	env.pool.Stop()

	_, err := c.Write([]byte("*1\r\n$4\r\nPING\r\n"))
	require.NoError(t, err)
	expectSilence(t, c, 200*time.Millisecond)

	assert.Equal(t, int32(1), env.reactor.ActiveConnections())
	assert.Equal(t, int64(1), load(&env.metrics.dropped, metrics.DropReasonPoolStopped))
}

func TestMaxConnections(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConnections = 1
	env := startEnv(t, cfg, 1)

	first := env.dial(t)
	roundTrip(t, first, "*1\r\n$4\r\nPING\r\n", "+PONG\r\n")

	second := env.dial(t)
	expectClosed(t, second)
	assert.Equal(t, int64(1), load(&env.metrics.rejected, metrics.RejectReasonLimit))

	// The first connection is untouched.
	roundTrip(t, first, "*1\r\n$4\r\nPING\r\n", "+PONG\r\n")
}

func TestAcceptRateLimit(t *testing.T) {
	env := newEnv(t, testConfig(), 1)

	r, err := New(testConfig(), Options{
		Registry:      env.registry,
		Dispatcher:    env.pool,
		Metrics:       env.metrics,
		AcceptLimiter: ratelimiter.New(1, 1),
	})
	require.NoError(t, err)
	served := make(chan error, 1)
	go func() { served <- r.Serve(context.Background()) }()
	t.Cleanup(func() {
		r.Stop()
		<-served
	})

	first, err := net.Dial("tcp", r.Addr().String())
	require.NoError(t, err)
	defer first.Close()

	second, err := net.Dial("tcp", r.Addr().String())
	require.NoError(t, err)
	defer second.Close()

	expectClosed(t, second)
	assert.Equal(t, int64(1), load(&env.metrics.rejected, metrics.RejectReasonRate))
}

func TestLargeValueRoundTrip(t *testing.T) {
	env := startEnv(t, testConfig(), 2)
	c := env.dial(t)

	value := []byte(strings.Repeat("0123456789abcdef", 256*1024)) // 4 MiB
	roundTrip(t, c, string(resp.AppendRequest(nil, "SET", []byte("big"), value)), "+OK\r\n")

	_, err := c.Write(resp.AppendRequest(nil, "GET", []byte("big")))
	require.NoError(t, err)

	want := fmt.Sprintf("$%d\r\n%s\r\n", len(value), value)
	assert.Equal(t, want, readN(t, c, c, len(want)))

	roundTrip(t, c, "*1\r\n$4\r\nPING\r\n", "+PONG\r\n")
}

func TestSaturatedBufferClosesConnection(t *testing.T) {
	cfg := testConfig()
	cfg.ReadBufferMax = 1024
	env := startEnv(t, cfg, 1)
	c := env.dial(t)

	_, err := c.Write([]byte("*1\r\n$100000\r\n" + strings.Repeat("x", 2048)))
	require.NoError(t, err)

	expectClosed(t, c)
	require.Eventually(t, func() bool { return env.reactor.ActiveConnections() == 0 }, 5*time.Second, time.Millisecond)
}

func TestStop(t *testing.T) {
	env := startEnv(t, testConfig(), 1)
	c := env.dial(t)
	roundTrip(t, c, "*1\r\n$4\r\nPING\r\n", "+PONG\r\n")

	env.reactor.Stop()
	env.reactor.Stop()

	select {
	case err := <-env.served:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}

	expectClosed(t, c)
	assert.Equal(t, int32(0), env.reactor.ActiveConnections())

	_, err := net.DialTimeout("tcp", env.reactor.Addr().String(), time.Second)
	assert.Error(t, err)

	// Late replies are dropped.
	env.reactor.Deliver(worker.Reply{ConnID: 1, Payload: []byte("+PONG\r\n")})
	assert.Equal(t, int64(1), load(&env.metrics.dropped, metrics.DropReasonClosed))
}

func TestServeStopsOnContextCancel(t *testing.T) {
	env := newEnv(t, testConfig(), 1)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { env.served <- env.reactor.Serve(ctx) }()

	c := env.dial(t)
	roundTrip(t, c, "*1\r\n$4\r\nPING\r\n", "+PONG\r\n")

	cancel()
	select {
	case err := <-env.served:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
	expectClosed(t, c)
}

func TestServeTwice(t *testing.T) {
	env := startEnv(t, testConfig(), 1)
	roundTrip(t, env.dial(t), "*1\r\n$4\r\nPING\r\n", "+PONG\r\n")

	require.ErrorIs(t, env.reactor.Serve(context.Background()), ErrAlreadyServing)
}

func TestStopBeforeServe(t *testing.T) {
	env := newEnv(t, testConfig(), 1)
	env.reactor.Stop()

	select {
	case <-env.reactor.Done():
	default:
		t.Fatal("Done not closed")
	}
	require.ErrorIs(t, env.reactor.Serve(context.Background()), ErrClosed)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "closing", StateClosing.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "State(9)", State(9).String())
}
