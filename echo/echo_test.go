package echo

import (
	"bytes"
	"context"
	"io"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sys/unix"

	"github.com/webriots/coreact"
)

// start serves cfg on a loopback port until the test ends. setup runs
// before the scheduler starts.
func start(t *testing.T, cfg Config, setup func(*Server), opts ...Option) (string, *coreact.Metrics) {
	t.Helper()
	r := require.New(t)

	logger := zaptest.NewLogger(t)

	reactor, err := coreact.NewReactor()
	r.NoError(err)

	cfg.Addr = "127.0.0.1:0"
	srv, err := Listen(cfg, logger, opts...)
	r.NoError(err)
	addr := srv.Addr().String()
	if setup != nil {
		setup(srv)
	}

	metrics := coreact.NewMetrics(nil)
	sched := coreact.New(reactor, coreact.WithLogger(logger), coreact.WithMetrics(metrics))
	sched.Spawn(srv.Serve)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		require.ErrorIs(t, <-done, context.Canceled)
		require.NoError(t, reactor.Close())
	})
	return addr, metrics
}

func dial(t *testing.T, addr string) *net.TCPConn {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	require.NoError(t, conn.SetDeadline(time.Now().Add(10*time.Second)))
	t.Cleanup(func() { _ = conn.Close() })
	return conn.(*net.TCPConn)
}

func exchange(t *testing.T, conn net.Conn, msg, want string) {
	t.Helper()
	_, err := conn.Write([]byte(msg))
	require.NoError(t, err)
	got := make([]byte, len(want))
	_, err = io.ReadFull(conn, got)
	require.NoError(t, err)
	require.Equal(t, want, string(got))
}

func TestEchoRoundTrip(t *testing.T) {
	r := require.New(t)

	addr, metrics := start(t, Config{}, nil)
	conn := dial(t, addr)

	exchange(t, conn, "ab", "Got:ab")
	exchange(t, conn, "hello", "Got:hello")

	r.NoError(conn.CloseWrite())
	n, err := conn.Read(make([]byte, 1))
	r.Zero(n)
	r.ErrorIs(err, io.EOF)

	r.Eventually(func() bool {
		return testutil.ToFloat64(metrics.Completed) == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestEchoPrefix(t *testing.T) {
	addr, _ := start(t, Config{Prefix: "echo> "}, nil)
	exchange(t, dial(t, addr), "x", "echo> x")
}

func TestEchoInterleavedClients(t *testing.T) {
	addr, _ := start(t, Config{}, nil)

	conns := make([]*net.TCPConn, 5)
	for i := range conns {
		conns[i] = dial(t, addr)
	}
	for round := 0; round < 3; round++ {
		for i := len(conns) - 1; i >= 0; i-- {
			msg := strings.Repeat(string(rune('a'+i)), round+1)
			exchange(t, conns[i], msg, "Got:"+msg)
		}
	}
}

func TestEchoLargeTransfer(t *testing.T) {
	r := require.New(t)

	addr, _ := start(t, Config{MaxRead: 4096}, nil)
	conn := dial(t, addr)

	const total = 4 << 20
	go func() {
		chunk := bytes.Repeat([]byte("x"), 64<<10)
		for sent := 0; sent < total; sent += len(chunk) {
			if _, err := conn.Write(chunk); err != nil {
				return
			}
		}
		_ = conn.CloseWrite()
	}()

	// Replies carry one prefix per received chunk; what remains must be
	// exactly the bytes sent.
	all, err := io.ReadAll(conn)
	r.NoError(err)
	rest := bytes.ReplaceAll(all, []byte("Got:"), nil)
	r.Len(rest, total)
	r.Equal(-1, bytes.IndexFunc(rest, func(c rune) bool { return c != 'x' }))
}

func TestEchoHandlerPanicIsIsolated(t *testing.T) {
	r := require.New(t)

	addr, metrics := start(t, Config{}, nil, WithReply(func(data []byte) []byte {
		if string(data) == "boom" {
			panic("boom")
		}
		return append([]byte("Got:"), data...)
	}))

	survivor := dial(t, addr)
	exchange(t, survivor, "one", "Got:one")

	victim := dial(t, addr)
	_, err := victim.Write([]byte("boom"))
	r.NoError(err)
	_, err = victim.Read(make([]byte, 16))
	r.Error(err)

	r.Eventually(func() bool {
		return testutil.ToFloat64(metrics.Failed) == 1
	}, 5*time.Second, 10*time.Millisecond)

	exchange(t, survivor, "two", "Got:two")
	exchange(t, dial(t, addr), "three", "Got:three")
}

func TestEchoCustomReply(t *testing.T) {
	addr, _ := start(t, Config{}, nil, WithReply(bytes.ToUpper))
	exchange(t, dial(t, addr), "shout", "SHOUT")
}

// flakyListener fails the first Accept calls with errs before
// delegating to the real listener.
type flakyListener struct {
	listener
	errs []error
}

func (l *flakyListener) Accept() (*coreact.Socket, net.Addr, error) {
	if len(l.errs) > 0 {
		err := l.errs[0]
		l.errs = l.errs[1:]
		return nil, nil, err
	}
	return l.listener.Accept()
}

func TestServeSurvivesTransientAcceptErrors(t *testing.T) {
	r := require.New(t)

	addr, metrics := start(t, Config{}, func(s *Server) {
		s.ln = &flakyListener{listener: s.ln, errs: []error{
			os.NewSyscallError("accept", unix.EMFILE),
			os.NewSyscallError("accept", unix.ECONNABORTED),
			errors.Wrap(os.NewSyscallError("accept", unix.ENFILE), "coreact"),
		}}
	})

	exchange(t, dial(t, addr), "first", "Got:first")
	exchange(t, dial(t, addr), "second", "Got:second")
	r.Zero(testutil.ToFloat64(metrics.Failed))
}

func TestServeStopsOnListenerFailure(t *testing.T) {
	r := require.New(t)

	_, metrics := start(t, Config{}, func(s *Server) {
		s.ln = &flakyListener{listener: s.ln, errs: []error{
			os.NewSyscallError("accept", unix.EBADF),
		}}
	})

	r.Eventually(func() bool {
		return testutil.ToFloat64(metrics.Failed) == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestTemporary(t *testing.T) {
	r := require.New(t)

	r.True(temporary(errors.Wrap(os.NewSyscallError("accept", unix.EMFILE), "coreact")))
	r.True(temporary(unix.EPERM))
	r.False(temporary(unix.EBADF))
	r.False(temporary(coreact.ErrTerminated))
}

func TestListenAddressInUse(t *testing.T) {
	r := require.New(t)

	first, err := Listen(Config{Addr: "127.0.0.1:0"}, nil)
	r.NoError(err)
	defer first.Close()

	_, err = Listen(Config{Addr: first.Addr().String()}, nil)
	r.Error(err)
}

func TestConfigDefaults(t *testing.T) {
	r := require.New(t)

	cfg := Config{}.withDefaults()
	r.Equal(Config{
		Addr:    DefaultAddr,
		Prefix:  DefaultPrefix,
		MaxRead: DefaultMaxRead,
		Backlog: DefaultBacklog,
	}, cfg)

	cfg = Config{Addr: ":1", Prefix: "p", MaxRead: 1, Backlog: 1}.withDefaults()
	r.Equal(Config{Addr: ":1", Prefix: "p", MaxRead: 1, Backlog: 1}, cfg)
}
