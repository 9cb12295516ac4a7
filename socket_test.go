//go:build unix

package coreact

import (
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// await blocks on rc until h is ready for kind.
func await(t *testing.T, rc *PollReactor, h Handle, kind WaitKind) {
	t.Helper()
	task := newTestTask(nil)
	require.NoError(t, rc.Register(h.FD(), kind, task))
	defer rc.Unregister(h.FD(), kind)
	for {
		events, err := rc.Poll()
		require.NoError(t, err)
		for _, ev := range events {
			if ev.Task == task {
				return
			}
		}
	}
}

func TestSocketLoopback(t *testing.T) {
	r := require.New(t)

	rc := newTestReactor(t)

	ln, err := Listen("127.0.0.1:0", 16)
	r.NoError(err)
	defer ln.Close()

	addr, ok := ln.LocalAddr().(*net.TCPAddr)
	r.True(ok)
	r.NotZero(addr.Port)
	r.Equal(addr.String(), ln.String())

	_, _, err = ln.Accept()
	r.ErrorIs(err, ErrWouldBlock)

	client, err := net.Dial("tcp", addr.String())
	r.NoError(err)
	defer client.Close()

	await(t, rc, ln, Readable)
	conn, peer, err := ln.Accept()
	r.NoError(err)
	defer conn.Close()
	r.Equal(client.LocalAddr().String(), peer.String())

	buf := make([]byte, 16)
	_, err = conn.Recv(buf)
	r.ErrorIs(err, ErrWouldBlock)

	_, err = client.Write([]byte("hi"))
	r.NoError(err)
	await(t, rc, conn, Readable)
	n, err := conn.Recv(buf)
	r.NoError(err)
	r.Equal("hi", string(buf[:n]))

	n, err = conn.Send([]byte("yo"))
	r.NoError(err)
	r.Equal(2, n)
	got := make([]byte, 2)
	_, err = io.ReadFull(client, got)
	r.NoError(err)
	r.Equal("yo", string(got))

	r.NoError(client.Close())
	await(t, rc, conn, Readable)
	n, err = conn.Recv(buf)
	r.NoError(err)
	r.Zero(n)

	r.NoError(conn.Close())
	r.NoError(conn.Close())
	r.Equal(-1, conn.FD())
	_, err = conn.Recv(buf)
	r.ErrorIs(err, ErrClosed)
	_, err = conn.Send(buf)
	r.ErrorIs(err, ErrClosed)
	r.Equal("closed", conn.String())
}

func TestAcceptedSocketFlags(t *testing.T) {
	r := require.New(t)

	rc := newTestReactor(t)

	ln, err := Listen("127.0.0.1:0", 16)
	r.NoError(err)
	defer ln.Close()

	client, err := net.Dial("tcp", ln.LocalAddr().String())
	r.NoError(err)
	defer client.Close()

	await(t, rc, ln, Readable)
	conn, _, err := ln.Accept()
	r.NoError(err)
	defer conn.Close()

	fl, err := unix.FcntlInt(uintptr(conn.FD()), unix.F_GETFL, 0)
	r.NoError(err)
	r.NotZero(fl & unix.O_NONBLOCK)

	fd, err := unix.FcntlInt(uintptr(conn.FD()), unix.F_GETFD, 0)
	r.NoError(err)
	r.NotZero(fd & unix.FD_CLOEXEC)
}

func TestListenBadAddress(t *testing.T) {
	r := require.New(t)

	_, err := Listen("not an address", 16)
	r.Error(err)
}
