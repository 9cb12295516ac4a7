//go:build unix

package coreact

import (
	"net"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Socket is a non-blocking OS stream socket. Calls that cannot make
// progress return ErrWouldBlock; the I/O facade turns that into a Wait.
// A Socket is owned by one task at a time and is not safe for
// concurrent use.
type Socket struct {
	fd int
}

// NewSocket takes ownership of fd and switches it to non-blocking mode.
func NewSocket(fd int) (*Socket, error) {
	unix.CloseOnExec(fd)
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, sockErr("setnonblock", err)
	}
	return &Socket{fd: fd}, nil
}

// Listen binds a non-blocking TCP listener on addr ("host:port"; an
// empty host listens on all IPv4 interfaces).
func Listen(addr string, backlog int) (*Socket, error) {
	tcp, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "coreact: resolve %q", addr)
	}

	family, sa, err := sockaddr(tcp)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, sockErr("socket", err)
	}

	s, err := NewSocket(fd)
	if err != nil {
		_ = unix.Close(fd)
		return nil, err
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = s.Close()
		return nil, sockErr("setsockopt", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		_ = s.Close()
		return nil, errors.Wrapf(sockErr("bind", err), "listen %s", addr)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		_ = s.Close()
		return nil, sockErr("listen", err)
	}
	return s, nil
}

// FD returns the descriptor, or -1 once closed.
func (s *Socket) FD() int {
	return s.fd
}

// Accept takes one pending connection off a listening socket.
func (s *Socket) Accept() (*Socket, net.Addr, error) {
	if s.fd < 0 {
		return nil, nil, errors.WithStack(ErrClosed)
	}
	for {
		c, sa, err := accept(s.fd)
		switch {
		case err == nil:
			return c, toAddr(sa), nil
		case err == unix.EINTR:
			continue
		case wouldBlock(err):
			return nil, nil, ErrWouldBlock
		default:
			return nil, nil, sockErr("accept", err)
		}
	}
}

// Recv reads whatever is available into p. Zero bytes with a nil error
// means the peer closed its side.
func (s *Socket) Recv(p []byte) (int, error) {
	if s.fd < 0 {
		return 0, errors.WithStack(ErrClosed)
	}
	for {
		n, err := unix.Read(s.fd, p)
		switch {
		case err == nil:
			return n, nil
		case err == unix.EINTR:
			continue
		case wouldBlock(err):
			return 0, ErrWouldBlock
		default:
			return 0, sockErr("read", err)
		}
	}
}

// Send writes as much of p as the socket accepts without blocking.
func (s *Socket) Send(p []byte) (int, error) {
	if s.fd < 0 {
		return 0, errors.WithStack(ErrClosed)
	}
	for {
		n, err := unix.Write(s.fd, p)
		switch {
		case err == nil:
			return n, nil
		case err == unix.EINTR:
			continue
		case wouldBlock(err):
			return 0, ErrWouldBlock
		default:
			return 0, sockErr("write", err)
		}
	}
}

// Close releases the descriptor. Closing twice is a no-op.
func (s *Socket) Close() error {
	if s.fd < 0 {
		return nil
	}
	fd := s.fd
	s.fd = -1
	if err := unix.Close(fd); err != nil {
		return sockErr("close", err)
	}
	return nil
}

// LocalAddr returns the bound address, or nil if it cannot be read.
func (s *Socket) LocalAddr() net.Addr {
	if s.fd < 0 {
		return nil
	}
	sa, err := unix.Getsockname(s.fd)
	if err != nil {
		return nil
	}
	return toAddr(sa)
}

func (s *Socket) String() string {
	if addr := s.LocalAddr(); addr != nil {
		return addr.String()
	}
	return "closed"
}

func wouldBlock(err error) bool {
	return err == unix.EAGAIN || err == unix.EWOULDBLOCK
}

func sockErr(op string, err error) error {
	return errors.Wrap(os.NewSyscallError(op, err), "coreact")
}

func sockaddr(addr *net.TCPAddr) (int, unix.Sockaddr, error) {
	if addr.IP == nil || addr.IP.To4() != nil {
		sa := &unix.SockaddrInet4{Port: addr.Port}
		if ip4 := addr.IP.To4(); ip4 != nil {
			copy(sa.Addr[:], ip4)
		}
		return unix.AF_INET, sa, nil
	}
	if ip6 := addr.IP.To16(); ip6 != nil {
		sa := &unix.SockaddrInet6{Port: addr.Port}
		copy(sa.Addr[:], ip6)
		if addr.Zone != "" {
			if ifi, err := net.InterfaceByName(addr.Zone); err == nil {
				sa.ZoneId = uint32(ifi.Index)
			}
		}
		return unix.AF_INET6, sa, nil
	}
	return 0, nil, errors.Errorf("coreact: unsupported address %v", addr)
}

func toAddr(sa unix.Sockaddr) net.Addr {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		ip := make(net.IP, net.IPv4len)
		copy(ip, sa.Addr[:])
		return &net.TCPAddr{IP: ip, Port: sa.Port}
	case *unix.SockaddrInet6:
		ip := make(net.IP, net.IPv6len)
		copy(ip, sa.Addr[:])
		return &net.TCPAddr{IP: ip, Port: sa.Port}
	case *unix.SockaddrUnix:
		return &net.UnixAddr{Name: sa.Name, Net: "unix"}
	}
	return nil
}
