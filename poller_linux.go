//go:build linux

package coreact

import (
	"os"

	"golang.org/x/sys/unix"
)

// epoll is the linux poller: level-triggered epoll with an eventfd for
// wake-ups.
type epoll struct {
	epfd int
	wfd  int
	buf  []unix.EpollEvent
}

func newPoller() (poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}

	wfd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, os.NewSyscallError("eventfd", err)
	}

	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wfd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wfd, &ev); err != nil {
		_ = unix.Close(wfd)
		_ = unix.Close(epfd)
		return nil, os.NewSyscallError("epoll_ctl", err)
	}

	return &epoll{
		epfd: epfd,
		wfd:  wfd,
		buf:  make([]unix.EpollEvent, ReactorMaxEvents),
	}, nil
}

func (p *epoll) control(fd int, old, mask WaitKind) error {
	ev := unix.EpollEvent{Events: epollEvents(mask), Fd: int32(fd)}

	var err error
	switch {
	case mask == 0:
		err = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, &ev)
	case old == 0:
		err = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
		if err == unix.EEXIST {
			err = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
		}
	default:
		err = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
		if err == unix.ENOENT {
			// fd was closed and reopened under the same number.
			err = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
		}
	}
	if err != nil {
		return os.NewSyscallError("epoll_ctl", err)
	}
	return nil
}

func (p *epoll) wait(events []pollEvent) (int, error) {
	buf := p.buf
	if len(events) < len(buf) {
		buf = buf[:len(events)]
	}

	for {
		n, err := unix.EpollWait(p.epfd, buf, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, os.NewSyscallError("epoll_wait", err)
		}

		k := 0
		for _, ev := range buf[:n] {
			fd := int(ev.Fd)
			if fd == p.wfd {
				p.drain()
				continue
			}
			events[k] = pollEvent{fd: fd, ready: epollReadiness(ev.Events)}
			k++
		}
		return k, nil
	}
}

func (p *epoll) drain() {
	var b [8]byte
	_, _ = unix.Read(p.wfd, b[:])
}

func (p *epoll) wake() error {
	// eventfd takes a native-endian uint64; any non-zero value wakes.
	b := [8]byte{1}
	if _, err := unix.Write(p.wfd, b[:]); err != nil && err != unix.EAGAIN {
		return os.NewSyscallError("write", err)
	}
	return nil
}

func (p *epoll) close() error {
	err := unix.Close(p.wfd)
	if cerr := unix.Close(p.epfd); err == nil {
		err = cerr
	}
	if err != nil {
		return os.NewSyscallError("close", err)
	}
	return nil
}

func epollEvents(mask WaitKind) uint32 {
	var ev uint32
	if mask&Readable != 0 {
		ev |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if mask&Writable != 0 {
		ev |= unix.EPOLLOUT
	}
	return ev
}

// epollReadiness maps reported events to channels. Errors and hang-ups
// make both channels ready so the next socket call reports them.
func epollReadiness(ev uint32) WaitKind {
	var k WaitKind
	if ev&(unix.EPOLLIN|unix.EPOLLRDHUP|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
		k |= Readable
	}
	if ev&(unix.EPOLLOUT|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
		k |= Writable
	}
	return k
}
