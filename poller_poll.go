//go:build unix && !linux

package coreact

import (
	"os"

	"golang.org/x/sys/unix"
)

// pollPoller is the portable poller: poll(2) over the interest set,
// with a self-pipe for wake-ups. Readiness across distinct fds is
// reported in map order.
type pollPoller struct {
	interest map[int]WaitKind
	fds      []unix.PollFd
	rfd, wfd int
}

func newPoller() (poller, error) {
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		return nil, os.NewSyscallError("pipe", err)
	}
	for _, fd := range p {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			_ = unix.Close(p[0])
			_ = unix.Close(p[1])
			return nil, os.NewSyscallError("setnonblock", err)
		}
	}
	return &pollPoller{
		interest: make(map[int]WaitKind),
		rfd:      p[0],
		wfd:      p[1],
	}, nil
}

func (p *pollPoller) control(fd int, _, mask WaitKind) error {
	if mask == 0 {
		delete(p.interest, fd)
	} else {
		p.interest[fd] = mask
	}
	return nil
}

func (p *pollPoller) wait(events []pollEvent) (int, error) {
	p.fds = append(p.fds[:0], unix.PollFd{Fd: int32(p.rfd), Events: unix.POLLIN})
	for fd, mask := range p.interest {
		var ev int16
		if mask&Readable != 0 {
			ev |= unix.POLLIN
		}
		if mask&Writable != 0 {
			ev |= unix.POLLOUT
		}
		p.fds = append(p.fds, unix.PollFd{Fd: int32(fd), Events: ev})
	}

	for {
		_, err := unix.Poll(p.fds, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, os.NewSyscallError("poll", err)
		}
		break
	}

	k := 0
	for _, pfd := range p.fds {
		if pfd.Revents == 0 {
			continue
		}
		if int(pfd.Fd) == p.rfd {
			p.drain()
			continue
		}
		if k == len(events) {
			break
		}
		events[k] = pollEvent{fd: int(pfd.Fd), ready: pollReadiness(pfd.Revents)}
		k++
	}
	return k, nil
}

func (p *pollPoller) drain() {
	var b [64]byte
	for {
		if n, err := unix.Read(p.rfd, b[:]); n <= 0 || err != nil {
			return
		}
	}
}

func (p *pollPoller) wake() error {
	if _, err := unix.Write(p.wfd, []byte{1}); err != nil && err != unix.EAGAIN {
		return os.NewSyscallError("write", err)
	}
	return nil
}

func (p *pollPoller) close() error {
	err := unix.Close(p.wfd)
	if cerr := unix.Close(p.rfd); err == nil {
		err = cerr
	}
	if err != nil {
		return os.NewSyscallError("close", err)
	}
	return nil
}

func pollReadiness(ev int16) WaitKind {
	var k WaitKind
	if ev&(unix.POLLIN|unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0 {
		k |= Readable
	}
	if ev&(unix.POLLOUT|unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0 {
		k |= Writable
	}
	return k
}
