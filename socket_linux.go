package coreact

import (
	"golang.org/x/sys/unix"
)

// accept takes a connection off fd that is non-blocking and
// close-on-exec from the start.
func accept(fd int) (*Socket, unix.Sockaddr, error) {
	nfd, sa, err := unix.Accept4(fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return nil, nil, err
	}
	return &Socket{fd: nfd}, sa, nil
}
