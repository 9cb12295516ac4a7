//go:build unix && !linux

package coreact

import (
	"golang.org/x/sys/unix"
)

func accept(fd int) (*Socket, unix.Sockaddr, error) {
	nfd, sa, err := unix.Accept(fd)
	if err != nil {
		return nil, nil, err
	}
	c, err := NewSocket(nfd)
	if err != nil {
		_ = unix.Close(nfd)
		return nil, nil, err
	}
	return c, sa, nil
}
