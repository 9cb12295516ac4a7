package coreact

import (
	"context"
	"net"

	"github.com/pkg/errors"
)

// Handle is anything backed by a pollable descriptor.
type Handle interface {
	FD() int
}

// Acceptor is a non-blocking listening socket.
type Acceptor interface {
	Handle
	Accept() (*Socket, net.Addr, error)
}

// Receiver is a non-blocking readable stream.
type Receiver interface {
	Handle
	Recv(p []byte) (int, error)
}

// Sender is a non-blocking writable stream.
type Sender interface {
	Handle
	Send(p []byte) (int, error)
}

// Accept returns the next connection on ln, suspending the task while
// none is pending. It does not suspend when one is already queued.
func (t *Task) Accept(ln Acceptor) (*Socket, net.Addr, error) {
	for {
		conn, addr, err := ln.Accept()
		if !errors.Is(err, ErrWouldBlock) {
			return conn, addr, err
		}
		if err := t.Wait(ReadWait(ln.FD())); err != nil {
			return nil, nil, err
		}
	}
}

// Recv suspends until s is readable, then performs one receive of at
// most size bytes. An empty result means the peer closed its side.
func (t *Task) Recv(s Receiver, size int) ([]byte, error) {
	if size <= 0 {
		return nil, errors.Errorf("coreact: recv size %d", size)
	}

	buf := make([]byte, size)
	for {
		if err := t.Wait(ReadWait(s.FD())); err != nil {
			return nil, err
		}
		n, err := s.Recv(buf)
		if errors.Is(err, ErrWouldBlock) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return buf[:n], nil
	}
}

// SendAll sends every byte of data. It suspends only when the socket
// stops accepting bytes and resumes from the unsent offset.
func (t *Task) SendAll(s Sender, data []byte) error {
	for len(data) > 0 {
		n, err := s.Send(data)
		if n > 0 {
			data = data[n:]
		}
		switch {
		case errors.Is(err, ErrWouldBlock):
			if err := t.Wait(WriteWait(s.FD())); err != nil {
				return err
			}
		case err != nil:
			return err
		}
	}
	return nil
}

// Accept is Task.Accept for the task owning ctx.
func Accept(ctx context.Context, ln Acceptor) (*Socket, net.Addr, error) {
	return MustTaskFromContext(ctx).Accept(ln)
}

// Recv is Task.Recv for the task owning ctx.
func Recv(ctx context.Context, s Receiver, size int) ([]byte, error) {
	return MustTaskFromContext(ctx).Recv(s, size)
}

// SendAll is Task.SendAll for the task owning ctx.
func SendAll(ctx context.Context, s Sender, data []byte) error {
	return MustTaskFromContext(ctx).SendAll(s, data)
}
