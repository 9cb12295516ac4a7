// Package echo is an echo server running as coreact tasks: one accept
// loop spawning one handler task per connection. Handlers reply to
// every chunk they receive with the chunk prefixed by a fixed tag.
package echo

import (
	"context"
	"net"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/webriots/coreact"
)

// Defaults applied to zero Config fields.
const (
	DefaultAddr    = ":25000"
	DefaultPrefix  = "Got:"
	DefaultMaxRead = 10000
	DefaultBacklog = 128
)

// Config holds the server settings. Zero fields take the defaults.
type Config struct {
	Addr    string
	Prefix  string
	MaxRead int
	Backlog int
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.Prefix == "" {
		c.Prefix = DefaultPrefix
	}
	if c.MaxRead <= 0 {
		c.MaxRead = DefaultMaxRead
	}
	if c.Backlog <= 0 {
		c.Backlog = DefaultBacklog
	}
	return c
}

// listener is the accepting side of a Server.
type listener interface {
	coreact.Acceptor
	LocalAddr() net.Addr
	Close() error
}

// Server owns the listening socket and the settings handlers share.
type Server struct {
	cfg    Config
	ln     listener
	logger *zap.Logger
	reply  func([]byte) []byte
}

// Option configures a Server.
type Option func(*Server)

// WithReply replaces the reply built for each received chunk. The
// default prepends Config.Prefix.
func WithReply(fn func(data []byte) []byte) Option {
	return func(s *Server) {
		if fn != nil {
			s.reply = fn
		}
	}
}

// Listen binds the non-blocking listener described by cfg.
func Listen(cfg Config, logger *zap.Logger, opts ...Option) (*Server, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	ln, err := coreact.Listen(cfg.Addr, cfg.Backlog)
	if err != nil {
		return nil, errors.Wrap(err, "echo")
	}

	s := &Server{
		cfg:    cfg,
		ln:     ln,
		logger: logger,
	}
	s.reply = s.prefixed
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Addr returns the address the listener is bound to.
func (s *Server) Addr() net.Addr {
	return s.ln.LocalAddr()
}

// Close closes the listener of a server that is not serving.
func (s *Server) Close() error {
	return s.ln.Close()
}

// Serve is the accept loop. It runs as a task and spawns a handler task
// per accepted connection. Transient accept failures are logged and the
// loop goes on; it returns when the task is terminated or the listener
// is unusable. The listener is closed on return.
func (s *Server) Serve(ctx context.Context, task *coreact.Task) error {
	defer func() { _ = s.ln.Close() }()

	s.logger.Info("echo server listening", zap.Stringer("addr", s.Addr()))

	for {
		conn, peer, err := task.Accept(s.ln)
		if err != nil && temporary(err) {
			s.logger.Warn("accept failed", zap.Error(err))
			// The listener stays readable while the connection is
			// pending, so this only lets other tasks run first.
			if err := task.Wait(coreact.ReadWait(s.ln.FD())); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}

		s.logger.Debug("connection accepted", zap.Stringer("peer", peer))
		task.Scheduler().Spawn(s.handler(conn, peer))
	}
}

// handler echoes conn until the peer closes it. conn is closed on every
// exit path.
func (s *Server) handler(conn *coreact.Socket, peer net.Addr) coreact.TaskFunc {
	return func(ctx context.Context, _ *coreact.Task) (err error) {
		defer func() {
			_ = conn.Close()
			s.logger.Debug("connection closed", zap.Stringer("peer", peer), zap.Error(err))
		}()

		for {
			data, err := coreact.Recv(ctx, conn, s.cfg.MaxRead)
			if err != nil {
				return err
			}
			if len(data) == 0 {
				return nil
			}
			if err := coreact.SendAll(ctx, conn, s.reply(data)); err != nil {
				return err
			}
		}
	}
}

// temporary reports accept failures that concern one connection or
// momentary resource pressure rather than the listener itself.
func temporary(err error) bool {
	for _, errno := range []unix.Errno{
		unix.ECONNABORTED,
		unix.EMFILE,
		unix.ENFILE,
		unix.ENOBUFS,
		unix.ENOMEM,
		unix.EPROTO,
		unix.EPERM,
	} {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}

func (s *Server) prefixed(data []byte) []byte {
	out := make([]byte, 0, len(s.cfg.Prefix)+len(data))
	out = append(out, s.cfg.Prefix...)
	return append(out, data...)
}
