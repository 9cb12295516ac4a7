package coreact

import (
	"github.com/pkg/errors"
)

const (
	// ReactorMaxEvents bounds the readiness notifications collected by a
	// single Poll. Level-triggered readiness left over is reported again
	// by the next Poll.
	ReactorMaxEvents = 128
)

// Event is one ready registration reported by Reactor.Poll.
type Event struct {
	FD   int
	Kind WaitKind
	Task *Task
}

// Reactor wraps a readiness multiplexer. It is owned by one Scheduler
// and used from the loop goroutine only, except for Wake.
type Reactor interface {
	// Register records that t waits for kind on fd. It fails with
	// ErrDuplicateRegistration if the pair already has a waiter.
	Register(fd int, kind WaitKind, t *Task) error
	// Unregister drops the pair. Unknown pairs are ignored.
	Unregister(fd int, kind WaitKind)
	// Poll blocks until at least one registered pair is ready and
	// returns all of them. It waits forever when nothing is registered,
	// and may return an empty batch after Wake.
	Poll() ([]Event, error)
	// Wake interrupts a blocked Poll. It is safe to call from any
	// goroutine.
	Wake() error
	// Len returns the number of registrations.
	Len() int
	Close() error
}

type pollEvent struct {
	fd    int
	ready WaitKind
}

// poller is the OS readiness backend of a PollReactor. Interest is
// level-triggered.
type poller interface {
	// control changes fd's interest set from old to mask. A zero mask
	// removes fd.
	control(fd int, old, mask WaitKind) error
	// wait blocks until readiness or wake-up and fills events.
	wait(events []pollEvent) (int, error)
	wake() error
	close() error
}

// PollReactor is the Reactor over the platform poller: epoll on linux,
// poll(2) elsewhere.
type PollReactor struct {
	reg    *registry
	poller poller
	events []pollEvent
	closed bool
}

// NewReactor opens the platform readiness backend.
func NewReactor() (*PollReactor, error) {
	p, err := newPoller()
	if err != nil {
		return nil, &ReactorError{Op: "open", Err: err}
	}
	return newPollReactor(p), nil
}

func newPollReactor(p poller) *PollReactor {
	return &PollReactor{
		reg:    newRegistry(),
		poller: p,
		events: make([]pollEvent, ReactorMaxEvents),
	}
}

func (r *PollReactor) Register(fd int, kind WaitKind, t *Task) error {
	if r.closed {
		return errors.WithStack(ErrClosed)
	}
	if err := r.reg.check(fd, kind); err != nil {
		return err
	}

	old := r.reg.mask(fd)
	if err := r.poller.control(fd, old, old|kind); err != nil {
		return errors.Wrapf(err, "coreact: register fd %d %v", fd, kind)
	}
	return r.reg.add(fd, kind, t)
}

func (r *PollReactor) Unregister(fd int, kind WaitKind) {
	old := r.reg.mask(fd)
	if !r.reg.remove(fd, kind) {
		return
	}
	// The fd may already be closed, which dropped it from the kernel's
	// interest set.
	_ = r.poller.control(fd, old, old&^kind)
}

func (r *PollReactor) Poll() ([]Event, error) {
	if r.closed {
		return nil, &ReactorError{Op: "poll", Err: ErrClosed}
	}

	n, err := r.poller.wait(r.events)
	if err != nil {
		return nil, &ReactorError{Op: "poll", Err: err}
	}

	var ready []Event
	for _, pe := range r.events[:n] {
		for _, kind := range waitKinds {
			if pe.ready&kind == 0 {
				continue
			}
			if t, ok := r.reg.lookup(pe.fd, kind); ok {
				ready = append(ready, Event{FD: pe.fd, Kind: kind, Task: t})
			}
		}
	}
	return ready, nil
}

func (r *PollReactor) Wake() error {
	return r.poller.wake()
}

func (r *PollReactor) Len() int {
	return r.reg.len()
}

func (r *PollReactor) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return r.poller.close()
}
