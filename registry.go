package coreact

import (
	"github.com/pkg/errors"
)

type regKey struct {
	fd   int
	kind WaitKind
}

// registry is the registration table behind a Reactor: at most one
// waiting task per (fd, kind) pair, plus the interest mask per fd that
// the pairs add up to.
type registry struct {
	noCopy  noCopy
	waiters map[regKey]*Task
	masks   map[int]WaitKind
}

func newRegistry() *registry {
	return &registry{
		waiters: make(map[regKey]*Task),
		masks:   make(map[int]WaitKind),
	}
}

// check reports why (fd, kind) cannot be registered, without touching
// the table.
func (r *registry) check(fd int, kind WaitKind) error {
	if kind != Readable && kind != Writable {
		return errors.Errorf("coreact: invalid wait kind %v", kind)
	}
	if fd < 0 {
		return errors.Wrapf(ErrClosed, "coreact: register fd %d", fd)
	}
	if _, ok := r.waiters[regKey{fd, kind}]; ok {
		return errors.Wrapf(ErrDuplicateRegistration, "fd %d %v", fd, kind)
	}
	return nil
}

func (r *registry) add(fd int, kind WaitKind, t *Task) error {
	if err := r.check(fd, kind); err != nil {
		return err
	}
	r.waiters[regKey{fd, kind}] = t
	r.masks[fd] |= kind
	return nil
}

func (r *registry) remove(fd int, kind WaitKind) bool {
	k := regKey{fd, kind}
	if _, ok := r.waiters[k]; !ok {
		return false
	}
	delete(r.waiters, k)
	if m := r.masks[fd] &^ kind; m != 0 {
		r.masks[fd] = m
	} else {
		delete(r.masks, fd)
	}
	return true
}

func (r *registry) lookup(fd int, kind WaitKind) (*Task, bool) {
	t, ok := r.waiters[regKey{fd, kind}]
	return t, ok
}

func (r *registry) mask(fd int) WaitKind {
	return r.masks[fd]
}

func (r *registry) len() int {
	return len(r.waiters)
}
