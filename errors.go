package coreact

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrWouldBlock is reported by non-blocking socket calls that cannot
	// make progress yet. The I/O facade converts it into a Wait; it is
	// never returned to task code.
	ErrWouldBlock = errors.New("coreact: operation would block")

	// ErrDuplicateRegistration is reported when a second task tries to
	// wait on a (socket, kind) pair that already has a waiter.
	ErrDuplicateRegistration = errors.New("coreact: duplicate registration")

	// ErrTerminated is the terminate signal delivered to cancelled tasks
	// and to every live task when the scheduler stops.
	ErrTerminated = errors.New("coreact: task terminated")

	// ErrClosed is returned by operations on a closed socket or reactor.
	ErrClosed = errors.New("coreact: use of closed handle")
)

// ReactorError reports a failure of the readiness multiplexer itself.
// The scheduler cannot make progress without it, so Run returns it.
type ReactorError struct {
	Op  string
	Err error
}

func (e *ReactorError) Error() string {
	return "coreact: reactor " + e.Op + ": " + e.Err.Error()
}

func (e *ReactorError) Unwrap() error {
	return e.Err
}

// PanicError is the failure recorded for a task whose body panicked.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("coreact: task panicked: %v", e.Value)
}

// Unwrap exposes the panic value when it was itself an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// DebugString returns the panic value followed by the goroutine stack
// captured at recovery.
func (e *PanicError) DebugString() string {
	return fmt.Sprintf("%v\n\n%s", e.Value, e.Stack)
}
