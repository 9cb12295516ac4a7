package coreact

// WaitKind names the readiness condition a suspended task waits for.
// The values are bits so that a socket's interest set can be expressed
// as their union.
type WaitKind uint8

const (
	// Readable waits until the socket can be read (or accepted from)
	// without blocking.
	Readable WaitKind = 1 << iota
	// Writable waits until the socket can be written without blocking.
	Writable
)

var waitKinds = [...]WaitKind{Readable, Writable}

func (k WaitKind) String() string {
	switch k {
	case Readable:
		return "readable"
	case Writable:
		return "writable"
	case Readable | Writable:
		return "readable|writable"
	case 0:
		return "none"
	}
	return "invalid"
}

// Wait is a suspension request: it asks the scheduler to park the
// yielding task until FD reports the Kind condition. A Wait is consumed
// exactly once by the scheduler.
type Wait struct {
	Kind WaitKind
	FD   int
}

// ReadWait returns a Wait for fd becoming readable.
func ReadWait(fd int) Wait {
	return Wait{Kind: Readable, FD: fd}
}

// WriteWait returns a Wait for fd becoming writable.
func WriteWait(fd int) Wait {
	return Wait{Kind: Writable, FD: fd}
}

// Signal is the value a suspended task is resumed with. The zero Signal
// reports that the awaited condition holds. A non-nil Err is fatal: the
// task must unwind and release what it owns.
type Signal struct {
	Err error
}

// terminateSignal is injected to cancel a task.
var terminateSignal = Signal{Err: ErrTerminated}
