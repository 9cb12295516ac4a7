package coreact

import (
	"context"
	"fmt"
	"runtime/debug"
	"runtime/trace"
	"strconv"
	"strings"

	"github.com/webriots/coro"
)

const (
	taskTraceTaskType   = "coreact-loop"
	taskTraceRegionType = "coreact-task"
	taskTraceCategory   = "coreact"
)

// TaskFunc is the body of a task. It runs on the scheduler's loop and
// may suspend only through Wait or the I/O facade built on it.
type TaskFunc func(ctx context.Context, task *Task) error

// TaskState is the scheduling state of a task.
type TaskState uint8

const (
	// TaskReady tasks sit in the ready queue.
	TaskReady TaskState = iota
	// TaskRunning is the single task currently executing its body.
	TaskRunning
	// TaskWaiting tasks are suspended on a Wait.
	TaskWaiting
	// TaskDone tasks have completed or failed.
	TaskDone
)

func (s TaskState) String() string {
	switch s {
	case TaskReady:
		return "ready"
	case TaskRunning:
		return "running"
	case TaskWaiting:
		return "waiting"
	case TaskDone:
		return "done"
	}
	return "invalid"
}

// OutcomeKind tags the result of a single Resume.
type OutcomeKind uint8

const (
	// Suspended means the task yielded a Wait.
	Suspended OutcomeKind = iota + 1
	// Completed means the body returned nil.
	Completed
	// Failed means the body returned an error, panicked, or was
	// terminated.
	Failed
)

func (k OutcomeKind) String() string {
	switch k {
	case Suspended:
		return "suspended"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	}
	return "invalid"
}

// Outcome is what Resume reports: the Wait for a suspended task, the
// error for a failed one.
type Outcome struct {
	Kind OutcomeKind
	Wait Wait
	Err  error
}

// Task is a suspendable unit of sequential logic driven by a Scheduler.
type Task struct {
	id     uint64
	ctx    context.Context
	fn     TaskFunc
	sched  *Scheduler
	yield  func(Wait) Signal
	resume func(Signal) (Wait, bool)
	cancel func()
	state  TaskState
	wait   Wait
	// waiting is set while wait holds the task's pending Wait.
	waiting    bool
	started    bool
	cancelled  bool
	cancelling bool
	err        error
}

func newTask(sched *Scheduler, id uint64, fn TaskFunc) *Task {
	task := &Task{
		id:    id,
		fn:    fn,
		sched: sched,
	}

	resume, cancel := coro.New(
		func(yield func(Wait) Signal, _ func() Signal) (z Wait) {
			region := trace.StartRegion(task.ctx, taskTraceRegionType)
			defer region.End()

			task.yield = yield
			task.err = task.call()

			return
		},
	)

	task.resume = resume
	task.cancel = cancel
	return task
}

func (t *Task) call() (err error) {
	defer func() {
		if p := recover(); p != nil {
			if t.cancelling {
				// Let coro's cancellation unwind the coroutine.
				panic(p)
			}
			err = &PanicError{Value: p, Stack: debug.Stack()}
		}
	}()
	return t.fn(t.ctx, t)
}

// ID returns the task's scheduler-unique identifier.
func (t *Task) ID() uint64 {
	return t.id
}

// State returns the task's current scheduling state.
func (t *Task) State() TaskState {
	return t.state
}

// Err returns the failure of a finished task, or nil.
func (t *Task) Err() error {
	return t.err
}

// Scheduler returns the scheduler that owns the task.
func (t *Task) Scheduler() *Scheduler {
	return t.sched
}

// Context returns the context handed to the task's body. Before the
// task first runs it is the scheduler's context.
func (t *Task) Context() context.Context {
	if t.ctx != nil {
		return t.ctx
	}
	if t.sched != nil {
		return t.sched.context()
	}
	return context.Background()
}

// PendingWait returns the Wait the task is suspended on, if any.
func (t *Task) PendingWait() (Wait, bool) {
	return t.wait, t.waiting
}

// Resume runs the task until it suspends, completes or fails. A zero
// Signal resumes normally; a Signal carrying an error is returned from
// the pending Wait. Resume of a finished task reports its final outcome
// again.
func (t *Task) Resume(sig Signal) Outcome {
	switch t.state {
	case TaskDone:
		return t.outcome()
	case TaskRunning:
		panic("coreact: resume of running task")
	}

	if !t.started {
		if sig.Err != nil {
			t.Logf("TERMINATE UNSTARTED %v", sig.Err)
			t.cancel()
			t.finish(sig.Err)
			return t.outcome()
		}
		t.started = true
		t.ctx = withTaskContext(t.Context(), t)
	}

	t.waiting = false
	t.state = TaskRunning
	t.Log("RESUME")

	if w, ok := t.resume(sig); ok {
		t.state = TaskWaiting
		return Outcome{Kind: Suspended, Wait: w}
	}

	t.finish(t.err)
	return t.outcome()
}

// Wait suspends the calling task until the scheduler resumes it after w
// holds. It must be called from the task's own body. The returned error
// is the resuming Signal's: non-nil means the task must unwind.
func (t *Task) Wait(w Wait) error {
	if t.cancelling {
		return ErrTerminated
	}
	if t.state != TaskRunning || t.yield == nil {
		panic("coreact: Wait called outside the task's body")
	}

	t.wait, t.waiting = w, true
	t.Logf("WAIT %v %d", w.Kind, w.FD)

	sig := t.yield(w)
	t.waiting = false
	return sig.Err
}

// terminate delivers err to the task and lets it unwind. A task that
// suspends again instead has its coroutine cancelled.
func (t *Task) terminate(err error) Outcome {
	out := t.Resume(Signal{Err: err})
	if out.Kind != Suspended {
		return out
	}

	t.Log("CANCEL")
	t.cancelling = true
	t.cancel()
	t.finish(err)
	return t.outcome()
}

func (t *Task) finish(err error) {
	t.state = TaskDone
	t.waiting = false
	t.err = err
}

func (t *Task) outcome() Outcome {
	if t.err != nil {
		return Outcome{Kind: Failed, Err: t.err}
	}
	return Outcome{Kind: Completed}
}

func (t *Task) String() string {
	return "task#" + strconv.FormatUint(t.id, 10)
}

func (t *Task) Log(msg string) {
	if trace.IsEnabled() {
		var sb strings.Builder
		sb.WriteString(t.String())
		sb.WriteRune(' ')
		sb.WriteString(msg)
		trace.Log(t.Context(), taskTraceCategory, sb.String())
	}
}

func (t *Task) Logf(format string, args ...any) {
	if trace.IsEnabled() {
		var sb strings.Builder
		sb.WriteString(t.String())
		sb.WriteRune(' ')
		fmt.Fprintf(&sb, format, args...)
		trace.Log(t.Context(), taskTraceCategory, sb.String())
	}
}
