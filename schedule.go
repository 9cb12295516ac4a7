package coreact

import (
	"context"
	"maps"
	"runtime/trace"
	"slices"

	"github.com/gammazero/deque"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Scheduler drives tasks over one Reactor on a single goroutine. It owns
// the ready queue and is the only place tasks move between ready and
// waiting. Except for Run's context, it must only be used from the
// goroutine running Run (that is, from task bodies) or before Run
// starts.
type Scheduler struct {
	noCopy  noCopy
	reactor Reactor
	ready   deque.Deque[readyTask]
	live    map[uint64]*Task
	nextID  uint64
	ctx     context.Context
	running bool
	logger  *zap.Logger
	metrics *Metrics
}

type readyTask struct {
	task *Task
	sig  Signal
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger for task failures and loop errors.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics makes the scheduler report into m.
func WithMetrics(m *Metrics) Option {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

// New creates a Scheduler over reactor. The caller keeps ownership of
// the reactor and closes it after Run returns.
func New(reactor Reactor, opts ...Option) *Scheduler {
	s := &Scheduler{
		reactor: reactor,
		live:    make(map[uint64]*Task),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Spawn creates a task running fn and appends it to the back of the
// ready queue. It does not run fn.
func (s *Scheduler) Spawn(fn TaskFunc) *Task {
	s.nextID++
	task := newTask(s, s.nextID, fn)
	s.live[task.id] = task
	s.metrics.spawned()
	task.Log("SPAWN")

	s.enqueue(task, Signal{})
	return task
}

// Go spawns a body that needs only its context.
func (s *Scheduler) Go(fn func(context.Context) error) *Task {
	return s.Spawn(s.Fn(fn))
}

// Fn adapts a context-only function to a TaskFunc.
func (s *Scheduler) Fn(fn func(context.Context) error) TaskFunc {
	return func(ctx context.Context, _ *Task) error { return fn(ctx) }
}

// Cancel delivers the terminate signal to t. A waiting task is
// unregistered and queued to receive it; a ready task receives it when
// dequeued; a running task receives it at its next suspension.
func (s *Scheduler) Cancel(t *Task) {
	if t.sched != s {
		panic("coreact: cancel of foreign task")
	}

	switch t.state {
	case TaskDone:
		return
	case TaskWaiting:
		t.cancelled = true
		if w, ok := t.PendingWait(); ok {
			s.reactor.Unregister(w.FD, w.Kind)
		}
		s.enqueue(t, terminateSignal)
	default:
		t.cancelled = true
	}
}

// Len returns the number of live tasks.
func (s *Scheduler) Len() int {
	return len(s.live)
}

// Run drives tasks until ctx is cancelled or the reactor fails. Each
// cycle resumes the task at the front of the ready queue; once the queue
// is empty it polls the reactor and enqueues the tasks whose waits became
// ready, in reported order. On return every live task has been
// terminated with ErrTerminated. Run returns ctx.Err() after
// cancellation and a *ReactorError if polling failed.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.running {
		panic("coreact: scheduler already running")
	}
	s.running = true
	defer func() { s.running = false }()

	var tracer *trace.Task
	ctx, tracer = trace.NewTask(ctx, taskTraceTaskType)
	defer tracer.End()

	s.ctx = ctx

	woke := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(woke)
		if err := s.reactor.Wake(); err != nil {
			s.logger.Warn("wake reactor", zap.Error(err))
		}
	})
	defer func() {
		if !stop() {
			<-woke
		}
	}()
	defer s.shutdown()

	trace.Log(ctx, taskTraceCategory, "LOOP")

	for ctx.Err() == nil {
		if s.ready.Len() > 0 {
			s.step()
			continue
		}

		s.metrics.observe(s)
		events, err := s.reactor.Poll()
		s.metrics.polled()
		if err != nil {
			var rerr *ReactorError
			if !errors.As(err, &rerr) {
				err = &ReactorError{Op: "poll", Err: err}
			}
			s.logger.Error("reactor failed", zap.Error(err))
			return err
		}

		trace.Logf(ctx, taskTraceCategory, "LOOP EVENTS %v", len(events))
		for _, ev := range events {
			s.reactor.Unregister(ev.FD, ev.Kind)
			if ev.Task.state != TaskWaiting {
				continue
			}
			s.enqueue(ev.Task, Signal{})
		}
	}

	trace.Log(ctx, taskTraceCategory, "LOOP DONE")
	return ctx.Err()
}

func (s *Scheduler) context() context.Context {
	if s.ctx != nil {
		return s.ctx
	}
	return context.Background()
}

func (s *Scheduler) enqueue(t *Task, sig Signal) {
	t.state = TaskReady
	s.ready.PushBack(readyTask{task: t, sig: sig})
}

func (s *Scheduler) step() {
	rt := s.ready.PopFront()
	t, sig := rt.task, rt.sig
	if t.state == TaskDone {
		return
	}
	if t.cancelled && sig.Err == nil {
		sig = terminateSignal
	}

	s.metrics.resumed()

	var out Outcome
	if sig.Err != nil {
		out = t.terminate(sig.Err)
	} else {
		out = t.Resume(sig)
	}
	s.settle(t, out)
}

// settle applies the outcome of resuming t: suspended tasks are
// registered with the reactor, finished ones are dropped.
func (s *Scheduler) settle(t *Task, out Outcome) {
	switch out.Kind {
	case Suspended:
		if t.cancelled {
			s.settle(t, t.terminate(ErrTerminated))
			return
		}
		if err := s.reactor.Register(out.Wait.FD, out.Wait.Kind, t); err != nil {
			s.logger.Warn("register wait",
				zap.Uint64("task", t.id),
				zap.Int("fd", out.Wait.FD),
				zap.Stringer("kind", out.Wait.Kind),
				zap.Error(err))
			s.settle(t, t.terminate(err))
			return
		}
		s.metrics.registered()

	case Completed:
		delete(s.live, t.id)
		s.metrics.completed()
		s.logger.Debug("task completed", zap.Uint64("task", t.id))

	case Failed:
		delete(s.live, t.id)
		s.metrics.failed()
		if errors.Is(out.Err, ErrTerminated) {
			s.logger.Debug("task terminated", zap.Uint64("task", t.id))
		} else {
			s.logger.Warn("task failed", zap.Uint64("task", t.id), zap.Error(out.Err))
		}
	}
}

// shutdown terminates every live task, including tasks spawned by the
// cleanup of others, and drops their registrations.
func (s *Scheduler) shutdown() {
	for len(s.live) > 0 {
		for _, id := range slices.Sorted(maps.Keys(s.live)) {
			t, ok := s.live[id]
			if !ok {
				continue
			}
			if w, ok := t.PendingWait(); ok && t.state == TaskWaiting {
				s.reactor.Unregister(w.FD, w.Kind)
			}
			s.settle(t, t.terminate(ErrTerminated))
		}
	}
	s.ready.Clear()
	s.metrics.observe(s)
}
