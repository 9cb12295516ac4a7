package coreact

import (
	"context"
)

// taskContextKey is the context key under which a running task stores
// itself.
type taskContextKey struct{}

func withTaskContext(ctx context.Context, task *Task) context.Context {
	return context.WithValue(ctx, taskContextKey{}, task)
}

// TaskFromContext returns the task whose body received ctx.
func TaskFromContext(ctx context.Context) (*Task, bool) {
	val, ok := ctx.Value(taskContextKey{}).(*Task)
	return val, ok
}

// MustTaskFromContext is like TaskFromContext but panics when ctx does
// not belong to a task. The I/O facade's context forms use it.
func MustTaskFromContext(ctx context.Context) *Task {
	val, ok := TaskFromContext(ctx)
	if !ok {
		panic("coreact: task not found in context")
	}
	return val
}

// Spawn starts fn as a new task on the scheduler of the task owning
// ctx. The new task joins the back of the ready queue; the caller keeps
// running.
func Spawn(ctx context.Context, fn TaskFunc) *Task {
	return MustTaskFromContext(ctx).Scheduler().Spawn(fn)
}

// Go is Spawn for a body that needs only its context.
func Go(ctx context.Context, fn func(context.Context) error) *Task {
	return MustTaskFromContext(ctx).Scheduler().Go(fn)
}
