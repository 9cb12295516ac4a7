// Package coreact provides a single-threaded cooperative scheduler for
// network I/O: a reactor-style event loop that multiplexes coroutine
// tasks over non-blocking stream sockets.
//
// Key components:
//
//   - Wait: a suspension request naming a socket and the readiness
//     condition (Readable or Writable) a task waits for.
//
//   - Task: a coroutine-backed unit of sequential logic. Resume runs
//     it until it suspends on a Wait, completes, or fails. Failures,
//     panics included, stay inside the task.
//
//   - Reactor: the readiness multiplexer (epoll on linux, poll(2) on
//     other unix systems) with a registration table holding at most one
//     waiting task per socket and kind.
//
//   - Scheduler: owns the FIFO ready queue and the Reactor. It resumes
//     ready tasks, registers the Waits they yield, and polls the
//     Reactor when nothing is ready.
//
//   - I/O facade: Accept, Recv and SendAll, which retry non-blocking
//     socket calls and suspend only when a call would block.
//
// All tasks run on the goroutine that calls Scheduler.Run; only one
// task body executes at any instant, so tasks share state without
// locks. Suspension happens only inside the I/O facade.
package coreact
