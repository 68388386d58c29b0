// Package parallel runs a graph of single-parent tasks on a bounded pool of
// goroutines.
//
// # Tasks
//
// A [Task] wraps a [Command] and names at most one parent. Root tasks use
// [NoParent]. A [WaitingTaskList] files tasks under their parent id and
// releases them, in insertion order, once that parent has finished.
//
// # Commands
//
// Every [Command] has hooks that run in the controller goroutine and one
// function that runs on a worker:
//   - BeforeRun: receives the parent's result, once, before dispatch
//   - CreateContext: builds the immutable input handed to the worker
//   - Run: the background work, on a worker goroutine
//   - OnMessage: progress messages sent by Run through the [Messenger]
//   - AfterRun: receives the result, once, after Run returns
//
// # Executor
//
// [Executor] dispatches up to tasksAtOnce commands concurrently and
// multiplexes their result and message channels back to the controller.
// A worker error or panic cancels every sibling and ends the run with a
// [*TaskError]; there is no partial resume.
//
// # Runner
//
// [Runner] seeds the root tasks into an Executor and releases children as
// their parents finish:
//
//	r := parallel.NewRunner(8)
//	create := r.Add(parallel.NoParent, createCmd)
//	r.Add(create, sendCmd)
//	err := r.Run(ctx)
package parallel
