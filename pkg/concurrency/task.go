package concurrency

// Task is the unit of work a WorkerPool runs: no arguments, no result.
// Anything a task produces must travel through state it closes over; guard
// shared state with Lock when several tasks touch more than one resource.
type Task func()

// SpawnFunc starts one worker goroutine running fn. The pool always joins
// its workers, so implementations must return a handle under PolicyJoin;
// any other handle is rejected.
//
// Returning an error or panicking aborts pool construction: workers spawned
// so far are stopped and joined before NewWorkerPool returns.
type SpawnFunc func(fn func(), opts ...ThreadOption) (*ScopedThread, error)

// SpawnScoped is the default SpawnFunc. It cannot fail.
func SpawnScoped(fn func(), opts ...ThreadOption) (*ScopedThread, error) {
	return JoinThread(fn, opts...), nil
}
