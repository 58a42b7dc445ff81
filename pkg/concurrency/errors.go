package concurrency

import (
	"errors"
	"fmt"
)

var (
	// ErrQueueClosed is returned by blocking pops on a closed, empty queue
	ErrQueueClosed = errors.New("queue is closed")

	// ErrPoolStopped is returned by Submit once shutdown has begun
	ErrPoolStopped = errors.New("worker pool is stopped")

	// ErrNilTask is returned when submitting a nil task
	ErrNilTask = errors.New("task cannot be nil")

	// ErrInvalidWorkerCount is returned for a worker count below one
	ErrInvalidWorkerCount = errors.New("worker count must be at least 1")

	// ErrInvalidShutdownPolicy is returned for an unknown shutdown policy
	ErrInvalidShutdownPolicy = errors.New("invalid shutdown policy")

	// ErrSpawnFailed wraps a worker thread factory failure during construction
	ErrSpawnFailed = errors.New("failed to spawn worker")

	// ErrNoResources is returned when a multi-lock is requested for nothing
	ErrNoResources = errors.New("multilock: no resources given")

	// ErrNilResource is returned when one of the resources is nil
	ErrNilResource = errors.New("multilock: nil resource")

	// ErrDuplicateResource is returned when the same resource appears twice,
	// which would otherwise deadlock the caller against itself
	ErrDuplicateResource = errors.New("multilock: duplicate resource")
)

// TaskPanicError is delivered to the pool's ErrorHandler when a task panics.
type TaskPanicError struct {
	PoolID   string
	WorkerID int
	Value    interface{}
	Stack    []byte
}

func (e *TaskPanicError) Error() string {
	return fmt.Sprintf("pool %s: worker %d: task panicked: %v", e.PoolID, e.WorkerID, e.Value)
}

// Unwrap exposes the panic value when it was an error.
func (e *TaskPanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// ThreadPanicError is what ScopedThread.Err reports when the wrapped function
// panicked.
type ThreadPanicError struct {
	Value interface{}
	Stack []byte
}

func (e *ThreadPanicError) Error() string {
	return fmt.Sprintf("scoped thread panicked: %v", e.Value)
}

func (e *ThreadPanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// LockError reports a resource whose Lock, TryLock or Unlock panicked during
// a multi-lock operation. Every other resource involved has been released.
type LockError struct {
	Index     int  // position of the failing resource in the argument list
	Releasing bool // the panic came from Unlock
	Cause     error
}

func (e *LockError) Error() string {
	op := "acquiring"
	if e.Releasing {
		op = "releasing"
	}
	return fmt.Sprintf("multilock: %s resource %d: %v", op, e.Index, e.Cause)
}

func (e *LockError) Unwrap() error {
	return e.Cause
}
