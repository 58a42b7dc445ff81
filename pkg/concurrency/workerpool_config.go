package concurrency

import (
	"fmt"
	"runtime"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

// ShutdownPolicy decides the fate of tasks still queued when a pool stops.
type ShutdownPolicy int

const (
	// ShutdownDrain runs every accepted task before the workers exit
	ShutdownDrain ShutdownPolicy = iota
	// ShutdownDiscard drops queued tasks; running tasks still finish
	ShutdownDiscard
)

func (p ShutdownPolicy) String() string {
	switch p {
	case ShutdownDrain:
		return "drain"
	case ShutdownDiscard:
		return "discard"
	default:
		return fmt.Sprintf("shutdown(%d)", int(p))
	}
}

// ParseShutdownPolicy accepts "drain" or "discard".
func ParseShutdownPolicy(s string) (ShutdownPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "drain":
		return ShutdownDrain, nil
	case "discard":
		return ShutdownDiscard, nil
	}
	return ShutdownDrain, fmt.Errorf("%w: %q", ErrInvalidShutdownPolicy, s)
}

// PoolState is the lifecycle stage of a WorkerPool.
type PoolState int32

const (
	StateConstructing PoolState = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s PoolState) String() string {
	switch s {
	case StateConstructing:
		return "constructing"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// WorkerPoolConfig configures a WorkerPool
type WorkerPoolConfig struct {
	// Workers is the fixed number of worker goroutines. Must be at least 1.
	Workers int

	// ShutdownPolicy applies to tasks still queued at Stop.
	ShutdownPolicy ShutdownPolicy

	// ErrorHandler receives a *TaskPanicError for every task that panics.
	// It runs on the worker that ran the task. A panic inside the handler is
	// logged and swallowed; to escalate, the handler must end the process or
	// start Stop from another goroutine itself.
	// Default: log through Logger.
	ErrorHandler func(error)

	// Logger for lifecycle events. Default: NewDefaultLogger().
	Logger Logger

	// LockOSThread pins every worker to its own OS thread.
	LockOSThread bool

	// TracerProvider supplies the tracer used for one span per task.
	// Default: the global provider, a no-op unless the program installed one.
	TracerProvider trace.TracerProvider

	// Spawn starts worker goroutines. Default: SpawnScoped.
	Spawn SpawnFunc
}

// DefaultWorkers is the hardware parallelism, never less than 1.
func DefaultWorkers() int {
	return max(runtime.NumCPU(), 1)
}

// DefaultWorkerPoolConfig returns default worker pool configuration
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		Workers:        DefaultWorkers(),
		ShutdownPolicy: ShutdownDrain,
	}
}

// Validate rejects configurations that cannot produce a working pool.
func (c WorkerPoolConfig) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidWorkerCount, c.Workers)
	}
	if c.ShutdownPolicy != ShutdownDrain && c.ShutdownPolicy != ShutdownDiscard {
		return fmt.Errorf("%w: %d", ErrInvalidShutdownPolicy, int(c.ShutdownPolicy))
	}
	return nil
}

// PoolStats is a snapshot of pool counters. Fields are read independently
// and may be mutually inconsistent by a few in-flight tasks.
type PoolStats struct {
	ID        string
	Workers   int
	State     PoolState
	Submitted int64 // accepted by Submit
	Completed int64 // returned normally
	Failed    int64 // panicked
	Discarded int64 // dropped by ShutdownDiscard
	Rejected  int64 // refused because the pool was stopping
	Queued    int   // waiting in the queue right now
}
