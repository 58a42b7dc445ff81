package concurrency

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fluxorio/parallel/pkg/failfast"
)

const tracerName = "github.com/fluxorio/parallel/pkg/concurrency"

// WorkerPool runs submitted tasks on a fixed set of worker goroutines that
// block on a shared Queue.
//
// Submission is fire-and-forget: the pool reports nothing back to the
// submitter about completion or failure. Results must flow through state the
// task closes over; failures go to the configured ErrorHandler.
//
// Lifecycle: Constructing -> Running -> Draining -> Stopped. Stop (or Close,
// or cancelling the constructor's context) moves the pool to Draining, where
// Submit is refused and queued tasks are drained or discarded according to
// the ShutdownPolicy. Stopped is reached once every worker has exited and
// been joined.
//
// Ownership:
//   - the pool owns its queue and one join-policy ScopedThread per worker
//   - stopping is the only shared flag outside the queue; it goes false to
//     true once and never back
type WorkerPool struct {
	id      string
	workers int
	policy  ShutdownPolicy
	queue   *Queue[Task]
	threads []*ScopedThread

	// mu orders Submit against the start of shutdown so no task can be
	// pushed after the queue is closed.
	mu        sync.RWMutex
	stopping  atomic.Bool
	state     atomic.Int32
	stopOnce  sync.Once
	stopped   chan struct{}
	stopAfter func() bool // releases the constructor ctx hook

	errorHandler func(error)
	logger       Logger
	tracer       trace.Tracer
	spanCtx      context.Context
	nextWorkerID int

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	discarded atomic.Int64
	rejected  atomic.Int64
}

// NewWorkerPool validates config and starts config.Workers workers.
//
// If a worker cannot be spawned (Spawn fails, panics, or hands back a handle
// not under PolicyJoin), the workers already running are stopped and joined
// before the error (wrapping ErrSpawnFailed) is returned.
//
// Cancelling ctx stops the pool as if Close had been called from another
// goroutine.
func NewWorkerPool(ctx context.Context, config WorkerPoolConfig) (*WorkerPool, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	p := &WorkerPool{
		id:      uuid.New().String(),
		workers: config.Workers,
		policy:  config.ShutdownPolicy,
		queue:   NewQueue[Task](),
		threads: make([]*ScopedThread, 0, config.Workers),
		stopped: make(chan struct{}),
		logger:  config.Logger,
		spanCtx: context.WithoutCancel(ctx),
	}
	p.state.Store(int32(StateConstructing))

	if p.logger == nil {
		p.logger = NewDefaultLogger()
	}
	p.errorHandler = config.ErrorHandler
	if p.errorHandler == nil {
		p.errorHandler = func(err error) {
			p.logger.Errorf("%v", err)
		}
	}
	provider := config.TracerProvider
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	p.tracer = provider.Tracer(tracerName)

	spawn := config.Spawn
	if spawn == nil {
		spawn = SpawnScoped
	}
	var opts []ThreadOption
	if config.LockOSThread {
		opts = append(opts, WithOSThreadLock())
	}

	for i := 0; i < config.Workers; i++ {
		workerID := p.nextWorkerID
		p.nextWorkerID++

		t, err := spawnWorker(spawn, func() { p.work(workerID) }, opts)
		if err != nil {
			p.abortConstruction()
			p.logger.Errorf("pool %s: spawning worker %d of %d failed: %v", p.id, i+1, config.Workers, err)
			return nil, fmt.Errorf("%w %d of %d: %w", ErrSpawnFailed, i+1, config.Workers, err)
		}
		p.threads = append(p.threads, t)
	}

	p.mu.Lock()
	p.state.Store(int32(StateRunning))
	p.stopAfter = context.AfterFunc(ctx, func() {
		p.logger.Infof("pool %s: context done, stopping", p.id)
		_ = p.Stop(context.Background())
	})
	p.mu.Unlock()

	p.logger.Infof("pool %s: started %d workers (shutdown=%s)", p.id, p.workers, p.policy)
	return p, nil
}

// spawnWorker calls spawn and checks what it produced. A panicking spawn is
// reported as an error so construction can still tear down.
func spawnWorker(spawn SpawnFunc, fn func(), opts []ThreadOption) (t *ScopedThread, err error) {
	if perr := failfast.Call(func() { t, err = spawn(fn, opts...) }); perr != nil {
		return nil, perr
	}
	switch {
	case err != nil:
		return nil, err
	case t == nil:
		return nil, fmt.Errorf("spawn returned no thread")
	case t.Policy() != PolicyJoin:
		t.Dispose()
		return nil, fmt.Errorf("spawn returned a %s thread, want join", t.Policy())
	}
	return t, nil
}

// MustNewWorkerPool is NewWorkerPool that panics on error.
func MustNewWorkerPool(ctx context.Context, config WorkerPoolConfig) *WorkerPool {
	p, err := NewWorkerPool(ctx, config)
	failfast.Err(err)
	return p
}

// abortConstruction tears down a partially built pool. The queue is empty
// and nothing else can see p yet.
func (p *WorkerPool) abortConstruction() {
	p.stopping.Store(true)
	p.queue.Close()
	for _, t := range p.threads {
		t.Dispose()
	}
	p.state.Store(int32(StateStopped))
	p.stopOnce.Do(func() { close(p.stopped) })
}

// work is the loop each worker runs. The stopping flag is only looked at
// between tasks; a running task is never interrupted.
func (p *WorkerPool) work(workerID int) {
	for {
		task, err := p.queue.WaitAndPop()
		if err != nil {
			return // closed and empty
		}
		if p.policy == ShutdownDiscard && p.stopping.Load() {
			p.discarded.Add(1)
			continue
		}
		p.execute(workerID, task)
	}
}

func (p *WorkerPool) execute(workerID int, task Task) {
	_, span := p.tracer.Start(p.spanCtx, "parallel.task",
		trace.WithAttributes(
			attribute.String("pool.id", p.id),
			attribute.Int("worker.id", workerID),
		),
	)
	defer span.End()

	perr := failfast.Call(task)
	if perr == nil {
		p.completed.Add(1)
		return
	}

	p.failed.Add(1)
	err := &TaskPanicError{PoolID: p.id, WorkerID: workerID, Value: perr.Value, Stack: perr.Stack}
	span.RecordError(err)
	span.SetStatus(codes.Error, "task panicked")

	if herr := failfast.Call(func() { p.errorHandler(err) }); herr != nil {
		p.logger.Errorf("pool %s: worker %d: error handler panicked: %v (task error: %v)", p.id, workerID, herr.Value, err)
	}
}

// Submit queues task and returns at once. It fails only for a nil task or
// once shutdown has begun.
func (p *WorkerPool) Submit(task Task) error {
	if task == nil {
		return ErrNilTask
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopping.Load() {
		p.rejected.Add(1)
		return ErrPoolStopped
	}
	p.submitted.Add(1)
	p.queue.Push(task)
	return nil
}

// Stop begins shutdown and waits for every worker to exit.
//
// The first call sets the stopping flag, applies the ShutdownPolicy and
// closes the queue, which wakes every worker parked in WaitAndPop. Stop then
// waits until all workers have been joined or ctx ends; on timeout the
// workers keep finishing in the background and a later Stop may wait again.
//
// Do not call Stop from inside a task without a deadline: the calling worker
// would wait for itself.
func (p *WorkerPool) Stop(ctx context.Context) error {
	p.beginShutdown()

	select {
	case <-p.stopped:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop timeout: %w", ctx.Err())
	}
}

// Close stops the pool and waits without a deadline.
func (p *WorkerPool) Close() error {
	return p.Stop(context.Background())
}

func (p *WorkerPool) beginShutdown() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopping.Store(true)
		p.state.Store(int32(StateDraining))
		stopAfter := p.stopAfter
		p.mu.Unlock()

		if stopAfter != nil {
			stopAfter()
		}

		if p.policy == ShutdownDiscard {
			if n := p.queue.Clear(); n > 0 {
				p.discarded.Add(int64(n))
				p.logger.Infof("pool %s: discarded %d queued tasks", p.id, n)
			}
		}
		p.queue.Close()

		go p.reap()
	})
}

// reap joins every worker and marks the pool stopped.
func (p *WorkerPool) reap() {
	for i, t := range p.threads {
		t.Dispose()
		if err := t.Err(); err != nil {
			p.logger.Errorf("pool %s: worker %d exited abnormally: %v", p.id, i, err)
		}
	}
	p.state.Store(int32(StateStopped))
	close(p.stopped)
	p.logger.Infof("pool %s: stopped", p.id)
}

// Done is closed once the pool reaches StateStopped.
func (p *WorkerPool) Done() <-chan struct{} {
	return p.stopped
}

// ID returns the pool's unique identifier.
func (p *WorkerPool) ID() string {
	return p.id
}

// Workers returns the fixed number of workers.
func (p *WorkerPool) Workers() int {
	return p.workers
}

// State returns the current lifecycle state.
func (p *WorkerPool) State() PoolState {
	return PoolState(p.state.Load())
}

// Len is the number of tasks waiting in the queue.
func (p *WorkerPool) Len() int {
	return p.queue.Len()
}

// Stats returns a snapshot of the pool counters.
func (p *WorkerPool) Stats() PoolStats {
	return PoolStats{
		ID:        p.id,
		Workers:   p.workers,
		State:     p.State(),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Discarded: p.discarded.Load(),
		Rejected:  p.rejected.Load(),
		Queued:    p.queue.Len(),
	}
}
