package concurrency

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/fluxorio/parallel/pkg/failfast"
)

// DisposalPolicy decides what disposing a ScopedThread does to a goroutine
// that is still running.
type DisposalPolicy int

const (
	// PolicyJoin blocks the disposer until the goroutine returns
	PolicyJoin DisposalPolicy = iota
	// PolicyDetach releases ownership without waiting
	PolicyDetach
)

func (p DisposalPolicy) String() string {
	switch p {
	case PolicyJoin:
		return "join"
	case PolicyDetach:
		return "detach"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// threadState is shared between the goroutine and whichever handle owns it.
type threadState struct {
	done chan struct{}
	err  error // written before done is closed
}

// ScopedThread owns exactly one goroutine and the policy applied to it on
// disposal. The policy is fixed at creation and applied at most once.
//
// Go has no destructors; tie the handle to a scope with
//
//	t := concurrency.JoinThread(work)
//	defer t.Dispose()
//
// A ScopedThread must not be copied. Use Move to hand it to a new owner.
type ScopedThread struct {
	mu     sync.Mutex
	state  *threadState // nil once inert
	joined *threadState // set by a join-policy Dispose; later disposers wait on it
	policy DisposalPolicy
}

// ThreadOption customizes how the goroutine is started.
type ThreadOption func(*threadOptions)

type threadOptions struct {
	lockOSThread bool
}

// WithOSThreadLock wires the goroutine to its own OS thread for its whole
// lifetime (runtime.LockOSThread).
func WithOSThreadLock() ThreadOption {
	return func(o *threadOptions) {
		o.lockOSThread = true
	}
}

// NewScopedThread starts fn in a new goroutine owned by the returned handle.
// A panic in fn is recovered and reported by Err.
func NewScopedThread(fn func(), policy DisposalPolicy, opts ...ThreadOption) *ScopedThread {
	failfast.NotNilFunc(fn, "scoped thread function")
	failfast.If(policy == PolicyJoin || policy == PolicyDetach, "unknown disposal policy %d", int(policy))

	var o threadOptions
	for _, opt := range opts {
		opt(&o)
	}

	st := &threadState{done: make(chan struct{})}
	go func() {
		defer close(st.done)
		if o.lockOSThread {
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()
		}
		if perr := failfast.Call(fn); perr != nil {
			st.err = &ThreadPanicError{Value: perr.Value, Stack: perr.Stack}
		}
	}()

	return &ScopedThread{state: st, policy: policy}
}

// JoinThread starts fn under PolicyJoin.
func JoinThread(fn func(), opts ...ThreadOption) *ScopedThread {
	return NewScopedThread(fn, PolicyJoin, opts...)
}

// DetachThread starts fn under PolicyDetach.
func DetachThread(fn func(), opts ...ThreadOption) *ScopedThread {
	return NewScopedThread(fn, PolicyDetach, opts...)
}

// Go starts fn(arg) in a ScopedThread.
func Go[A any](policy DisposalPolicy, fn func(A), arg A, opts ...ThreadOption) *ScopedThread {
	failfast.If(fn != nil, "scoped thread function is nil")
	return NewScopedThread(func() { fn(arg) }, policy, opts...)
}

// Policy returns the disposal policy fixed at creation.
func (t *ScopedThread) Policy() DisposalPolicy {
	return t.policy
}

// Joinable reports whether the handle still owns a goroutine, i.e. it has
// been neither disposed nor moved from. It says nothing about whether the
// goroutine is still running; see Done.
func (t *ScopedThread) Joinable() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state != nil
}

// Done returns a channel closed when the goroutine returns. On an inert
// handle it returns an already closed channel.
func (t *ScopedThread) Done() <-chan struct{} {
	t.mu.Lock()
	st := t.state
	t.mu.Unlock()
	if st == nil {
		return closedChan
	}
	return st.done
}

// Wait blocks until the goroutine returns or ctx ends. It does not dispose
// the handle.
func (t *ScopedThread) Wait(ctx context.Context) error {
	select {
	case <-t.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the recovered panic of a goroutine that has finished, or nil.
// After a join-policy Dispose it still reports the joined goroutine.
func (t *ScopedThread) Err() error {
	t.mu.Lock()
	st := t.state
	if st == nil {
		st = t.joined
	}
	t.mu.Unlock()
	if st == nil {
		return nil
	}
	select {
	case <-st.done:
		return st.err
	default:
		return nil
	}
}

// Dispose applies the disposal policy and leaves the handle inert.
// Under PolicyJoin it returns only after the goroutine has finished, for
// every caller, including ones racing the first Dispose. Under PolicyDetach
// it returns immediately. Disposing a moved-from handle does nothing.
func (t *ScopedThread) Dispose() {
	t.mu.Lock()
	st := t.state
	t.state = nil
	if st != nil && t.policy == PolicyJoin {
		t.joined = st
	}
	joined := t.joined
	t.mu.Unlock()

	if t.policy == PolicyJoin && joined != nil {
		<-joined.done
	}
}

// Move transfers the goroutine and its policy to a new handle. The receiver
// becomes inert and its Dispose is a no-op.
func (t *ScopedThread) Move() *ScopedThread {
	t.mu.Lock()
	defer t.mu.Unlock()

	moved := &ScopedThread{state: t.state, policy: t.policy}
	t.state = nil
	return moved
}

var closedChan = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()
