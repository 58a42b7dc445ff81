package concurrency

import (
	"context"
	"fmt"
	"reflect"
	"runtime"
	"sync"
	"time"

	"github.com/fluxorio/parallel/pkg/failfast"
)

// Lockable is anything that can be acquired, tried and released.
// *sync.Mutex and *sync.RWMutex (write side) satisfy it as they are; no
// common base type is needed.
type Lockable interface {
	Lock()
	Unlock()
	TryLock() bool
}

var (
	_ Lockable = (*sync.Mutex)(nil)
	_ Lockable = (*sync.RWMutex)(nil)
)

// Guard holds a set of resources acquired together. Unlock releases all of
// them exactly once.
type Guard struct {
	mu        sync.Mutex
	resources []Lockable
	held      bool
	attempts  int
}

// Unlock releases every resource. Further calls do nothing.
//
// Every resource is released even if one of them panics in Unlock; the first
// such panic is then re-raised as a *LockError.
func (g *Guard) Unlock() {
	g.mu.Lock()
	if !g.held {
		g.mu.Unlock()
		return
	}
	g.held = false
	err := release(g.resources, ordered(len(g.resources)))
	g.mu.Unlock()

	if err != nil {
		panic(err)
	}
}

// Held reports whether the guard still owns its resources.
func (g *Guard) Held() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.held
}

// Attempts is the number of rounds acquisition took, 1 when nothing was
// contended.
func (g *Guard) Attempts() int {
	return g.attempts
}

// Lock acquires every resource or none, blocking until it can hold them all.
//
// Acquisition blocks on one resource and tries the others without waiting.
// When a try fails, everything taken in that round is released and the next
// round blocks on the resource that was busy. Callers locking overlapping
// sets in different orders therefore never wait on each other while holding
// anything, so they cannot deadlock.
//
// If a resource's Lock or TryLock panics, the resources taken in that round
// are released and a *LockError is returned.
func Lock(resources ...Lockable) (*Guard, error) {
	rs, err := checkResources(resources)
	if err != nil {
		return nil, err
	}

	first := 0
	for attempt := 1; ; attempt++ {
		busy, err := lockRound(rs, first)
		if err != nil {
			return nil, err
		}
		if busy < 0 {
			return &Guard{resources: rs, held: true, attempts: attempt}, nil
		}
		first = busy
		runtime.Gosched()
	}
}

// TryLockAll makes one non-blocking attempt. It returns ok=false, with
// nothing held, if any resource is busy.
func TryLockAll(resources ...Lockable) (g *Guard, ok bool, err error) {
	rs, err := checkResources(resources)
	if err != nil {
		return nil, false, err
	}

	for i, r := range rs {
		acquired, perr := tryLock(r)
		if perr != nil || !acquired {
			if rerr := release(rs, ordered(i)); rerr != nil {
				return nil, false, rerr
			}
			if perr != nil {
				return nil, false, &LockError{Index: i, Cause: perr}
			}
			return nil, false, nil
		}
	}
	return &Guard{resources: rs, held: true, attempts: 1}, true, nil
}

const (
	minLockBackoff = 50 * time.Microsecond
	maxLockBackoff = 5 * time.Millisecond
)

// LockContext is Lock bounded by ctx. It polls with TryLockAll, backing off
// up to a few milliseconds between rounds, and returns ctx.Err() if ctx ends
// first.
func LockContext(ctx context.Context, resources ...Lockable) (*Guard, error) {
	if _, err := checkResources(resources); err != nil {
		return nil, err
	}

	backoff := minLockBackoff
	timer := time.NewTimer(backoff)
	defer timer.Stop()

	for attempt := 1; ; attempt++ {
		g, ok, err := TryLockAll(resources...)
		if err != nil {
			return nil, err
		}
		if ok {
			g.attempts = attempt
			return g, nil
		}

		timer.Reset(backoff)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
		backoff = min(backoff*2, maxLockBackoff)
	}
}

// With runs fn while holding every resource and releases them on every exit
// path. A panic in fn is re-raised after the release.
func With(fn func() error, resources ...Lockable) error {
	g, err := Lock(resources...)
	if err != nil {
		return err
	}
	defer g.Unlock()
	return fn()
}

// lockRound blocks on rs[first] then tries the rest in rotation. It returns
// -1 with everything held, or the index of the busy resource with nothing
// held.
func lockRound(rs []Lockable, first int) (int, error) {
	n := len(rs)
	if perr := failfast.Call(rs[first].Lock); perr != nil {
		return 0, &LockError{Index: first, Cause: perr}
	}

	for k := 1; k < n; k++ {
		i := (first + k) % n
		acquired, perr := tryLock(rs[i])
		if perr != nil || !acquired {
			held := make([]int, k)
			for j := range held {
				held[j] = (first + j) % n
			}
			if rerr := release(rs, held); rerr != nil {
				return 0, rerr
			}
			if perr != nil {
				return 0, &LockError{Index: i, Cause: perr}
			}
			return i, nil
		}
	}
	return -1, nil
}

func tryLock(r Lockable) (acquired bool, err error) {
	if perr := failfast.Call(func() { acquired = r.TryLock() }); perr != nil {
		return false, perr
	}
	return acquired, nil
}

// release unlocks rs at the given indexes in reverse order. A panicking
// Unlock does not stop the others; the first one is returned as a
// *LockError.
func release(rs []Lockable, indexes []int) *LockError {
	var first *LockError
	for k := len(indexes) - 1; k >= 0; k-- {
		i := indexes[k]
		if perr := failfast.Call(rs[i].Unlock); perr != nil && first == nil {
			first = &LockError{Index: i, Releasing: true, Cause: perr}
		}
	}
	return first
}

// ordered returns the indexes 0..n-1.
func ordered(n int) []int {
	indexes := make([]int, n)
	for i := range indexes {
		indexes[i] = i
	}
	return indexes
}

func checkResources(resources []Lockable) ([]Lockable, error) {
	if len(resources) == 0 {
		return nil, ErrNoResources
	}

	rs := make([]Lockable, len(resources))
	for i, r := range resources {
		if isNil(r) {
			return nil, fmt.Errorf("%w at index %d", ErrNilResource, i)
		}
		for j := 0; j < i; j++ {
			if sameResource(rs[j], r) {
				return nil, fmt.Errorf("%w at indexes %d and %d", ErrDuplicateResource, j, i)
			}
		}
		rs[i] = r
	}
	return rs, nil
}

func isNil(r Lockable) bool {
	if r == nil {
		return true
	}
	v := reflect.ValueOf(r)
	return v.Kind() == reflect.Pointer && v.IsNil()
}

// sameResource compares identities without panicking on incomparable
// dynamic types.
func sameResource(a, b Lockable) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	return a == b
}
