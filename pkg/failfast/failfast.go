// Package failfast holds the guards used where misuse should stop the program
// at the call site, plus the conversion of recovered panics into errors.
package failfast

import (
	"fmt"
	"runtime/debug"
)

// Err panics if err != nil.
// Used by Must* constructors whose error means a programming mistake.
func Err(err error) {
	if err != nil {
		panic(fmt.Errorf("fail-fast: %w", err))
	}
}

// If panics if condition is false
func If(condition bool, message string, args ...interface{}) {
	if !condition {
		panic(fmt.Errorf("fail-fast: "+message, args...))
	}
}

// NotNilFunc panics if fn is nil
func NotNilFunc(fn func(), name string) {
	if fn == nil {
		panic(fmt.Errorf("fail-fast: %s is nil", name))
	}
}

// PanicError carries a value recovered from a panic together with the stack
// of the goroutine that panicked.
type PanicError struct {
	Value interface{}
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap returns the recovered value when it was itself an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// Recovered wraps the result of recover(). It returns nil when r is nil so
// callers can write:
//
//	defer func() { err = failfast.Recovered(recover()) }()
func Recovered(r interface{}) *PanicError {
	if r == nil {
		return nil
	}
	return &PanicError{Value: r, Stack: debug.Stack()}
}

// Call runs fn and reports a panic as a *PanicError instead of unwinding
// further.
func Call(fn func()) (perr *PanicError) {
	defer func() {
		perr = Recovered(recover())
	}()
	fn()
	return nil
}
