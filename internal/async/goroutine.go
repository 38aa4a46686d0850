// Package async guards background goroutines against panics.
package async

import (
	"fmt"
	"runtime/debug"
)

// PanicLogger captures panic reports from background goroutines.
type PanicLogger interface {
	Error(format string, args ...any)
}

// PanicError carries a recovered panic.
type PanicError struct {
	Name  string
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("panic: %v", e.Value)
	}
	return fmt.Sprintf("panic in %s: %v", e.Name, e.Value)
}

// Go runs fn in a goroutine guarded by Recover.
func Go(logger PanicLogger, name string, fn func(), onPanic func(*PanicError)) {
	go func() {
		defer Recover(logger, name, onPanic)
		fn()
	}()
}

// Recover must be deferred. It logs a panic with its stack and hands it to
// onPanic instead of crashing the process.
func Recover(logger PanicLogger, name string, onPanic func(*PanicError)) {
	r := recover()
	if r == nil {
		return
	}
	perr := &PanicError{Name: name, Value: r, Stack: debug.Stack()}
	if logger != nil {
		logger.Error("goroutine %v, stack: %s", perr, perr.Stack)
	}
	if onPanic != nil {
		onPanic(perr)
	}
}
