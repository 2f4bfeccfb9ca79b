package kernel

import (
	"fmt"
	"runtime/debug"
)

// PanicError is returned in place of a panic recovered at a kernel boundary.
type PanicError struct {
	Scope string
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("%s: panic recovered: %v", e.Scope, e.Value)
}

// runSafely calls fn, prefixing its error with scope. A panic becomes a
// *PanicError carrying the stack of the panicking goroutine.
func runSafely(scope string, fn func() error) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = &PanicError{Scope: scope, Value: recovered, Stack: debug.Stack()}
		}
	}()

	if fnErr := fn(); fnErr != nil {
		return fmt.Errorf("%s: %w", scope, fnErr)
	}

	return nil
}
