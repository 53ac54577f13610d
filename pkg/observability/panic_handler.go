package observability

import (
	"fmt"
	"runtime/debug"
)

// RecoverPanic recovers a panic in the calling goroutine and logs it with
// the stack. It must be deferred directly.
//
//	defer observability.RecoverPanic(logger, "kpi watcher")
func RecoverPanic(logger *Logger, where string) {
	if r := recover(); r != nil {
		logger.WithFields(map[string]interface{}{
			"panic":   fmt.Sprint(r),
			"stack":   string(debug.Stack()),
			"context": where,
		}).Error("PANIC recovered")
	}
}

// PanicError converts a recovered value into an error, or nil.
//
//	defer func() { err = observability.PanicError(recover(), err) }()
func PanicError(r interface{}, err error) error {
	if r == nil {
		return err
	}
	return fmt.Errorf("panic: %v", r)
}
