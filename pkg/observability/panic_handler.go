package observability

import (
	"runtime/debug"
)

// RecoverPanic recovers from a panic, logs it with the stack, and executes
// an optional callback for cleanup (writing an error response, clearing
// markers, etc.). Call in a defer statement; the panic is NOT re-raised.
func RecoverPanic(logger *Logger, context string, callback func()) {
	if r := recover(); r != nil {
		logger.WithField("panic", r).
			WithField("stack", string(debug.Stack())).
			WithField("context", context).
			Error("PANIC recovered")
		if callback != nil {
			callback()
		}
	}
}
