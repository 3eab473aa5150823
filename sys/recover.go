package sys

import (
	"runtime/debug"

	"github.com/cockroachdb/errors"
	"github.com/inoueakimitsu/cline/logger"
)

// PanicError converts a recovered panic value into an error.
func PanicError(r interface{}) error {
	if r == nil {
		return nil
	}
	if err, ok := r.(error); ok {
		return errors.Wrap(err, "panic")
	}
	return errors.Newf("panic: %v", r)
}

// RecoverPanic recovers a panic in the calling goroutine and logs it with the
// stack. It must be called directly via defer.
func RecoverPanic(log logger.Logger) {
	if r := recover(); r != nil {
		log.Error("recovered from panic: %v\n%s", PanicError(r), debug.Stack())
	}
}
