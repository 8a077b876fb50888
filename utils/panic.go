package utils

import (
	"runtime/debug"

	log "github.com/sirupsen/logrus"
)

// StackTraceFromPanic logs the stack trace if a panic is in flight, then re-panics
func StackTraceFromPanic(logger *log.Entry) {
	if r := recover(); r != nil {
		logger.Errorf("stacktrace from panic: %s", string(debug.Stack()))
		panic(r)
	}
}
