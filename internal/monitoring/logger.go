// Package monitoring holds the diagnostic logger shared by the control loop,
// the device protocol and the task scheduler.
package monitoring

import (
	"fmt"
	"log"
	"sync"
)

var (
	mu   sync.RWMutex
	logf = log.Printf
)

// Logf writes a diagnostic line through the current logger. It defaults to
// log.Printf but may be replaced by SetLogger.
func Logf(format string, v ...interface{}) {
	mu.RLock()
	f := logf
	mu.RUnlock()
	f(format, v...)
}

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	mu.Lock()
	defer mu.Unlock()
	if f == nil {
		logf = func(string, ...interface{}) {}
		return
	}
	logf = f
}

// Tagged returns a logger that prefixes every line with "[component] ".
// The returned function resolves the package logger on each call, so a later
// SetLogger also redirects loggers created earlier.
func Tagged(component string) func(format string, v ...interface{}) {
	prefix := fmt.Sprintf("[%s] ", component)
	return func(format string, v ...interface{}) {
		Logf(prefix+format, v...)
	}
}
