package monitoring

import "log"

// Logf is the package-level diagnostic logger for the fusion pipeline. It
// defaults to log.Printf but may be replaced via SetLogger so hosts can
// redirect it and tests can mute high-frequency drop/jitter messages.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
