package logger

import "sync/atomic"

var defLogger atomic.Pointer[Logger]

func init() {
	l := NewSlog(InfoLevel, false)
	defLogger.Store(&l)
}

// GetLogger returns the process-wide default logger. Components created
// without WithLogger log through it.
func GetLogger() Logger {
	return *defLogger.Load()
}

// SetLogger replaces the default logger. Components created afterwards
// without an explicit logger use l; a nil l is ignored.
func SetLogger(l Logger) {
	if l != nil {
		defLogger.Store(&l)
	}
}

// SetLevel sets the minimum level of the default logger.
func SetLevel(level Level) {
	GetLogger().SetLevel(level)
}
