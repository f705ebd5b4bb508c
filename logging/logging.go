// Package logging contains the structured logger used by the motion worker and its collaborators.
// Stdout carries the host event stream, so nothing here writes to it.
package logging

import (
	"os"
	"sync"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var (
	globalMu     sync.RWMutex
	globalLogger = NewStderrLogger("startup", INFO)
)

// ReplaceGlobal replaces the global logger.
func ReplaceGlobal(logger Logger) {
	globalMu.Lock()
	globalLogger = logger
	globalMu.Unlock()
}

// Global returns the global logger.
func Global() Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// NewStderrLogger returns a logger writing UTC timestamped lines at or above level to stderr.
func NewStderrLogger(name string, level Level) Logger {
	return newLogger(name, level, true, NewWriterAppender(os.Stderr))
}

// NewBlankLogger returns a Debug+ UTC logger with no appenders.
func NewBlankLogger(name string) Logger {
	return newLogger(name, DEBUG, true)
}

// NewTestLogger returns a Debug+ logger writing to tb in local time.
func NewTestLogger(tb testing.TB) Logger {
	logger, _ := NewObservedTestLogger(tb)
	return logger
}

// NewObservedTestLogger is like NewTestLogger but also records every entry for assertions.
func NewObservedTestLogger(tb testing.TB) (Logger, *observer.ObservedLogs) {
	core, observed := observer.New(zap.DebugLevel)
	return newLogger("", DEBUG, false, NewTestAppender(tb), core), observed
}
