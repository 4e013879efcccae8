// Package dblog provides the engine's ambient structured logging: a
// leveled, env-gated logger that writes to stderr by default and
// through a rotating file when one is configured.
package dblog

import (
	"fmt"
	"log"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	mu      sync.Mutex
	logger  = log.New(os.Stderr, "", log.LstdFlags)
	enabled = os.Getenv("DSQLITE_DEBUG") != ""
)

// Configure points the logger at a rotated log file. Passing an empty
// path reverts to stderr. Safe to call concurrently with logging calls.
func Configure(path string, maxSizeMB, maxBackups, maxAgeDays int) {
	mu.Lock()
	defer mu.Unlock()

	if path == "" {
		logger = log.New(os.Stderr, "", log.LstdFlags)
		return
	}

	logger = log.New(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
		Compress:   true,
	}, "", log.LstdFlags)
}

// Enabled reports whether debug-level logging is active. Controlled by
// the DSQLITE_DEBUG environment variable; SetEnabled overrides it.
func Enabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return enabled
}

// SetEnabled forces debug-level logging on or off, overriding the
// DSQLITE_DEBUG environment variable. Primarily for tests.
func SetEnabled(v bool) {
	mu.Lock()
	defer mu.Unlock()
	enabled = v
}

// Debugf logs a debug-level message. No-op unless Enabled().
func Debugf(format string, args ...interface{}) {
	if !Enabled() {
		return
	}
	output("DEBUG", format, args...)
}

// Infof logs an info-level message.
func Infof(format string, args ...interface{}) {
	output("INFO", format, args...)
}

// Warnf logs a warning-level message.
func Warnf(format string, args ...interface{}) {
	output("WARN", format, args...)
}

// Errorf logs an error-level message.
func Errorf(format string, args ...interface{}) {
	output("ERROR", format, args...)
}

func output(level, format string, args ...interface{}) {
	mu.Lock()
	l := logger
	mu.Unlock()
	l.Printf("[%s] %s", level, fmt.Sprintf(format, args...))
}
