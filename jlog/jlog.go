// Package jlog provides the labelled, DEBUG-gated logger used across jify's
// packages. With DEBUG unset it is a no-op sink; with DEBUG set to any
// non-empty value it emits timestamped, labelled lines to stderr.
package jlog

import (
	"fmt"
	"log"
	"os"
	"sync"
)

var (
	once    sync.Once
	enabled bool
)

func debugEnabled() bool {
	once.Do(func() {
		enabled = os.Getenv("DEBUG") != ""
	})
	return enabled
}

// Logger emits labelled debug lines. The zero value is unusable; use New.
type Logger struct {
	label string
	std   *log.Logger
}

// New returns a Logger prefixed with label, e.g. "store", "index[age]".
func New(label string) *Logger {
	return &Logger{
		label: label,
		std:   log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds),
	}
}

// Printf logs a formatted line when DEBUG is set; otherwise it is a no-op.
func (l *Logger) Printf(format string, args ...any) {
	if !debugEnabled() {
		return
	}
	l.std.Printf("[%s] %s", l.label, fmt.Sprintf(format, args...))
}

// Enabled reports whether DEBUG logging is currently active.
func Enabled() bool {
	return debugEnabled()
}
