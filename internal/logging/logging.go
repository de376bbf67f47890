// Package logging provides the component-prefixed logger used throughout
// sentineld, matching the bracketed-prefix idiom used across the codebase
// (e.g. "[WATCHDOG]", "[QUARANTINE]").
package logging

import (
	"log"
	"os"
)

// Logger writes lines prefixed with a fixed component tag.
type Logger struct {
	prefix string
	std    *log.Logger
}

// New returns a Logger for the named component, e.g. New("AGGREGATOR").
func New(component string) *Logger {
	return &Logger{
		prefix: "[" + component + "] ",
		std:    log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds),
	}
}

func (l *Logger) Printf(format string, args ...interface{}) {
	l.std.Printf(l.prefix+format, args...)
}

func (l *Logger) Println(args ...interface{}) {
	l.std.Println(append([]interface{}{l.prefix}, args...)...)
}

// With returns a Logger scoped to a sub-component, e.g. l.With("worker-3").
func (l *Logger) With(sub string) *Logger {
	return &Logger{prefix: l.prefix + "[" + sub + "] ", std: l.std}
}
