// Package logging provides this engine's logging infrastructure built on
// charmbracelet/log.
//
// It wraps charmbracelet/log with a centralized logger factory for
// per-component prefixes (one per executor, generator, or CLI command),
// level configuration, and stderr-only output, leaving stdout free for
// structured output such as a rendered execution trace.
//
// Setup must be called before New so child loggers inherit the right
// level and formatter; charmbracelet/log copies state at child-creation
// time, so later changes to the default logger do not propagate to
// loggers already handed out.
package logging

import (
	"io"
	"os"

	"github.com/charmbracelet/log"
)

// Level aliases for charmbracelet/log levels, re-exported so callers do
// not need to import charmbracelet/log directly.
const (
	LevelDebug = log.DebugLevel
	LevelInfo  = log.InfoLevel
	LevelWarn  = log.WarnLevel
	LevelError = log.ErrorLevel
	LevelFatal = log.FatalLevel
)

// Setup configures the global logging defaults. Call once during CLI
// initialization, before any New call.
//
// If both verbose and quiet are set, quiet wins: a scripted invocation's
// --quiet should always suppress noise regardless of other flags.
func Setup(verbose, quiet, jsonFormat bool) {
	level := log.InfoLevel
	if verbose {
		level = log.DebugLevel
	}
	if quiet {
		level = log.ErrorLevel
	}

	log.SetLevel(level)
	log.SetOutput(os.Stderr)

	if jsonFormat {
		log.SetFormatter(log.JSONFormatter)
	} else {
		log.SetFormatter(log.TextFormatter)
	}
}

// New creates a logger with the given component prefix (e.g. "executor",
// "reactive", "gen:proto"). An empty component produces an unprefixed
// logger.
func New(component string) *log.Logger {
	return log.WithPrefix(component)
}

// SetOutput overrides the output writer for the default logger, for
// tests that capture output into a buffer.
func SetOutput(w io.Writer) {
	log.SetOutput(w)
}
