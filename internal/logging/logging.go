// Package logging wraps zerolog: a package-level default Logger, a small
// Config, and With*-style helpers for contextual child loggers. The Daemon's
// protocol server logs every handled IPC request at debug level with a
// request-id correlated line; the Shim's
// debug trace (VRIFT_DEBUG=1) reuses the same package in-process.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide default logger, set by Init.
var Logger zerolog.Logger

// Level mirrors zerolog's levels with string values matching the
// VRIFT_DEBUG / config-file vocabulary.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config configures the global Logger.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init installs the global Logger per cfg. JSON output is the production
// default (both vriftd and the shim's debug trace emit line-delimited JSON
// so a log shipper can parse them uniformly); console output is for
// interactive use (vriftctl, local debugging).
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

// WithComponent returns a child logger tagged with a component name
// ("cas", "manifest", "daemon", "shim", ...).
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithWorkspace tags a child logger with the owning workspace ID.
func WithWorkspace(workspaceID string) zerolog.Logger {
	return Logger.With().Str("workspace_id", workspaceID).Logger()
}

// WithRequestID tags a child logger with an IPC request ID so a Daemon's
// handler log line and its client-side counterpart correlate.
func WithRequestID(requestID string) zerolog.Logger {
	return Logger.With().Str("request_id", requestID).Logger()
}

// WithVpath tags a child logger with the virtual path under operation.
func WithVpath(vpath string) zerolog.Logger {
	return Logger.With().Str("vpath", vpath).Logger()
}
