// Package gtlog centralizes the engine's logger construction so that
// library use is silent by default (matching the teacher's default-inert
// SetPanicHandler) and the demo CLI can opt into console output.
package gtlog

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Disabled returns a logger that discards everything, the default for
// library callers that never opt in via greenthreads.WithLogger.
func Disabled() zerolog.Logger {
	return zerolog.Nop()
}

// Console returns a human-readable console logger at the given level, for
// the demo CLI.
func Console(level zerolog.Level) zerolog.Logger {
	return New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}, level)
}

// New builds a logger writing to w at the given level.
func New(w io.Writer, level zerolog.Level) zerolog.Logger {
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}
