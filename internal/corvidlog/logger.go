// Package corvidlog wraps zerolog with the small set of conventions every
// component in this repo follows: one sub-logger per component, tagged with
// "component", writing structured fields rather than formatted sentences.
package corvidlog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New returns the root logger, writing one JSON object per line to w.
// Callers derive component loggers with For.
func New(w io.Writer, debug bool) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// Nop returns a logger that discards everything, for tests that don't care
// about log output.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}

// For returns a sub-logger tagged with the owning component's name.
func For(base zerolog.Logger, component string) zerolog.Logger {
	return base.With().Str("component", component).Logger()
}
