// Package sutralog wires the engine's structured logger.
//
// Every component logs through a *zerolog.Logger rather than the standard
// log package, with a "component" field set once at construction so log
// lines can be filtered per subsystem (reconciler, wal, autonomy, ...).
package sutralog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New returns a console-friendly logger scoped to component.
func New(component string) zerolog.Logger {
	return Base().With().Str("component", component).Logger()
}

var base zerolog.Logger
var writer io.Writer = os.Stderr

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
	base = zerolog.New(writer).With().Timestamp().Logger()
}

// Base returns the root logger before a component field is attached.
func Base() zerolog.Logger {
	return base
}

// SetLevel adjusts the global minimum log level (e.g. from a CLI flag).
func SetLevel(level zerolog.Level) {
	zerolog.SetGlobalLevel(level)
}
