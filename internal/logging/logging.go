// Package logging builds the process-wide structured logger. Every stage
// receives a zerolog.Logger scoped with its own "component" field rather
// than reaching for a global.
package logging

import (
	"io"
	"os"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
)

// Config controls the logger's level and output shape.
type Config struct {
	Level  string // debug | info | warn | error
	Format string // json | pretty
}

// New builds a base logger tagged with the service name. Callers derive a
// per-component logger with Base.With().Str("component", name).Logger().
func New(cfg Config, service string) zerolog.Logger {
	var output io.Writer = os.Stdout

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "pretty" {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	return zerolog.New(output).With().
		Timestamp().
		Str("service", service).
		Logger()
}

// RecoverPanic is deferred first in every long-running goroutine so a panic
// is logged with its stack trace instead of crashing the process.
func RecoverPanic(logger zerolog.Logger, component string, fields map[string]any) {
	if r := recover(); r != nil {
		event := logger.Error().
			Interface("panic_value", r).
			Str("component", component).
			Str("stack_trace", string(debug.Stack()))
		for k, v := range fields {
			event = event.Interface(k, v)
		}
		event.Msg("goroutine panic recovered")
	}
}
