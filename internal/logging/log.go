// Package logging carries a zerolog logger through contexts and renders log events for the console.
package logging

import (
	"context"
	"io"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type logPtr struct{}

// WithLogger attaches the given logger to the context
func WithLogger(ctx context.Context, logger *zerolog.Logger) context.Context {
	return context.WithValue(ctx, logPtr{}, logger)
}

// Log returns the logger attached to ctx or the global logger if there is none
func Log(ctx context.Context) *zerolog.Logger {
	logger := ctx.Value(logPtr{})
	if logger == nil {
		return &log.Logger
	}

	return logger.(*zerolog.Logger)
}

// New creates a logger writing to out. JSON output writes one event per line, otherwise the events
// are rendered by a ConsoleWriter.
func New(out io.Writer, level zerolog.Level, jsonOutput, debug bool) zerolog.Logger {
	if jsonOutput {
		zerolog.ErrorMarshalFunc = func(err error) interface{} {
			return eris.ToJSON(err, debug)
		}

		return zerolog.New(out).Level(level).With().Timestamp().Logger()
	}

	zerolog.ErrorMarshalFunc = func(err error) interface{} {
		return eris.ToString(err, debug)
	}

	return zerolog.New(NewConsoleWriter(out, debug)).Level(level)
}
