// Package logger builds the zerolog loggers Aegis uses and carries them
// through contexts.
package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type ctxKey struct{}

// New returns a human-readable console logger on stdout.
func New() zerolog.Logger {
	return NewWithWriter(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
}

// NewWithWriter returns a JSON logger writing to w.
func NewWithWriter(w io.Writer) zerolog.Logger {
	return zerolog.New(w).With().Timestamp().Caller().Str("service", "aegis").Logger()
}

// NewFromConfig returns a logger for the configured level and format.
// format is "console" or "json"; unknown levels mean info.
func NewFromConfig(level, format string) zerolog.Logger {
	log := New()
	if strings.EqualFold(format, "json") {
		log = NewWithWriter(os.Stdout)
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return log.Level(lvl)
}

// WithContext stores log in ctx.
func WithContext(ctx context.Context, log zerolog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, log)
}

// FromContext returns the logger stored in ctx, or a console logger.
func FromContext(ctx context.Context) zerolog.Logger {
	if log, ok := ctx.Value(ctxKey{}).(zerolog.Logger); ok {
		return log
	}
	return New()
}

// WithStage tags the context logger with the execution id and the stage of
// the run.
func WithStage(ctx context.Context, executionID, stage string) context.Context {
	log := FromContext(ctx).With().
		Str("execution_id", executionID).
		Str("stage", stage).
		Logger()
	return WithContext(ctx, log)
}

// WithFields tags the context logger with arbitrary fields.
func WithFields(ctx context.Context, fields map[string]any) context.Context {
	log := FromContext(ctx).With().Fields(fields).Logger()
	return WithContext(ctx, log)
}

// WithRequest tags the context logger with an HTTP request id.
func WithRequest(ctx context.Context, requestID string) context.Context {
	log := FromContext(ctx).With().Str("request_id", requestID).Logger()
	return WithContext(ctx, log)
}
