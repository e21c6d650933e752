// Package logger provides the structured logger used throughout the
// service, built on log/slog. Handler choice (human-readable vs JSON) is
// gated by an environment variable, matching how the rest of the ambient
// stack reads its configuration directly from the environment.
package logger

import (
	"context"
	"log/slog"
	"os"
	"strconv"
)

type ctxKey struct{}

var defaultLogger = New()

// New builds a slog.Logger. LOG_UNSTRUCTURED=false switches to a JSON
// handler suited for log aggregation; any other value (including unset)
// keeps the human-readable text handler, matching the teacher's
// unstructuredLogs default-to-true behavior.
func New() *slog.Logger {
	level := slog.LevelInfo
	if v := os.Getenv("LOG_DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil && b {
			level = slog.LevelDebug
		}
	}

	opts := &slog.HandlerOptions{Level: level}
	if unstructuredLogs() {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

// unstructuredLogs mirrors the teacher's LOG_UNSTRUCTURED env toggle:
// unset or unparsable values default to true (human-readable text logs).
func unstructuredLogs() bool {
	v, ok := os.LookupEnv("LOG_UNSTRUCTURED")
	if !ok {
		return true
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return true
	}
	return b
}

// WithContext stashes l on ctx so downstream calls can retrieve a
// request-scoped logger already carrying request attributes.
func WithContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger stashed on ctx, or the process-wide
// default logger if none was stashed.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return defaultLogger
}
