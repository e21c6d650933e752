// Package audit implements component C10: a structured audit-event sink
// plus an HTTP middleware that emits one audit record per request, the
// same responseWriter-wrapper shape as pkg/audit/auditor.go's Middleware,
// adapted from generic HTTP audit events to this service's activation
// state transitions.
package audit

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/cloudjit/jitaccess/internal/logger"
)

// Event is one structured audit record.
type Event struct {
	Actor     string
	Action    string
	Resource  string
	Outcome   string // "success" or "failure"
	Details   map[string]string
	Timestamp time.Time
}

// Sink records audit events. Implementations must not block the caller
// on a slow backing store for longer than it takes to enqueue the write;
// a failure to record is itself only logged, never propagated, since
// losing an audit record must not fail the operation it describes.
type Sink interface {
	Record(ctx context.Context, event Event)
}

// SlogSink logs events through the service's structured logger, mirroring
// the teacher's choice of slog as the only logging backend (no
// third-party logging library appears anywhere in the pack).
type SlogSink struct{}

// NewSlogSink constructs a SlogSink.
func NewSlogSink() *SlogSink { return &SlogSink{} }

// Record logs event at Info level with a flat set of key/value pairs.
func (s *SlogSink) Record(ctx context.Context, event Event) {
	log := logger.FromContext(ctx).With(
		"audit_action", event.Action,
		"audit_actor", event.Actor,
		"audit_resource", event.Resource,
		"audit_outcome", event.Outcome,
	)
	for k, v := range event.Details {
		log = log.With(k, v)
	}
	log.Info("audit event")
}

type actorContextKey struct{}

// WithActor attaches the authenticated caller's identity to ctx for later
// extraction by Middleware.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func actorFromContext(ctx context.Context) string {
	if actor, ok := ctx.Value(actorContextKey{}).(string); ok {
		return actor
	}
	return "unknown"
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// Middleware wraps next, emitting one Event to sink per request: method,
// path, resolved outcome (success for 2xx/3xx, failure otherwise), and
// request duration.
func Middleware(sink Sink) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			outcome := "success"
			if rw.statusCode >= 400 {
				outcome = "failure"
			}
			sink.Record(r.Context(), Event{
				Actor:    actorFromContext(r.Context()),
				Action:   r.Method + " " + r.URL.Path,
				Resource: r.URL.Path,
				Outcome:  outcome,
				Details: map[string]string{
					"status":   strconv.Itoa(rw.statusCode),
					"duration": time.Since(start).String(),
				},
				Timestamp: start,
			})
		})
	}
}
