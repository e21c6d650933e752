package audit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	events []Event
}

func (r *recordingSink) Record(_ context.Context, event Event) {
	r.events = append(r.events, event)
}

func TestMiddleware_RecordsSuccessOutcome(t *testing.T) {
	sink := &recordingSink{}
	handler := Middleware(sink)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/projects", nil)
	req = req.WithContext(WithActor(req.Context(), "alice@example.org"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Len(t, sink.events, 1)
	assert.Equal(t, "success", sink.events[0].Outcome)
	assert.Equal(t, "alice@example.org", sink.events[0].Actor)
	assert.Equal(t, "GET /api/projects", sink.events[0].Action)
}

func TestMiddleware_RecordsFailureOutcome(t *testing.T) {
	sink := &recordingSink{}
	handler := Middleware(sink)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/activation-request/approve", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Len(t, sink.events, 1)
	assert.Equal(t, "failure", sink.events[0].Outcome)
	assert.Equal(t, "unknown", sink.events[0].Actor)
	assert.Equal(t, "403", sink.events[0].Details["status"])
}

func TestSlogSink_RecordDoesNotPanic(t *testing.T) {
	sink := NewSlogSink()
	assert.NotPanics(t, func() {
		sink.Record(context.Background(), Event{Action: "test", Outcome: "success"})
	})
}
