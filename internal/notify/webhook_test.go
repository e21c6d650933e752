package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudjit/jitaccess/internal/resourceid"
)

func TestWebhookSink_NotifyRequest_PostsExpectedPayload(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sink := NewWebhookSink(server.URL)
	beneficiary, _ := resourceid.NewUserEmail("alice@example.org")
	reviewer, _ := resourceid.NewUserEmail("bob@example.org")

	err := sink.NotifyRequest(context.Background(), RequestMessage{
		Beneficiary:     beneficiary,
		Reviewer:        reviewer,
		Resource:        "projects/demo",
		Role:            "roles/editor",
		Justification:   "case-123",
		ObfuscatedToken: "tok",
	})
	require.NoError(t, err)
	assert.Equal(t, "activation_request", captured["event"])
	assert.Equal(t, "alice@example.org", captured["beneficiary"])
}

func TestWebhookSink_NonSuccessStatus_ReturnsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	sink := NewWebhookSink(server.URL)
	approver, _ := resourceid.NewUserEmail("approver@example.org")
	beneficiary, _ := resourceid.NewUserEmail("alice@example.org")

	err := sink.NotifyApproval(context.Background(), ApprovalMessage{
		Beneficiary: beneficiary,
		Approver:    approver,
		Resource:    "projects/demo",
		Role:        "roles/editor",
	})
	assert.Error(t, err)
}
