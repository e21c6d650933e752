package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/cloudjit/jitaccess/internal/errors"
	"github.com/cloudjit/jitaccess/internal/telemetry"
)

// WebhookSink implements Sink by POSTing a JSON payload to a single
// configured URL, the same stdlib-http webhook-delivery shape used
// throughout the pack's own notification channels (no third-party HTTP
// client or notification SDK is warranted for a single POST).
type WebhookSink struct {
	url    string
	client *http.Client
}

// NewWebhookSink constructs a WebhookSink posting to url.
func NewWebhookSink(url string) *WebhookSink {
	return &WebhookSink{url: url, client: &http.Client{Timeout: 10 * time.Second}}
}

// NotifyRequest implements Sink.
func (w *WebhookSink) NotifyRequest(ctx context.Context, msg RequestMessage) error {
	return w.post(ctx, map[string]any{
		"event":         "activation_request",
		"beneficiary":   msg.Beneficiary.String(),
		"reviewer":      msg.Reviewer.String(),
		"resource":      msg.Resource,
		"role":          msg.Role,
		"justification": msg.Justification,
		"token":         msg.ObfuscatedToken,
	})
}

// NotifyApproval implements Sink.
func (w *WebhookSink) NotifyApproval(ctx context.Context, msg ApprovalMessage) error {
	return w.post(ctx, map[string]any{
		"event":       "activation_approved",
		"beneficiary": msg.Beneficiary.String(),
		"approver":    msg.Approver.String(),
		"resource":    msg.Resource,
		"role":        msg.Role,
	})
}

func (w *WebhookSink) post(ctx context.Context, payload map[string]any) error {
	ctx, span := telemetry.Tracer().Start(ctx, "notify.Send")
	defer span.End()

	body, err := json.Marshal(payload)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return errors.NewInternalError("failed to marshal notification payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return errors.NewInternalError("failed to build notification request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return errors.NewUnavailableError("notification webhook request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		err := errors.NewUnavailableError(
			fmt.Sprintf("notification webhook returned %d: %s", resp.StatusCode, string(respBody)), nil)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}
