// Package notify defines component C8: the notification sink interface
// through which the activator sends MPA request and approval-confirmation
// messages. Transports (SMTP, Slack, Pub/Sub) are external collaborators,
// specified only as interfaces here the same way the access-on-demand
// handler this service's provisioner is grounded on specifies IAMClient
// as a narrow interface instead of importing a full SDK surface.
package notify

import (
	"context"

	"github.com/cloudjit/jitaccess/internal/resourceid"
)

//go:generate mockgen -destination=notifymock/mock_sink.go -package=notifymock -source=notify.go Sink

// RequestMessage is sent to every reviewer when an MPA request is issued.
type RequestMessage struct {
	Beneficiary     resourceid.UserEmail
	Reviewer        resourceid.UserEmail
	Resource        string
	Role            string
	Justification   string
	ObfuscatedToken string
}

// ApprovalMessage is sent to the beneficiary once an MPA request is
// approved and provisioned.
type ApprovalMessage struct {
	Beneficiary resourceid.UserEmail
	Approver    resourceid.UserEmail
	Resource    string
	Role        string
}

// Sink is the transport-agnostic notification surface. Its errors are
// fire-and-forget: the activator logs them as warnings, counts them in
// jitaccess_notification_failures_total, and never blocks or fails an
// activation on a notification failure (spec §9).
type Sink interface {
	NotifyRequest(ctx context.Context, msg RequestMessage) error
	NotifyApproval(ctx context.Context, msg ApprovalMessage) error
}
