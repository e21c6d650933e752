// Package activation implements component C6: building activation
// requests, driving the stateless state machine of spec.md §4.5, and
// calling the provisioner. The MPA path is deliberately stateless — all
// state needed to resume after a reviewer clicks an approval link lives
// in the signed token, not in any server-side store.
package activation

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/cloudjit/jitaccess/internal/audit"
	"github.com/cloudjit/jitaccess/internal/catalog"
	"github.com/cloudjit/jitaccess/internal/condition"
	"github.com/cloudjit/jitaccess/internal/errors"
	"github.com/cloudjit/jitaccess/internal/iam"
	"github.com/cloudjit/jitaccess/internal/justification"
	"github.com/cloudjit/jitaccess/internal/logger"
	"github.com/cloudjit/jitaccess/internal/metrics"
	"github.com/cloudjit/jitaccess/internal/notify"
	"github.com/cloudjit/jitaccess/internal/resourceid"
	"github.com/cloudjit/jitaccess/internal/rolerepo"
	"github.com/cloudjit/jitaccess/internal/token"
)

// State is a named point in the activation lifecycle (spec.md §4.5). Only
// StateActivated, StateRejected, and StateExpired are terminal.
type State string

const (
	StatePending          State = "PENDING"
	StateReady            State = "READY"
	StateIssued           State = "ISSUED"
	StateAwaitingApproval State = "AWAITING_APPROVAL"
	StateProvisioning     State = "PROVISIONING"
	StateActivated        State = "ACTIVATED"
	StateRejected         State = "REJECTED"
	StateExpired          State = "EXPIRED"
)

func stateOutcome(s State) string {
	if s == StateRejected || s == StateExpired {
		return "failure"
	}
	return "success"
}

// SelfApprovalRequest is the input to RequestSelfApproval.
type SelfApprovalRequest struct {
	RequestingUser resourceid.UserEmail
	Project        resourceid.ProjectId
	Roles          []string
	Duration       time.Duration
	Justification  string
}

// SelfApprovalResult is returned once provisioning succeeds.
type SelfApprovalResult struct {
	ActivationId resourceid.ActivationId
	Span         condition.TimeSpan
}

// MpaIssueRequest is the input to IssueMpaRequest (POST /roles/request).
type MpaIssueRequest struct {
	RequestingUser resourceid.UserEmail
	Project        resourceid.ProjectId
	Role           string
	Duration       time.Duration
	Reviewers      []resourceid.UserEmail
	Justification  string
}

// MpaIssueResult carries the obfuscated token handed to reviewers.
type MpaIssueResult struct {
	ActivationId    resourceid.ActivationId
	ObfuscatedToken string
}

// MpaDecodedRequest is returned by DecodeMpaToken for GET
// /activation-request: it describes the pending request but grants
// nothing.
type MpaDecodedRequest struct {
	ActivationId  resourceid.ActivationId
	Beneficiary   resourceid.UserEmail
	Reviewers     []resourceid.UserEmail
	Resource      string
	Role          string
	Justification string
	Start         time.Time
	End           time.Time
}

// MpaApprovalResult is returned once an MPA approval provisions access.
type MpaApprovalResult struct {
	ActivationId resourceid.ActivationId
	Span         condition.TimeSpan
}

// Activator implements C6, orchestrating C2-C5, C7, C8, and C10.
type Activator struct {
	catalog       *catalog.Catalog
	repo          rolerepo.RoleRepository
	provisioner   *iam.Provisioner
	justification *justification.Policy
	signer        *token.Signer
	verifier      *token.Verifier
	notifier      notify.Sink
	audit         audit.Sink
}

// New constructs an Activator.
func New(
	cat *catalog.Catalog,
	repo rolerepo.RoleRepository,
	provisioner *iam.Provisioner,
	justificationPolicy *justification.Policy,
	signer *token.Signer,
	verifier *token.Verifier,
	notifier notify.Sink,
	auditSink audit.Sink,
) *Activator {
	return &Activator{
		catalog:       cat,
		repo:          repo,
		provisioner:   provisioner,
		justification: justificationPolicy,
		signer:        signer,
		verifier:      verifier,
		notifier:      notifier,
		audit:         auditSink,
	}
}

type startedAtKey struct{}

// withStarted stashes the request's start time on ctx so recordTransition
// can report activation duration once a terminal state is reached.
func withStarted(ctx context.Context) context.Context {
	return context.WithValue(ctx, startedAtKey{}, time.Now())
}

func metricsKindFor(action string) string {
	if action == "self-activate" {
		return "self"
	}
	return "mpa"
}

func (a *Activator) recordTransition(ctx context.Context, actor, action string, state State) {
	a.audit.Record(ctx, audit.Event{
		Actor:   actor,
		Action:  action,
		Outcome: stateOutcome(state),
		Details: map[string]string{"state": string(state)},
	})

	if state != StateActivated && state != StateRejected && state != StateExpired {
		return
	}
	started, ok := ctx.Value(startedAtKey{}).(time.Time)
	if !ok {
		started = time.Now()
	}
	metrics.RecordActivation(metricsKindFor(action), stateOutcome(state), time.Since(started))
}

// RequestSelfApproval drives PENDING -> READY -> PROVISIONING -> ACTIVATED
// for a self-approval request, or PENDING -> REJECTED on any failure.
func (a *Activator) RequestSelfApproval(ctx context.Context, req SelfApprovalRequest) (SelfApprovalResult, error) {
	actor := req.RequestingUser.String()
	ctx = withStarted(ctx)
	a.recordTransition(ctx, actor, "self-activate", StatePending)

	if err := a.justification.Validate(req.Justification, req.RequestingUser); err != nil {
		a.recordTransition(ctx, actor, "self-activate", StateRejected)
		return SelfApprovalResult{}, err
	}

	privileges := make([]resourceid.ProjectRole, 0, len(req.Roles))
	for _, role := range req.Roles {
		pr, err := resourceid.NewProjectRole(req.Project, role)
		if err != nil {
			a.recordTransition(ctx, actor, "self-activate", StateRejected)
			return SelfApprovalResult{}, err
		}
		privileges = append(privileges, pr)
	}

	shape := catalog.RequestShape{
		RequestingUser: req.RequestingUser,
		Privileges:     privileges,
		Duration:       req.Duration,
		ActivationType: condition.ActivationType{Kind: condition.SelfApproval},
	}
	if err := a.catalog.VerifyUserCanRequest(ctx, shape); err != nil {
		a.recordTransition(ctx, actor, "self-activate", StateRejected)
		return SelfApprovalResult{}, err
	}
	a.recordTransition(ctx, actor, "self-activate", StateReady)

	set, err := a.repo.FindPrivileges(ctx, req.RequestingUser, req.Project)
	if err != nil {
		a.recordTransition(ctx, actor, "self-activate", StateRejected)
		return SelfApprovalResult{}, err
	}
	resourceSubExprByRole := make(map[string]string, len(set.Available))
	for _, p := range set.Available {
		resourceSubExprByRole[p.Id.Role] = p.ResourceSubExpr
	}

	span := condition.TimeSpan{Start: time.Now(), End: time.Now().Add(req.Duration)}
	a.recordTransition(ctx, actor, "self-activate", StateProvisioning)

	for _, pr := range privileges {
		cond := condition.Condition{
			Title:       condition.ActivatedConditionTitle,
			Description: fmt.Sprintf("Self-approved, justification: %s", req.Justification),
			Expression:  condition.BuildActivatedExpression(span, resourceSubExprByRole[pr.Role]),
		}
		binding := iam.Binding{Principal: req.RequestingUser, Role: pr.Role, Condition: cond}
		if err := a.provisioner.AddProjectBinding(ctx, req.Project, binding, iam.PurgeExistingTemporaryBindings, "self-approval"); err != nil {
			a.recordTransition(ctx, actor, "self-activate", StateRejected)
			return SelfApprovalResult{}, err
		}
	}

	a.recordTransition(ctx, actor, "self-activate", StateActivated)
	return SelfApprovalResult{
		ActivationId: resourceid.NewSelfApprovalActivationId(uuid.NewString()),
		Span:         span,
	}, nil
}

// IssueMpaRequest drives PENDING -> ISSUED -> AWAITING_APPROVAL for a
// multi-party-approval request, or PENDING -> REJECTED on any failure.
func (a *Activator) IssueMpaRequest(ctx context.Context, req MpaIssueRequest) (MpaIssueResult, error) {
	actor := req.RequestingUser.String()
	ctx = withStarted(ctx)
	a.recordTransition(ctx, actor, "mpa-request", StatePending)

	if err := a.justification.Validate(req.Justification, req.RequestingUser); err != nil {
		a.recordTransition(ctx, actor, "mpa-request", StateRejected)
		return MpaIssueResult{}, err
	}

	pr, err := resourceid.NewProjectRole(req.Project, req.Role)
	if err != nil {
		a.recordTransition(ctx, actor, "mpa-request", StateRejected)
		return MpaIssueResult{}, err
	}

	set, err := a.catalog.ListPrivileges(ctx, req.RequestingUser, req.Project)
	if err != nil {
		a.recordTransition(ctx, actor, "mpa-request", StateRejected)
		return MpaIssueResult{}, err
	}
	activationType := condition.NoActivationType
	for _, p := range set.Available {
		if p.Id == pr && (p.ActivationType.Kind == condition.PeerApproval || p.ActivationType.Kind == condition.ExternalApproval) {
			activationType = p.ActivationType
			break
		}
	}

	shape := catalog.RequestShape{
		RequestingUser: req.RequestingUser,
		Privileges:     []resourceid.ProjectRole{pr},
		Duration:       req.Duration,
		ActivationType: activationType,
		Reviewers:      req.Reviewers,
	}
	if err := a.catalog.VerifyUserCanRequest(ctx, shape); err != nil {
		a.recordTransition(ctx, actor, "mpa-request", StateRejected)
		return MpaIssueResult{}, err
	}
	a.recordTransition(ctx, actor, "mpa-request", StateIssued)

	activationId := resourceid.NewMpaActivationId(uuid.NewString())
	span := condition.TimeSpan{Start: time.Now(), End: time.Now().Add(req.Duration)}

	signed, err := a.signer.Sign(ctx, token.MpaRequest{
		ActivationId:  activationId,
		Beneficiary:   req.RequestingUser,
		Reviewers:     req.Reviewers,
		Resource:      req.Project.FullResourceName(),
		Role:          req.Role,
		Justification: req.Justification,
		Start:         span.Start,
		End:           span.End,
	})
	if err != nil {
		a.recordTransition(ctx, actor, "mpa-request", StateRejected)
		return MpaIssueResult{}, err
	}
	obfuscated := token.Obfuscate(signed)

	a.recordTransition(ctx, actor, "mpa-request", StateAwaitingApproval)
	metrics.PendingMpaRequests.Inc()

	for _, reviewer := range req.Reviewers {
		msg := notify.RequestMessage{
			Beneficiary:     req.RequestingUser,
			Reviewer:        reviewer,
			Resource:        req.Project.FullResourceName(),
			Role:            req.Role,
			Justification:   req.Justification,
			ObfuscatedToken: obfuscated,
		}
		if err := a.notifier.NotifyRequest(ctx, msg); err != nil {
			logger.FromContext(ctx).Warn("failed to notify reviewer", "reviewer", reviewer.String(), "error", err)
			metrics.RecordNotificationFailure("request")
		}
	}

	return MpaIssueResult{ActivationId: activationId, ObfuscatedToken: obfuscated}, nil
}

// DecodeMpaToken decodes an obfuscated token for GET /activation-request.
// It never provisions access.
func (a *Activator) DecodeMpaToken(ctx context.Context, obfuscatedToken string) (MpaDecodedRequest, error) {
	raw, err := token.Deobfuscate(obfuscatedToken)
	if err != nil {
		return MpaDecodedRequest{}, err
	}
	decoded, err := a.verifier.Verify(ctx, raw)
	if err != nil {
		return MpaDecodedRequest{}, err
	}
	return MpaDecodedRequest{
		ActivationId:  decoded.ActivationId,
		Beneficiary:   decoded.Beneficiary,
		Reviewers:     decoded.Reviewers,
		Resource:      decoded.Resource,
		Role:          decoded.Role,
		Justification: decoded.Justification,
		Start:         decoded.Start,
		End:           decoded.End,
	}, nil
}

// ApproveMpaToken drives AWAITING_APPROVAL -> READY -> PROVISIONING ->
// ACTIVATED, or -> EXPIRED when the token verifies but has expired, or
// -> REJECTED on any other failure. The activation type (peer vs
// external) is not carried in the token — spec.md §4.6's claim schema
// omits it — so qualification is re-derived here by trying both
// interpretations against the current role repository state.
func (a *Activator) ApproveMpaToken(ctx context.Context, approver resourceid.UserEmail, obfuscatedToken string) (MpaApprovalResult, error) {
	actor := approver.String()
	ctx = withStarted(ctx)
	a.recordTransition(ctx, actor, "mpa-approve", StateAwaitingApproval)

	raw, err := token.Deobfuscate(obfuscatedToken)
	if err != nil {
		a.recordTransition(ctx, actor, "mpa-approve", StateRejected)
		return MpaApprovalResult{}, err
	}
	decoded, err := a.verifier.Verify(ctx, raw)
	if err != nil {
		state := StateRejected
		if stderrors.Is(err, jwt.ErrTokenExpired) {
			state = StateExpired
		}
		a.recordTransition(ctx, actor, "mpa-approve", state)
		return MpaApprovalResult{}, err
	}
	// The token verified, so it corresponds to a request IssueMpaRequest
	// counted as pending; every return path below resolves it one way or
	// another, so the gauge is decremented exactly once here rather than at
	// each terminal return.
	metrics.PendingMpaRequests.Dec()

	if approver.Equal(decoded.Beneficiary) {
		a.recordTransition(ctx, actor, "mpa-approve", StateRejected)
		return MpaApprovalResult{}, errors.NewAccessDeniedError("requester may not approve their own activation", nil)
	}
	reviewerListed := false
	for _, r := range decoded.Reviewers {
		if r.Equal(approver) {
			reviewerListed = true
			break
		}
	}
	if !reviewerListed {
		a.recordTransition(ctx, actor, "mpa-approve", StateRejected)
		return MpaApprovalResult{}, errors.NewAccessDeniedError("approver was not named as a reviewer on this request", nil)
	}

	project, err := resourceid.ParseProjectId(decoded.Resource)
	if err != nil {
		a.recordTransition(ctx, actor, "mpa-approve", StateRejected)
		return MpaApprovalResult{}, errors.NewInternalError("activation token carries an unparseable resource", err)
	}
	pr, err := resourceid.NewProjectRole(project, decoded.Role)
	if err != nil {
		a.recordTransition(ctx, actor, "mpa-approve", StateRejected)
		return MpaApprovalResult{}, err
	}

	shape := catalog.RequestShape{
		RequestingUser: decoded.Beneficiary,
		Privileges:     []resourceid.ProjectRole{pr},
		Duration:       decoded.End.Sub(decoded.Start),
		Reviewers:      decoded.Reviewers,
		ActivationType: condition.ActivationType{Kind: condition.PeerApproval},
	}
	if err := a.catalog.VerifyUserCanApprove(ctx, approver, shape); err != nil {
		shape.ActivationType = condition.ActivationType{Kind: condition.ExternalApproval}
		err = a.catalog.VerifyUserCanApprove(ctx, approver, shape)
	}
	if err != nil {
		a.recordTransition(ctx, actor, "mpa-approve", StateRejected)
		return MpaApprovalResult{}, err
	}
	a.recordTransition(ctx, actor, "mpa-approve", StateReady)

	beneficiarySet, err := a.repo.FindPrivileges(ctx, decoded.Beneficiary, project)
	resourceSubExpr := ""
	if err == nil {
		for _, p := range beneficiarySet.Available {
			if p.Id == pr {
				resourceSubExpr = p.ResourceSubExpr
				break
			}
		}
	}

	span := condition.TimeSpan{Start: decoded.Start, End: decoded.End}
	a.recordTransition(ctx, actor, "mpa-approve", StateProvisioning)

	cond := condition.Condition{
		Title:       condition.ActivatedConditionTitle,
		Description: fmt.Sprintf("Approved by %s, justification: %s", approver.String(), decoded.Justification),
		Expression:  condition.BuildActivatedExpression(span, resourceSubExpr),
	}
	binding := iam.Binding{Principal: decoded.Beneficiary, Role: decoded.Role, Condition: cond}
	opts := iam.PurgeExistingTemporaryBindings | iam.FailIfBindingExists
	if err := a.provisioner.AddProjectBinding(ctx, project, binding, opts, "mpa-approval"); err != nil {
		a.recordTransition(ctx, actor, "mpa-approve", StateRejected)
		return MpaApprovalResult{}, err
	}
	a.recordTransition(ctx, actor, "mpa-approve", StateActivated)

	if err := a.notifier.NotifyApproval(ctx, notify.ApprovalMessage{
		Beneficiary: decoded.Beneficiary,
		Approver:    approver,
		Resource:    decoded.Resource,
		Role:        decoded.Role,
	}); err != nil {
		logger.FromContext(ctx).Warn("failed to notify beneficiary of approval", "error", err)
		metrics.RecordNotificationFailure("approval")
	}

	return MpaApprovalResult{ActivationId: decoded.ActivationId, Span: span}, nil
}
