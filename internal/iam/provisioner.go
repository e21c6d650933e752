// Package iam implements the optimistic-concurrency IAM policy provisioner
// (component C3): read-modify-write a project's IAM policy, purge
// superseded temporary bindings, fail fast on duplicates, and retry
// transient conflicts. Grounded end to end on the abcxyz/access-on-demand
// IAMHandler: the GetIamPolicy/SetIamPolicy retry loop, the binding
// purge-then-append ordering, and the requirement that the policy be read
// and written at version 3 to support conditional bindings.
package iam

import (
	"context"
	"sort"
	"time"

	iampb "cloud.google.com/go/iam/apiv1/iampb"
	expr "google.golang.org/genproto/googleapis/type/expr"

	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/cloudjit/jitaccess/internal/condition"
	"github.com/cloudjit/jitaccess/internal/errors"
	"github.com/cloudjit/jitaccess/internal/logger"
	"github.com/cloudjit/jitaccess/internal/metrics"
	"github.com/cloudjit/jitaccess/internal/resourceid"
	"github.com/cloudjit/jitaccess/internal/telemetry"
)

// Option is a bit flag controlling AddProjectBinding's behavior.
type Option int

const (
	// PurgeExistingTemporaryBindings removes every existing binding with
	// the same role and member set whose condition is a temporary-access
	// window, before appending the new binding.
	PurgeExistingTemporaryBindings Option = 1 << iota
	// FailIfBindingExists aborts with AlreadyExists if the current policy
	// already contains an identical binding (same role, members, and
	// condition).
	FailIfBindingExists
)

func (o Option) has(flag Option) bool { return o&flag != 0 }

// Binding is the domain-level shape of an IAM binding to add.
type Binding struct {
	Principal resourceid.UserEmail
	Role      string
	Condition condition.Condition
}

// Client is the narrow interface this package depends on for reading and
// writing a project's IAM policy — the same shape as the teacher's
// IAMClient, scoped here to a single project's resource name instead of
// organizations/folders/projects, since the managed resource hierarchy's
// root is configured once at startup (RESOURCE_SCOPE).
type Client interface {
	GetIamPolicy(ctx context.Context, resource string) (*iampb.Policy, error)
	SetIamPolicy(ctx context.Context, resource string, policy *iampb.Policy) (*iampb.Policy, error)
}

// Provisioner implements C3.
type Provisioner struct {
	client     Client
	newBackoff func() retry.Backoff
}

// NewProvisioner constructs a Provisioner with the spec's default attempt
// budget: 4 attempts, ~200ms constant backoff. Backoffs are stateful, so
// every AddProjectBinding call starts from a fresh budget.
func NewProvisioner(client Client) *Provisioner {
	return &Provisioner{
		client: client,
		newBackoff: func() retry.Backoff {
			return retry.WithMaxRetries(3, retry.NewConstant(200*time.Millisecond))
		},
	}
}

// Ping performs a read-only reachability check against the IAM API by
// fetching resource's policy, used by the service's liveness probe. It
// never mutates anything and does not retry.
func (p *Provisioner) Ping(ctx context.Context, resource string) error {
	if _, err := p.client.GetIamPolicy(ctx, resource); err != nil {
		return errors.NewUnavailableError("iam reachability check failed", err)
	}
	return nil
}

// readPolicy wraps the GetIamPolicy call in its own span, the read half of
// the read-modify-write loop.
func (p *Provisioner) readPolicy(ctx context.Context, project resourceid.ProjectId) (*iampb.Policy, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "iam.GetIamPolicy")
	defer span.End()
	policy, err := p.client.GetIamPolicy(ctx, project.FullResourceName())
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, errors.NewUnavailableError("failed to read IAM policy", err)
	}
	return policy, nil
}

// writePolicy wraps the SetIamPolicy call in its own span, the write half
// of the read-modify-write loop.
func (p *Provisioner) writePolicy(ctx context.Context, project resourceid.ProjectId, policy *iampb.Policy) error {
	ctx, span := telemetry.Tracer().Start(ctx, "iam.SetIamPolicy")
	defer span.End()
	if _, err := p.client.SetIamPolicy(ctx, project.FullResourceName(), policy); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return errors.NewUnavailableError("failed to write IAM policy", err)
	}
	return nil
}

// AddProjectBinding runs the optimistic-concurrency algorithm from §4.2:
// read policy at version 3, optionally fail on duplicate, optionally purge
// superseded temporary bindings, append, write back, retry on conflict.
// reasonTag is attached to this call's log lines only; Client does not
// receive it, so no audit-attribution header is sent with the API call.
func (p *Provisioner) AddProjectBinding(
	ctx context.Context,
	project resourceid.ProjectId,
	binding Binding,
	opts Option,
	reasonTag string,
) error {
	log := logger.FromContext(ctx).With("project", project.String(), "role", binding.Role, "reason", reasonTag)

	ctx, span := telemetry.Tracer().Start(ctx, "iam.AddProjectBinding")
	span.SetAttributes(attribute.String("jitaccess.project", project.String()), attribute.String("jitaccess.role", binding.Role))
	defer span.End()

	attempts := 0
	err := retry.Do(ctx, p.newBackoff(), func(ctx context.Context) error {
		attempts++
		policy, err := p.readPolicy(ctx, project)
		if err != nil {
			return retry.RetryableError(err)
		}

		if opts.has(FailIfBindingExists) {
			for _, existing := range policy.GetBindings() {
				if bindingsEqual(existing, toPB(binding)) {
					return errors.NewAlreadyExistsError("binding already exists", nil)
				}
			}
		}

		if opts.has(PurgeExistingTemporaryBindings) {
			policy.Bindings = purgeSuperseded(policy.GetBindings(), binding)
		}

		policy.Bindings = append(policy.Bindings, toPB(binding))
		policy.Version = 3

		if err := p.writePolicy(ctx, project, policy); err != nil {
			log.Warn("concurrent IAM policy modification, retrying", "attempt", attempts)
			metrics.RecordProvisioningRetry("conflict")
			return retry.RetryableError(err)
		}
		return nil
	})

	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		if e, ok := err.(*errors.Error); ok && e.Type == errors.ErrAlreadyExists {
			metrics.RecordProvisioningRetry("already_exists")
			return err
		}
		metrics.RecordProvisioningRetry("exhausted")
		return errors.NewAlreadyExistsError("concurrent modification: attempt budget exhausted", err)
	}
	metrics.RecordProvisioningRetry("success")
	return nil
}

// purgeSuperseded removes every binding with the same role and member set
// as the new binding whose condition's expression is a temporary-access
// window (i.e. is superseded by the new activation).
func purgeSuperseded(existing []*iampb.Binding, newBinding Binding) []*iampb.Binding {
	newMembers := map[string]struct{}{newBinding.Principal.Principal(): {}}

	result := make([]*iampb.Binding, 0, len(existing))
	for _, b := range existing {
		if b.GetRole() != newBinding.Role || !sameMemberSet(memberSet(b.GetMembers()), newMembers) {
			result = append(result, b)
			continue
		}
		if b.GetCondition() == nil {
			result = append(result, b)
			continue
		}
		if _, err := condition.EvaluateWindow(b.GetCondition().GetExpression()); err != nil {
			// Not a temporary-access window; not ours to purge.
			result = append(result, b)
		}
		// Else: superseded temporary binding for the same principal/role,
		// dropped.
	}
	return result
}

// bindingsEqual implements §4.2's binding equality: same role, same
// member set (order-insensitive), and either both conditions absent or
// both present with equal title/description/expression (strict compare).
func bindingsEqual(a, b *iampb.Binding) bool {
	if a.GetRole() != b.GetRole() {
		return false
	}
	if !sameMemberSet(memberSet(a.GetMembers()), memberSet(b.GetMembers())) {
		return false
	}
	ac, bc := a.GetCondition(), b.GetCondition()
	if (ac == nil) != (bc == nil) {
		return false
	}
	if ac == nil {
		return true
	}
	return ac.GetTitle() == bc.GetTitle() &&
		ac.GetDescription() == bc.GetDescription() &&
		ac.GetExpression() == bc.GetExpression()
}

func memberSet(members []string) map[string]struct{} {
	s := make(map[string]struct{}, len(members))
	for _, m := range members {
		s[m] = struct{}{}
	}
	return s
}

func sameMemberSet(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for m := range a {
		if _, ok := b[m]; !ok {
			return false
		}
	}
	return true
}

func toPB(b Binding) *iampb.Binding {
	members := []string{b.Principal.Principal()}
	sort.Strings(members)
	pb := &iampb.Binding{
		Role:    b.Role,
		Members: members,
	}
	if b.Condition.Title != "" || b.Condition.Expression != "" {
		pb.Condition = &expr.Expr{
			Title:       b.Condition.Title,
			Description: b.Condition.Description,
			Expression:  b.Condition.Expression,
		}
	}
	return pb
}
