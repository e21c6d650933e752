package rolerepo

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/cloudjit/jitaccess/internal/condition"
	"github.com/cloudjit/jitaccess/internal/errors"
	"github.com/cloudjit/jitaccess/internal/resourceid"
	"github.com/cloudjit/jitaccess/internal/telemetry"
)

// Verdict is the CEL-condition evaluation verdict the policy analyzer
// attaches to each candidate binding.
type Verdict int

const (
	VerdictFalse Verdict = iota
	VerdictTrue
	VerdictConditional
)

// AnalyzerBinding is one candidate binding returned by the analyzer for a
// (user, project) pair, already expanded across group memberships and
// resource-hierarchy inheritance.
type AnalyzerBinding struct {
	FullResourceName string
	Role             string
	Condition        *condition.Condition
	Verdict          Verdict
}

// AnalyzerClient wraps the policy-analyzer API (external collaborator per
// spec.md §6): one call returns every binding that could apply to user on
// project, with a symbolic CEL verdict already computed.
type AnalyzerClient interface {
	// AnalyzeBindings returns every IAM binding that could apply to user
	// on the resource rooted at scope.
	AnalyzeBindings(ctx context.Context, user resourceid.UserEmail, scope string) ([]AnalyzerBinding, error)
	// FindProjectsWithPermission filters the analyzer on a single
	// permission with resource expansion, returning every resource the
	// user could act on.
	FindProjectsWithPermission(ctx context.Context, user resourceid.UserEmail, scope, permission string) ([]string, error)
	// GetEffectivePolicies returns every binding in project's ancestry
	// union via the same resource-scoped (no identity selector) analysis
	// the effective-policy backend uses. The analyzer's per-user call has
	// no way to enumerate other principals' holders, so reviewer
	// discovery borrows this resource-scoped shape instead.
	GetEffectivePolicies(ctx context.Context, project resourceid.ProjectId) ([]EffectiveBinding, error)
}

// AnalyzerBackend is the "personalized" role-repository backend (§4.3.1).
type AnalyzerBackend struct {
	client resourceManagerScope
	api    AnalyzerClient
}

// resourceManagerScope is the configured root of the managed resource
// hierarchy (RESOURCE_SCOPE), used to bound analyzer queries.
type resourceManagerScope struct {
	scope string
}

// NewAnalyzerBackend constructs an AnalyzerBackend scoped to the given
// resource hierarchy root.
func NewAnalyzerBackend(api AnalyzerClient, scope string) *AnalyzerBackend {
	return &AnalyzerBackend{client: resourceManagerScope{scope: scope}, api: api}
}

// FindProjectsWithPrivileges filters the analyzer for
// resourcemanager.projects.get with resource expansion, retaining only
// results that parse as a project's full resource name.
func (b *AnalyzerBackend) FindProjectsWithPrivileges(ctx context.Context, user resourceid.UserEmail) ([]resourceid.ProjectId, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "rolerepo.FindProjectsWithPrivileges")
	defer span.End()

	names, err := b.api.FindProjectsWithPermission(ctx, user, b.client.scope, "resourcemanager.projects.get")
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, errors.NewUnavailableError("failed to query policy analyzer", err)
	}

	ids := make(map[resourceid.ProjectId]struct{}, len(names))
	for _, n := range names {
		id, err := resourceid.ParseProjectId(n)
		if err != nil {
			continue // not a project resource; skip
		}
		ids[id] = struct{}{}
	}
	return sortedProjectIds(ids), nil
}

// FindPrivileges implements §4.3.1's mapping rules over a single analyzer
// call scoped to project.
func (b *AnalyzerBackend) FindPrivileges(ctx context.Context, user resourceid.UserEmail, project resourceid.ProjectId) (PrivilegeSet, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "rolerepo.FindPrivileges")
	defer span.End()

	bindings, err := b.api.AnalyzeBindings(ctx, user, project.FullResourceName())
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return PrivilegeSet{}, errors.NewUnavailableError("failed to query policy analyzer", err)
	}

	return classify(project, bindings, time.Now()), nil
}

// FindReviewerHolders analyzes bindings carrying a reviewerPrivilege
// marker for pr.Role, filtered by activationType's reviewable scope. The
// analyzer API is queried per-principal for FindPrivileges, but reviewer
// discovery needs every holder of a role, so this runs the same
// resource-scoped (no identity selector) analysis the effective-policy
// backend uses for its own reviewer lookup.
func (b *AnalyzerBackend) FindReviewerHolders(ctx context.Context, pr resourceid.ProjectRole, activationType condition.ActivationType) ([]resourceid.UserEmail, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "rolerepo.FindReviewerHolders")
	defer span.End()

	bindings, err := b.api.GetEffectivePolicies(ctx, pr.ProjectId)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, errors.NewUnavailableError("failed to query policy analyzer", err)
	}
	return reviewerHoldersFromBindings(bindings, pr, activationType), nil
}

// classify applies §4.3.1's rules to turn analyzer results into a
// PrivilegeSet.
func classify(project resourceid.ProjectId, bindings []AnalyzerBinding, now time.Time) PrivilegeSet {
	result := PrivilegeSet{
		Active:  make(map[resourceid.ProjectRole]Activation),
		Expired: make(map[resourceid.ProjectRole]Activation),
	}
	var available []RequesterPrivilege

	for _, b := range bindings {
		pr, err := resourceid.NewProjectRole(project, b.Role)
		if err != nil {
			continue
		}

		if b.Condition == nil {
			continue
		}

		if at, resourceSubExpr, ok := condition.ParseEligibility(b.Condition.Expression); ok {
			if b.Verdict == VerdictConditional {
				available = append(available, RequesterPrivilege{
					Id:              pr,
					Name:            pr.String(),
					ActivationType:  at,
					Status:          Inactive,
					ResourceSubExpr: resourceSubExpr,
				})
			}
			continue
		}

		if condition.IsActivated(*b.Condition) {
			span, spanErr := condition.EvaluateWindow(b.Condition.Expression)
			if spanErr != nil {
				continue
			}
			switch {
			case b.Verdict == VerdictTrue && span.IsValid(now):
				result.Active[pr] = Activation{Id: pr, Span: span}
			case b.Verdict == VerdictFalse || !span.IsValid(now):
				result.Expired[pr] = Activation{Id: pr, Span: span}
			}
		}
	}

	result.Available = dedupeAvailable(available)
	return result
}
