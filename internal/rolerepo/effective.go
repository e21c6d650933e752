package rolerepo

import (
	"context"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"go.opentelemetry.io/otel/codes"

	"github.com/cloudjit/jitaccess/internal/condition"
	"github.com/cloudjit/jitaccess/internal/errors"
	"github.com/cloudjit/jitaccess/internal/logger"
	"github.com/cloudjit/jitaccess/internal/resourceid"
	"github.com/cloudjit/jitaccess/internal/telemetry"
)

// EffectiveBinding is one binding from the ancestry-union effective IAM
// policy of a project (organization/folder/project bindings merged).
type EffectiveBinding struct {
	Role      string
	Members   []string
	Condition *condition.Condition
}

// EffectivePolicyClient wraps the effective-IAM-policy API (one call per
// project, returns the policy and its ancestry union).
type EffectivePolicyClient interface {
	GetEffectivePolicies(ctx context.Context, project resourceid.ProjectId) ([]EffectiveBinding, error)
	// ListRoleHolders returns every member bound to role anywhere in the
	// project's ancestry union. FindReviewerHolders does not call it; it
	// filters GetEffectivePolicies results instead.
	ListRoleHolders(ctx context.Context, project resourceid.ProjectId, role string) ([]string, error)
}

// DirectoryClient wraps the directory API's group-membership listing.
type DirectoryClient interface {
	// ListDirectGroups returns the groups user directly belongs to. An
	// AccessDenied error for an external group's tenant is handled by the
	// caller, not this interface.
	ListDirectGroups(ctx context.Context, user resourceid.UserEmail) ([]string, error)
}

// EffectivePolicyBackend is the non-personalized role-repository backend
// (§4.3.2): two parallel calls — effective policies and direct group
// memberships — composed with an "await-all" primitive.
type EffectivePolicyBackend struct {
	policies  EffectivePolicyClient
	directory DirectoryClient
	scope     string
}

// NewEffectivePolicyBackend constructs an EffectivePolicyBackend.
func NewEffectivePolicyBackend(policies EffectivePolicyClient, directory DirectoryClient, scope string) *EffectivePolicyBackend {
	return &EffectivePolicyBackend{policies: policies, directory: directory, scope: scope}
}

// FindProjectsWithPrivileges does not enumerate scopes in this backend: it
// always returns an Internal error. The catalog avoids calling it only when
// AVAILABLE_PROJECTS_QUERY is set (a resource-manager search, §4.4), so
// with RESOURCE_CATALOG=AssetInventory and no query, project listing fails.
func (b *EffectivePolicyBackend) FindProjectsWithPrivileges(_ context.Context, _ resourceid.UserEmail) ([]resourceid.ProjectId, error) {
	return nil, errors.NewInternalError(
		"effective-policy backend cannot enumerate scopes without AVAILABLE_PROJECTS_QUERY", nil)
}

// FindPrivileges composes the two parallel fetches, builds the principal
// set, filters the effective policy, and classifies each kept binding
// identically to the analyzer backend.
func (b *EffectivePolicyBackend) FindPrivileges(ctx context.Context, user resourceid.UserEmail, project resourceid.ProjectId) (PrivilegeSet, error) {
	var (
		bindings []EffectiveBinding
		groups   []string
		warning  string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		spanCtx, span := telemetry.Tracer().Start(gctx, "rolerepo.GetEffectivePolicies")
		defer span.End()
		var err error
		bindings, err = b.policies.GetEffectivePolicies(spanCtx, project)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return errors.NewUnavailableError("failed to read effective IAM policies", err)
		}
		return nil
	})
	g.Go(func() error {
		spanCtx, span := telemetry.Tracer().Start(gctx, "rolerepo.ListDirectGroups")
		defer span.End()
		var err error
		groups, err = b.directory.ListDirectGroups(spanCtx, user)
		if err != nil {
			if e, ok := err.(*errors.Error); ok && e.Type == errors.ErrAccessDenied && isExternalGroupError(e) {
				logger.FromContext(spanCtx).Warn("external tenant group listing denied; continuing with empty group set", "user", user.String())
				warning = "group membership unavailable for external tenant"
				groups = nil
				return nil
			}
			span.SetStatus(codes.Error, err.Error())
			return errors.NewUnavailableError("failed to list direct group memberships", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return PrivilegeSet{}, err
	}

	principals := map[string]struct{}{user.Principal(): {}}
	for _, grp := range groups {
		principals["group:"+grp] = struct{}{}
	}

	kept := make([]AnalyzerBinding, 0, len(bindings))
	now := time.Now()
	for _, b := range bindings {
		if !intersects(b.Members, principals) {
			continue
		}
		verdict := VerdictFalse
		if b.Condition == nil {
			verdict = VerdictTrue // unconditional binding grants access outright; not an eligibility marker, dropped by classify()
		} else if _, _, ok := condition.ParseEligibility(b.Condition.Expression); ok {
			verdict = VerdictConditional
		} else if condition.IsActivated(*b.Condition) {
			if span, err := condition.EvaluateWindow(b.Condition.Expression); err == nil && span.IsValid(now) {
				verdict = VerdictTrue
			} else {
				verdict = VerdictFalse
			}
		}
		kept = append(kept, AnalyzerBinding{
			FullResourceName: project.FullResourceName(),
			Role:             b.Role,
			Condition:        b.Condition,
			Verdict:          verdict,
		})
	}

	result := classify(project, kept, now)
	if warning != "" {
		result.Warnings = append(result.Warnings, warning)
	}
	return result, nil
}

// FindReviewerHolders lists every member bound to pr.Role in the ancestry
// union whose condition carries a reviewerPrivilege marker compatible with
// activationType, resolving group membership is intentionally not
// performed here (reviewer sets are reported as configured principals;
// group-based reviewer expansion would require a directory-wide reverse
// lookup out of scope for this backend).
func (b *EffectivePolicyBackend) FindReviewerHolders(ctx context.Context, pr resourceid.ProjectRole, activationType condition.ActivationType) ([]resourceid.UserEmail, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "rolerepo.FindReviewerHolders")
	defer span.End()

	bindings, err := b.policies.GetEffectivePolicies(ctx, pr.ProjectId)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, errors.NewUnavailableError("failed to read effective IAM policies", err)
	}
	return reviewerHoldersFromBindings(bindings, pr, activationType), nil
}

// reviewerHoldersFromBindings filters a resource-scoped ancestry-union
// binding set down to the reviewerPrivilege-marked holders for pr.Role
// compatible with activationType. Shared by both role-repository backends
// since they both end up with the same []EffectiveBinding shape once the
// analyzer backend falls back to a resource-scoped analysis.
func reviewerHoldersFromBindings(bindings []EffectiveBinding, pr resourceid.ProjectRole, activationType condition.ActivationType) []resourceid.UserEmail {
	holders := make(map[resourceid.UserEmail]struct{})
	for _, binding := range bindings {
		if binding.Role != pr.Role || binding.Condition == nil {
			continue
		}
		topic, ok := condition.ParseReviewerMarker(binding.Condition.Expression)
		if !ok {
			continue
		}
		reviewerType := condition.ActivationType{Kind: activationType.Kind, Topic: topic}
		if !reviewerType.IsParentOf(activationType) && !activationType.IsParentOf(reviewerType) {
			continue
		}
		for _, m := range binding.Members {
			email, ok := strings.CutPrefix(m, "user:")
			if !ok {
				continue
			}
			u, err := resourceid.NewUserEmail(email)
			if err != nil {
				continue
			}
			holders[u] = struct{}{}
		}
	}
	return sortedEmails(holders)
}

func intersects(members []string, principals map[string]struct{}) bool {
	for _, m := range members {
		if _, ok := principals[m]; ok {
			return true
		}
	}
	return false
}

// isExternalGroupError reports whether an AccessDenied error originated
// from listing an external tenant's group, which the application has no
// admin rights over and therefore swallows per §4.3.2.
func isExternalGroupError(e *errors.Error) bool {
	return strings.Contains(e.Message, "external")
}
