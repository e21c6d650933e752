// Package gcpadapter wires component C4's narrow collaborator interfaces
// (AnalyzerClient, EffectivePolicyClient, DirectoryClient,
// catalog.ProjectSearchClient, iam.Client) to the real Google Cloud APIs
// named as external collaborators in spec.md §6. cmd/jitaccess is the only
// caller; the interfaces themselves stay in their owning packages so unit
// tests never need these adapters.
package gcpadapter

import (
	"context"

	cloudasset "google.golang.org/api/cloudasset/v1"
	admin "google.golang.org/api/admin/directory/v1"
	cloudresourcemanager "google.golang.org/api/cloudresourcemanager/v3"

	iamapi "cloud.google.com/go/iam/apiv1"
	iampb "cloud.google.com/go/iam/apiv1/iampb"

	"github.com/cloudjit/jitaccess/internal/condition"
	"github.com/cloudjit/jitaccess/internal/errors"
	"github.com/cloudjit/jitaccess/internal/resourceid"
	"github.com/cloudjit/jitaccess/internal/rolerepo"
)

// AssetInventoryAnalyzer implements rolerepo.AnalyzerClient and
// rolerepo.EffectivePolicyClient on top of the Cloud Asset Inventory API's
// AnalyzeIamPolicy call, the same endpoint backing both the "personalized"
// and "effective policy" role-repository backends — they differ only in
// whether the analysis query is scoped to a single principal.
type AssetInventoryAnalyzer struct {
	svc *cloudasset.Service
}

// NewAssetInventoryAnalyzer wraps an authenticated Cloud Asset client.
func NewAssetInventoryAnalyzer(svc *cloudasset.Service) *AssetInventoryAnalyzer {
	return &AssetInventoryAnalyzer{svc: svc}
}

// AnalyzeBindings implements rolerepo.AnalyzerClient.
func (a *AssetInventoryAnalyzer) AnalyzeBindings(ctx context.Context, user resourceid.UserEmail, scope string) ([]rolerepo.AnalyzerBinding, error) {
	call := a.svc.V1.AnalyzeIamPolicy(scope).
		AnalysisQueryIdentitySelectorIdentity(user.Principal()).
		AnalysisQueryOptionsExpandGroups(true).
		AnalysisQueryOptionsExpandResources(true).
		AnalysisQueryConditionContextAccessTime(nowRFC3339())
	resp, err := call.Context(ctx).Do()
	if err != nil {
		return nil, errors.NewUnavailableError("cloud asset AnalyzeIamPolicy failed", err)
	}

	var out []rolerepo.AnalyzerBinding
	for _, result := range resp.MainAnalysis.GetAnalysisResults() {
		for _, resourceEdge := range result.AttachedResourceFullNames {
			out = append(out, rolerepo.AnalyzerBinding{
				FullResourceName: resourceEdge,
				Role:             result.IamBinding.GetRole(),
				Condition:        conditionFromExpr(result.IamBinding.GetCondition()),
				Verdict:          verdictFrom(result.ConditionEvaluations),
			})
		}
	}
	return out, nil
}

// FindProjectsWithPermission implements rolerepo.AnalyzerClient.
func (a *AssetInventoryAnalyzer) FindProjectsWithPermission(ctx context.Context, user resourceid.UserEmail, scope, permission string) ([]string, error) {
	call := a.svc.V1.AnalyzeIamPolicy(scope).
		AnalysisQueryIdentitySelectorIdentity(user.Principal()).
		AnalysisQueryAccessSelectorPermissions([]string{permission}).
		AnalysisQueryOptionsExpandResources(true)
	resp, err := call.Context(ctx).Do()
	if err != nil {
		return nil, errors.NewUnavailableError("cloud asset AnalyzeIamPolicy failed", err)
	}

	var names []string
	for _, result := range resp.MainAnalysis.GetAnalysisResults() {
		names = append(names, result.AttachedResourceFullNames...)
	}
	return names, nil
}

// GetEffectivePolicies implements rolerepo.EffectivePolicyClient by
// analyzing the policy with no identity selector, returning every binding
// in the project's ancestry union.
func (a *AssetInventoryAnalyzer) GetEffectivePolicies(ctx context.Context, project resourceid.ProjectId) ([]rolerepo.EffectiveBinding, error) {
	call := a.svc.V1.AnalyzeIamPolicy(project.FullResourceName()).
		AnalysisQueryResourceSelectorFullResourceName(project.FullResourceName()).
		AnalysisQueryOptionsExpandResources(false)
	resp, err := call.Context(ctx).Do()
	if err != nil {
		return nil, errors.NewUnavailableError("cloud asset AnalyzeIamPolicy failed", err)
	}

	var out []rolerepo.EffectiveBinding
	for _, result := range resp.MainAnalysis.GetAnalysisResults() {
		members := make([]string, 0)
		for _, realized := range result.IamBinding.GetMembers() {
			members = append(members, realized)
		}
		out = append(out, rolerepo.EffectiveBinding{
			Role:      result.IamBinding.GetRole(),
			Members:   members,
			Condition: conditionFromExpr(result.IamBinding.GetCondition()),
		})
	}
	return out, nil
}

// ListRoleHolders implements rolerepo.EffectivePolicyClient.
func (a *AssetInventoryAnalyzer) ListRoleHolders(ctx context.Context, project resourceid.ProjectId, role string) ([]string, error) {
	bindings, err := a.GetEffectivePolicies(ctx, project)
	if err != nil {
		return nil, err
	}
	var holders []string
	for _, b := range bindings {
		if b.Role == role {
			holders = append(holders, b.Members...)
		}
	}
	return holders, nil
}

// Ping performs a minimal AnalyzeIamPolicy call scoped to scope, with
// resource and group expansion both disabled, used by the service's
// readiness probe to confirm Cloud Asset Inventory is reachable.
func (a *AssetInventoryAnalyzer) Ping(ctx context.Context, scope string) error {
	_, err := a.svc.V1.AnalyzeIamPolicy(scope).
		AnalysisQueryResourceSelectorFullResourceName(scope).
		AnalysisQueryOptionsExpandResources(false).
		AnalysisQueryOptionsExpandGroups(false).
		Context(ctx).Do()
	if err != nil {
		return errors.NewUnavailableError("policy analyzer reachability check failed", err)
	}
	return nil
}

func conditionFromExpr(c *cloudasset.GoogleTypeExpr) *condition.Condition {
	if c == nil {
		return nil
	}
	return &condition.Condition{Title: c.Title, Description: c.Description, Expression: c.Expression}
}

func verdictFrom(evals []*cloudasset.ConditionEvaluation) rolerepo.Verdict {
	for _, e := range evals {
		switch e.EvaluationValue {
		case "TRUE":
			return rolerepo.VerdictTrue
		case "CONDITIONAL":
			return rolerepo.VerdictConditional
		}
	}
	return rolerepo.VerdictFalse
}

// DirectoryGroups implements rolerepo.DirectoryClient on top of the Admin
// SDK Directory API.
type DirectoryGroups struct {
	svc *admin.Service
}

// NewDirectoryGroups wraps an authenticated Directory API client.
func NewDirectoryGroups(svc *admin.Service) *DirectoryGroups {
	return &DirectoryGroups{svc: svc}
}

// ListDirectGroups implements rolerepo.DirectoryClient.
func (d *DirectoryGroups) ListDirectGroups(ctx context.Context, user resourceid.UserEmail) ([]string, error) {
	resp, err := d.svc.Groups.List().UserKey(user.String()).Context(ctx).Do()
	if err != nil {
		return nil, errors.NewUnavailableError("directory Groups.List failed", err)
	}
	groups := make([]string, 0, len(resp.Groups))
	for _, g := range resp.Groups {
		groups = append(groups, g.Email)
	}
	return groups, nil
}

// ProjectSearch implements catalog.ProjectSearchClient on top of the
// Resource Manager v3 Projects.Search call, used when
// AVAILABLE_PROJECTS_QUERY is configured.
type ProjectSearch struct {
	svc *cloudresourcemanager.Service
}

// NewProjectSearch wraps an authenticated Resource Manager client.
func NewProjectSearch(svc *cloudresourcemanager.Service) *ProjectSearch {
	return &ProjectSearch{svc: svc}
}

// SearchProjects implements catalog.ProjectSearchClient.
func (p *ProjectSearch) SearchProjects(ctx context.Context, query string) ([]resourceid.ProjectId, error) {
	var ids []resourceid.ProjectId
	call := p.svc.Projects.Search().Query(query).Context(ctx)
	err := call.Pages(ctx, func(page *cloudresourcemanager.SearchProjectsResponse) error {
		for _, proj := range page.Projects {
			id, err := resourceid.NewProjectId(proj.ProjectId)
			if err != nil {
				continue
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, errors.NewUnavailableError("resource manager Projects.Search failed", err)
	}
	return ids, nil
}

// IAMPolicyClient implements internal/iam.Client on top of the Cloud IAM
// v1 resource-manager policy client.
type IAMPolicyClient struct {
	client *iamapi.IamPolicyClient
}

// NewIAMPolicyClient wraps an authenticated IAM policy client.
func NewIAMPolicyClient(client *iamapi.IamPolicyClient) *IAMPolicyClient {
	return &IAMPolicyClient{client: client}
}

// GetIamPolicy implements internal/iam.Client.
func (c *IAMPolicyClient) GetIamPolicy(ctx context.Context, resource string) (*iampb.Policy, error) {
	return c.client.GetIamPolicy(ctx, &iampb.GetIamPolicyRequest{
		Resource: resource,
		Options:  &iampb.GetPolicyOptions{RequestedPolicyVersion: 3},
	})
}

// SetIamPolicy implements internal/iam.Client.
func (c *IAMPolicyClient) SetIamPolicy(ctx context.Context, resource string, policy *iampb.Policy) (*iampb.Policy, error) {
	return c.client.SetIamPolicy(ctx, &iampb.SetIamPolicyRequest{
		Resource: resource,
		Policy:   policy,
	})
}

// nowRFC3339 satisfies AnalyzeIamPolicy's AccessTimeContext, which accepts
// the literal "now" in place of a timestamp.
func nowRFC3339() string { return "now" }
