package rolerepo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudjit/jitaccess/internal/condition"
	"github.com/cloudjit/jitaccess/internal/resourceid"
)

type fakeAnalyzerClient struct {
	bindings          []AnalyzerBinding
	projects          []string
	effectiveBindings []EffectiveBinding
	err               error
}

func (f *fakeAnalyzerClient) AnalyzeBindings(context.Context, resourceid.UserEmail, string) ([]AnalyzerBinding, error) {
	return f.bindings, f.err
}

func (f *fakeAnalyzerClient) FindProjectsWithPermission(context.Context, resourceid.UserEmail, string, string) ([]string, error) {
	return f.projects, f.err
}

func (f *fakeAnalyzerClient) GetEffectivePolicies(context.Context, resourceid.ProjectId) ([]EffectiveBinding, error) {
	return f.effectiveBindings, f.err
}

func TestAnalyzerBackend_FindProjectsWithPrivileges(t *testing.T) {
	client := &fakeAnalyzerClient{projects: []string{"projects/p1", "folders/f1", "projects/p2"}}
	backend := NewAnalyzerBackend(client, "organizations/1")

	user, _ := resourceid.NewUserEmail("alice@example.org")
	ids, err := backend.FindProjectsWithPrivileges(context.Background(), user)
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.Equal(t, "p1", ids[0].String())
	assert.Equal(t, "p2", ids[1].String())
}

func TestAnalyzerBackend_FindPrivileges_Classification(t *testing.T) {
	now := time.Now().UTC()
	window := condition.BuildActivatedExpression(condition.TimeSpan{Start: now.Add(-time.Hour), End: now.Add(time.Hour)}, "")
	client := &fakeAnalyzerClient{bindings: []AnalyzerBinding{
		{
			Role:      "roles/compute.viewer",
			Condition: &condition.Condition{Expression: "has({}.jitAccessConstraint)"},
			Verdict:   VerdictConditional,
		},
		{
			Role:      "roles/compute.admin",
			Condition: &condition.Condition{Title: condition.ActivatedConditionTitle, Expression: window},
			Verdict:   VerdictTrue,
		},
		{
			Role:      "roles/storage.admin",
			Condition: &condition.Condition{Title: condition.ActivatedConditionTitle, Expression: window},
			Verdict:   VerdictFalse,
		},
	}}
	backend := NewAnalyzerBackend(client, "organizations/1")

	user, _ := resourceid.NewUserEmail("alice@example.org")
	project, _ := resourceid.NewProjectId("p1")
	set, err := backend.FindPrivileges(context.Background(), user, project)
	require.NoError(t, err)

	require.Len(t, set.Available, 1)
	assert.Equal(t, condition.SelfApproval, set.Available[0].ActivationType.Kind)
	assert.Len(t, set.Active, 1)
	assert.Len(t, set.Expired, 1)
}

func TestAnalyzerBackend_TieBreak_SelfOverPeer(t *testing.T) {
	project, _ := resourceid.NewProjectId("p1")
	pr, _ := resourceid.NewProjectRole(project, "roles/compute.viewer")

	privileges := []RequesterPrivilege{
		{Id: pr, ActivationType: condition.ActivationType{Kind: condition.PeerApproval}},
		{Id: pr, ActivationType: condition.ActivationType{Kind: condition.SelfApproval}},
	}
	result := dedupeAvailable(privileges)
	require.Len(t, result, 1)
	assert.Equal(t, condition.SelfApproval, result[0].ActivationType.Kind)
}

func TestAnalyzerBackend_FindReviewerHolders(t *testing.T) {
	client := &fakeAnalyzerClient{effectiveBindings: []EffectiveBinding{
		{
			Role:      "roles/compute.admin",
			Members:   []string{"user:bob@example.org", "user:carol@example.org"},
			Condition: &condition.Condition{Expression: "has({}.reviewerPrivilege)"},
		},
	}}
	backend := NewAnalyzerBackend(client, "organizations/1")

	project, _ := resourceid.NewProjectId("p1")
	pr, _ := resourceid.NewProjectRole(project, "roles/compute.admin")
	holders, err := backend.FindReviewerHolders(context.Background(), pr, condition.ActivationType{Kind: condition.ExternalApproval})
	require.NoError(t, err)
	require.Len(t, holders, 2)
	assert.Equal(t, "bob@example.org", holders[0].String())
}

func TestClassify_ExpiredWhenWindowNoLongerValid(t *testing.T) {
	project, _ := resourceid.NewProjectId("p1")
	expiredWindow := `request.time >= timestamp("2020-01-01T00:00:00Z") && request.time < timestamp("2020-01-01T01:00:00Z")`
	bindings := []AnalyzerBinding{
		{Role: "roles/viewer", Condition: &condition.Condition{Title: condition.ActivatedConditionTitle, Expression: expiredWindow}, Verdict: VerdictTrue},
	}
	set := classify(project, bindings, time.Now())
	assert.Len(t, set.Expired, 1)
	assert.Len(t, set.Active, 0)
}
