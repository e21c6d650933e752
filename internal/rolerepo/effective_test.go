package rolerepo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudjit/jitaccess/internal/condition"
	"github.com/cloudjit/jitaccess/internal/errors"
	"github.com/cloudjit/jitaccess/internal/resourceid"
)

type fakePolicyClient struct {
	bindings []EffectiveBinding
	holders  []string
	err      error
}

func (f *fakePolicyClient) GetEffectivePolicies(context.Context, resourceid.ProjectId) ([]EffectiveBinding, error) {
	return f.bindings, f.err
}

func (f *fakePolicyClient) ListRoleHolders(context.Context, resourceid.ProjectId, string) ([]string, error) {
	return f.holders, f.err
}

type fakeDirectoryClient struct {
	groups []string
	err    error
}

func (f *fakeDirectoryClient) ListDirectGroups(context.Context, resourceid.UserEmail) ([]string, error) {
	return f.groups, f.err
}

func TestEffectivePolicyBackend_FindPrivileges_GroupMembership(t *testing.T) {
	policies := &fakePolicyClient{bindings: []EffectiveBinding{
		{
			Role:      "roles/compute.viewer",
			Members:   []string{"group:team-eng@example.org"},
			Condition: &condition.Condition{Expression: "has({}.jitAccessConstraint)"},
		},
		{
			Role:    "roles/storage.admin",
			Members: []string{"user:someone-else@example.org"},
		},
	}}
	directory := &fakeDirectoryClient{groups: []string{"team-eng@example.org"}}
	backend := NewEffectivePolicyBackend(policies, directory, "organizations/1")

	user, _ := resourceid.NewUserEmail("alice@example.org")
	project, _ := resourceid.NewProjectId("p1")
	set, err := backend.FindPrivileges(context.Background(), user, project)
	require.NoError(t, err)

	require.Len(t, set.Available, 1)
	assert.Equal(t, "roles/compute.viewer", set.Available[0].Id.Role)
}

func TestEffectivePolicyBackend_SwallowsExternalGroupAccessDenied(t *testing.T) {
	policies := &fakePolicyClient{}
	directory := &fakeDirectoryClient{err: errors.NewAccessDeniedError("external tenant denied group listing", nil)}
	backend := NewEffectivePolicyBackend(policies, directory, "organizations/1")

	user, _ := resourceid.NewUserEmail("alice@example.org")
	project, _ := resourceid.NewProjectId("p1")
	set, err := backend.FindPrivileges(context.Background(), user, project)
	require.NoError(t, err)
	assert.NotEmpty(t, set.Warnings)
}

func TestEffectivePolicyBackend_PropagatesPolicyError(t *testing.T) {
	policies := &fakePolicyClient{err: errors.NewUnavailableError("boom", nil)}
	directory := &fakeDirectoryClient{}
	backend := NewEffectivePolicyBackend(policies, directory, "organizations/1")

	user, _ := resourceid.NewUserEmail("alice@example.org")
	project, _ := resourceid.NewProjectId("p1")
	_, err := backend.FindPrivileges(context.Background(), user, project)
	require.Error(t, err)
}

func TestEffectivePolicyBackend_FindReviewerHolders(t *testing.T) {
	policies := &fakePolicyClient{bindings: []EffectiveBinding{
		{
			Role:      "roles/compute.admin",
			Members:   []string{"user:bob@example.org", "user:carol@example.org"},
			Condition: &condition.Condition{Expression: "has({}.reviewerPrivilege)"},
		},
	}}
	directory := &fakeDirectoryClient{}
	backend := NewEffectivePolicyBackend(policies, directory, "organizations/1")

	project, _ := resourceid.NewProjectId("p1")
	pr, _ := resourceid.NewProjectRole(project, "roles/compute.admin")
	holders, err := backend.FindReviewerHolders(context.Background(), pr, condition.ActivationType{Kind: condition.ExternalApproval})
	require.NoError(t, err)
	require.Len(t, holders, 2)
	assert.Equal(t, "bob@example.org", holders[0].String())
}
