package iam

import (
	"context"
	"testing"

	iampb "cloud.google.com/go/iam/apiv1/iampb"
	expr "google.golang.org/genproto/googleapis/type/expr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudjit/jitaccess/internal/condition"
	"github.com/cloudjit/jitaccess/internal/errors"
	"github.com/cloudjit/jitaccess/internal/resourceid"
)

type fakeClient struct {
	policy      *iampb.Policy
	setCalls    int
	failSetN    int // fail the first N SetIamPolicy calls
	getErr      error
}

func (f *fakeClient) GetIamPolicy(_ context.Context, _ string) (*iampb.Policy, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	// Return a shallow copy so callers mutating Bindings don't corrupt
	// the fake's state across retries in ways that mask bugs.
	cp := &iampb.Policy{Version: f.policy.Version}
	cp.Bindings = append(cp.Bindings, f.policy.Bindings...)
	return cp, nil
}

func (f *fakeClient) SetIamPolicy(_ context.Context, _ string, policy *iampb.Policy) (*iampb.Policy, error) {
	f.setCalls++
	if f.setCalls <= f.failSetN {
		return nil, assertErr
	}
	f.policy = policy
	return policy, nil
}

var assertErr = errors.NewUnavailableError("conflict", nil)

func testBinding(t *testing.T) (resourceid.ProjectId, Binding) {
	t.Helper()
	project, err := resourceid.NewProjectId("p1")
	require.NoError(t, err)
	user, err := resourceid.NewUserEmail("alice@example.org")
	require.NoError(t, err)
	return project, Binding{
		Principal: user,
		Role:      "roles/compute.viewer",
		Condition: condition.Condition{
			Title:      condition.ActivatedConditionTitle,
			Expression: `request.time >= timestamp("2026-01-01T00:00:00Z") && request.time < timestamp("2026-01-01T01:00:00Z")`,
		},
	}
}

func TestAddProjectBinding_Success(t *testing.T) {
	project, binding := testBinding(t)
	client := &fakeClient{policy: &iampb.Policy{Version: 1}}
	p := NewProvisioner(client)

	err := p.AddProjectBinding(context.Background(), project, binding, PurgeExistingTemporaryBindings, "jit-activation")
	require.NoError(t, err)
	require.Len(t, client.policy.Bindings, 1)
	assert.Equal(t, int32(3), client.policy.Version)
	assert.Equal(t, []string{"user:alice@example.org"}, client.policy.Bindings[0].Members)
}

func TestAddProjectBinding_FailIfExists(t *testing.T) {
	project, binding := testBinding(t)
	existing := toPB(binding)
	client := &fakeClient{policy: &iampb.Policy{Version: 3, Bindings: []*iampb.Binding{existing}}}
	p := NewProvisioner(client)

	err := p.AddProjectBinding(context.Background(), project, binding, FailIfBindingExists, "mpa-approve")
	require.Error(t, err)
	assert.True(t, errors.IsAlreadyExists(err))
}

func TestAddProjectBinding_PurgesSupersededTemporary(t *testing.T) {
	project, binding := testBinding(t)
	stale := &iampb.Binding{
		Role:    binding.Role,
		Members: []string{"user:alice@example.org"},
		Condition: &expr.Expr{
			Title:      condition.ActivatedConditionTitle,
			Expression: `request.time >= timestamp("2020-01-01T00:00:00Z") && request.time < timestamp("2020-01-01T01:00:00Z")`,
		},
	}
	client := &fakeClient{policy: &iampb.Policy{Version: 3, Bindings: []*iampb.Binding{stale}}}
	p := NewProvisioner(client)

	err := p.AddProjectBinding(context.Background(), project, binding, PurgeExistingTemporaryBindings, "jit-activation")
	require.NoError(t, err)
	require.Len(t, client.policy.Bindings, 1, "stale temporary binding should have been purged")
}

func TestAddProjectBinding_KeepsUnrelatedBindings(t *testing.T) {
	project, binding := testBinding(t)
	unrelated := &iampb.Binding{Role: "roles/viewer", Members: []string{"user:bob@example.org"}}
	client := &fakeClient{policy: &iampb.Policy{Version: 3, Bindings: []*iampb.Binding{unrelated}}}
	p := NewProvisioner(client)

	err := p.AddProjectBinding(context.Background(), project, binding, PurgeExistingTemporaryBindings, "jit-activation")
	require.NoError(t, err)
	require.Len(t, client.policy.Bindings, 2)
}

func TestAddProjectBinding_RetriesOnConflictThenSucceeds(t *testing.T) {
	project, binding := testBinding(t)
	client := &fakeClient{policy: &iampb.Policy{Version: 1}, failSetN: 2}
	p := NewProvisioner(client)

	err := p.AddProjectBinding(context.Background(), project, binding, 0, "jit-activation")
	require.NoError(t, err)
	assert.Equal(t, 3, client.setCalls)
}

func TestAddProjectBinding_ExhaustsRetryBudget(t *testing.T) {
	project, binding := testBinding(t)
	client := &fakeClient{policy: &iampb.Policy{Version: 1}, failSetN: 99}
	p := NewProvisioner(client)

	err := p.AddProjectBinding(context.Background(), project, binding, 0, "jit-activation")
	require.Error(t, err)
	assert.True(t, errors.IsAlreadyExists(err))
}

func TestBindingsEqual(t *testing.T) {
	_, binding := testBinding(t)
	a := toPB(binding)
	b := toPB(binding)
	assert.True(t, bindingsEqual(a, b))

	b.Role = "roles/other"
	assert.False(t, bindingsEqual(a, b))
}
