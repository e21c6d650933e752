package resourceid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProjectId_RoundTrip(t *testing.T) {
	p, err := NewProjectId("p1")
	require.NoError(t, err)
	assert.Equal(t, "projects/p1", p.FullResourceName())

	parsed, err := ParseProjectId(p.FullResourceName())
	require.NoError(t, err)
	assert.Equal(t, p, parsed)
}

func TestProjectId_Empty(t *testing.T) {
	_, err := NewProjectId("")
	require.Error(t, err)
}

func TestParseProjectId_WrongPrefix(t *testing.T) {
	_, err := ParseProjectId("folders/f1")
	require.Error(t, err)
}

func TestUserEmail_NormalizesCase(t *testing.T) {
	u, err := NewUserEmail("Alice@Example.ORG")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.org", u.String())

	other, err := NewUserEmail("alice@example.org")
	require.NoError(t, err)
	assert.True(t, u.Equal(other))
	assert.Equal(t, "user:alice@example.org", u.Principal())
}

func TestUserEmail_Invalid(t *testing.T) {
	_, err := NewUserEmail("not-an-email")
	require.Error(t, err)
}

func TestRoleBinding_Less(t *testing.T) {
	a := RoleBinding{FullResourceName: "projects/a", Role: "roles/viewer"}
	b := RoleBinding{FullResourceName: "projects/b", Role: "roles/admin"}
	assert.True(t, a.Less(b))
	assert.False(t, b.Less(a))
}

func TestProjectRole_String(t *testing.T) {
	p, _ := NewProjectId("p1")
	pr, err := NewProjectRole(p, "roles/compute.viewer")
	require.NoError(t, err)
	assert.Equal(t, "projects/p1:roles/compute.viewer", pr.String())
	assert.Equal(t, RoleBinding{FullResourceName: "projects/p1", Role: "roles/compute.viewer"}, pr.ToRoleBinding())
}

func TestActivationId_PrefixDiscriminates(t *testing.T) {
	self := NewSelfApprovalActivationId("abc")
	mpa := NewMpaActivationId("def")
	assert.False(t, self.IsMpa())
	assert.True(t, mpa.IsMpa())
	assert.Equal(t, "jit-abc", self.String())
	assert.Equal(t, "mpa-def", mpa.String())
}
