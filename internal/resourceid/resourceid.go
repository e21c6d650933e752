// Package resourceid defines the opaque, typed identifiers used across the
// activation service: projects, users, role bindings, and activation
// requests. All types are immutable value objects.
package resourceid

import (
	"fmt"
	"strings"

	"github.com/cloudjit/jitaccess/internal/errors"
)

// ProjectId identifies a project in the managed resource hierarchy.
type ProjectId struct {
	id string
}

// NewProjectId validates and wraps a raw project id.
func NewProjectId(id string) (ProjectId, error) {
	if strings.TrimSpace(id) == "" {
		return ProjectId{}, errors.NewInvalidArgumentError("project id must not be empty", nil)
	}
	return ProjectId{id: id}, nil
}

// String returns the raw project id.
func (p ProjectId) String() string { return p.id }

// FullResourceName formats the canonical resource path for this project.
func (p ProjectId) FullResourceName() string {
	return fmt.Sprintf("projects/%s", p.id)
}

// ParseProjectId parses a canonical "projects/<id>" resource path.
func ParseProjectId(fullResourceName string) (ProjectId, error) {
	const prefix = "projects/"
	if !strings.HasPrefix(fullResourceName, prefix) {
		return ProjectId{}, errors.NewInvalidArgumentError(
			fmt.Sprintf("not a project resource name: %q", fullResourceName), nil)
	}
	return NewProjectId(strings.TrimPrefix(fullResourceName, prefix))
}

// Less orders ProjectId lexicographically by raw id.
func (p ProjectId) Less(other ProjectId) bool { return p.id < other.id }

// UserEmail is a case-normalized email address.
type UserEmail struct {
	email string
}

// NewUserEmail normalizes and validates an email address.
func NewUserEmail(email string) (UserEmail, error) {
	trimmed := strings.TrimSpace(email)
	if trimmed == "" || !strings.Contains(trimmed, "@") {
		return UserEmail{}, errors.NewInvalidArgumentError(fmt.Sprintf("invalid email: %q", email), nil)
	}
	return UserEmail{email: strings.ToLower(trimmed)}, nil
}

// String returns the normalized email.
func (u UserEmail) String() string { return u.email }

// Equal compares two UserEmail values by normalized email.
func (u UserEmail) Equal(other UserEmail) bool { return u.email == other.email }

// Principal returns the IAM member-string form, e.g. "user:alice@example.org".
func (u UserEmail) Principal() string { return "user:" + u.email }

// Less orders UserEmail lexicographically.
func (u UserEmail) Less(other UserEmail) bool { return u.email < other.email }

// RoleBinding identifies what access on which resource: a resource name
// paired with a role id. Ordered lexicographically by
// (fullResourceName, role).
type RoleBinding struct {
	FullResourceName string
	Role             string
}

// Less implements the total order over RoleBinding.
func (b RoleBinding) Less(other RoleBinding) bool {
	if b.FullResourceName != other.FullResourceName {
		return b.FullResourceName < other.FullResourceName
	}
	return b.Role < other.Role
}

// ProjectRole narrows a RoleBinding to a project; it is the catalog key
// used throughout C4/C5/C6.
type ProjectRole struct {
	ProjectId ProjectId
	Role      string
}

// NewProjectRole validates and constructs a ProjectRole.
func NewProjectRole(project ProjectId, role string) (ProjectRole, error) {
	if strings.TrimSpace(role) == "" {
		return ProjectRole{}, errors.NewInvalidArgumentError("role must not be empty", nil)
	}
	return ProjectRole{ProjectId: project, Role: role}, nil
}

// String formats the identifier form "projects/<id>:<role>".
func (pr ProjectRole) String() string {
	return fmt.Sprintf("projects/%s:%s", pr.ProjectId.String(), pr.Role)
}

// ToRoleBinding widens a ProjectRole into a RoleBinding over the project's
// full resource name.
func (pr ProjectRole) ToRoleBinding() RoleBinding {
	return RoleBinding{FullResourceName: pr.ProjectId.FullResourceName(), Role: pr.Role}
}

// Less orders ProjectRole the same way as its String() form.
func (pr ProjectRole) Less(other ProjectRole) bool {
	if pr.ProjectId != other.ProjectId {
		return pr.ProjectId.Less(other.ProjectId)
	}
	return pr.Role < other.Role
}

// ActivationId is an opaque, globally unique identifier for an activation
// request: prefixed "jit-" for self-approval, "mpa-" for multi-party.
type ActivationId string

const (
	selfApprovalPrefix = "jit-"
	mpaPrefix          = "mpa-"
)

// NewSelfApprovalActivationId wraps a generated unique suffix with the
// self-approval prefix.
func NewSelfApprovalActivationId(uniqueSuffix string) ActivationId {
	return ActivationId(selfApprovalPrefix + uniqueSuffix)
}

// NewMpaActivationId wraps a generated unique suffix with the MPA prefix.
func NewMpaActivationId(uniqueSuffix string) ActivationId {
	return ActivationId(mpaPrefix + uniqueSuffix)
}

// IsMpa reports whether the id was minted for a multi-party request.
func (id ActivationId) IsMpa() bool { return strings.HasPrefix(string(id), mpaPrefix) }

// String returns the raw identifier.
func (id ActivationId) String() string { return string(id) }
