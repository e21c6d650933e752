// Package rolerepo implements component C4: querying the effective set of
// IAM bindings for a (user, project) and classifying each as available,
// active, or expired, plus listing reviewers for a role. Two backends
// share this contract: AnalyzerBackend (personalized, policy-analyzer API)
// and EffectivePolicyBackend (batch effective-policy API plus directory
// group expansion).
package rolerepo

import (
	"context"
	"sort"

	"github.com/cloudjit/jitaccess/internal/condition"
	"github.com/cloudjit/jitaccess/internal/resourceid"
)

// Status is the lifecycle state of a privilege as seen by the catalog.
type Status int

const (
	Inactive Status = iota
	Active
	Expired
)

// RequesterPrivilege is an entry in a user's available/active/expired set.
type RequesterPrivilege struct {
	Id             resourceid.ProjectRole
	Name           string
	ActivationType condition.ActivationType
	Status         Status
	// ResourceSubExpr is the &&-joined resource condition trailing the
	// eligibility marker, if any, preserved verbatim so the activator can
	// re-append it to the post-activation expression per spec.md §4.1.
	ResourceSubExpr string
}

// ReviewerPrivilege describes a binding that makes its holder a reviewer
// for one or more activation types.
type ReviewerPrivilege struct {
	Id              resourceid.ProjectRole
	ReviewableTypes []condition.ActivationType
}

// Activation is a currently-or-previously active temporary binding.
type Activation struct {
	Id   resourceid.ProjectRole
	Span condition.TimeSpan
}

// PrivilegeSet is the result of FindPrivileges.
type PrivilegeSet struct {
	Available []RequesterPrivilege
	Active    map[resourceid.ProjectRole]Activation
	Expired   map[resourceid.ProjectRole]Activation
	Warnings  []string
}

// RoleRepository is the contract both backends implement.
type RoleRepository interface {
	FindProjectsWithPrivileges(ctx context.Context, user resourceid.UserEmail) ([]resourceid.ProjectId, error)
	FindPrivileges(ctx context.Context, user resourceid.UserEmail, project resourceid.ProjectId) (PrivilegeSet, error)
	FindReviewerHolders(ctx context.Context, pr resourceid.ProjectRole, activationType condition.ActivationType) ([]resourceid.UserEmail, error)
}

// dedupeAvailable applies the catalog tie-break rule from §3: each id
// appears at most once, and if both SELF_APPROVAL and PEER_APPROVAL
// eligibility exist for the same id, the self-approval entry wins.
func dedupeAvailable(privileges []RequesterPrivilege) []RequesterPrivilege {
	byID := make(map[resourceid.ProjectRole]RequesterPrivilege, len(privileges))
	for _, p := range privileges {
		existing, ok := byID[p.Id]
		if !ok {
			byID[p.Id] = p
			continue
		}
		if existing.ActivationType.Kind != condition.SelfApproval && p.ActivationType.Kind == condition.SelfApproval {
			byID[p.Id] = p
		}
	}

	result := make([]RequesterPrivilege, 0, len(byID))
	for _, p := range byID {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Id.Less(result[j].Id) })
	return result
}

func sortedProjectIds(ids map[resourceid.ProjectId]struct{}) []resourceid.ProjectId {
	result := make([]resourceid.ProjectId, 0, len(ids))
	for id := range ids {
		result = append(result, id)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Less(result[j]) })
	return result
}

func sortedEmails(emails map[resourceid.UserEmail]struct{}) []resourceid.UserEmail {
	result := make([]resourceid.UserEmail, 0, len(emails))
	for e := range emails {
		result = append(result, e)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Less(result[j]) })
	return result
}
