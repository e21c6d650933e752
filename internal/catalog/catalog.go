// Package catalog implements component C5: the public read side of the
// activation service (listing scopes, privileges, and reviewers) and the
// two authorization gates every request must pass before it is acted on.
package catalog

import (
	"context"
	"time"

	"github.com/cloudjit/jitaccess/internal/condition"
	"github.com/cloudjit/jitaccess/internal/errors"
	"github.com/cloudjit/jitaccess/internal/rolerepo"
	"github.com/cloudjit/jitaccess/internal/resourceid"
)

// Limits are the operator-configured bounds enforced on every request,
// sourced from the environment variables named in spec.md §6.
type Limits struct {
	MaxActivationDuration time.Duration
	MaxRolesPerRequest    int
	MinReviewers          int
	MaxReviewers          int
}

// ProjectSearchClient wraps the resource-manager project-search API used
// when AVAILABLE_PROJECTS_QUERY is configured (fast, potentially
// over-broad — an explicit trade-off the deployment opts into).
type ProjectSearchClient interface {
	SearchProjects(ctx context.Context, query string) ([]resourceid.ProjectId, error)
}

// Catalog implements C5.
type Catalog struct {
	repo          rolerepo.RoleRepository
	projectSearch ProjectSearchClient
	scopeQuery    string // empty means "unset": delegate to repo.FindProjectsWithPrivileges
	limits        Limits
}

// New constructs a Catalog. scopeQuery is AVAILABLE_PROJECTS_QUERY; an
// empty string means the slow-but-accurate path is used.
func New(repo rolerepo.RoleRepository, projectSearch ProjectSearchClient, scopeQuery string, limits Limits) *Catalog {
	return &Catalog{repo: repo, projectSearch: projectSearch, scopeQuery: scopeQuery, limits: limits}
}

// ListScopes lists the projects the user may act on, per §4.4's two modes.
func (c *Catalog) ListScopes(ctx context.Context, user resourceid.UserEmail) ([]resourceid.ProjectId, error) {
	if c.scopeQuery == "" {
		return c.repo.FindProjectsWithPrivileges(ctx, user)
	}
	return c.projectSearch.SearchProjects(ctx, c.scopeQuery)
}

// ListPrivileges lists a user's privileges on a project.
func (c *Catalog) ListPrivileges(ctx context.Context, user resourceid.UserEmail, project resourceid.ProjectId) (rolerepo.PrivilegeSet, error) {
	return c.repo.FindPrivileges(ctx, user, project)
}

// ListReviewers lists reviewers qualified to approve pr for the given
// activation type; never contains user itself.
func (c *Catalog) ListReviewers(ctx context.Context, user resourceid.UserEmail, pr resourceid.ProjectRole, activationType condition.ActivationType) ([]resourceid.UserEmail, error) {
	holders, err := c.repo.FindReviewerHolders(ctx, pr, activationType)
	if err != nil {
		return nil, err
	}
	result := make([]resourceid.UserEmail, 0, len(holders))
	for _, h := range holders {
		if h.Equal(user) {
			continue
		}
		result = append(result, h)
	}
	return result, nil
}

// RequestShape is the minimal projection of an activation request this
// package needs to validate; C6 builds one from its own
// ActivationRequest/MpaRequest before calling Verify*.
type RequestShape struct {
	RequestingUser resourceid.UserEmail
	Privileges     []resourceid.ProjectRole
	Duration       time.Duration
	ActivationType condition.ActivationType
	Reviewers      []resourceid.UserEmail // non-empty only for MPA requests
}

// VerifyUserCanRequest enforces the request-shape invariants from §3/§4.4:
// duration bounds, role-count bound, MPA reviewer bounds, and that every
// requested privilege is actually available to the user at a type that is
// a parent of the requested type.
func (c *Catalog) VerifyUserCanRequest(ctx context.Context, req RequestShape) error {
	if req.Duration < 5*time.Minute {
		return errors.NewInvalidArgumentError("duration must be at least 5 minutes", nil)
	}
	if req.Duration > c.limits.MaxActivationDuration {
		return errors.NewInvalidArgumentError(
			"duration exceeds the maximum activation duration of "+c.limits.MaxActivationDuration.String(), nil)
	}
	if len(req.Privileges) == 0 {
		return errors.NewInvalidArgumentError("at least one privilege must be requested", nil)
	}

	isMpa := len(req.Reviewers) > 0 || req.ActivationType.Kind == condition.PeerApproval || req.ActivationType.Kind == condition.ExternalApproval
	if isMpa {
		if len(req.Privileges) != 1 {
			return errors.NewInvalidArgumentError("an MPA request must name exactly one privilege", nil)
		}
		if len(req.Reviewers) < c.limits.MinReviewers || len(req.Reviewers) > c.limits.MaxReviewers {
			return errors.NewInvalidArgumentError("reviewer count out of bounds", nil)
		}
		for _, r := range req.Reviewers {
			if r.Equal(req.RequestingUser) {
				return errors.NewInvalidArgumentError("requester may not be their own reviewer", nil)
			}
		}
	} else if len(req.Privileges) > c.limits.MaxRolesPerRequest {
		return errors.NewInvalidArgumentError("too many roles in one self-approval request", nil)
	}

	set, err := c.repo.FindPrivileges(ctx, req.RequestingUser, req.Privileges[0].ProjectId)
	if err != nil {
		return err
	}
	for _, pr := range req.Privileges {
		if !hasParentPrivilege(set.Available, pr, req.ActivationType) {
			return errors.NewAccessDeniedError("requester does not hold an eligible privilege for "+pr.String(), nil)
		}
	}
	return nil
}

// VerifyUserCanApprove applies VerifyUserCanRequest's limits plus the
// approver qualification rules from §4.4.
func (c *Catalog) VerifyUserCanApprove(ctx context.Context, approver resourceid.UserEmail, req RequestShape) error {
	if err := c.VerifyUserCanRequest(ctx, req); err != nil {
		return err
	}

	switch req.ActivationType.Kind {
	case condition.SelfApproval, condition.NoActivation:
		if !approver.Equal(req.RequestingUser) {
			return errors.NewAccessDeniedError("self-approval must be approved by the requester", nil)
		}
		return nil
	case condition.PeerApproval:
		set, err := c.repo.FindPrivileges(ctx, approver, req.Privileges[0].ProjectId)
		if err != nil {
			return err
		}
		if !hasParentPrivilege(set.Available, req.Privileges[0], req.ActivationType) {
			return errors.NewAccessDeniedError("approver does not hold the requested peer privilege", nil)
		}
		return nil
	case condition.ExternalApproval:
		holders, err := c.repo.FindReviewerHolders(ctx, req.Privileges[0], req.ActivationType)
		if err != nil {
			return err
		}
		for _, h := range holders {
			if h.Equal(approver) {
				return nil
			}
		}
		return errors.NewAccessDeniedError("approver is not a qualified reviewer", nil)
	default:
		return errors.NewInvalidArgumentError("unrecognized activation type", nil)
	}
}

func hasParentPrivilege(available []rolerepo.RequesterPrivilege, pr resourceid.ProjectRole, requested condition.ActivationType) bool {
	for _, p := range available {
		if p.Id == pr && p.ActivationType.IsParentOf(requested) {
			return true
		}
	}
	return false
}
