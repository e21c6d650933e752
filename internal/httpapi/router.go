// Package httpapi exposes component C5/C6 over the HTTP surface named in
// spec.md §6, following the teacher's chi-router-per-resource-family
// convention with error-returning handlers (pkg/api/v1/groups.go).
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cloudjit/jitaccess/internal/activation"
	"github.com/cloudjit/jitaccess/internal/audit"
	"github.com/cloudjit/jitaccess/internal/catalog"
	"github.com/cloudjit/jitaccess/internal/condition"
	"github.com/cloudjit/jitaccess/internal/config"
	"github.com/cloudjit/jitaccess/internal/errors"
	"github.com/cloudjit/jitaccess/internal/resourceid"
)

// authFunc extracts the caller's verified identity from a request; it is
// supplied by cmd/jitaccess, which wires it up to whatever IAP/OIDC
// middleware sits in front of this service.
type authFunc func(r *http.Request) (resourceid.UserEmail, error)

// HealthChecker is a reachability probe for one of the service's external
// dependencies, matching the teacher's healthcheck.go pattern of
// delegating health to the underlying client's own liveness check instead
// of the HTTP layer guessing at it.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// HealthCheckFunc adapts a plain function to HealthChecker.
type HealthCheckFunc func(ctx context.Context) error

// Ping implements HealthChecker.
func (f HealthCheckFunc) Ping(ctx context.Context) error { return f(ctx) }

// Routes bundles C5/C6 plus the dependencies the handlers need to render
// responses.
type Routes struct {
	cfg            *config.Config
	cat            *catalog.Catalog
	activator      *activation.Activator
	auditSink      audit.Sink
	authUser       authFunc
	iamHealth      HealthChecker
	analyzerHealth HealthChecker
}

// NewRouter builds the full HTTP surface named in spec.md §6. iamHealth and
// analyzerHealth back the liveness/readiness probes; either may be nil, in
// which case that dependency is reported healthy without being checked
// (used by tests that have no real GCP clients to probe).
func NewRouter(
	cfg *config.Config,
	cat *catalog.Catalog,
	activator *activation.Activator,
	auditSink audit.Sink,
	authUser authFunc,
	iamHealth HealthChecker,
	analyzerHealth HealthChecker,
) http.Handler {
	routes := &Routes{
		cfg:            cfg,
		cat:            cat,
		activator:      activator,
		auditSink:      auditSink,
		authUser:       authUser,
		iamHealth:      iamHealth,
		analyzerHealth: analyzerHealth,
	}

	r := chi.NewRouter()

	r.Get("/api/health/alive", ErrorHandler(routes.alive))
	r.Get("/api/health/ready", ErrorHandler(routes.ready))

	r.Group(func(r chi.Router) {
		r.Use(routes.authenticate)
		r.Use(audit.Middleware(auditSink))

		r.Get("/api/metadata", ErrorHandler(routes.metadata))
		r.Get("/api/projects", ErrorHandler(routes.listProjects))
		r.Get("/api/projects/{id}/roles", ErrorHandler(routes.listRoles))
		r.Get("/api/projects/{id}/peers", ErrorHandler(routes.listPeers))
		r.Post("/api/projects/{id}/roles/self-activate", ErrorHandler(routes.selfActivate))
		r.Post("/api/projects/{id}/roles/request", ErrorHandler(routes.requestMpa))
		r.Get("/api/activation-request", ErrorHandler(routes.getActivationRequest))
		r.Post("/api/activation-request/approve", ErrorHandler(routes.approveActivationRequest))
	})

	return r
}

type actorContextKeyType struct{}

var actorContextKey = actorContextKeyType{}

// authenticate resolves the caller's identity once per request and stashes
// it on the context for both handlers and the audit middleware.
func (s *Routes) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := s.authUser(r)
		if err != nil {
			ErrorHandler(func(http.ResponseWriter, *http.Request) error { return err })(w, r)
			return
		}
		ctx := context.WithValue(r.Context(), actorContextKey, user)
		ctx = audit.WithActor(ctx, user.String())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func callerFrom(r *http.Request) (resourceid.UserEmail, error) {
	user, ok := r.Context().Value(actorContextKey).(resourceid.UserEmail)
	if !ok {
		return resourceid.UserEmail{}, errors.NewUnauthenticatedError("no authenticated caller on request context", nil)
	}
	return user, nil
}

func projectFromPath(r *http.Request) (resourceid.ProjectId, error) {
	return resourceid.NewProjectId(chi.URLParam(r, "id"))
}

func writeJSON(w http.ResponseWriter, status int, body any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		return errors.NewInternalError("failed to encode response body", err)
	}
	return nil
}

func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errors.NewInvalidArgumentError("malformed request body", err)
	}
	return nil
}

// metadataResponse describes the deployment-wide configuration the UI needs
// to render request forms: default/max duration, justification hint.
type metadataResponse struct {
	Justification struct {
		Hint string `json:"hint"`
	} `json:"justification"`
	DefaultActivationTimeoutMinutes int `json:"defaultActivationTimeoutMinutes"`
	MaxActivationTimeoutMinutes     int `json:"maxActivationTimeoutMinutes"`
}

func (s *Routes) metadata(w http.ResponseWriter, _ *http.Request) error {
	resp := metadataResponse{
		DefaultActivationTimeoutMinutes: s.cfg.DefaultActivationTimeoutMinutes(),
		MaxActivationTimeoutMinutes:     s.cfg.MaxActivationTimeoutMinutes(),
	}
	resp.Justification.Hint = s.cfg.JustificationHint
	return writeJSON(w, http.StatusOK, resp)
}

func (s *Routes) listProjects(w http.ResponseWriter, r *http.Request) error {
	user, err := callerFrom(r)
	if err != nil {
		return err
	}
	projects, err := s.cat.ListScopes(r.Context(), user)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(projects))
	for _, p := range projects {
		ids = append(ids, p.String())
	}
	return writeJSON(w, http.StatusOK, struct {
		Projects []string `json:"projects"`
	}{Projects: ids})
}

type privilegeView struct {
	Role           string `json:"role"`
	ActivationType string `json:"activationType"`
	Topic          string `json:"topic,omitempty"`
	Status         string `json:"status"`
}

func statusLabel(s int) string {
	switch s {
	case 1:
		return "ACTIVE"
	case 2:
		return "EXPIRED"
	default:
		return "AVAILABLE"
	}
}

func (s *Routes) listRoles(w http.ResponseWriter, r *http.Request) error {
	user, err := callerFrom(r)
	if err != nil {
		return err
	}
	project, err := projectFromPath(r)
	if err != nil {
		return err
	}
	set, err := s.cat.ListPrivileges(r.Context(), user, project)
	if err != nil {
		return err
	}

	views := make([]privilegeView, 0, len(set.Available))
	for _, p := range set.Available {
		views = append(views, privilegeView{
			Role:           p.Id.Role,
			ActivationType: p.ActivationType.Kind.String(),
			Topic:          p.ActivationType.Topic,
			Status:         statusLabel(int(p.Status)),
		})
	}
	return writeJSON(w, http.StatusOK, struct {
		Roles    []privilegeView `json:"roles"`
		Warnings []string        `json:"warnings,omitempty"`
	}{Roles: views, Warnings: set.Warnings})
}

func (s *Routes) listPeers(w http.ResponseWriter, r *http.Request) error {
	user, err := callerFrom(r)
	if err != nil {
		return err
	}
	project, err := projectFromPath(r)
	if err != nil {
		return err
	}
	role := r.URL.Query().Get("role")
	if role == "" {
		return errors.NewInvalidArgumentError("role query parameter is required", nil)
	}
	pr, err := resourceid.NewProjectRole(project, role)
	if err != nil {
		return err
	}

	activationType := condition.ActivationType{Kind: condition.PeerApproval}
	if r.URL.Query().Get("external") == "true" {
		activationType = condition.ActivationType{Kind: condition.ExternalApproval}
	}

	reviewers, err := s.cat.ListReviewers(r.Context(), user, pr, activationType)
	if err != nil {
		return err
	}
	emails := make([]string, 0, len(reviewers))
	for _, rv := range reviewers {
		emails = append(emails, rv.String())
	}
	return writeJSON(w, http.StatusOK, struct {
		Reviewers []string `json:"reviewers"`
	}{Reviewers: emails})
}

type selfActivateRequest struct {
	Roles         []string `json:"roles"`
	DurationMins  int      `json:"durationMinutes"`
	Justification string   `json:"justification"`
}

func (s *Routes) selfActivate(w http.ResponseWriter, r *http.Request) error {
	user, err := callerFrom(r)
	if err != nil {
		return err
	}
	project, err := projectFromPath(r)
	if err != nil {
		return err
	}
	var body selfActivateRequest
	if err := decodeJSON(r, &body); err != nil {
		return err
	}

	result, err := s.activator.RequestSelfApproval(r.Context(), activation.SelfApprovalRequest{
		RequestingUser: user,
		Project:        project,
		Roles:          body.Roles,
		Duration:       time.Duration(body.DurationMins) * time.Minute,
		Justification:  body.Justification,
	})
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, struct {
		ActivationId string    `json:"activationId"`
		Start        time.Time `json:"start"`
		End          time.Time `json:"end"`
	}{ActivationId: result.ActivationId.String(), Start: result.Span.Start, End: result.Span.End})
}

type mpaRequestBody struct {
	Role          string   `json:"role"`
	DurationMins  int      `json:"durationMinutes"`
	Reviewers     []string `json:"reviewers"`
	Justification string   `json:"justification"`
}

func (s *Routes) requestMpa(w http.ResponseWriter, r *http.Request) error {
	user, err := callerFrom(r)
	if err != nil {
		return err
	}
	project, err := projectFromPath(r)
	if err != nil {
		return err
	}
	var body mpaRequestBody
	if err := decodeJSON(r, &body); err != nil {
		return err
	}

	reviewers := make([]resourceid.UserEmail, 0, len(body.Reviewers))
	for _, email := range body.Reviewers {
		rv, err := resourceid.NewUserEmail(email)
		if err != nil {
			return err
		}
		reviewers = append(reviewers, rv)
	}

	result, err := s.activator.IssueMpaRequest(r.Context(), activation.MpaIssueRequest{
		RequestingUser: user,
		Project:        project,
		Role:           body.Role,
		Duration:       time.Duration(body.DurationMins) * time.Minute,
		Reviewers:      reviewers,
		Justification:  body.Justification,
	})
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, struct {
		ActivationId string `json:"activationId"`
		Token        string `json:"token"`
	}{ActivationId: result.ActivationId.String(), Token: result.ObfuscatedToken})
}

func (s *Routes) getActivationRequest(w http.ResponseWriter, r *http.Request) error {
	tok := r.URL.Query().Get("token")
	if tok == "" {
		return errors.NewInvalidArgumentError("token query parameter is required", nil)
	}
	decoded, err := s.activator.DecodeMpaToken(r.Context(), tok)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, struct {
		ActivationId  string    `json:"activationId"`
		Beneficiary   string    `json:"beneficiary"`
		Resource      string    `json:"resource"`
		Role          string    `json:"role"`
		Justification string    `json:"justification"`
		Start         time.Time `json:"start"`
		End           time.Time `json:"end"`
	}{
		ActivationId:  decoded.ActivationId.String(),
		Beneficiary:   decoded.Beneficiary.String(),
		Resource:      decoded.Resource,
		Role:          decoded.Role,
		Justification: decoded.Justification,
		Start:         decoded.Start,
		End:           decoded.End,
	})
}

type approveRequestBody struct {
	Token string `json:"token"`
}

func (s *Routes) approveActivationRequest(w http.ResponseWriter, r *http.Request) error {
	approver, err := callerFrom(r)
	if err != nil {
		return err
	}
	var body approveRequestBody
	if err := decodeJSON(r, &body); err != nil {
		return err
	}
	result, err := s.activator.ApproveMpaToken(r.Context(), approver, body.Token)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, struct {
		ActivationId string    `json:"activationId"`
		Start        time.Time `json:"start"`
		End          time.Time `json:"end"`
	}{ActivationId: result.ActivationId.String(), Start: result.Span.Start, End: result.Span.End})
}

// healthStatus is the response body spec.md §6 documents for both health
// endpoints: `{healthy, details}`, 200 when healthy, 503 otherwise.
type healthStatus struct {
	Healthy bool              `json:"healthy"`
	Details map[string]string `json:"details,omitempty"`
}

func pingDependency(ctx context.Context, name string, checker HealthChecker, details map[string]string) bool {
	if checker == nil {
		return true
	}
	if err := checker.Ping(ctx); err != nil {
		details[name] = err.Error()
		return false
	}
	return true
}

// alive reports whether the IAM client is reachable; this is the narrower
// liveness check, matching healthcheck.go's "is the underlying client
// running" shape.
func (s *Routes) alive(w http.ResponseWriter, r *http.Request) error {
	details := map[string]string{}
	healthy := pingDependency(r.Context(), "iam", s.iamHealth, details)
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	return writeJSON(w, status, healthStatus{Healthy: healthy, Details: details})
}

// ready additionally round-trips a lightweight policy-analyzer call,
// since readiness must confirm the service can actually serve traffic,
// not merely that its process is alive.
func (s *Routes) ready(w http.ResponseWriter, r *http.Request) error {
	details := map[string]string{}
	iamOK := pingDependency(r.Context(), "iam", s.iamHealth, details)
	analyzerOK := pingDependency(r.Context(), "analyzer", s.analyzerHealth, details)
	healthy := iamOK && analyzerOK
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	return writeJSON(w, status, healthStatus{Healthy: healthy, Details: details})
}
