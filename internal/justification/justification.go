// Package justification implements component C9: validating the
// free-text justification attached to every activation request against an
// operator-configured pattern.
package justification

import (
	"regexp"

	"github.com/cloudjit/jitaccess/internal/errors"
	"github.com/cloudjit/jitaccess/internal/resourceid"
)

// DefaultPattern and DefaultHint are applied when JUSTIFICATION_PATTERN /
// JUSTIFICATION_HINT are unset, per spec.md §4.7.
const (
	DefaultPattern = ".*"
	DefaultHint    = "Bug or case number"
)

// Policy validates justification text against a single compiled pattern.
type Policy struct {
	pattern *regexp.Regexp
	hint    string
}

// NewPolicy compiles pattern once; an empty pattern falls back to
// DefaultPattern.
func NewPolicy(pattern, hint string) (*Policy, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}
	if hint == "" {
		hint = DefaultHint
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, errors.NewInvalidArgumentError("justification pattern does not compile", err)
	}
	return &Policy{pattern: re, hint: hint}, nil
}

// Validate succeeds iff text matches the configured pattern; the
// requesting user is accepted for symmetry with other validators but
// unused by the pattern check itself — no per-user justification rule is
// part of this spec.
func (p *Policy) Validate(text string, _ resourceid.UserEmail) error {
	if !p.pattern.MatchString(text) {
		return errors.NewInvalidArgumentError(p.hint, nil)
	}
	return nil
}

// Hint returns the configured hint. GET /api/metadata does not call it; it
// reports the configured JUSTIFICATION_HINT directly.
func (p *Policy) Hint() string { return p.hint }
