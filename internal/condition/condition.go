// Package condition recognizes, parses, and emits the IAM condition
// expressions this service cares about: eligibility markers, reviewer
// markers, and temporary-access time windows. Recognition is
// case-insensitive and whitespace-insensitive; the temporary-access window
// is evaluated as a real CEL expression via google/cel-go, the same way
// the access-on-demand handler this service's IAM provisioning is grounded
// on treats its own expiry window as a timestamp comparison, and the way
// the teacher's AWS-STS role mapper compiles and evaluates bound CEL
// expressions.
//
// Caveat (carried over from the source this spec was distilled from, not
// fixed here): marker recognition folds case and strips whitespace before
// matching, which risks a false match if a marker substring happens to
// appear inside an unrelated string literal in a larger CEL expression.
// Deemed an acceptable trade-off upstream; documented rather than patched.
package condition

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/cloudjit/jitaccess/internal/errors"
)

// ActivatedConditionTitle is the exact literal title stamped on IAM
// conditions written by the provisioner and recognized as "activated".
const ActivatedConditionTitle = "JIT access activation"

// Kind is the discriminant of the ActivationType sum type.
type Kind int

const (
	NoActivation Kind = iota
	SelfApproval
	PeerApproval
	ExternalApproval
)

func (k Kind) String() string {
	switch k {
	case SelfApproval:
		return "SELF_APPROVAL"
	case PeerApproval:
		return "PEER_APPROVAL"
	case ExternalApproval:
		return "EXTERNAL_APPROVAL"
	default:
		return "NO_ACTIVATION"
	}
}

// ActivationType is a tagged variant: Kind plus an optional Topic, used
// only by PeerApproval and ExternalApproval.
type ActivationType struct {
	Kind  Kind
	Topic string // empty means topic-less
}

// NoActivationType is the zero-value sentinel meaning "not activatable".
var NoActivationType = ActivationType{Kind: NoActivation}

// IsParentOf implements the parent/child rule from the data model: a
// topic-less PEER_APPROVAL (or EXTERNAL_APPROVAL) is the parent of any
// topic within its family, including none; a topic-bearing variant is the
// parent only of an exact topic match. This resolves the open question
// flagged in the spec's design notes by taking the data model's own
// literal wording as authoritative, applied identically by both role
// repository backends.
func (t ActivationType) IsParentOf(child ActivationType) bool {
	if t.Kind != child.Kind {
		return false
	}
	if t.Kind != PeerApproval && t.Kind != ExternalApproval {
		return t.Topic == child.Topic
	}
	if t.Topic == "" {
		return true
	}
	return t.Topic == child.Topic
}

// TimeSpan is a closed-open interval [Start, End).
type TimeSpan struct {
	Start time.Time
	End   time.Time
}

// IsValid reports whether now falls within [Start, End).
func (s TimeSpan) IsValid(now time.Time) bool {
	return !now.Before(s.Start) && now.Before(s.End)
}

// Condition is the title/description/expression triple carried by an IAM
// binding.
type Condition struct {
	Title       string
	Description string
	Expression  string
}

var (
	jitMarker      = buildMarkerRegex("jitAccessConstraint")
	mpaMarker      = buildMarkerRegex("multiPartyApprovalConstraint")
	externalMarker = buildMarkerRegex("externalApprovalConstraint")
	reviewerMarker = buildMarkerRegex("reviewerPrivilege")

	// topicRegex extracts an optional ".<topic>" suffix following the
	// constraint name, before the closing paren.
	topicRegex = regexp.MustCompile(`\.[A-Za-z][A-Za-z0-9\-_]*`)
)

// buildMarkerRegex builds a whitespace-insensitive, case-insensitive
// matcher for has({}.<name>[.<topic>]?).
func buildMarkerRegex(name string) *regexp.Regexp {
	pattern := fmt.Sprintf(`(?i)has\(\s*\{\s*\}\s*\.\s*%s((\s*\.\s*[A-Za-z][A-Za-z0-9\-_]*)?)\s*\)`, name)
	return regexp.MustCompile(pattern)
}

// ParseEligibility recognizes an eligibility marker (jitAccessConstraint,
// multiPartyApprovalConstraint or externalApprovalConstraint) in expr;
// reviewer markers are recognized by ParseReviewerMarker. It returns the ActivationType it signals and the trailing &&-joined
// resource sub-expression (if any) to preserve verbatim.
func ParseEligibility(expr string) (activationType ActivationType, resourceSubExpr string, ok bool) {
	normalized := strings.TrimSpace(expr)

	for _, c := range []struct {
		re   *regexp.Regexp
		kind Kind
	}{
		{jitMarker, SelfApproval},
		{mpaMarker, PeerApproval},
		{externalMarker, ExternalApproval},
	} {
		loc := c.re.FindStringSubmatchIndex(normalized)
		if loc == nil {
			continue
		}
		topic := extractTopic(normalized[loc[2]:loc[3]])
		remainder := strings.TrimSpace(normalized[loc[1]:])
		remainder = strings.TrimPrefix(remainder, "&&")
		remainder = strings.TrimSpace(remainder)
		return ActivationType{Kind: c.kind, Topic: topic}, remainder, true
	}
	return NoActivationType, "", false
}

// ParseReviewerMarker recognizes a reviewerPrivilege marker, returning its
// topic (possibly empty).
func ParseReviewerMarker(expr string) (topic string, ok bool) {
	normalized := strings.TrimSpace(expr)
	loc := reviewerMarker.FindStringSubmatchIndex(normalized)
	if loc == nil {
		return "", false
	}
	return extractTopic(normalized[loc[2]:loc[3]]), true
}

// extractTopic takes the marker regex's optional suffix group (".<topic>",
// possibly with whitespace around the dot) and returns the bare topic.
func extractTopic(suffix string) string {
	m := topicRegex.FindString(strings.Join(strings.Fields(suffix), ""))
	if m == "" {
		return ""
	}
	return strings.TrimPrefix(m, ".")
}

// IsActivated reports whether c is a post-activation temporary-access
// condition: its title is the exact literal activation title and its
// expression parses as a temporary-access window.
func IsActivated(c Condition) bool {
	if c.Title != ActivatedConditionTitle {
		return false
	}
	_, err := EvaluateWindow(c.Expression)
	return err == nil
}

var windowExprRegex = regexp.MustCompile(
	`(?is)^\s*request\.time\s*>=\s*timestamp\(\s*"([^"]+)"\s*\)\s*&&\s*request\.time\s*<\s*timestamp\(\s*"([^"]+)"\s*\)\s*$`,
)

// EvaluateWindow parses and evaluates a temporary-access expression of the
// form `request.time >= timestamp("...") && request.time < timestamp("...")`
// to a TimeSpan. Evaluation (and parse) errors are returned to the caller;
// callers that want the spec's "evaluation errors yield false" behavior
// should treat a non-nil error as "not activated" rather than propagating.
//
// The comparison operators are checked with a real CEL environment (one
// Activation variable named "request") so that a
// malformed window — one that merely looks like the pattern but fails to
// type-check as CEL — is rejected the same way the live IAM condition
// evaluator would reject it.
func EvaluateWindow(expr string) (TimeSpan, error) {
	m := windowExprRegex.FindStringSubmatch(expr)
	if m == nil {
		return TimeSpan{}, errors.NewInvalidArgumentError(
			fmt.Sprintf("expression is not a temporary-access window: %q", expr), nil)
	}

	start, err := time.Parse(time.RFC3339, m[1])
	if err != nil {
		return TimeSpan{}, errors.NewInvalidArgumentError("invalid window start timestamp", err)
	}
	end, err := time.Parse(time.RFC3339, m[2])
	if err != nil {
		return TimeSpan{}, errors.NewInvalidArgumentError("invalid window end timestamp", err)
	}
	if end.Before(start) {
		return TimeSpan{}, errors.NewInvalidArgumentError("window end precedes start", nil)
	}

	if err := typeCheckWindow(expr); err != nil {
		return TimeSpan{}, err
	}

	return TimeSpan{Start: start, End: end}, nil
}

// typeCheckWindow compiles expr against a CEL environment exposing
// "request" as a dynamic map, confirming it evaluates to a bool without
// error, the way the live condition evaluator would at policy-check time.
func typeCheckWindow(expr string) error {
	env, err := cel.NewEnv(cel.Variable("request", cel.MapType(cel.StringType, cel.DynType)))
	if err != nil {
		return errors.NewInternalError("failed to build CEL environment", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return errors.NewInvalidArgumentError("window expression failed to compile", issues.Err())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return errors.NewInvalidArgumentError("window expression failed to plan", err)
	}

	out, _, err := prg.Eval(map[string]any{
		"request": map[string]any{"time": types.Timestamp{Time: time.Now()}},
	})
	if err != nil {
		// Evaluation errors at runtime are treated as "false", per spec;
		// the caller of EvaluateWindow still sees this as a parse failure
		// since the window is unusable either way.
		return errors.NewInvalidArgumentError("window expression failed to evaluate", err)
	}
	if _, ok := out.Value().(bool); !ok {
		return errors.NewInvalidArgumentError("window expression is not boolean", nil)
	}
	return nil
}

// BuildActivatedExpression renders the stored post-activation expression:
// the temporary window, followed by any preserved resource sub-expression.
func BuildActivatedExpression(span TimeSpan, preservedResourceSubExpr string) string {
	window := fmt.Sprintf(
		`request.time >= timestamp("%s") && request.time < timestamp("%s")`,
		span.Start.Format(time.RFC3339), span.End.Format(time.RFC3339),
	)
	if preservedResourceSubExpr == "" {
		return window
	}
	return window + " && " + preservedResourceSubExpr
}
