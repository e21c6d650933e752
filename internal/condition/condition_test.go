package condition

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEligibility_SelfApproval(t *testing.T) {
	at, sub, ok := ParseEligibility(`has({}.jitAccessConstraint)`)
	require.True(t, ok)
	assert.Equal(t, SelfApproval, at.Kind)
	assert.Empty(t, at.Topic)
	assert.Empty(t, sub)
}

func TestParseEligibility_CaseAndWhitespaceInsensitive(t *testing.T) {
	at, _, ok := ParseEligibility(`  HAS( {  } . JITACCESSCONSTRAINT )  `)
	require.True(t, ok)
	assert.Equal(t, SelfApproval, at.Kind)
}

func TestParseEligibility_PeerApprovalWithTopic(t *testing.T) {
	at, _, ok := ParseEligibility(`has({}.multiPartyApprovalConstraint.finance)`)
	require.True(t, ok)
	assert.Equal(t, PeerApproval, at.Kind)
	assert.Equal(t, "finance", at.Topic)
}

func TestParseEligibility_PreservesResourceSubExpression(t *testing.T) {
	at, sub, ok := ParseEligibility(`has({}.externalApprovalConstraint.ops) && resource.name == "x"`)
	require.True(t, ok)
	assert.Equal(t, ExternalApproval, at.Kind)
	assert.Equal(t, "ops", at.Topic)
	assert.Equal(t, `resource.name == "x"`, sub)
}

func TestParseEligibility_NoMatch(t *testing.T) {
	_, _, ok := ParseEligibility(`request.time < timestamp("2024-01-01T00:00:00Z")`)
	assert.False(t, ok)
}

func TestParseReviewerMarker(t *testing.T) {
	topic, ok := ParseReviewerMarker(`has({}.reviewerPrivilege.finance)`)
	require.True(t, ok)
	assert.Equal(t, "finance", topic)

	_, ok = ParseReviewerMarker(`has({}.jitAccessConstraint)`)
	assert.False(t, ok)
}

func TestActivationType_IsParentOf(t *testing.T) {
	topicLess := ActivationType{Kind: PeerApproval}
	withTopic := ActivationType{Kind: PeerApproval, Topic: "finance"}
	otherTopic := ActivationType{Kind: PeerApproval, Topic: "ops"}

	assert.True(t, topicLess.IsParentOf(withTopic))
	assert.True(t, topicLess.IsParentOf(topicLess))
	assert.True(t, withTopic.IsParentOf(withTopic))
	assert.False(t, withTopic.IsParentOf(otherTopic))
	assert.False(t, withTopic.IsParentOf(topicLess))

	self := ActivationType{Kind: SelfApproval}
	assert.True(t, self.IsParentOf(self))
	assert.False(t, self.IsParentOf(topicLess))
}

func TestEvaluateWindow(t *testing.T) {
	expr := `request.time >= timestamp("2026-01-01T00:00:00Z") && request.time < timestamp("2026-01-01T01:00:00Z")`
	span, err := EvaluateWindow(expr)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), span.Start.UTC())
	assert.Equal(t, time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC), span.End.UTC())
}

func TestEvaluateWindow_InvalidExpression(t *testing.T) {
	_, err := EvaluateWindow(`has({}.jitAccessConstraint)`)
	require.Error(t, err)
}

func TestEvaluateWindow_EndBeforeStart(t *testing.T) {
	expr := `request.time >= timestamp("2026-01-01T01:00:00Z") && request.time < timestamp("2026-01-01T00:00:00Z")`
	_, err := EvaluateWindow(expr)
	require.Error(t, err)
}

func TestTimeSpan_IsValid(t *testing.T) {
	span := TimeSpan{
		Start: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC),
	}
	assert.True(t, span.IsValid(time.Date(2026, 1, 1, 0, 30, 0, 0, time.UTC)))
	assert.False(t, span.IsValid(time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC)))
	assert.False(t, span.IsValid(time.Date(2025, 12, 31, 23, 59, 0, 0, time.UTC)))
}

func TestIsActivated(t *testing.T) {
	valid := Condition{
		Title:      ActivatedConditionTitle,
		Expression: `request.time >= timestamp("2026-01-01T00:00:00Z") && request.time < timestamp("2026-01-01T01:00:00Z")`,
	}
	assert.True(t, IsActivated(valid))

	wrongTitle := valid
	wrongTitle.Title = "something else"
	assert.False(t, IsActivated(wrongTitle))

	badExpr := valid
	badExpr.Expression = "not a window"
	assert.False(t, IsActivated(badExpr))
}

func TestBuildActivatedExpression(t *testing.T) {
	span := TimeSpan{
		Start: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC),
	}
	got := BuildActivatedExpression(span, "")
	assert.Equal(t, `request.time >= timestamp("2026-01-01T00:00:00Z") && request.time < timestamp("2026-01-01T01:00:00Z")`, got)

	gotWithSub := BuildActivatedExpression(span, `resource.name == "x"`)
	assert.Contains(t, gotWithSub, `&& resource.name == "x"`)

	span2, err := EvaluateWindow(got)
	require.NoError(t, err)
	assert.Equal(t, span.Start.UTC(), span2.Start.UTC())
}
