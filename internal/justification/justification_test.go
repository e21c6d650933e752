package justification

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudjit/jitaccess/internal/errors"
	"github.com/cloudjit/jitaccess/internal/resourceid"
)

func TestNewPolicy_DefaultsWhenUnset(t *testing.T) {
	p, err := NewPolicy("", "")
	require.NoError(t, err)
	assert.Equal(t, DefaultHint, p.Hint())

	user, _ := resourceid.NewUserEmail("alice@example.org")
	assert.NoError(t, p.Validate("anything at all", user))
}

func TestValidate_RejectsNonMatchingText(t *testing.T) {
	p, err := NewPolicy(`^BUG-\d+$`, "Bug or case number")
	require.NoError(t, err)

	user, _ := resourceid.NewUserEmail("alice@example.org")
	assert.NoError(t, p.Validate("BUG-123", user))

	err = p.Validate("not a bug id", user)
	require.Error(t, err)
	assert.True(t, errors.IsInvalidArgument(err))
	assert.Equal(t, "Bug or case number", err.(*errors.Error).Message)
}

func TestNewPolicy_RejectsInvalidRegex(t *testing.T) {
	_, err := NewPolicy("(unterminated", "hint")
	require.Error(t, err)
	assert.True(t, errors.IsInvalidArgument(err))
}
