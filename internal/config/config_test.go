package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withEnv(t *testing.T, kv map[string]string) {
	t.Helper()
	for k, v := range kv {
		t.Setenv(k, v)
	}
}

func clearOptionalEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"ACTIVATION_TIMEOUT", "JUSTIFICATION_PATTERN", "JUSTIFICATION_HINT",
		"ACTIVATION_REQUEST_MAX_ROLES", "ACTIVATION_REQUEST_TIMEOUT",
		"ACTIVATION_REQUEST_MIN_REVIEWERS", "ACTIVATION_REQUEST_MAX_REVIEWERS",
		"AVAILABLE_PROJECTS_QUERY", "RESOURCE_CATALOG",
	} {
		_ = os.Unsetenv(k)
	}
}

func TestLoad_AppliesDefaults(t *testing.T) {
	clearOptionalEnv(t)
	withEnv(t, map[string]string{"RESOURCE_SCOPE": "organizations/123"})

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 60, cfg.MaxActivationTimeoutMinutes())
	assert.Equal(t, 60, cfg.DefaultActivationTimeoutMinutes())
	assert.Equal(t, defaultJustificationRE, cfg.JustificationPattern)
	assert.Equal(t, CatalogPolicyAnalyzer, cfg.ResourceCatalog)
}

func TestLoad_RejectsMissingResourceScope(t *testing.T) {
	clearOptionalEnv(t)
	t.Setenv("RESOURCE_SCOPE", "")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_RejectsRequestTimeoutAboveActivationTimeout(t *testing.T) {
	clearOptionalEnv(t)
	withEnv(t, map[string]string{
		"RESOURCE_SCOPE":             "organizations/123",
		"ACTIVATION_TIMEOUT":         "30",
		"ACTIVATION_REQUEST_TIMEOUT": "45",
	})
	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_RejectsInvalidResourceCatalog(t *testing.T) {
	clearOptionalEnv(t)
	withEnv(t, map[string]string{
		"RESOURCE_SCOPE":   "organizations/123",
		"RESOURCE_CATALOG": "Bogus",
	})
	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_RejectsReviewerBoundsOutOfOrder(t *testing.T) {
	clearOptionalEnv(t)
	withEnv(t, map[string]string{
		"RESOURCE_SCOPE":                    "organizations/123",
		"ACTIVATION_REQUEST_MIN_REVIEWERS": "5",
		"ACTIVATION_REQUEST_MAX_REVIEWERS": "2",
	})
	_, err := Load()
	assert.Error(t, err)
}
