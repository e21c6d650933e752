// Package config binds the environment variables named in spec.md §6 into
// a typed Config, the same spf13/viper environment-binding idiom the
// teacher's cmd/thv-registry-api/app/serve.go uses for its own flags.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/cloudjit/jitaccess/internal/errors"
)

// Catalog selects which role-repository backend (C4) the service runs.
type Catalog string

const (
	CatalogPolicyAnalyzer  Catalog = "PolicyAnalyzer"
	CatalogAssetInventory  Catalog = "AssetInventory"
	defaultActivationMin   = 5 * time.Minute
	defaultActivationCap   = 60 * time.Minute
	defaultRequestCapMins  = 120 * time.Minute
	defaultMaxRoles        = 10
	defaultMinReviewers    = 1
	defaultMaxReviewers    = 10
	defaultJustificationRE = ".*"
	defaultJustifyHint     = "Bug or case number"
)

// Config is the core's entire environment-sourced configuration surface.
type Config struct {
	ResourceScope               string
	ActivationTimeout           time.Duration
	JustificationPattern        string
	JustificationHint           string
	ActivationRequestMaxRoles   int
	ActivationRequestTimeout    time.Duration
	ActivationRequestMinReview  int
	ActivationRequestMaxReview  int
	AvailableProjectsQuery      string
	ResourceCatalog             Catalog
	ServiceAccountEmail         string
	TokenSigningKeyID           string
	TokenSigningKeyPath         string
	TokenJWKSURL                string
	NotifyWebhookURL            string
	MetricsAddress              string
	ListenAddress               string
	OtelEndpoint                string
	OtelServiceName             string
	OtelSamplingRate            float64
	OtelInsecure                bool
}

// Load binds environment variables via viper, applies spec.md §6's
// defaults, and validates the cross-field invariants ("default <= max",
// "default <= 60").
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("ACTIVATION_TIMEOUT", int(defaultActivationCap/time.Minute))
	v.SetDefault("JUSTIFICATION_PATTERN", defaultJustificationRE)
	v.SetDefault("JUSTIFICATION_HINT", defaultJustifyHint)
	v.SetDefault("ACTIVATION_REQUEST_MAX_ROLES", defaultMaxRoles)
	v.SetDefault("ACTIVATION_REQUEST_TIMEOUT", int(defaultRequestCapMins/2/time.Minute))
	v.SetDefault("ACTIVATION_REQUEST_MIN_REVIEWERS", defaultMinReviewers)
	v.SetDefault("ACTIVATION_REQUEST_MAX_REVIEWERS", defaultMaxReviewers)
	v.SetDefault("RESOURCE_CATALOG", string(CatalogPolicyAnalyzer))
	v.SetDefault("LISTEN_ADDRESS", ":8080")
	v.SetDefault("METRICS_ADDRESS", ":9090")
	v.SetDefault("OTEL_SERVICE_NAME", "jitaccess")
	v.SetDefault("OTEL_SAMPLING_RATE", 1.0)

	cfg := &Config{
		ResourceScope:              v.GetString("RESOURCE_SCOPE"),
		ActivationTimeout:          time.Duration(v.GetInt("ACTIVATION_TIMEOUT")) * time.Minute,
		JustificationPattern:       v.GetString("JUSTIFICATION_PATTERN"),
		JustificationHint:          v.GetString("JUSTIFICATION_HINT"),
		ActivationRequestMaxRoles:  v.GetInt("ACTIVATION_REQUEST_MAX_ROLES"),
		ActivationRequestTimeout:   time.Duration(v.GetInt("ACTIVATION_REQUEST_TIMEOUT")) * time.Minute,
		ActivationRequestMinReview: v.GetInt("ACTIVATION_REQUEST_MIN_REVIEWERS"),
		ActivationRequestMaxReview: v.GetInt("ACTIVATION_REQUEST_MAX_REVIEWERS"),
		AvailableProjectsQuery:     v.GetString("AVAILABLE_PROJECTS_QUERY"),
		ResourceCatalog:            Catalog(v.GetString("RESOURCE_CATALOG")),
		ServiceAccountEmail:        v.GetString("SERVICE_ACCOUNT_EMAIL"),
		TokenSigningKeyID:          v.GetString("TOKEN_SIGNING_KEY_ID"),
		TokenSigningKeyPath:        v.GetString("TOKEN_SIGNING_KEY_PATH"),
		TokenJWKSURL:               v.GetString("TOKEN_JWKS_URL"),
		NotifyWebhookURL:           v.GetString("NOTIFY_WEBHOOK_URL"),
		MetricsAddress:             v.GetString("METRICS_ADDRESS"),
		ListenAddress:              v.GetString("LISTEN_ADDRESS"),
		OtelEndpoint:               v.GetString("OTEL_ENDPOINT"),
		OtelServiceName:            v.GetString("OTEL_SERVICE_NAME"),
		OtelSamplingRate:           v.GetFloat64("OTEL_SAMPLING_RATE"),
		OtelInsecure:               v.GetBool("OTEL_INSECURE"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.ResourceScope == "" {
		return errors.NewInvalidArgumentError("RESOURCE_SCOPE must be set", nil)
	}
	if c.ActivationTimeout < defaultActivationMin {
		return errors.NewInvalidArgumentError("ACTIVATION_TIMEOUT must be at least 5 minutes", nil)
	}
	if c.ActivationRequestTimeout > c.ActivationTimeout {
		return errors.NewInvalidArgumentError("ACTIVATION_REQUEST_TIMEOUT must not exceed ACTIVATION_TIMEOUT", nil)
	}
	if c.ActivationRequestTimeout > defaultActivationCap {
		return errors.NewInvalidArgumentError("ACTIVATION_REQUEST_TIMEOUT must not exceed 60 minutes", nil)
	}
	if c.ActivationRequestMinReview < 1 || c.ActivationRequestMinReview > c.ActivationRequestMaxReview {
		return errors.NewInvalidArgumentError("ACTIVATION_REQUEST_MIN_REVIEWERS must be between 1 and ACTIVATION_REQUEST_MAX_REVIEWERS", nil)
	}
	if c.ResourceCatalog != CatalogPolicyAnalyzer && c.ResourceCatalog != CatalogAssetInventory {
		return errors.NewInvalidArgumentError("RESOURCE_CATALOG must be PolicyAnalyzer or AssetInventory", nil)
	}
	return nil
}

// DefaultActivationTimeoutMinutes and MaxActivationTimeoutMinutes back
// GET /api/metadata's reported defaults.
func (c *Config) DefaultActivationTimeoutMinutes() int {
	return int(c.ActivationRequestTimeout / time.Minute)
}

func (c *Config) MaxActivationTimeoutMinutes() int {
	return int(c.ActivationTimeout / time.Minute)
}
