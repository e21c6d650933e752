package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	admin "google.golang.org/api/admin/directory/v1"
	cloudasset "google.golang.org/api/cloudasset/v1"
	cloudresourcemanager "google.golang.org/api/cloudresourcemanager/v3"

	iamapi "cloud.google.com/go/iam/apiv1"

	"github.com/cloudjit/jitaccess/internal/activation"
	"github.com/cloudjit/jitaccess/internal/audit"
	"github.com/cloudjit/jitaccess/internal/catalog"
	"github.com/cloudjit/jitaccess/internal/config"
	"github.com/cloudjit/jitaccess/internal/gcpadapter"
	"github.com/cloudjit/jitaccess/internal/httpapi"
	"github.com/cloudjit/jitaccess/internal/iam"
	"github.com/cloudjit/jitaccess/internal/justification"
	"github.com/cloudjit/jitaccess/internal/logger"
	"github.com/cloudjit/jitaccess/internal/metrics"
	"github.com/cloudjit/jitaccess/internal/notify"
	"github.com/cloudjit/jitaccess/internal/resourceid"
	"github.com/cloudjit/jitaccess/internal/rolerepo"
	"github.com/cloudjit/jitaccess/internal/telemetry"
	"github.com/cloudjit/jitaccess/internal/token"
)

const (
	defaultGracefulTimeout = 30 * time.Second
	serverReadTimeout      = 10 * time.Second
	serverWriteTimeout     = 15 * time.Second
	serverIdleTimeout      = 60 * time.Second
	tokenTTL               = 24 * time.Hour
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the activation service's HTTP API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("address", "", "Address to listen on (overrides LISTEN_ADDRESS)")
	if err := viper.BindPFlag("LISTEN_ADDRESS", serveCmd.Flags().Lookup("address")); err != nil {
		panic(err)
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	ctx := context.Background()
	log := logger.FromContext(ctx)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	shutdownTracing, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Endpoint:     cfg.OtelEndpoint,
		ServiceName:  cfg.OtelServiceName,
		SamplingRate: cfg.OtelSamplingRate,
		Insecure:     cfg.OtelInsecure,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultGracefulTimeout)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	repo, projectSearch, analyzer, err := buildRoleRepository(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to build role repository: %w", err)
	}

	iamClient, err := iamapi.NewIamPolicyClient(ctx)
	if err != nil {
		return fmt.Errorf("failed to create IAM policy client: %w", err)
	}
	defer iamClient.Close()
	provisioner := iam.NewProvisioner(gcpadapter.NewIAMPolicyClient(iamClient))

	justificationPolicy, err := justification.NewPolicy(cfg.JustificationPattern, cfg.JustificationHint)
	if err != nil {
		return fmt.Errorf("invalid justification policy: %w", err)
	}

	signer, verifier, err := buildTokenCodec(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to build token signer/verifier: %w", err)
	}

	var notifier notify.Sink
	if cfg.NotifyWebhookURL != "" {
		notifier = notify.NewWebhookSink(cfg.NotifyWebhookURL)
	} else {
		notifier = noopNotifier{}
	}

	auditSink := audit.NewSlogSink()

	cat := catalog.New(repo, projectSearch, cfg.AvailableProjectsQuery, catalog.Limits{
		MaxActivationDuration: cfg.ActivationTimeout,
		MaxRolesPerRequest:    cfg.ActivationRequestMaxRoles,
		MinReviewers:          cfg.ActivationRequestMinReview,
		MaxReviewers:          cfg.ActivationRequestMaxReview,
	})
	activator := activation.New(cat, repo, provisioner, justificationPolicy, signer, verifier, notifier, auditSink)

	iamHealth := httpapi.HealthCheckFunc(func(ctx context.Context) error {
		return provisioner.Ping(ctx, cfg.ResourceScope)
	})
	analyzerHealth := httpapi.HealthCheckFunc(func(ctx context.Context) error {
		return analyzer.Ping(ctx, cfg.ResourceScope)
	})
	router := httpapi.NewRouter(cfg, cat, activator, auditSink, iapHeaderAuth, iamHealth, analyzerHealth)

	server := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      router,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  serverIdleTimeout,
	}

	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddress,
		Handler: promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
	}

	go func() {
		log.Info("metrics server listening", "address", cfg.MetricsAddress)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", "error", err)
		}
	}()

	go func() {
		log.Info("activation service listening", "address", cfg.ListenAddress)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("activation service failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultGracefulTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("activation service forced to shutdown", "error", err)
		return err
	}
	_ = metricsServer.Shutdown(shutdownCtx)
	log.Info("shutdown complete")
	return nil
}

// buildRoleRepository constructs the RoleRepository backend named by
// RESOURCE_CATALOG and, when AVAILABLE_PROJECTS_QUERY is set, the project
// search client the catalog uses for the fast scope-listing path. The
// *gcpadapter.AssetInventoryAnalyzer is returned alongside the repository
// regardless of which backend wraps it, since runServe also uses it
// directly to back the readiness probe's analyzer reachability check.
func buildRoleRepository(ctx context.Context, cfg *config.Config) (rolerepo.RoleRepository, catalog.ProjectSearchClient, *gcpadapter.AssetInventoryAnalyzer, error) {
	assetSvc, err := cloudasset.NewService(ctx)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create cloud asset client: %w", err)
	}
	analyzer := gcpadapter.NewAssetInventoryAnalyzer(assetSvc)

	var projectSearch catalog.ProjectSearchClient
	if cfg.AvailableProjectsQuery != "" {
		rmSvc, err := cloudresourcemanager.NewService(ctx)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to create resource manager client: %w", err)
		}
		projectSearch = gcpadapter.NewProjectSearch(rmSvc)
	}

	switch cfg.ResourceCatalog {
	case config.CatalogAssetInventory:
		adminSvc, err := admin.NewService(ctx)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to create directory client: %w", err)
		}
		directory := gcpadapter.NewDirectoryGroups(adminSvc)
		return rolerepo.NewEffectivePolicyBackend(analyzer, directory, cfg.ResourceScope), projectSearch, analyzer, nil
	default:
		return rolerepo.NewAnalyzerBackend(analyzer, cfg.ResourceScope), projectSearch, analyzer, nil
	}
}

// buildTokenCodec loads the RS256 signing key from TOKEN_SIGNING_KEY_PATH
// and builds the matching Signer/Verifier pair.
func buildTokenCodec(ctx context.Context, cfg *config.Config) (*token.Signer, *token.Verifier, error) {
	keyBytes, err := os.ReadFile(cfg.TokenSigningKeyPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read token signing key: %w", err)
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(keyBytes)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse token signing key: %w", err)
	}

	signer := token.NewSigner(cfg.ServiceAccountEmail, cfg.TokenSigningKeyID, key, tokenTTL)
	verifier, err := token.NewVerifier(ctx, cfg.ServiceAccountEmail, cfg.TokenJWKSURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build token verifier: %w", err)
	}
	return signer, verifier, nil
}

// iapHeaderAuth trusts the identity Identity-Aware Proxy stamps on every
// request it forwards, the standard way a GCP-fronted internal service
// authenticates callers without handling credentials itself.
func iapHeaderAuth(r *http.Request) (resourceid.UserEmail, error) {
	email := r.Header.Get("X-Goog-Authenticated-User-Email")
	const prefix = "accounts.google.com:"
	if len(email) > len(prefix) && email[:len(prefix)] == prefix {
		email = email[len(prefix):]
	}
	return resourceid.NewUserEmail(email)
}

// noopNotifier is used when no webhook transport is configured; requests
// and approvals still complete, they just aren't announced anywhere.
type noopNotifier struct{}

func (noopNotifier) NotifyRequest(context.Context, notify.RequestMessage) error  { return nil }
func (noopNotifier) NotifyApproval(context.Context, notify.ApprovalMessage) error { return nil }
