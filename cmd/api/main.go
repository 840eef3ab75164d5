package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/salles-management/api/internal/di"
	"github.com/salles-management/api/internal/handlers"
	"github.com/salles-management/api/internal/platform/auth"
	"github.com/salles-management/api/internal/platform/config"
	"github.com/salles-management/api/internal/platform/idempotency"
	"github.com/salles-management/api/internal/platform/observability"
	"github.com/salles-management/api/internal/platform/secrets"
)

const (
	pickupLookupLimit  = 30
	pickupLookupWindow = time.Minute
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	envValues, err := config.EnvironmentValues()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read environment values: %v\n", err)
		os.Exit(1)
	}

	baseLogger, err := observability.NewLogger(envValues["SALES_LOG_LEVEL"])
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics, err = observability.SetupMetrics(ctx, cfg.Observability.ServiceName)
		if err != nil {
			logger.Fatal("failed to initialise metrics", zap.Error(err))
		}
	}

	container, err := di.NewContainer(ctx, cfg, di.WithLogger(baseLogger.Named("engine")))
	if err != nil {
		logger.Fatal("failed to initialise dependencies", zap.Error(err))
	}
	container.StartBackground(ctx)

	var verifierOpts []auth.FirebaseOption
	if cfg.Environment != "local" {
		verifierOpts = append(verifierOpts, auth.WithRevocationCheck())
	}
	verifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase, verifierOpts...)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(verifier)

	idempotencyMiddleware := idempotency.Middleware(container.Idempotency,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithOptionalKey(),
	)
	handlerOpts := []handlers.HandlerOption{
		handlers.WithCurrency(cfg.Orders.Currency),
		handlers.WithIdempotency(idempotencyMiddleware),
		handlers.WithPickupRateLimit(pickupLookupLimit, pickupLookupWindow),
	}

	svc := container.Services
	meHandlers := handlers.NewMeHandlers(authenticator, svc.Loyalty)
	cartHandlers := handlers.NewCartHandlers(authenticator, svc.Cart, handlerOpts...)
	orderHandlers := handlers.NewOrderHandlers(authenticator, svc.Orders, handlerOpts...)
	saleHandlers := handlers.NewSaleHandlers(authenticator, svc.Sales, handlerOpts...)

	healthOpts := []handlers.HealthOption{
		handlers.WithHealthBuildInfo(buildInfoFromEnv(envValues, cfg, startedAt)),
	}
	for _, check := range container.HealthChecks() {
		healthOpts = append(healthOpts, handlers.WithHealthCheck(check.Name, check.Check))
	}
	healthHandlers := handlers.NewHealthHandlers(healthOpts...)

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(projectID),
	}
	if metrics != nil {
		middlewares = append(middlewares, observability.MetricsMiddleware())
	}

	opts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithMeRoutes(meHandlers.Routes),
		handlers.WithCartRoutes(cartHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithSaleRoutes(saleHandlers.Routes),
	}
	if metrics != nil {
		opts = append(opts, handlers.WithMetricsHandler(metrics.Handler()))
	}

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(
		zap.String("addr", server.Addr),
		zap.String("persistence", cfg.Persistence.Driver),
	)
	go func() {
		serverLogger.Info("sales api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	if err := container.Close(shutdownCtx); err != nil {
		logger.Error("dependency shutdown failed", zap.Error(err))
	}
	if err := metrics.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics shutdown failed", zap.Error(err))
	}
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) handlers.BuildInfo {
	version := strings.TrimSpace(env["SALES_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["SALES_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "local"
	}
	return handlers.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		if env == nil {
			return ""
		}
		return strings.TrimSpace(env[key])
	}

	envLabel := strings.ToLower(lookup("SALES_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	defaultProject := lookup("SALES_SECRETS_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("SALES_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("SALES_SECRETS_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := secrets.FromConfig(envLabel, config.SecretsConfig{
		DefaultProjectID: defaultProject,
		FallbackFile:     fallbackPath,
		ProjectMap:       secretProjectMapFromEnv(env),
	})
	opts = append(opts, secrets.WithLogger(logger.Named("secrets")))
	if credentialsFile := lookup("SALES_FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the secret-backed settings the selected backends cannot start without.
func requiredSecretNames(env map[string]string) []string {
	var required []string
	if strings.EqualFold(strings.TrimSpace(env["SALES_PERSISTENCE_DRIVER"]), config.DriverPostgres) {
		required = append(required, "Postgres.DSN")
	}
	if strings.HasPrefix(strings.TrimSpace(env["SALES_REDIS_PASSWORD"]), "secret://") {
		required = append(required, "Redis.Password")
	}
	return required
}

func secretProjectMapFromEnv(env map[string]string) map[string]string {
	projects := make(map[string]string)
	raw := ""
	if env != nil {
		raw = strings.TrimSpace(env["SALES_SECRETS_PROJECT_MAP"])
	}
	if raw == "" {
		return projects
	}
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(entry), "=", 2)
		if len(parts) != 2 {
			continue
		}
		envLabel := strings.ToLower(strings.TrimSpace(parts[0]))
		project := strings.TrimSpace(parts[1])
		if envLabel == "" || project == "" {
			continue
		}
		projects[envLabel] = project
	}
	return projects
}
