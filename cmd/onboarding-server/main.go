// cmd/onboarding-server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"advertiser-onboarding/internal/api"
	"advertiser-onboarding/internal/common/auth"
	"advertiser-onboarding/internal/common/aws"
	"advertiser-onboarding/internal/common/camunda"
	"advertiser-onboarding/internal/common/config"
	"advertiser-onboarding/internal/common/database"
	"advertiser-onboarding/internal/common/logger"
	"advertiser-onboarding/internal/common/observability"
	"advertiser-onboarding/internal/common/payments"
	"advertiser-onboarding/internal/flow"

	ap "advertiser-onboarding/internal/workers/onboarding/account-provision"
	an "advertiser-onboarding/internal/workers/onboarding/activation-notify"
	cr "advertiser-onboarding/internal/workers/onboarding/consent-record"
	pu "advertiser-onboarding/internal/workers/onboarding/profile-upsert"
	vo "advertiser-onboarding/internal/workers/onboarding/verification-orchestrate"
)

// profileUpsertTimeout bounds the pending profile write of a submit.
const profileUpsertTimeout = 10 * time.Second

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("config load failed", zap.Error(err))
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	defer zapLog.Sync()

	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting onboarding server...",
		zap.String("environment", cfg.App.Environment),
		zap.String("version", cfg.App.Version),
	)

	obs := observability.New(cfg.App.Name, log)
	defer obs.Shutdown()

	ctx := context.Background()

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()

	if err := pg.Migrate(ctx); err != nil {
		zapLog.Fatal("postgres migration failed", zap.Error(err))
	}
	zapLog.Info("PostgreSQL connected successfully")

	// --- Init Redis with retry ---
	var rdb *redis.Client
	err = retryWithBackoff(func() error {
		var err error
		rdb, err = database.NewRedis(ctx, cfg.Database.Redis)
		return err
	}, 10, 2*time.Second, zapLog, "Redis connection")
	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer rdb.Close()
	zapLog.Info("Redis connected successfully")

	// --- Init Elasticsearch (optional) ---
	profileDeps := pu.ServiceDependencies{DB: pg.GetDB(), Logger: log}
	var esClient *database.ElasticsearchClient
	if cfg.Database.Elasticsearch.Enabled {
		err = retryWithBackoff(func() error {
			var err error
			esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			return esClient.Ping()
		}, 15, 2*time.Second, zapLog, "Elasticsearch connection")
		if err != nil {
			zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
		}
		profileDeps.Indexer = esClient
		zapLog.Info("Elasticsearch connected successfully")
	}

	// --- Init Camunda (optional) ---
	var camundaClient *camunda.Client
	if cfg.Camunda.Enabled {
		err = retryWithBackoff(func() error {
			var err error
			camundaClient, err = camunda.NewClient(cfg.Camunda.BrokerAddress)
			return err
		}, 10, 2*time.Second, zapLog, "Zeebe client initialization")
		if err != nil {
			zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
		}
		defer camundaClient.Close()
		zapLog.Info("Zeebe client connected successfully")
	}

	// --- Services ---
	keycloak := auth.NewKeycloakClient(
		cfg.Auth.Keycloak.URL,
		cfg.Auth.Keycloak.Realm,
		cfg.Auth.Keycloak.ClientID,
		cfg.Auth.Keycloak.ClientSecret,
		cfg.Auth.Keycloak.PublicClientID,
		config.GetDuration(cfg.Auth.Keycloak.Timeout),
	)
	provisionTimeout := config.GetDuration(cfg.Auth.Keycloak.Timeout)
	provisioner := ap.NewService(ap.ServiceDependencies{Provider: keycloak, Logger: log}, &ap.Config{
		Timeout: provisionTimeout,
	})

	profiles := pu.NewService(profileDeps, &pu.Config{
		Timeout:   profileUpsertTimeout,
		IndexName: cfg.Database.Elasticsearch.ProfileIndex,
	})

	ledger := cr.NewService(cr.ServiceDependencies{DB: pg.GetDB(), Logger: log}, cfg.Onboarding.PolicyVersion)

	verificationTimeout := config.GetDuration(cfg.Onboarding.VerificationTimeout)
	verifyConfig := &vo.Config{
		Timeout:         verificationTimeout,
		SubmitTimeout:   provisionTimeout + profileUpsertTimeout + verificationTimeout,
		CallbackURL:     cfg.Onboarding.CallbackURL,
		ProfileURL:      cfg.Onboarding.ProfileURL,
		ReviewProcessID: cfg.Camunda.ReviewProcessID,
	}
	if err := verifyConfig.Validate(); err != nil {
		zapLog.Fatal("invalid verification configuration", zap.Error(err))
	}

	flows := flow.NewController(flow.NewRedisStore(rdb), ledger, flow.Options{
		PolicyVersion: cfg.Onboarding.PolicyVersion,
		TTL:           cfg.Onboarding.FlowTTLDuration(),
		LockTTL:       verifyConfig.LockTTL(),
	}, log)
	verifyDeps := vo.ServiceDependencies{
		Flows:       flows,
		Provisioner: provisioner,
		Profiles:    profiles,
		Consent:     ledger,
		Provider:    vo.NewHTTPProvider(cfg.Onboarding.ProviderURL, verificationTimeout),
		Recorder:    obs,
		Logger:      log,
	}
	if camundaClient != nil {
		verifyDeps.Processes = camundaClient
	}
	verifier := vo.NewService(verifyDeps, verifyConfig)

	payments.SetKey(cfg.Stripe.SecretKey)
	dispatcher := payments.NewDispatcher(payments.NewGateway(), profiles, log)

	// --- Activation notify worker ---
	var notifier *an.Handler
	if camundaClient != nil {
		notifier, err = newActivationNotifier(ctx, cfg, camundaClient, log)
		if err != nil {
			zapLog.Fatal("failed to create activation-notify handler", zap.Error(err))
		}
		if err := notifier.Register(); err != nil {
			zapLog.Fatal("failed to register activation-notify worker", zap.Error(err))
		}
		defer notifier.Close()
	}

	// --- HTTP API ---
	ready := map[string]api.ReadinessCheck{
		"postgres": pg.Ping,
		"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	}
	if esClient != nil {
		ready["elasticsearch"] = func(context.Context) error { return esClient.Ping() }
	}
	if camundaClient != nil {
		ready["camunda"] = camundaClient.HealthCheck
	}

	server := api.NewServer(api.Dependencies{
		Flows:         flows,
		Verifier:      verifier,
		Webhooks:      dispatcher,
		WebhookSecret: cfg.Stripe.WebhookSecret,
		ApprovalSLA:   cfg.Onboarding.ApprovalSLA,
		Ready:         ready,
		Logger:        log,
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      server.Routes(),
		ReadTimeout:  config.GetDuration(cfg.Server.ReadTimeout),
		WriteTimeout: config.GetDuration(cfg.Server.WriteTimeout),
	}

	go func() {
		zapLog.Info("HTTP server listening", zap.String("address", cfg.Server.Address))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLog.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, draining requests...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.GetDuration(cfg.Server.ShutdownTimeout))
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error shutting down HTTP server", zap.Error(err))
	}

	zapLog.Info("Onboarding server stopped gracefully")
}

// newActivationNotifier wires the SES and SNS clients for the channels that are enabled.
func newActivationNotifier(ctx context.Context, cfg *config.Config, client *camunda.Client, log logger.Logger) (*an.Handler, error) {
	opts := an.HandlerOptions{
		AppConfig: cfg,
		Camunda:   client,
		Logger:    log,
	}

	region := cfg.Notifications.AWS.Region
	if cfg.Notifications.Email.Enabled {
		mailer, err := aws.NewSESClient(ctx, region, cfg.Notifications.Email.FromEmail)
		if err != nil {
			return nil, fmt.Errorf("ses client: %w", err)
		}
		opts.Mailer = mailer
	}
	if cfg.Notifications.Admin.Enabled {
		alerter, err := aws.NewSNSClient(ctx, region, cfg.Notifications.Admin.TopicARN)
		if err != nil {
			return nil, fmt.Errorf("sns client: %w", err)
		}
		opts.Alerter = alerter
	}

	return an.NewHandler(opts)
}
