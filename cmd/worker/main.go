package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	analyticsrouter "github.com/lumenpay/settlement-backend/internal/analytics/router"
	"github.com/lumenpay/settlement-backend/internal/analytics/writer"
	"github.com/lumenpay/settlement-backend/internal/auditlog"
	"github.com/lumenpay/settlement-backend/internal/consumers/provisioning"
	"github.com/lumenpay/settlement-backend/internal/consumers/worker"
	"github.com/lumenpay/settlement-backend/internal/subscriptions"
	"github.com/lumenpay/settlement-backend/internal/webhooks"
	"github.com/lumenpay/settlement-backend/pkg/bigquery"
	"github.com/lumenpay/settlement-backend/pkg/config"
	"github.com/lumenpay/settlement-backend/pkg/db"
	"github.com/lumenpay/settlement-backend/pkg/instance"
	"github.com/lumenpay/settlement-backend/pkg/logger"
	"github.com/lumenpay/settlement-backend/pkg/metrics"
	"github.com/lumenpay/settlement-backend/pkg/migrate"
	"github.com/lumenpay/settlement-backend/pkg/outbox/idempotency"
	"github.com/lumenpay/settlement-backend/pkg/pubsub"
	"github.com/lumenpay/settlement-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = "worker"

	logg = logger.New(logger.Options{
		ServiceName: "worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	pubsubClient, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap pubsub", err)
		os.Exit(1)
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing pubsub client", err)
		}
	}()

	manager, err := idempotency.NewManager(redisClient, cfg.Eventing.OutboxIdempotencyTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create idempotency manager", err)
		os.Exit(1)
	}

	deps := map[string]pinger{
		"database": dbClient,
		"redis":    redisClient,
		"pubsub":   pubsubClient,
	}

	dispatcher, err := webhooks.NewDispatcher(webhooks.DispatcherParams{
		Logger:     logg,
		Webhooks:   webhooks.NewRepository(dbClient.DB()),
		Audit:      auditlog.NewRepository(dbClient.DB()),
		Quota:      redisClient,
		Config:     cfg.Webhooks,
		HTTPClient: &http.Client{Timeout: cfg.Webhooks.Timeout},
		Metrics:    metrics.NewSettlementMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook dispatcher", err)
		os.Exit(1)
	}
	// delivery is at most once: a failed post is logged, never redelivered
	webhookConsumer := mustConsumer(logg, worker.Params{
		Name:         webhooks.ConsumerName,
		Subscription: pubsubClient.WebhookSubscription(),
		Handler:      dispatcher,
		Idempotency:  manager,
		Logger:       logg,
		AckOnError:   true,
	})

	provisioningClient, err := subscriptions.NewProvisioningClient(cfg.Provisioning, cfg.ServiceToken)
	if err != nil {
		logg.Error(context.Background(), "failed to create provisioning client", err)
		os.Exit(1)
	}
	provisioningHandler, err := provisioning.NewHandler(provisioningClient, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create provisioning handler", err)
		os.Exit(1)
	}
	provisioningConsumer := mustConsumer(logg, worker.Params{
		Name:         provisioning.ConsumerName,
		Subscription: pubsubClient.ProvisioningSubscription(),
		Handler:      provisioningHandler,
		Idempotency:  manager,
		Logger:       logg,
	})

	consumers := []consumer{webhookConsumer, provisioningConsumer}
	var flushers []flusher

	if cfg.FeatureFlags.AnalyticsEnabled {
		bqClient, err := bigquery.NewClient(context.Background(), cfg.GCP, cfg.BigQuery, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap bigquery", err)
			os.Exit(1)
		}
		defer func() {
			if err := bqClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing bigquery client", err)
			}
		}()
		deps["bigquery"] = bqClient

		// rows are written before the message is acked
		bqWriter, err := writer.New(bqClient, writer.Config{Table: bqClient.SettlementsTable(), BatchSize: 1})
		if err != nil {
			logg.Error(context.Background(), "failed to create analytics writer", err)
			os.Exit(1)
		}
		analyticsHandler, err := analyticsrouter.NewRouter(bqWriter, logg, nil)
		if err != nil {
			logg.Error(context.Background(), "failed to create analytics router", err)
			os.Exit(1)
		}
		consumers = append(consumers, mustConsumer(logg, worker.Params{
			Name:         analyticsrouter.ConsumerName,
			Subscription: pubsubClient.AnalyticsSubscription(),
			Handler:      analyticsHandler,
			Idempotency:  manager,
			Logger:       logg,
		}))
		flushers = append(flushers, bqWriter)
	}

	service, err := NewService(ServiceParams{
		Logger:       logg,
		Dependencies: deps,
		Consumers:    consumers,
		Flushers:     flushers,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create worker service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.ID(cfg.Service.Kind),
	})
	logg.Info(ctx, "starting worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "worker shutting down gracefully")
}

func mustConsumer(logg *logger.Logger, params worker.Params) *worker.Service {
	svc, err := worker.NewService(params)
	if err != nil {
		logg.Error(context.Background(), "failed to create consumer "+params.Name, err)
		os.Exit(1)
	}
	return svc
}
