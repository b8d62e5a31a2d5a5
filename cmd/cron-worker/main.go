package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/lumenpay/settlement-backend/internal/checkouts"
	"github.com/lumenpay/settlement-backend/internal/cron"
	"github.com/lumenpay/settlement-backend/internal/customers"
	"github.com/lumenpay/settlement-backend/internal/payments"
	"github.com/lumenpay/settlement-backend/internal/products"
	"github.com/lumenpay/settlement-backend/internal/settlement"
	"github.com/lumenpay/settlement-backend/internal/subscriptions"
	"github.com/lumenpay/settlement-backend/pkg/config"
	"github.com/lumenpay/settlement-backend/pkg/db"
	"github.com/lumenpay/settlement-backend/pkg/instance"
	"github.com/lumenpay/settlement-backend/pkg/logger"
	"github.com/lumenpay/settlement-backend/pkg/metrics"
	"github.com/lumenpay/settlement-backend/pkg/migrate"
	"github.com/lumenpay/settlement-backend/pkg/outbox"
	"github.com/lumenpay/settlement-backend/pkg/redis"
	"github.com/lumenpay/settlement-backend/pkg/stellar"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
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

	settlementMetrics := metrics.NewSettlementMetrics(prometheus.DefaultRegisterer)
	networks, err := stellar.NewNetworks(cfg.Stellar, logg, settlementMetrics)
	if err != nil {
		logg.Error(context.Background(), "failed to configure stellar networks", err)
		os.Exit(1)
	}

	registry, err := buildRegistry(cfg, logg, dbClient, networks, settlementMetrics)
	if err != nil {
		logg.Error(context.Background(), "failed to register cron jobs", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Locks:    cron.RedisLocks(redisClient),
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.ID(cfg.Service.Kind),
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

// buildRegistry wires the checkout sweep, subscription billing and outbox
// retention jobs.
func buildRegistry(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, networks *stellar.Networks, settlementMetrics *metrics.SettlementMetrics) (*cron.Registry, error) {
	gormDB := dbClient.DB()
	checkoutRepo := checkouts.NewRepository(gormDB)
	paymentRepo := payments.NewRepository(gormDB)
	productRepo := products.NewRepository(gormDB)
	outboxRepo := outbox.NewRepository(gormDB)
	outboxService := outbox.NewService(outboxRepo, logg)

	settler, err := settlement.NewSettler(settlement.SettlerParams{
		Logger:    logg,
		DB:        dbClient,
		Checkouts: checkoutRepo,
		Payments:  paymentRepo,
		Outbox:    outboxService,
		Metrics:   settlementMetrics,
	})
	if err != nil {
		return nil, err
	}

	sweep, err := cron.NewCheckoutSweepJob(cron.CheckoutSweepJobParams{
		Logger:        logg,
		Checkouts:     checkoutRepo,
		Ledgers:       settlement.NetworkLedgers{Networks: networks},
		Pricing:       settlement.NewPricing(productRepo),
		Settler:       settler,
		Config:        cfg.Sweeper,
		ExpireOnSweep: cfg.FeatureFlags.ExpireOnSweep,
	})
	if err != nil {
		return nil, err
	}

	subscriptionRepo := subscriptions.NewRepository(gormDB)
	biller, err := subscriptions.NewBiller(subscriptions.BillerParams{
		Logger:            logg,
		Subscriptions:     subscriptionRepo,
		Customers:         customers.NewRepository(gormDB),
		Products:          productRepo,
		Payments:          paymentRepo,
		Contracts:         subscriptions.NetworkContracts{Networks: networks},
		Outbox:            outboxService,
		TransactionRunner: dbClient,
		CancelAtPeriodEnd: cfg.FeatureFlags.CancelAtPeriodEnd,
		// sent charges can still land until their time bounds close
		PendingWindow:     time.Duration(cfg.Stellar.TxTimeoutSeconds)*time.Second + 5*time.Minute,
	})
	if err != nil {
		return nil, err
	}

	billing, err := cron.NewSubscriptionBillingJob(cron.SubscriptionBillingJobParams{
		Logger:        logg,
		Subscriptions: subscriptionRepo,
		Biller:        biller,
		Config:        cfg.Billing,
	})
	if err != nil {
		return nil, err
	}

	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		DB:         dbClient,
		Repository: outboxRepo,
	})
	if err != nil {
		return nil, err
	}

	registry := cron.NewRegistry()
	registry.Register(sweep, cfg.Sweeper.Interval)
	if cfg.Stellar.ContractsConfigured() {
		registry.Register(billing, cfg.Billing.Interval)
	} else {
		logg.Warn(context.Background(), "no subscription contract configured; billing job disabled")
	}
	registry.Register(retention, 0)
	return registry, nil
}
