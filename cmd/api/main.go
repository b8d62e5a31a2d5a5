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
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/lumenpay/settlement-backend/api/routes"
	"github.com/lumenpay/settlement-backend/internal/checkouts"
	"github.com/lumenpay/settlement-backend/internal/credits"
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
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = "api"

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	settlementMetrics := metrics.NewSettlementMetrics(registry)

	networks, err := stellar.NewNetworks(cfg.Stellar, logg, settlementMetrics)
	if err != nil {
		logg.Error(context.Background(), "failed to configure stellar networks", err)
		os.Exit(1)
	}

	gormDB := dbClient.DB()
	checkoutRepo := checkouts.NewRepository(gormDB)
	productRepo := products.NewRepository(gormDB)
	outboxService := outbox.NewService(outbox.NewRepository(gormDB), logg)

	settler, err := settlement.NewSettler(settlement.SettlerParams{
		Logger:    logg,
		DB:        dbClient,
		Checkouts: checkoutRepo,
		Payments:  payments.NewRepository(gormDB),
		Outbox:    outboxService,
		Metrics:   settlementMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create settler", err)
		os.Exit(1)
	}

	verifier, err := settlement.NewVerifier(settlement.VerifierParams{
		Logger:    logg,
		Ledgers:   settlement.NetworkLedgers{Networks: networks},
		Checkouts: checkoutRepo,
		Products:  productRepo,
		Settler:   settler,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create verifier", err)
		os.Exit(1)
	}

	creditService, err := credits.NewService(credits.ServiceParams{
		Logger:            logg,
		Credits:           credits.NewRepository(gormDB),
		Outbox:            outboxService,
		TransactionRunner: dbClient,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create credit service", err)
		os.Exit(1)
	}

	subscriptionService, err := subscriptions.NewService(subscriptions.ServiceParams{
		Logger:            logg,
		Subscriptions:     subscriptions.NewRepository(gormDB),
		Customers:         customers.NewRepository(gormDB),
		Products:          productRepo,
		Contracts:         subscriptions.NetworkContracts{Networks: networks},
		Outbox:            outboxService,
		TransactionRunner: dbClient,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create subscription service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":         cfg.App.Env,
		"addr":        addr,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.ID(cfg.Service.Kind),
	})

	server := &http.Server{
		Addr:    addr,
		Handler: routes.NewRouter(cfg, logg, dbClient, redisClient, registry, verifier, creditService, subscriptionService),
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logg.Info(ctx, "starting api server")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-sigCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
		}
		logg.Info(ctx, "api server shut down gracefully")
	}
}
