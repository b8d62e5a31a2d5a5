package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lumenpay/settlement-backend/api/controllers"
	creditcontrollers "github.com/lumenpay/settlement-backend/api/controllers/credits"
	subscriptioncontrollers "github.com/lumenpay/settlement-backend/api/controllers/subscriptions"
	"github.com/lumenpay/settlement-backend/api/middleware"
	"github.com/lumenpay/settlement-backend/internal/credits"
	"github.com/lumenpay/settlement-backend/internal/settlement"
	"github.com/lumenpay/settlement-backend/internal/subscriptions"
	"github.com/lumenpay/settlement-backend/pkg/config"
	"github.com/lumenpay/settlement-backend/pkg/db"
	"github.com/lumenpay/settlement-backend/pkg/logger"
	pkgredis "github.com/lumenpay/settlement-backend/pkg/redis"
)

// RedisStore is the Redis surface the HTTP layer needs for idempotent
// replays, rate limits and readiness.
type RedisStore interface {
	pkgredis.IdempotencyStore
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Ping(ctx context.Context) error
}

type checkoutVerifier interface {
	Verify(ctx context.Context, req settlement.VerifyRequest) (*settlement.VerifyResult, error)
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisStore RedisStore,
	gatherer prometheus.Gatherer,
	verifier checkoutVerifier,
	creditService credits.Service,
	subscriptionService subscriptions.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.HTTP.AllowedOrigins),
	)

	verifyPolicy := middleware.NewRateLimitPolicy(
		"verify",
		cfg.HTTP.VerifyWindow,
		cfg.HTTP.VerifyIPLimit,
		"checkoutId",
		cfg.HTTP.VerifyLimit,
	)

	readiness := map[string]controllers.Pinger{}
	if dbP != nil {
		readiness["database"] = dbP
	}
	if redisStore != nil {
		readiness["redis"] = redisStore
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, readiness))
	})
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.With(middleware.RateLimit(verifyPolicy, redisStore, logg)).
			Post("/checkouts/{checkoutId}/verify", controllers.VerifyCheckout(verifier, logg))
		r.With(middleware.ServiceAuth(cfg.ServiceToken, logg), middleware.Idempotency(redisStore, logg)).
			Post("/credits/consume", creditcontrollers.Consume(creditService, logg))
	})

	r.Route("/internal/v1", func(r chi.Router) {
		r.Use(middleware.ServiceAuth(cfg.ServiceToken, logg))

		r.Route("/subscriptions", func(r chi.Router) {
			r.Post("/", subscriptioncontrollers.Provision(subscriptionService, logg))
			r.Post("/{subscriptionId}/pause", subscriptioncontrollers.Pause(subscriptionService, logg))
			r.Post("/{subscriptionId}/resume", subscriptioncontrollers.Resume(subscriptionService, logg))
			r.Post("/{subscriptionId}/cancel", subscriptioncontrollers.Cancel(subscriptionService, logg))
		})
		r.Route("/credits", func(r chi.Router) {
			r.With(middleware.Idempotency(redisStore, logg)).Post("/grant", creditcontrollers.Grant(creditService, logg))
			r.With(middleware.Idempotency(redisStore, logg)).Post("/refund", creditcontrollers.Refund(creditService, logg))
		})
	})

	return r
}
