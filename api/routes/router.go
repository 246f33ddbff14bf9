package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/posflow/api/controllers"
	"github.com/angelmondragon/posflow/api/middleware"
	"github.com/angelmondragon/posflow/internal/commits"
	"github.com/angelmondragon/posflow/internal/entities"
	"github.com/angelmondragon/posflow/pkg/config"
	"github.com/angelmondragon/posflow/pkg/enums"
	"github.com/angelmondragon/posflow/pkg/logger"
	"github.com/angelmondragon/posflow/pkg/metrics"
	"github.com/angelmondragon/posflow/pkg/redis"
)

// NewRouter wires the commit gateway API. redisClient may be nil, in which
// case the replay cache and lookup throttling are disabled and the durable
// idempotency of the commits table still applies.
func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP controllers.Pinger,
	redisClient *redis.Client,
	entityService entities.Service,
	commitService commits.Service,
	flowMetrics *metrics.FlowMetrics,
	metricsHandler http.Handler,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	var (
		redisPinger controllers.Pinger
		idemStore   redis.IdempotencyStore
	)
	if redisClient != nil {
		redisPinger = redisClient
		idemStore = redisClient
	}

	idempotency := middleware.Idempotency(idemStore, middleware.IdempotencyTTLs{
		Default: cfg.Flow.DefaultIdempotencyTTL,
		Commit:  cfg.Flow.CommitIdempotencyTTL,
	}, logg)
	lookupLimit := middleware.RateLimit(middleware.NewRateLimitPolicy(
		"lookup",
		cfg.Flow.LookupRateWindow,
		cfg.Flow.LookupIPLimit,
		cfg.Flow.LookupTerminalLimit,
	), rateLimiter(redisClient), logg)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisPinger))
	})
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}

	r.Route("/api/public", func(r chi.Router) {
		r.Get("/ping", controllers.PublicPing())
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Get("/ping", controllers.OperatorPing())

		r.With(lookupLimit).Get("/entities/{kind}/by-id/{id}", controllers.EntityByID(entityService, logg))
		r.With(lookupLimit).Get("/entities/{kind}/by-label/{label}", controllers.EntityByLabel(entityService, logg))
		r.With(
			middleware.RequireRole(enums.OperatorRoleSupervisor, logg),
			idempotency,
		).Post("/entities", controllers.CreateEntity(entityService, logg))

		r.With(
			middleware.RequireCommitRole(logg),
			idempotency,
		).Post("/commits/{kind}", controllers.CreateCommit(commitService, flowMetrics, logg))
		r.Get("/commits/{id}", controllers.GetCommit(commitService, logg))
	})

	return r
}

func rateLimiter(client *redis.Client) middleware.RateLimitStore {
	if client == nil {
		return nil
	}
	return client
}
