package routes

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/giroflow-backend/api/controllers"
	"github.com/angelmondragon/giroflow-backend/api/middleware"
	pkgAuth "github.com/angelmondragon/giroflow-backend/pkg/auth"
	"github.com/angelmondragon/giroflow-backend/pkg/config"
	"github.com/angelmondragon/giroflow-backend/pkg/logger"
	"github.com/angelmondragon/giroflow-backend/pkg/redis"
)

// Services are the engines behind the HTTP surface. A nil Wallet answers 404 on wallet routes.
type Services struct {
	Distributions controllers.DistributionService
	Inflation     controllers.InflationService
	ProviderB     controllers.AmendmentLister
	Wallet        controllers.WalletService
	Jobs          controllers.JobRunner
}

func NewRouter(
	ctx context.Context,
	cfg *config.Config,
	logg *logger.Logger,
	dbP controllers.Pinger,
	redisClient *redis.Client,
	metrics http.Handler,
	svc Services,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.HTTP.CORSOrigins),
	)

	distributionsPolicy := middleware.NewRateLimitPolicy("distributions", cfg.HTTP.PublicWindow, cfg.HTTP.PublicIPLimit)
	inflationPolicy := middleware.NewRateLimitPolicy("inflation", cfg.HTTP.PublicWindow, cfg.HTTP.PublicIPLimit)

	deps := map[string]controllers.Pinger{"db": dbP}
	if redisClient != nil {
		deps["redis"] = redisClient
	}
	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps))
	})
	if metrics == nil {
		metrics = promhttp.Handler()
	}
	r.Handle("/metrics", metrics)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/distributions", func(r chi.Router) {
			r.Use(rateLimit(distributionsPolicy, redisClient, logg))
			r.Post("/", controllers.RegisterDistribution(svc.Distributions, logg))
			r.Post("/validate", controllers.ValidateDistribution(logg))
		})
		r.Route("/inflation/{token}", func(r chi.Router) {
			r.Use(rateLimit(inflationPolicy, redisClient, logg))
			r.Get("/", controllers.InflationProposal(svc.Inflation, logg))
			r.Post("/accept", controllers.InflationAccept(svc.Inflation, logg))
			r.Post("/reject", controllers.InflationReject(svc.Inflation, logg))
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.AdminAuth(cfg.JWT, logg))
		r.Use(idempotency(redisClient, logg))

		r.Get("/providerb/amendment-candidates", controllers.AdminAmendmentCandidates(svc.ProviderB, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(pkgAuth.RoleAdmin, logg))
			r.Post("/jobs/{name}", controllers.AdminRunJob(svc.Jobs, logg))
			r.Post("/distributions/replace", controllers.AdminReplaceDistribution(svc.Distributions, logg))
			r.Post("/wallet/agreements", controllers.AdminWalletDraft(ctx, svc.Wallet, logg))
			r.Post("/wallet/agreements/{agreementId}/charges", controllers.AdminWalletCharge(svc.Wallet, logg))
		})
	})

	return r
}

// A nil client must reach the middleware as a nil interface so it disables itself.
func rateLimit(policy middleware.RateLimitPolicy, client *redis.Client, logg *logger.Logger) func(http.Handler) http.Handler {
	if client == nil {
		return middleware.RateLimit(policy, nil, logg)
	}
	return middleware.RateLimit(policy, client, logg)
}

func idempotency(client *redis.Client, logg *logger.Logger) func(http.Handler) http.Handler {
	if client == nil {
		return middleware.Idempotency(nil, logg)
	}
	return middleware.Idempotency(client, logg)
}
