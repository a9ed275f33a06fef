package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/entitlements-backend/api/controllers"
	"github.com/angelmondragon/entitlements-backend/api/middleware"
	"github.com/angelmondragon/entitlements-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/entitlements-backend/pkg/redis"
)

// Dependencies are the services the HTTP surface reads from.
type Dependencies struct {
	Env           string
	CORSOrigins   []string
	Logger        *logger.Logger
	Health        map[string]controllers.Pinger
	Idempotency   pkgredis.IdempotencyStore
	Gatherer      prometheus.Gatherer
	Plans         controllers.PlanLister
	Quotes        controllers.QuoteService
	Features      controllers.DependencyReader
	Gate          controllers.FeatureGate
	Usage         controllers.UsageService
	Subscriptions controllers.SubscriptionService
}

func NewRouter(deps Dependencies) http.Handler {
	logg := deps.Logger
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID(logg),
		middleware.AccessLog(logg),
		middleware.Recoverer(logg),
		middleware.CORS(deps.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(deps.Env))
		r.Get("/ready", controllers.HealthReady(deps.Env, logg, deps.Health))
	})

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/plans", controllers.ListPlans(deps.Plans, logg))
		r.Get("/plans/{planSlug}/quote", controllers.PlanQuote(deps.Quotes, logg))
		r.Get("/features/{featureKey}/dependencies", controllers.FeatureDependencies(deps.Features, logg))

		r.Route("/organizations/{orgId}", func(r chi.Router) {
			r.Use(middleware.OrganizationContext(logg))

			r.Get("/features", controllers.OrganizationFeatures(deps.Gate, logg))
			r.Get("/features/{featureKey}", controllers.OrganizationFeature(deps.Gate, logg))
			r.Get("/access", controllers.OrganizationAccess(deps.Gate, logg))
			r.Get("/limits/{resourceKey}", controllers.OrganizationLimit(deps.Usage, logg))
			r.Get("/usage", controllers.OrganizationUsage(deps.Usage, logg))
			r.Get("/usage/{resourceKey}", controllers.OrganizationResourceUsage(deps.Usage, logg))
			r.Get("/subscription/history", controllers.SubscriptionHistory(deps.Subscriptions, logg))

			keyed := func(ttl time.Duration) func(http.Handler) http.Handler {
				return middleware.Idempotent(deps.Idempotency, logg, ttl)
			}
			r.With(keyed(middleware.IdempotencyTTL)).Post("/usage/{resourceKey}/delta", controllers.RecordUsageDelta(deps.Usage, logg))
			r.With(keyed(middleware.IdempotencyTTL)).Put("/limit-overrides/{resourceKey}", controllers.PutLimitOverride(deps.Usage, logg))
			r.With(keyed(middleware.IdempotencyTTL)).Delete("/limit-overrides/{resourceKey}", controllers.DeleteLimitOverride(deps.Usage, logg))
			r.With(keyed(middleware.CriticalIdempotencyTTL)).Post("/subscription/cancel", controllers.CancelSubscription(deps.Subscriptions, logg))
		})
	})

	return r
}
