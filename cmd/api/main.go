package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/entitlements-backend/api/controllers"
	"github.com/angelmondragon/entitlements-backend/api/routes"
	"github.com/angelmondragon/entitlements-backend/internal/billing"
	"github.com/angelmondragon/entitlements-backend/internal/featuregate"
	"github.com/angelmondragon/entitlements-backend/internal/features"
	"github.com/angelmondragon/entitlements-backend/internal/organizations"
	"github.com/angelmondragon/entitlements-backend/internal/plans"
	"github.com/angelmondragon/entitlements-backend/internal/platform"
	"github.com/angelmondragon/entitlements-backend/internal/subscriptions"
	"github.com/angelmondragon/entitlements-backend/internal/usage"
	"github.com/angelmondragon/entitlements-backend/pkg/metrics"
	"github.com/angelmondragon/entitlements-backend/pkg/outbox"
)

const shutdownTimeout = 15 * time.Second

func main() {
	platform.Main("api", serve)
}

func serve(ctx context.Context, rt *platform.Runtime) error {
	cfg, logg, dbClient := rt.Config, rt.Logger, rt.DB

	redisClient, err := rt.Redis(ctx)
	if err != nil {
		return err
	}
	graph, err := features.Load(cfg.Entitlements.FeatureGraphPath)
	if err != nil {
		return fmt.Errorf("feature dependency graph: %w", err)
	}

	entitlementMetrics := metrics.NewEntitlementMetrics(prometheus.DefaultRegisterer)
	catalog, err := plans.NewCatalog(plans.CatalogParams{
		Repo:      plans.NewRepository(dbClient.DB()),
		CacheSize: cfg.Entitlements.PlanCacheSize,
		CacheTTL:  cfg.Entitlements.PlanCacheTTL,
		Metrics:   entitlementMetrics,
	})
	if err != nil {
		return err
	}
	quotes, err := billing.NewService(billing.ServiceParams{Plans: catalog})
	if err != nil {
		return err
	}
	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)
	subscriptionService, err := subscriptions.NewService(subscriptions.ServiceParams{
		Repo:              subscriptions.NewRepository(dbClient.DB()),
		Plans:             catalog,
		TransactionRunner: dbClient,
		Outbox:            outboxService,
		Logger:            logg,
		Metrics:           entitlementMetrics,
		Workers:           cfg.Cron.Workers,
	})
	if err != nil {
		return err
	}
	gate, err := featuregate.NewService(featuregate.ServiceParams{
		Subscriptions: subscriptionService,
		Plans:         catalog,
		Graph:         graph,
	})
	if err != nil {
		return err
	}
	registry, err := usage.NewRegistry(usage.DefaultResources()...)
	if err != nil {
		return err
	}
	if err := registry.CheckFeatures(graph.Has); err != nil {
		return fmt.Errorf("usage registry: %w", err)
	}
	resolver, err := usage.NewResolver(usage.ResolverParams{
		Registry:      registry,
		Subscriptions: subscriptionService,
		Plans:         catalog,
		Organizations: organizations.NewRepository(dbClient.DB()),
		Counters:      usage.NewCounterRepository(dbClient.DB()),
		Overrides:     usage.NewOverrideRepository(dbClient.DB()),
		Policy:        cfg.Entitlements.Policy(),
		Logger:        logg,
		Metrics:       entitlementMetrics,

		Outbox:            outboxService,
		TransactionRunner: dbClient,
	})
	if err != nil {
		return err
	}

	// the platform injects PORT on deploy
	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	server := &http.Server{
		Addr:              ":" + port,
		ReadHeaderTimeout: 10 * time.Second,
		Handler: routes.NewRouter(routes.Dependencies{
			Env:           cfg.App.Env,
			CORSOrigins:   cfg.App.CORSOrigins,
			Logger:        logg,
			Health:        map[string]controllers.Pinger{"db": dbClient, "redis": redisClient},
			Idempotency:   redisClient,
			Gatherer:      prometheus.DefaultGatherer,
			Plans:         catalog,
			Quotes:        quotes,
			Features:      graph,
			Gate:          gate,
			Usage:         resolver,
			Subscriptions: subscriptionService,
		}),
	}

	failed := make(chan error, 1)
	go func() { failed <- server.ListenAndServe() }()
	logg.Info(logg.WithField(ctx, "addr", server.Addr), "api listening")

	select {
	case err := <-failed:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-failed; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
