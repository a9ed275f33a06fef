package main

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/entitlements-backend/internal/platform"
	"github.com/angelmondragon/entitlements-backend/pkg/metrics"
	"github.com/angelmondragon/entitlements-backend/pkg/outbox"
	"github.com/angelmondragon/entitlements-backend/pkg/outbox/registry"
	"github.com/angelmondragon/entitlements-backend/pkg/pubsub"
)

func main() {
	platform.Main("outbox-publisher", relayNotifications)
}

func relayNotifications(ctx context.Context, rt *platform.Runtime) error {
	cfg := rt.Config
	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, rt.Logger)
	if err != nil {
		return err
	}
	rt.OnClose(pubsubClient.Close)

	routes, err := registry.NewRoutes(cfg.PubSub)
	if err != nil {
		return err
	}
	relay, err := NewRelay(RelayParams{
		Outbox:      cfg.Outbox,
		Logger:      rt.Logger,
		DB:          rt.DB,
		Topics:      pubsubClient,
		Rows:        outbox.NewRepository(rt.DB.DB()),
		DeadLetters: outbox.NewDLQRepository(rt.DB.DB()),
		Routes:      routes,
		Metrics:     metrics.NewNotificationMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return relay.Run(groupCtx) })
	if cfg.App.MetricsPort != "" {
		group.Go(func() error { return metrics.Serve(groupCtx, ":"+cfg.App.MetricsPort, prometheus.DefaultGatherer) })
	}
	return group.Wait()
}
